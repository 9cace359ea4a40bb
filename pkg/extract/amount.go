// Monetary amounts for extracted receipts
// Backed by shopspring/decimal so totals add up exactly; serialised as bare JSON numbers
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Amount is a price or total.
type Amount struct {
	decimal.Decimal
}

// NewAmount returns an Amount equal to v.
func NewAmount(v float64) Amount {
	return Amount{decimal.NewFromFloat(v)}
}

// ParseAmount reads a number as printed on a receipt or by a model: currency
// symbols and spaces are ignored and a lone decimal comma is accepted.
func ParseAmount(s string) (Amount, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, strings.TrimSpace(s))
	if strings.Contains(cleaned, ",") && !strings.Contains(cleaned, ".") {
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Amount{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return Amount{d}, nil
}

// MarshalJSON writes the amount as an unquoted JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a string in any form ParseAmount accepts.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		parsed, err := ParseAmount(string(bytes.Trim(data, `"`)))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("parsing amount %s: %w", data, err)
	}
	a.Decimal = d
	return nil
}
