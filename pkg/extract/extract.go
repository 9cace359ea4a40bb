// Structured extraction of receipt records from free-form model output
// Never fails: text without a usable JSON object yields the fallback record
package extract

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// LineItem is one purchased product.
type LineItem struct {
	Name     string  `json:"name"`
	Price    Amount  `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Record is what a receipt yields. Exactly one of LineItems (possibly empty) from a
// parsed object or RawText from the fallback is meaningful: RawText is non-nil
// only when no JSON object could be recovered, and LineItems is then empty.
type Record struct {
	Store     *string    `json:"store"`
	Date      *string    `json:"date"`
	LineItems []LineItem `json:"products"`
	Total     *Amount    `json:"total"`
	RawText   *string    `json:"raw_response,omitempty"`
}

// Fallback reports whether the record is the degraded shape.
func (r Record) Fallback() bool { return r.RawText != nil }

// ComputedTotal sums price times quantity over the line items.
func (r Record) ComputedTotal() Amount {
	sum := decimal.Zero
	for _, item := range r.LineItems {
		sum = sum.Add(item.Price.Mul(decimal.NewFromFloat(item.Quantity)))
	}
	return Amount{sum}
}

// Parse recovers a Record from text. The first balanced {...} region that decodes
// as a JSON object is mapped onto the record; missing quantities default to 1.
func Parse(text string) Record {
	obj, ok := findObject(text)
	if !ok {
		raw := text
		return Record{LineItems: []LineItem{}, RawText: &raw}
	}

	rec := Record{
		Store:     optionalString(obj["store"]),
		Date:      optionalString(obj["date"]),
		LineItems: []LineItem{},
	}
	if total, ok := toAmount(obj["total"]); ok {
		rec.Total = &total
	}
	products, _ := obj["products"].([]any)
	for _, p := range products {
		fields, ok := p.(map[string]any)
		if !ok {
			continue
		}
		item := LineItem{Quantity: 1}
		if name := optionalString(fields["name"]); name != nil {
			item.Name = *name
		}
		if price, ok := toAmount(fields["price"]); ok {
			item.Price = price
		}
		if qty, ok := toFloat(fields["quantity"]); ok {
			item.Quantity = qty
		}
		rec.LineItems = append(rec.LineItems, item)
	}
	return rec
}

// findObject tries each balanced region in order of its opening brace and
// returns the first that decodes to a JSON object.
func findObject(text string) (map[string]any, bool) {
	for _, r := range braceRegions(text) {
		dec := json.NewDecoder(strings.NewReader(text[r.start : r.end+1]))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}

// region spans a '{' and the '}' that closes it, both inclusive.
type region struct{ start, end int }

// braceRegions pairs every '{' with its closing '}' in one pass, ordered by start.
// String literals are tracked only inside an open brace, so quotes in the
// surrounding prose never hide a brace; braces inside a literal are not paired.
func braceRegions(text string) []region {
	var (
		open     []int
		regions  []region
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = len(open) > 0
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			regions = append(regions, region{start: open[len(open)-1], end: i})
			open = open[:len(open)-1]
		}
	}
	slices.SortFunc(regions, func(a, b region) int { return cmp.Compare(a.start, b.start) })
	return regions
}

func optionalString(v any) *string {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		return &s
	case json.Number:
		str := s.String()
		return &str
	default:
		str := fmt.Sprint(s)
		return &str
	}
}

func toAmount(v any) (Amount, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return Amount{}, false
		}
		return Amount{d}, true
	case string:
		a, err := ParseAmount(n)
		return a, err == nil
	default:
		return Amount{}, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
