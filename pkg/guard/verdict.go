// Reduction of classifier output to a safe/unsafe verdict
// Two rules are supported: strict checks for "unsafe" first, substring keeps the literal contains check
package guard

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Rule selects how classifier text is reduced to a boolean.
type Rule string

const (
	// RuleStrict is unsafe whenever the text mentions "unsafe", safe when it
	// otherwise mentions "safe", and unsafe for anything else.
	RuleStrict Rule = "strict"

	// RuleSubstring is safe whenever the text contains "safe". Because "unsafe"
	// contains "safe", an "unsafe" answer is reported as safe under this rule.
	RuleSubstring Rule = "substring"
)

// ParseRule validates a rule name. The empty string selects RuleStrict.
func ParseRule(s string) (Rule, error) {
	switch Rule(s) {
	case "", RuleStrict:
		return RuleStrict, nil
	case RuleSubstring:
		return RuleSubstring, nil
	default:
		return "", fmt.Errorf("unknown verdict rule %q (valid: strict, substring)", s)
	}
}

// Verdict is the outcome of one classification.
type Verdict struct {
	Safe bool `json:"is_safe"`
	// Result is the trimmed, lowercased classifier text the rule was applied to.
	Result string `json:"guard_result"`
	// RawText is the classifier text exactly as returned.
	RawText string `json:"raw_classifier_text"`
	Rule    Rule   `json:"rule"`
}

// ParseVerdict applies rule to the classifier text. It is a pure function of its inputs.
func ParseVerdict(text string, rule Rule) Verdict {
	normalized := cases.Lower(language.Und).String(strings.TrimSpace(text))

	var safe bool
	switch rule {
	case RuleSubstring:
		safe = strings.Contains(normalized, "safe")
	default:
		rule = RuleStrict
		safe = !strings.Contains(normalized, "unsafe") && strings.Contains(normalized, "safe")
	}

	return Verdict{Safe: safe, Result: normalized, RawText: text, Rule: rule}
}
