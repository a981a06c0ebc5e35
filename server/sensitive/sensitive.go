// Package sensitive flags decrypted text that looks like it carries secrets.
package sensitive

import "regexp"

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rule is a single named predicate over text.
type Rule struct {
	Name     string
	Severity Severity
	pattern  *regexp.Regexp
}

func (r Rule) Matches(text string) bool {
	return r.pattern.MatchString(text)
}

// DefaultRules are evaluated in order; the first match wins. Keyword rules
// match inside words because keystroke sessions are concatenated without
// separators.
var DefaultRules = []Rule{
	{
		Name:     "credit_card",
		Severity: SeverityHigh,
		pattern:  regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`),
	},
	{
		Name:     "ssn",
		Severity: SeverityHigh,
		pattern:  regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`),
	},
	{
		Name:     "password",
		Severity: SeverityHigh,
		pattern:  regexp.MustCompile(`(?i)passw|pwd|passcode|login|credential`),
	},
	{
		Name:     "email",
		Severity: SeverityMedium,
		pattern:  regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	},
	{
		Name:     "banking",
		Severity: SeverityMedium,
		pattern:  regexp.MustCompile(`(?i)bank|account|routing|credit|loan|\b(?:iban|swift)\b`),
	},
}

type Detector struct {
	rules []Rule
}

// New returns a detector over rules, or DefaultRules when none are given.
func New(rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Detector{rules: rules}
}

// Match returns the first rule matching text.
func (d *Detector) Match(text string) (Rule, bool) {
	if text == "" {
		return Rule{}, false
	}
	for _, r := range d.rules {
		if r.Matches(text) {
			return r, true
		}
	}
	return Rule{}, false
}

func (d *Detector) ContainsSensitiveInfo(text string) bool {
	_, ok := d.Match(text)
	return ok
}

var defaultDetector = New()

// ContainsSensitiveInfo checks text against DefaultRules.
func ContainsSensitiveInfo(text string) bool {
	return defaultDetector.ContainsSensitiveInfo(text)
}
