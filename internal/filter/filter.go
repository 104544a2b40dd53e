// Package filter implements ordered first-match rules over message
// headers.
package filter

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"mailsift/internal/gmail"
)

// Rule binds a destination label name to one or more header predicates.
// A rule matches when ANY of its populated predicates matches; empty
// predicate fields are ignored.
type Rule struct {
	Label   string `json:"label"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// hasPredicate reports whether at least one predicate field is set.
func (r *Rule) hasPredicate() bool {
	return r.From != "" || r.To != "" || r.Subject != ""
}

// matches checks the rule's predicates against the headers in order
// from, to, subject. Matching is case-sensitive substring containment.
// A header the message does not carry never matches, even against an
// empty pattern.
func (r *Rule) matches(h gmail.Headers) bool {
	if r.From != "" && h.HasFrom && strings.Contains(h.From, r.From) {
		return true
	}
	if r.To != "" && h.HasTo && strings.Contains(h.To, r.To) {
		return true
	}
	if r.Subject != "" && h.HasSubject && strings.Contains(h.Subject, r.Subject) {
		return true
	}
	return false
}

// Rules is an ordered rule list. Order is significant: the first
// matching rule wins.
type Rules []Rule

// Validate checks that every rule names a label and carries at least
// one predicate.
func (rs Rules) Validate() error {
	for i, r := range rs {
		if r.Label == "" {
			return fmt.Errorf("rule %d: missing label", i)
		}
		if !r.hasPredicate() {
			return fmt.Errorf("rule %d (label %q): no predicate fields set", i, r.Label)
		}
	}
	return nil
}

// Match returns the label name of the first rule matching the headers,
// or false when no rule matches.
func (rs Rules) Match(h gmail.Headers) (string, bool) {
	for _, r := range rs {
		if r.matches(h) {
			return r.Label, true
		}
	}
	return "", false
}

// Load reads and validates a JSON rule file.
func Load(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a JSON rule list.
func Parse(data []byte) (Rules, error) {
	var rules Rules
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}
