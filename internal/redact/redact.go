// Package redact scrubs credentials from text before it is written to the
// audit log, stored in release history, or sent to a remediation model.
// Command output from git and CI routinely echoes remote URLs and headers.
package redact

import "sort"

const DefaultPlaceholder = "[REDACTED]"

// Config controls what a Redactor scrubs.
type Config struct {
	// Literals are exact secret values (e.g. the GitHub token in use) that are
	// always scrubbed, regardless of shape.
	Literals       []string `yaml:"-"`
	CustomPatterns []string `yaml:"custom_patterns"`
	Placeholder    string   `yaml:"placeholder"`
}

// Redactor applies an ordered set of rules to strings.
type Redactor struct {
	rules       []rule
	placeholder string
}

// New compiles a Redactor. Built-in rules are always active; a release tool
// handles push credentials on every run.
func New(cfg Config) *Redactor {
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}

	var rules []rule
	rules = append(rules, literalRules(cfg.Literals, placeholder)...)
	rules = append(rules, builtinRules(placeholder)...)
	rules = append(rules, customRules(cfg.CustomPatterns, placeholder)...)

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].priority < rules[j].priority
	})

	return &Redactor{rules: rules, placeholder: placeholder}
}

// Redact applies all rules in priority order. A nil Redactor returns input.
func (r *Redactor) Redact(input string) string {
	if r == nil || input == "" {
		return input
	}
	result := input
	for _, rule := range r.rules {
		if rule.replace != nil {
			result = rule.pattern.ReplaceAllStringFunc(result, rule.replace)
		} else {
			result = rule.pattern.ReplaceAllString(result, r.placeholder)
		}
	}
	return result
}

// RedactError returns the redacted message of err, or "" for nil.
func (r *Redactor) RedactError(err error) string {
	if err == nil {
		return ""
	}
	return r.Redact(err.Error())
}

// Rules lists active rule names in application order.
func (r *Redactor) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.name
	}
	return names
}
