package web

import (
	"net/url"
	"strings"
)

// Redactor replaces known secret values in error text with
// [REDACTED:NAME] placeholders before it is returned to a client.
type Redactor struct {
	replacements map[string]string // secret value -> "[REDACTED:NAME]"
}

// NewRedactor builds a Redactor from name -> value pairs. Empty values are
// ignored. Both raw and URL-encoded variants of each value are replaced.
func NewRedactor(secrets map[string]string) *Redactor {
	r := &Redactor{replacements: make(map[string]string)}
	for name, value := range secrets {
		if value == "" {
			continue
		}
		r.replacements[value] = "[REDACTED:" + name + "]"
		if encoded := url.QueryEscape(value); encoded != value {
			r.replacements[encoded] = "[REDACTED:" + name + ":urlencoded]"
		}
	}
	return r
}

// Redact returns input with every known secret replaced. A Redactor with no
// secrets returns input unchanged.
func (r *Redactor) Redact(input string) string {
	if r == nil || len(r.replacements) == 0 {
		return input
	}
	result := input
	for value, placeholder := range r.replacements {
		result = strings.ReplaceAll(result, value, placeholder)
	}
	return result
}
