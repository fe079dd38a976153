package parser

import (
	"regexp"
	"strings"
)

var (
	nameInvalid = regexp.MustCompile(`[^a-z0-9_]+`)
	nameRepeats = regexp.MustCompile(`_+`)
)

// normalizeName converts a rule or field name to a lowercase identifier.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nameInvalid.ReplaceAllString(s, "_")
	s = nameRepeats.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}
