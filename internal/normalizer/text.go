package normalizer

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// anything outside the conservative allow-list is dropped from display text
	disallowedRe = regexp.MustCompile(`[^A-Za-z0-9 .,'\-/#()&]`)
)

func collapseSpaces(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// CleanText collapses whitespace and strips characters outside the allow-list
func CleanText(s string) string {
	return collapseSpaces(disallowedRe.ReplaceAllString(collapseSpaces(s), ""))
}

// CleanCharges joins charge entries for display. Legal text keeps its punctuation;
// only whitespace is collapsed and empty entries dropped.
func CleanCharges(charges []string) string {
	out := make([]string, 0, len(charges))
	for _, c := range charges {
		if c = collapseSpaces(c); c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, ", ")
}

// ParseBool maps common truthy encodings to true; anything else is false
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1", "on", "juvenile", "x":
		return true
	default:
		return false
	}
}
