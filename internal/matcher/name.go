package matcher

import (
	"strings"
	"unicode"
)

// generational suffixes ignored by partial matching
var suffixes = map[string]bool{
	"JR": true, "SR": true, "II": true, "III": true, "IV": true,
}

// CleanName uppercases, strips punctuation, collapses whitespace and drops
// generational suffixes
func CleanName(name string) string {
	return strings.Join(nameTokens(name), " ")
}

func nameTokens(name string) []string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := fields[:0]
	for _, f := range fields {
		if !suffixes[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

type tokenSet map[string]struct{}

func newTokenSet(name string) tokenSet {
	set := make(tokenSet)
	for _, t := range nameTokens(name) {
		set[t] = struct{}{}
	}
	return set
}

// PartialMatch reports whether two names share at least minShared tokens and
// one token set contains the other
func PartialMatch(a, b string, minShared int) bool {
	return partial(newTokenSet(a), newTokenSet(b), minShared)
}

func partial(a, b tokenSet, minShared int) bool {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	if len(small) < minShared || len(small) == 0 {
		return false
	}
	for t := range small {
		if _, ok := large[t]; !ok {
			return false
		}
	}
	return true
}
