// Package identity canonicalizes free-text customer names so orders,
// payment requests and transactions referring to the same person line up.
// Matching is case, whitespace and apostrophe insensitive. It is NOT
// diacritic insensitive: "Ánh" and "Anh" are different customers.
package identity

import (
	"strings"
	"unicode"
)

// Normalize trims the name, collapses internal whitespace runs to single
// spaces and title-cases each token. A whitespace-only input normalizes to
// the empty string, which is invalid for order and payment operations.
func Normalize(raw string) string {
	fields := strings.Fields(raw)
	for i, f := range fields {
		fields[i] = titleToken(f)
	}
	return strings.Join(fields, " ")
}

func titleToken(tok string) string {
	runes := []rune(strings.ToLower(tok))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// MatchKey lowercases the name and strips whitespace and apostrophes
// entirely. Two names denote the same customer iff their match keys are
// equal.
func MatchKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsSpace(r) || r == '\'' || r == '’' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Same reports whether two raw names refer to the same customer.
func Same(a, b string) bool {
	return MatchKey(a) == MatchKey(b)
}
