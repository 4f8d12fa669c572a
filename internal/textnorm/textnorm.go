// Package textnorm folds text for accent- and case-insensitive matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize strips diacritics, lowercases and trims s, so "Lácteos " and
// "lacteos" compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func HasPrefix(s string, prefix string) bool {
	return strings.HasPrefix(Normalize(s), Normalize(prefix))
}

func Contains(s string, substr string) bool {
	return strings.Contains(Normalize(s), Normalize(substr))
}

func Equal(a string, b string) bool {
	return Normalize(a) == Normalize(b)
}
