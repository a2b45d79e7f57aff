package matcher

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// Normalize lowercases text, drops everything that is not a letter, digit,
// underscore or whitespace, and collapses whitespace runs to one space.
//
//	"What's your name?"     -> "whats your name"
//	"What is your   name?!" -> "what is your name"
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity is the Gestalt (Ratcliff/Obershelp) ratio of two strings
// compared rune by rune: 2*M/T where M is the number of matched runes and T
// the total rune count. Two empty strings are identical (1.0).
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func trimSpace(s string) string { return strings.TrimSpace(s) }

// clip shortens s for log fields.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
