// Package normalize turns company names into comparison keys.
//
// Two names with the same key are considered identical for exact matching.
// Company is deterministic and total: every input, including the empty
// string, produces a key.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// synonyms rewrite long forms to the short form used in keys. They run
// before suffix stripping, so "Corporation" ends up removed as "corp".
var synonyms = map[string]string{
	"technologies":   "tech",
	"technology":     "tech",
	"technological":  "tech",
	"corporation":    "corp",
	"incorporated":   "inc",
	"limited":        "ltd",
	"company":        "co",
	"international":  "intl",
	"manufacturing":  "mfg",
	"semiconductors": "semiconductor",
	"&":              "and",
}

// legalSuffixes are dropped when they trail the name as whole tokens.
var legalSuffixes = map[string]struct{}{
	"ltd":          {},
	"inc":          {},
	"corp":         {},
	"llc":          {},
	"co":           {},
	"company":      {},
	"limited":      {},
	"incorporated": {},
	"plc":          {},
	"llp":          {},
	"lp":           {},
	"gmbh":         {},
	"ag":           {},
	"pte":          {},
	"pty":          {},
	"bv":           {},
	"nv":           {},
	"jsc":          {},
	"pjsc":         {},
	"ooo":          {},
}

// Company returns the comparison key for a company name.
func Company(name string) string {
	tokens := Tokens(name)
	return strings.Join(tokens, " ")
}

// Tokens returns the key of name split into words.
func Tokens(name string) []string {
	words := strings.Fields(clean(fold(name)))
	if len(words) == 0 {
		return nil
	}

	expanded := make([]string, 0, len(words))
	for _, w := range words {
		if s, ok := synonyms[w]; ok {
			w = s
		}
		expanded = append(expanded, w)
	}

	// Legal forms are stripped from the end only: "Limited Brands" and
	// "Co-operative Bank" keep their leading words.
	end := len(expanded)
	for end > 0 && IsLegalSuffix(expanded[end-1]) {
		end--
	}
	// A name made only of suffixes ("Company Limited") keeps them.
	if end == 0 {
		return expanded
	}
	return expanded[:end]
}

// IsLegalSuffix reports whether word is dropped from the end of keys.
func IsLegalSuffix(word string) bool {
	_, ok := legalSuffixes[word]
	return ok
}

// fold strips diacritics and applies Unicode case folding.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// clean removes periods and apostrophes, keeps letters, digits and '&',
// and turns every other rune into a space.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '.' || r == '\'' || r == '’':
			continue
		case r == '&':
			b.WriteString(" & ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}
