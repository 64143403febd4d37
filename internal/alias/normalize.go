package alias

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, removes combining marks (diacritics), and
// recomposes. Chained transformers carry state across Transform calls, so a
// fresh chain is built per invocation rather than shared.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// Normalize produces the canonical lookup form of a name: lowercased,
// diacritics stripped, punctuation reduced to spaces, whitespace collapsed.
// Returns "" for input with no letters or digits.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks(), strings.ToLower(s))
	if err != nil {
		// Malformed input falls back to the lowercased original; the
		// per-rune filter below still bounds the output alphabet.
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := true // swallow leading spaces
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteRune(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}
