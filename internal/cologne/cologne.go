// Package cologne implements a Cologne-style phonetic encoding tuned for
// Dutch phonology, used as a cheap similarity proxy during candidate
// shortlisting and scoring.
//
// The encoder proceeds in three stages:
//
//  1. Lowercase the input and drop everything outside a–z. Diacritics are
//     expected to be stripped by alias normalization before encoding.
//  2. Reduce Dutch vowel digraphs (ij, ei, ui, oe, ...) to one representative
//     letter, so "buizerd" and "buzerd" encode identically.
//  3. Assign each letter a single phonetic-class digit and collapse adjacent
//     repeats. Vowel digits are tracked to detect repeats but never emitted:
//     the final code contains only consonant-class digits.
package cologne

import (
	"math"
	"strings"
)

// digraphs lists Dutch vowel digraph reductions, applied in order before the
// per-letter scan. Double vowels come after the true digraphs so that e.g.
// "oe" wins over "oo" where they overlap.
var digraphs = [...]struct{ from, to string }{
	{"ij", "i"},
	{"ei", "i"},
	{"ie", "i"},
	{"ui", "u"},
	{"oe", "u"},
	{"eu", "u"},
	{"au", "o"},
	{"ou", "o"},
	{"aa", "a"},
	{"ee", "e"},
	{"oo", "o"},
	{"uu", "u"},
}

// Encode returns the phonetic code for text. It is a deterministic pure
// function; an empty or all-vowel input yields the empty code.
func Encode(text string) string {
	letters := lowerLetters(text)
	if letters == "" {
		return ""
	}
	for _, d := range digraphs {
		letters = strings.ReplaceAll(letters, d.from, d.to)
	}

	var out strings.Builder
	var prev byte
	for i := 0; i < len(letters); i++ {
		c := letters[i]
		var next byte
		if i+1 < len(letters) {
			next = letters[i+1]
		}

		code, ok := classOf(c, next)
		if !ok {
			// 'h' and anything unclassified carry no phonetic weight and do
			// not break a repeat run.
			continue
		}
		if code == prev {
			continue
		}
		prev = code
		if code != '0' {
			out.WriteByte(code)
		}
	}
	return out.String()
}

// Similarity returns a bounded phonetic similarity for a and b in [0,1],
// derived from their codes: positional match ratio over the longer code,
// minus a capped length-difference penalty, plus a small bonus when the
// leading codes agree.
func Similarity(a, b string) float64 {
	ca, cb := Encode(a), Encode(b)
	if ca == "" && cb == "" {
		return 1.0
	}
	if ca == "" || cb == "" {
		return 0.0
	}

	short, long := ca, cb
	if len(short) > len(long) {
		short, long = long, short
	}
	matches := 0
	for i := 0; i < len(short); i++ {
		if short[i] == long[i] {
			matches++
		}
	}

	score := float64(matches) / float64(len(long))
	diff := float64(len(long) - len(short))
	score -= math.Min(0.2*diff, 0.3)
	if ca[0] == cb[0] {
		score += 0.1
	}

	return math.Max(0, math.Min(1, score))
}

// lowerLetters lowercases s and keeps only a–z.
func lowerLetters(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

// classOf maps a letter to its phonetic-class digit. The second return is
// false for letters that carry no code at all ('h').
//
// Velar stops followed by 'x' fold into the sibilant class so that clusters
// like "kx" and "x" itself collapse to one '8'.
func classOf(c, next byte) (byte, bool) {
	switch c {
	case 'a', 'e', 'i', 'o', 'u', 'y', 'j':
		return '0', true
	case 'b', 'p':
		return '1', true
	case 'd', 't':
		return '2', true
	case 'f', 'v', 'w':
		return '3', true
	case 'c', 'g', 'k', 'q':
		if next == 'x' {
			return '8', true
		}
		return '4', true
	case 'l':
		return '5', true
	case 'm', 'n':
		return '6', true
	case 'r':
		return '7', true
	case 's', 'z', 'x':
		return '8', true
	}
	return 0, false
}
