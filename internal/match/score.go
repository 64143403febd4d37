package match

import (
	"github.com/antzucaro/matchr"

	"github.com/vogelwacht/telling/internal/cologne"
)

// Score weighting. Edit distance dominates, phonetic similarity catches
// spelled-differently-sounds-alike variants, and the phoneme term only
// contributes when both sides carry phoneme data.
const (
	weightEdit     = 0.45
	weightPhonetic = 0.35
	weightPhoneme  = 0.20
)

// DefaultThreshold is the minimum combined score a fuzzy candidate needs to
// survive ranking.
const DefaultThreshold = 0.40

// Score combines normalized edit similarity, phonetic-code similarity and
// optional phoneme-string similarity into one bounded score in [0,1].
// queryPhonemes and keyPhonemes may be empty; the phoneme term is then 0.
func Score(query, key, queryPhonemes, keyPhonemes string) float64 {
	s := weightEdit*editRatio(query, key) + weightPhonetic*cologne.Similarity(query, key)
	if queryPhonemes != "" && keyPhonemes != "" {
		s += weightPhoneme * editRatio(queryPhonemes, keyPhonemes)
	}
	return s
}

// editRatio is 1 - levenshtein(a,b)/max(len(a),len(b)), and 1.0 when both
// strings are empty.
func editRatio(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1.0
	}
	d := matchr.Levenshtein(a, b)
	r := 1.0 - float64(d)/float64(longest)
	if r < 0 {
		return 0
	}
	return r
}
