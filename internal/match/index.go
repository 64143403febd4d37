package match

import (
	"hash/fnv"
	"strings"

	"github.com/vogelwacht/telling/internal/alias"
	"github.com/vogelwacht/telling/internal/cologne"
)

// snapshot holds the four runtime lookup structures. A snapshot is immutable
// after construction; all updates build a new snapshot and publish it with a
// single atomic pointer swap, so readers always see a consistent state.
type snapshot struct {
	// exact maps every lookup key (lowercased alias, lowercased canonical,
	// normalized form) to the records reachable under it.
	exact map[string][]alias.Record

	// phonetic memoizes the phonetic code per key.
	phonetic map[string]string

	// buckets partitions keys by first rune for cheap shortlisting.
	buckets map[rune][]string

	// bloom holds hashes of every key, of every whitespace token of every
	// key, and of each token's phonetic code. It is a probabilistic negative
	// filter for query tokens: a token whose raw hash and phonetic-code hash
	// are both absent definitely matches nothing. Hashing the phonetic codes
	// keeps misheard-but-sounds-alike queries inside the filter.
	bloom map[uint64]struct{}
}

func emptySnapshot() *snapshot {
	return &snapshot{
		exact:    map[string][]alias.Record{},
		phonetic: map[string]string{},
		buckets:  map[rune][]string{},
		bloom:    map[uint64]struct{}{},
	}
}

// buildSnapshot derives the four lookup structures from records. Pure and
// side-effect-free; safe to run on a background goroutine.
func buildSnapshot(records []alias.Record) *snapshot {
	s := emptySnapshot()
	for _, rec := range records {
		s.insert(rec)
	}
	return s
}

// insert indexes rec under all of its keys. Only valid during construction
// or on a private copy — published snapshots are never mutated.
func (s *snapshot) insert(rec alias.Record) {
	for _, key := range keysOf(rec) {
		known := len(s.exact[key]) > 0
		if containsAliasID(s.exact[key], rec.AliasID) {
			continue
		}
		s.exact[key] = append(s.exact[key], rec)

		if _, ok := s.phonetic[key]; !ok {
			s.phonetic[key] = cologne.Encode(key)
		}
		if !known {
			first, _ := firstRune(key)
			s.buckets[first] = append(s.buckets[first], key)
		}
		s.bloom[hash64(key)] = struct{}{}
		for _, tok := range strings.Fields(key) {
			s.bloom[hash64(tok)] = struct{}{}
			if code := cologne.Encode(tok); code != "" {
				s.bloom[hash64(code)] = struct{}{}
			}
		}
	}
}

// clone returns a deep-enough copy for copy-on-write hot-patching: the outer
// maps are fresh, the inner slices are shared until the insert path replaces
// the ones it touches.
func (s *snapshot) clone() *snapshot {
	c := &snapshot{
		exact:    make(map[string][]alias.Record, len(s.exact)+4),
		phonetic: make(map[string]string, len(s.phonetic)+4),
		buckets:  make(map[rune][]string, len(s.buckets)+1),
		bloom:    make(map[uint64]struct{}, len(s.bloom)+8),
	}
	for k, v := range s.exact {
		c.exact[k] = v
	}
	for k, v := range s.phonetic {
		c.phonetic[k] = v
	}
	for k, v := range s.buckets {
		c.buckets[k] = v
	}
	for k := range s.bloom {
		c.bloom[k] = struct{}{}
	}
	return c
}

// withRecord returns a new snapshot that additionally indexes rec. The inner
// slices the insert will touch are copied first so the receiver stays intact.
func (s *snapshot) withRecord(rec alias.Record) *snapshot {
	c := s.clone()
	for _, key := range keysOf(rec) {
		if recs, ok := c.exact[key]; ok {
			c.exact[key] = cloneRecords(recs)
		} else if first, ok := firstRune(key); ok {
			c.buckets[first] = append([]string(nil), c.buckets[first]...)
		}
	}
	c.insert(rec)
	return c
}

// keysOf returns the distinct non-blank lookup keys of rec.
func keysOf(rec alias.Record) []string {
	keys := make([]string, 0, 3)
	add := func(k string) {
		if k == "" {
			return
		}
		for _, have := range keys {
			if have == k {
				return
			}
		}
		keys = append(keys, k)
	}
	add(strings.ToLower(strings.TrimSpace(rec.Alias)))
	add(strings.ToLower(strings.TrimSpace(rec.Canonical)))
	add(rec.Norm)
	return keys
}

func containsAliasID(recs []alias.Record, id string) bool {
	for _, r := range recs {
		if r.AliasID == id {
			return true
		}
	}
	return false
}

func cloneRecords(recs []alias.Record) []alias.Record {
	out := make([]alias.Record, len(recs))
	copy(out, recs)
	return out
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

// hash64 is the bloom hash: FNV-1a over the key bytes. Any non-cryptographic
// hash works here as long as insert and query use the same one.
func hash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
