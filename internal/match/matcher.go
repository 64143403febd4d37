// Package match implements the query-time alias matching engine: exact
// lookup, fuzzy candidate search over bucketed shortlists, and live hot-patch
// insertion of newly learned aliases without a full rebuild.
//
// Concurrency model: the four lookup structures (exact map, phonetic cache,
// first-character buckets, bloom filter) live in one immutable snapshot
// behind an atomic pointer. Readers are lock-free; every mutation builds a
// replacement snapshot and swaps the pointer, so a reader always observes
// either the pre-update or post-update state, never a mix. Index loading is
// single-flight: concurrent first-access callers await one shared load.
package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/vogelwacht/telling/internal/alias"
	"github.com/vogelwacht/telling/internal/cologne"
)

// DefaultShortlistLimit caps how many bucket keys are scored per fuzzy query,
// bounding worst-case cost on pathological buckets.
const DefaultShortlistLimit = 300

// LoadFunc supplies the alias records for the index. At most one load per
// index generation runs at a time; a load cancelled by [Matcher.Reload] may
// still be finishing while its replacement starts, so cancellation of ctx
// must abort the load.
type LoadFunc func(ctx context.Context) ([]alias.Record, error)

// Candidate pairs a matched record with its similarity score.
type Candidate struct {
	Record alias.Record
	Score  float64
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithShortlistLimit overrides the fuzzy shortlist cap.
// Default: [DefaultShortlistLimit].
func WithShortlistLimit(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.shortlistLimit = n
		}
	}
}

// Matcher is the query-time alias matching engine.
//
// FindExact and FindFuzzyCandidates never block on loading: when the index
// is not yet in memory they schedule a background load and return empty
// immediately. Use [Matcher.EnsureLoaded] where waiting is acceptable.
type Matcher struct {
	loadFn         LoadFunc
	shortlistLimit int

	snap  atomic.Pointer[snapshot]
	group singleflight.Group

	// mu serializes snapshot publication (load completion and hot-patch)
	// and guards the in-flight load's cancel function.
	mu         sync.Mutex
	cancelLoad context.CancelFunc

	// generation invalidates loads superseded by Reload: a load started
	// before the reload must not publish a stale snapshot after it.
	generation uint64

	hotpatchSeq atomic.Uint64
}

// New creates a Matcher that populates its index via load on first use.
func New(load LoadFunc, opts ...Option) *Matcher {
	m := &Matcher{
		loadFn:         load,
		shortlistLimit: DefaultShortlistLimit,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// EnsureLoaded blocks until the index is populated. Safe to call repeatedly
// and concurrently; exactly one load executes and all callers share its
// outcome. A failed load clears the shared handle so a later call retries.
func (m *Matcher) EnsureLoaded(ctx context.Context) error {
	for {
		if m.snap.Load() != nil {
			return nil
		}

		// The singleflight key carries the generation so that a Reload issued
		// while a load is in flight never coalesces with the superseded one.
		m.mu.Lock()
		key := strconv.FormatUint(m.generation, 10)
		m.mu.Unlock()

		ch := m.group.DoChan(key, m.runLoad)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if m.snap.Load() != nil {
				return nil
			}
			if res.Err == nil {
				// The load finished but a Reload discarded its snapshot
				// before publication; go again under the new generation.
				continue
			}
			m.mu.Lock()
			superseded := strconv.FormatUint(m.generation, 10) != key
			m.mu.Unlock()
			if superseded {
				continue
			}
			return res.Err
		}
	}
}

// runLoad executes one index load. On success the snapshot is published; on
// failure the snapshot stays empty and the singleflight key is released, so
// the next caller triggers a fresh attempt.
func (m *Matcher) runLoad() (any, error) {
	m.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelLoad = cancel
	gen := m.generation
	m.mu.Unlock()
	defer cancel()

	records, err := m.loadFn(ctx)
	if err != nil {
		return nil, fmt.Errorf("match: load alias index: %w", err)
	}
	snap := buildSnapshot(records)

	m.mu.Lock()
	if m.generation == gen {
		m.snap.Store(snap)
		m.cancelLoad = nil
	}
	m.mu.Unlock()
	return nil, nil
}

// kickLoad starts a detached background load, coalescing with any load
// already in flight.
func (m *Matcher) kickLoad() {
	go func() {
		if err := m.EnsureLoaded(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			// Lookups issued during the failed attempt simply kept seeing
			// "not yet loaded"; the failure itself is only logged upstream
			// by the store tiers.
			_ = err
		}
	}()
}

// Loaded reports whether the index snapshot is in memory.
func (m *Matcher) Loaded() bool {
	return m.snap.Load() != nil
}

// FindExact returns the records reachable under phrase, trying the
// normalized key first and the raw-lowercase form as fallback.
//
// Non-blocking contract: when the index is not loaded this schedules a
// background load and returns nil immediately. It never stalls the caller
// on disk.
func (m *Matcher) FindExact(phrase string) []alias.Record {
	snap := m.snap.Load()
	if snap == nil {
		m.kickLoad()
		return nil
	}
	if recs := snap.exact[alias.Normalize(phrase)]; len(recs) > 0 {
		return cloneRecords(recs)
	}
	if recs := snap.exact[strings.ToLower(strings.TrimSpace(phrase))]; len(recs) > 0 {
		return cloneRecords(recs)
	}
	return nil
}

// FindFuzzyCandidates returns up to topN records scoring at or above
// threshold against phrase, best first. Same non-blocking contract as
// [Matcher.FindExact].
func (m *Matcher) FindFuzzyCandidates(phrase string, topN int, threshold float64) []Candidate {
	snap := m.snap.Load()
	if snap == nil {
		m.kickLoad()
		return nil
	}
	if topN <= 0 {
		return nil
	}

	tokens := nonNumericTokens(alias.Normalize(phrase))
	if len(tokens) == 0 {
		return nil
	}

	// Bloom pre-check: if no query token can possibly be present anywhere in
	// the index — neither verbatim nor under its phonetic code — skip the
	// shortlist entirely. False positives just cost a scored shortlist; false
	// negatives cannot occur because every key token and its code were
	// inserted at build time. A token with an empty code (all vowels) never
	// consults the code hash.
	possible := false
	for _, tok := range tokens {
		if _, ok := snap.bloom[hash64(tok)]; ok {
			possible = true
			break
		}
		if code := cologne.Encode(tok); code != "" {
			if _, ok := snap.bloom[hash64(code)]; ok {
				possible = true
				break
			}
		}
	}
	if !possible {
		return nil
	}

	query := strings.Join(tokens, " ")
	first, ok := firstRune(query)
	if !ok {
		return nil
	}

	maxDiff := len(query) / 3
	if maxDiff < 2 {
		maxDiff = 2
	}

	best := make(map[string]Candidate)
	scored := 0
	for _, key := range snap.buckets[first] {
		diff := len(key) - len(query)
		if diff < 0 {
			diff = -diff
		}
		if diff > maxDiff {
			continue
		}
		if scored >= m.shortlistLimit {
			break
		}
		scored++

		for _, rec := range snap.exact[key] {
			s := Score(query, key, "", rec.Phonemes)
			if s < threshold {
				continue
			}
			if have, ok := best[rec.AliasID]; !ok || s > have.Score {
				best[rec.AliasID] = Candidate{Record: rec, Score: s}
			}
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Record.Weight != out[j].Record.Weight {
			return out[i].Record.Weight > out[j].Record.Weight
		}
		return out[i].Record.AliasID < out[j].Record.AliasID
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// AddAliasHotpatch inserts a freshly learned alias into the live index via
// copy-on-write, making it matchable immediately without any disk round-trip.
// The record is tagged with hotpatch provenance; durable persistence happens
// separately through the alias store.
func (m *Matcher) AddAliasHotpatch(speciesID, aliasText, canonical, tileName string) (alias.Record, error) {
	if strings.TrimSpace(speciesID) == "" {
		return alias.Record{}, errors.New("match: hotpatch species id is blank")
	}
	rec := alias.NewRecord(speciesID, canonical, tileName, aliasText, "", 1.0, alias.SourceHotpatch)
	if rec.Norm == "" {
		return alias.Record{}, fmt.Errorf("match: hotpatch alias %q normalizes to nothing", aliasText)
	}
	rec.AliasID = "hp:" + speciesID + ":" + strconv.FormatUint(m.hotpatchSeq.Add(1), 10)

	m.mu.Lock()
	base := m.snap.Load()
	if base == nil {
		base = emptySnapshot()
	}
	m.snap.Store(base.withRecord(rec))
	m.mu.Unlock()
	return rec, nil
}

// Reload cancels any in-flight load, drops the current snapshot, and starts
// a fresh background load. Lookups issued in between see the unloaded state
// and return empty per the non-blocking contract.
func (m *Matcher) Reload() {
	m.mu.Lock()
	if m.cancelLoad != nil {
		m.cancelLoad()
		m.cancelLoad = nil
	}
	m.generation++
	m.snap.Store(nil)
	m.mu.Unlock()
	m.kickLoad()
}

// nonNumericTokens splits s on whitespace and drops pure-numeric tokens.
func nonNumericTokens(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if _, err := strconv.Atoi(f); err == nil {
			continue
		}
		out = append(out, f)
	}
	return out
}
