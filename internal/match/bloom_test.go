package match

import (
	"context"
	"strings"
	"testing"

	"github.com/vogelwacht/telling/internal/alias"
	"github.com/vogelwacht/telling/internal/cologne"
)

// gatePasses mirrors the fuzzy pre-check: a set of query tokens passes when
// any token is present in the filter verbatim or under its phonetic code.
func gatePasses(s *snapshot, tokens []string) bool {
	for _, tok := range tokens {
		if _, ok := s.bloom[hash64(tok)]; ok {
			return true
		}
		if code := cologne.Encode(tok); code != "" {
			if _, ok := s.bloom[hash64(code)]; ok {
				return true
			}
		}
	}
	return false
}

func bloomFixture() []alias.Record {
	m := &alias.Master{
		Species: []alias.MasterSpecies{
			{
				SpeciesID: "123",
				Canonical: "Buizerd",
				TileName:  "BZD",
				Aliases: []alias.MasterAlias{
					{Text: "buizerd"},
					{Text: "common buzzard"},
				},
			},
			{
				SpeciesID: "456",
				Canonical: "Merel",
				Aliases:   []alias.MasterAlias{{Text: "merel"}},
			},
			{
				SpeciesID: "777",
				Canonical: "Hèggemus",
				Aliases:   []alias.MasterAlias{{Text: "heggemus"}},
			},
			{
				SpeciesID: "789",
				Canonical: "Kleine Plevier",
				Aliases:   []alias.MasterAlias{{Text: "kleine plevier"}},
			},
		},
	}
	return m.ToIndex()
}

// The gate may only ever skip work for queries that cannot match; an alias
// that is in the index must always make it past the filter, whether queried
// as a whole key or by any single one of its tokens.
func TestBloomGate_AcceptsEveryIndexedToken(t *testing.T) {
	t.Parallel()

	snap := buildSnapshot(bloomFixture())
	for key := range snap.exact {
		if !gatePasses(snap, []string{key}) {
			t.Errorf("whole key %q rejected by the bloom gate", key)
		}
		for _, tok := range strings.Fields(key) {
			if !gatePasses(snap, []string{tok}) {
				t.Errorf("token %q of key %q rejected by the bloom gate", tok, key)
			}
		}
	}
}

// Verbatim fuzzy queries for every indexed alias must come back with that
// alias, end to end through the gate, bucket shortlist, and scoring.
func TestFuzzySearch_FindsEveryIndexedAlias(t *testing.T) {
	t.Parallel()

	records := bloomFixture()
	m := New(func(ctx context.Context) ([]alias.Record, error) {
		return records, nil
	})
	if err := m.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}

	for _, rec := range records {
		cands := m.FindFuzzyCandidates(rec.Norm, 10, DefaultThreshold)
		found := false
		for _, c := range cands {
			if c.Record.SpeciesID == rec.SpeciesID {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("query %q did not return species %s: %v", rec.Norm, rec.SpeciesID, cands)
		}
	}
}
