package interpret_test

import (
	"context"
	"testing"
	"time"

	"github.com/vogelwacht/telling/internal/alias"
	"github.com/vogelwacht/telling/internal/interpret"
	"github.com/vogelwacht/telling/internal/match"
	"github.com/vogelwacht/telling/pkg/speech"
)

// testMatcher loads a fixed index: a buzzard, a blackbird, and two species
// that share the alias "grutto" to exercise the ambiguity path.
func testMatcher(t *testing.T) *match.Matcher {
	t.Helper()
	master := &alias.Master{
		Species: []alias.MasterSpecies{
			{
				SpeciesID: "123",
				Canonical: "Buizerd",
				TileName:  "BZD",
				Aliases:   []alias.MasterAlias{{Text: "buizerd"}},
			},
			{
				SpeciesID: "456",
				Canonical: "Merel",
				Aliases:   []alias.MasterAlias{{Text: "merel"}},
			},
			{
				SpeciesID: "800",
				Canonical: "Grutto",
				Aliases:   []alias.MasterAlias{{Text: "grutto"}},
			},
			{
				SpeciesID: "801",
				Canonical: "IJslandse Grutto",
				Aliases:   []alias.MasterAlias{{Text: "grutto"}},
			},
		},
	}
	records := master.ToIndex()
	m := match.New(func(ctx context.Context) ([]alias.Record, error) {
		return records, nil
	})
	if err := m.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	return m
}

func tileContext(ids ...string) interpret.Context {
	tiles := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		tiles[id] = struct{}{}
	}
	return interpret.Context{
		TileSpeciesIDs: tiles,
		SpeciesByID: map[string]interpret.Species{
			"123": {Canonical: "Buizerd", Short: "BZD"},
			"456": {Canonical: "Merel"},
		},
	}
}

func cycle(confidence float64, texts ...string) speech.Cycle {
	hyps := make([]speech.Hypothesis, len(texts))
	for i, txt := range texts {
		hyps[i] = speech.Hypothesis{Text: txt, Confidence: confidence}
	}
	return speech.Cycle{Hypotheses: hyps, Timestamp: time.Second}
}

// --- Single-species outcomes ---

func TestInterpret_AutoAcceptWithAmount(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	res := in.Interpret(cycle(0.9, "buizerd 3"), tileContext("123"))

	acc, ok := res.(interpret.AutoAccept)
	if !ok {
		t.Fatalf("result = %T, want AutoAccept", res)
	}
	if acc.Candidate.SpeciesID != "123" {
		t.Errorf("species = %q, want 123", acc.Candidate.SpeciesID)
	}
	if acc.Amount != 3 {
		t.Errorf("amount = %d, want 3", acc.Amount)
	}
	if acc.Candidate.Name != "Buizerd" {
		t.Errorf("display name = %q, want Buizerd", acc.Candidate.Name)
	}
}

func TestInterpret_AmountDefaultsToOne(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	res := in.Interpret(cycle(0.9, "buizerd"), tileContext("123"))

	acc, ok := res.(interpret.AutoAccept)
	if !ok {
		t.Fatalf("result = %T, want AutoAccept", res)
	}
	if acc.Amount != 1 {
		t.Errorf("amount = %d, want default 1", acc.Amount)
	}
}

func TestInterpret_AddPopupWhenNotOnTiles(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	res := in.Interpret(cycle(0.9, "buizerd 2"), tileContext("456"))

	pop, ok := res.(interpret.AutoAcceptAddPopup)
	if !ok {
		t.Fatalf("result = %T, want AutoAcceptAddPopup", res)
	}
	if pop.Candidate.SpeciesID != "123" || pop.Amount != 2 {
		t.Errorf("popup = %+v", pop)
	}
	if pop.InTiles {
		t.Error("InTiles should be false for an off-tile species")
	}
}

func TestInterpret_MisheardNameStillResolves(t *testing.T) {
	t.Parallel()

	// A dropped letter keeps the phonetic code intact, so the fuzzy path
	// carries the utterance over the accept threshold.
	in := interpret.New(testMatcher(t))
	res := in.Interpret(cycle(0.9, "buzerd 3"), tileContext("123"))

	acc, ok := res.(interpret.AutoAccept)
	if !ok {
		t.Fatalf("result = %T, want AutoAccept", res)
	}
	if acc.Candidate.SpeciesID != "123" || acc.Amount != 3 {
		t.Errorf("candidate = %+v", acc)
	}
}

func TestInterpret_NoMatchKeepsHypothesis(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	res := in.Interpret(cycle(0.9, "wrfgthqq brr"), tileContext("123"))

	nm, ok := res.(interpret.NoMatch)
	if !ok {
		t.Fatalf("result = %T, want NoMatch", res)
	}
	if nm.Hypothesis != "wrfgthqq brr" {
		t.Errorf("hypothesis = %q, want the utterance verbatim", nm.Hypothesis)
	}
}

func TestInterpret_EmptyCycle(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	if res := in.Interpret(speech.Cycle{}, tileContext()); res != (interpret.NoMatch{}) {
		t.Errorf("empty cycle = %#v, want empty NoMatch", res)
	}
}

// --- Ambiguity ---

func TestInterpret_SharedAliasYieldsSuggestions(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	res := in.Interpret(cycle(0.9, "grutto"), tileContext("800", "801"))

	sl, ok := res.(interpret.SuggestionList)
	if !ok {
		t.Fatalf("result = %T, want SuggestionList", res)
	}
	if len(sl.Candidates) < 2 {
		t.Fatalf("got %d suggestions, want both grutto species", len(sl.Candidates))
	}
	if sl.Hypothesis != "grutto" {
		t.Errorf("hypothesis = %q", sl.Hypothesis)
	}
}

func TestInterpret_RecencyBreaksTies(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	ctx := tileContext("800", "801")
	ctx.RecentIDs = []string{"801"}

	res := in.Interpret(cycle(0.9, "grutto"), ctx)
	sl, ok := res.(interpret.SuggestionList)
	if !ok {
		t.Fatalf("result = %T, want SuggestionList", res)
	}
	if sl.Candidates[0].SpeciesID != "801" {
		t.Errorf("top suggestion = %q, want the recently confirmed 801", sl.Candidates[0].SpeciesID)
	}
}

// --- Multi-segment utterances ---

func TestInterpret_MultiSegment(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	res := in.Interpret(cycle(0.9, "buizerd 3 merel 2"), tileContext("123", "456"))

	mm, ok := res.(interpret.MultiMatch)
	if !ok {
		t.Fatalf("result = %T, want MultiMatch", res)
	}
	if len(mm.Matches) != 2 {
		t.Fatalf("got %d segments, want 2", len(mm.Matches))
	}
	if mm.Matches[0].Candidate.SpeciesID != "123" || mm.Matches[0].Amount != 3 {
		t.Errorf("first segment = %+v", mm.Matches[0])
	}
	if mm.Matches[1].Candidate.SpeciesID != "456" || mm.Matches[1].Amount != 2 {
		t.Errorf("second segment = %+v", mm.Matches[1])
	}
}

func TestInterpret_MultiSegmentFallsBackWhenOneFails(t *testing.T) {
	t.Parallel()

	// The unknown middle segment breaks the all-or-nothing multi path; the
	// utterance then resolves as a single species through the fallback.
	in := interpret.New(testMatcher(t))
	res := in.Interpret(cycle(0.9, "buizerd 3 wrfgthqq 2"), tileContext("123"))

	if _, ok := res.(interpret.MultiMatch); ok {
		t.Fatal("partially resolvable utterance must not produce a MultiMatch")
	}
}

// --- Hypothesis handling ---

func TestInterpret_PartialOnlyCycle(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	res := in.Interpret(speech.Cycle{Partial: "buizerd"}, tileContext("123"))

	// Zero recognizer confidence, but an exact match alone clears the bar.
	acc, ok := res.(interpret.AutoAccept)
	if !ok {
		t.Fatalf("result = %T, want AutoAccept", res)
	}
	if acc.Candidate.SpeciesID != "123" {
		t.Errorf("species = %q", acc.Candidate.SpeciesID)
	}
}

func TestInterpret_SecondaryHypothesisRescues(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	res := in.Interpret(cycle(0.9, "wrfgthqq", "buizerd"), tileContext("123"))

	acc, ok := res.(interpret.AutoAccept)
	if !ok {
		t.Fatalf("result = %T, want AutoAccept", res)
	}
	if acc.Candidate.SpeciesID != "123" {
		t.Errorf("species = %q, want 123 from the second hypothesis", acc.Candidate.SpeciesID)
	}
}

func TestInterpret_LeadingPrefixStripped(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t), interpret.WithLeadingPrefix("vogel"))
	res := in.Interpret(cycle(0.9, "Vogel buizerd 2"), tileContext("123"))

	acc, ok := res.(interpret.AutoAccept)
	if !ok {
		t.Fatalf("result = %T, want AutoAccept", res)
	}
	if acc.Candidate.SpeciesID != "123" || acc.Amount != 2 {
		t.Errorf("candidate = %+v", acc)
	}
}

// --- Site scoping ---

func TestInterpret_SiteFilterExcludesSpecies(t *testing.T) {
	t.Parallel()

	in := interpret.New(testMatcher(t))
	ctx := tileContext("123")
	ctx.SiteAllowedIDs = map[string]struct{}{"456": {}}

	res := in.Interpret(cycle(0.9, "buizerd"), ctx)
	if _, ok := res.(interpret.NoMatch); !ok {
		t.Fatalf("result = %T, want NoMatch for a site-excluded species", res)
	}
}
