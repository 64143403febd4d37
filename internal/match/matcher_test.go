package match_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vogelwacht/telling/internal/alias"
	"github.com/vogelwacht/telling/internal/match"
)

// fixtureRecords builds a small index: a buzzard with two aliases, a
// blackbird, and a lapwing.
func fixtureRecords() []alias.Record {
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
				SpeciesID: "789",
				Canonical: "Kievit",
				Aliases:   []alias.MasterAlias{{Text: "kievit"}},
			},
		},
	}
	return m.ToIndex()
}

func staticLoader(records []alias.Record) match.LoadFunc {
	return func(ctx context.Context) ([]alias.Record, error) {
		return records, nil
	}
}

func loadedMatcher(t *testing.T, records []alias.Record) *match.Matcher {
	t.Helper()
	m := match.New(staticLoader(records))
	if err := m.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	return m
}

// --- Exact lookup ---

func TestFindExact_ByAliasCanonicalAndNorm(t *testing.T) {
	t.Parallel()

	m := loadedMatcher(t, fixtureRecords())

	for _, q := range []string{"buizerd", "Buizerd", "  BUIZERD  "} {
		recs := m.FindExact(q)
		if len(recs) == 0 {
			t.Fatalf("FindExact(%q) found nothing", q)
		}
		if recs[0].SpeciesID != "123" {
			t.Errorf("FindExact(%q) species = %q, want 123", q, recs[0].SpeciesID)
		}
	}

	// Multi-word alias resolves through its normalized form.
	if recs := m.FindExact("common buzzard"); len(recs) == 0 || recs[0].SpeciesID != "123" {
		t.Errorf("FindExact(common buzzard) = %v, want species 123", recs)
	}

	if recs := m.FindExact("geen vogel"); recs != nil {
		t.Errorf("FindExact(unknown) = %v, want nil", recs)
	}
}

func TestFindExact_ReturnsCopies(t *testing.T) {
	t.Parallel()

	m := loadedMatcher(t, fixtureRecords())
	first := m.FindExact("merel")
	if len(first) == 0 {
		t.Fatal("no merel record")
	}
	first[0].SpeciesID = "mutated"

	second := m.FindExact("merel")
	if second[0].SpeciesID != "456" {
		t.Error("caller mutation leaked into the index snapshot")
	}
}

// --- Fuzzy lookup ---

func TestFindFuzzy_DroppedLetter(t *testing.T) {
	t.Parallel()

	m := loadedMatcher(t, fixtureRecords())
	cands := m.FindFuzzyCandidates("buzerd", 5, match.DefaultThreshold)
	if len(cands) == 0 {
		t.Fatal("FindFuzzyCandidates(buzerd) found nothing")
	}
	if cands[0].Record.SpeciesID != "123" {
		t.Errorf("top candidate species = %q, want 123", cands[0].Record.SpeciesID)
	}
	if cands[0].Score < match.DefaultThreshold {
		t.Errorf("top score = %v, want >= %v", cands[0].Score, match.DefaultThreshold)
	}
}

func TestFindFuzzy_IgnoresNumericTokens(t *testing.T) {
	t.Parallel()

	m := loadedMatcher(t, fixtureRecords())
	cands := m.FindFuzzyCandidates("buzerd 3", 5, match.DefaultThreshold)
	if len(cands) == 0 || cands[0].Record.SpeciesID != "123" {
		t.Errorf("numeric token should not break matching, got %v", cands)
	}

	if cands := m.FindFuzzyCandidates("3 12", 5, match.DefaultThreshold); cands != nil {
		t.Errorf("pure-numeric query should match nothing, got %v", cands)
	}
}

func TestFindFuzzy_GarbageShortCircuits(t *testing.T) {
	t.Parallel()

	m := loadedMatcher(t, fixtureRecords())
	if cands := m.FindFuzzyCandidates("wrfgthqq", 5, match.DefaultThreshold); len(cands) != 0 {
		t.Errorf("unrelated garbage matched: %v", cands)
	}
}

func TestFindFuzzy_SortedAndCapped(t *testing.T) {
	t.Parallel()

	m := loadedMatcher(t, fixtureRecords())
	cands := m.FindFuzzyCandidates("buizerd", 5, 0.05)
	for i := 1; i < len(cands); i++ {
		if cands[i-1].Score < cands[i].Score {
			t.Fatalf("candidates not sorted: %v before %v", cands[i-1].Score, cands[i].Score)
		}
	}

	capped := m.FindFuzzyCandidates("buizerd", 1, 0.05)
	if len(capped) > 1 {
		t.Errorf("topN=1 returned %d candidates", len(capped))
	}
}

// --- Non-blocking contract ---

func TestLookupsBeforeLoadReturnFast(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	m := match.New(func(ctx context.Context) ([]alias.Record, error) {
		select {
		case <-release:
			return fixtureRecords(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	start := time.Now()
	recs := m.FindExact("buizerd")
	cands := m.FindFuzzyCandidates("buizerd", 5, match.DefaultThreshold)
	elapsed := time.Since(start)

	if recs != nil || cands != nil {
		t.Error("lookups before load should return empty")
	}
	if elapsed > 50*time.Millisecond {
		t.Errorf("unloaded lookups took %v, want well under 50ms", elapsed)
	}

	// The lookups above scheduled a background load; releasing it makes the
	// index appear without any further calls.
	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for !m.Loaded() {
		if time.Now().After(deadline) {
			t.Fatal("background load never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if recs := m.FindExact("buizerd"); len(recs) == 0 {
		t.Error("index loaded but lookup still empty")
	}
}

func TestEnsureLoaded_SingleFlight(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	m := match.New(func(ctx context.Context) ([]alias.Record, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return fixtureRecords(), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.EnsureLoaded(context.Background()); err != nil {
				t.Errorf("EnsureLoaded: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("load ran %d times, want 1", calls)
	}
}

func TestEnsureLoaded_FailureRetries(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	m := match.New(func(ctx context.Context) ([]alias.Record, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("disk on fire")
		}
		return fixtureRecords(), nil
	})

	if err := m.EnsureLoaded(context.Background()); err == nil {
		t.Fatal("first load should fail")
	}
	if err := m.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("second load should succeed, got %v", err)
	}
	if !m.Loaded() {
		t.Error("index not loaded after successful retry")
	}
}

// --- Hot-patching ---

func TestAddAliasHotpatch_VisibleImmediately(t *testing.T) {
	t.Parallel()

	m := loadedMatcher(t, fixtureRecords())

	rec, err := m.AddAliasHotpatch("123", "muizenvalk", "Buizerd", "BZD")
	if err != nil {
		t.Fatalf("AddAliasHotpatch: %v", err)
	}
	if rec.Source != alias.SourceHotpatch {
		t.Errorf("hotpatch source = %q", rec.Source)
	}

	found := m.FindExact("muizenvalk")
	if len(found) == 0 || found[0].SpeciesID != "123" {
		t.Fatalf("hotpatched alias not matchable: %v", found)
	}

	// Fuzzy search sees it too, including through the bloom gate.
	cands := m.FindFuzzyCandidates("muizenvalk", 5, match.DefaultThreshold)
	if len(cands) == 0 || cands[0].Record.SpeciesID != "123" {
		t.Errorf("hotpatched alias not fuzzy-matchable: %v", cands)
	}

	// Existing entries are unaffected.
	if recs := m.FindExact("merel"); len(recs) == 0 {
		t.Error("pre-existing alias lost after hotpatch")
	}
}

func TestAddAliasHotpatch_Validation(t *testing.T) {
	t.Parallel()

	m := loadedMatcher(t, fixtureRecords())
	if _, err := m.AddAliasHotpatch("", "x", "", ""); err == nil {
		t.Error("blank species id should be rejected")
	}
	if _, err := m.AddAliasHotpatch("123", "!!!", "", ""); err == nil {
		t.Error("alias that normalizes to nothing should be rejected")
	}
}

// --- Reload ---

func TestReload_SupersedesInFlightLoad(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	extra := alias.NewRecord("999", "Aalscholver", "", "aalscholver", "", 1, alias.SourceSeedImport)

	var mu sync.Mutex
	calls := 0
	m := match.New(func(ctx context.Context) ([]alias.Record, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			// A slow first load that does not honour cancellation.
			<-release
			return fixtureRecords(), nil
		}
		return append(fixtureRecords(), extra), nil
	})

	// A lookup schedules the first load, which then blocks.
	m.FindExact("buizerd")
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		started := calls >= 1
		mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first load never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.Reload()

	// The reload must run its own load instead of coalescing with the
	// blocked one, so waiting here completes promptly with the new data.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.EnsureLoaded(ctx); err != nil {
		t.Fatalf("EnsureLoaded after reload: %v", err)
	}
	if recs := m.FindExact("aalscholver"); len(recs) == 0 {
		t.Fatal("reload joined the superseded load")
	}

	// When the stale load finally finishes it must not replace the fresh
	// snapshot.
	close(release)
	time.Sleep(50 * time.Millisecond)
	if recs := m.FindExact("aalscholver"); len(recs) == 0 {
		t.Error("superseded load overwrote the reloaded snapshot")
	}
}

func TestReload_PicksUpNewRecords(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	records := fixtureRecords()

	m := match.New(func(ctx context.Context) ([]alias.Record, error) {
		mu.Lock()
		defer mu.Unlock()
		return records, nil
	})
	if err := m.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if recs := m.FindExact("aalscholver"); recs != nil {
		t.Fatal("aalscholver should not exist yet")
	}

	mu.Lock()
	records = append(records, alias.NewRecord("999", "Aalscholver", "", "aalscholver", "", 1, alias.SourceSeedImport))
	mu.Unlock()

	m.Reload()
	if err := m.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded after reload: %v", err)
	}
	if recs := m.FindExact("aalscholver"); len(recs) == 0 {
		t.Error("reload did not pick up the new record")
	}
}
