// Package interpret turns ranked recognizer hypotheses into typed entry
// decisions. Each interpretation cycle is stateless: the active species
// context is threaded in explicitly, and the outcome is one of a closed set
// of results (auto-accept, add-confirmation, multi-match, suggestion list,
// no-match) that the surrounding application layer acts on.
package interpret

import (
	"sort"
	"strconv"
	"strings"

	"github.com/vogelwacht/telling/internal/match"
	"github.com/vogelwacht/telling/pkg/speech"
)

// Defaults for the decision policy. The fuzzy floor is fixed by the scoring
// model; the accept threshold and ambiguity gap were tuned on field
// recordings and are deliberately configurable.
const (
	DefaultFuzzyThreshold   = match.DefaultThreshold
	DefaultAcceptThreshold  = 0.55
	DefaultAmbiguityGap     = 0.15
	DefaultTopN             = 5
	DefaultHypothesisWeight = 0.4
	DefaultRecencyBonus     = 0.05
)

// Option is a functional option for configuring an [Interpreter].
type Option func(*Interpreter)

// WithFuzzyThreshold sets the minimum raw match score a fuzzy candidate
// needs before ranking. Default: 0.40.
func WithFuzzyThreshold(t float64) Option {
	return func(in *Interpreter) { in.fuzzyThreshold = t }
}

// WithAcceptThreshold sets the combined score above which a unique candidate
// is auto-accepted. Default: 0.55.
func WithAcceptThreshold(t float64) Option {
	return func(in *Interpreter) { in.acceptThreshold = t }
}

// WithAmbiguityGap sets the minimum top1–top2 combined-score gap required to
// treat the best candidate as unambiguous. Default: 0.15.
func WithAmbiguityGap(g float64) Option {
	return func(in *Interpreter) { in.ambiguityGap = g }
}

// WithTopN caps how many fuzzy candidates are considered per hypothesis.
// Default: 5.
func WithTopN(n int) Option {
	return func(in *Interpreter) {
		if n > 0 {
			in.topN = n
		}
	}
}

// WithHypothesisWeight sets how strongly the recognizer's own confidence
// weighs into the combined score, the remainder going to the match score.
// Default: 0.4.
func WithHypothesisWeight(w float64) Option {
	return func(in *Interpreter) {
		if w >= 0 && w <= 1 {
			in.hypothesisWeight = w
		}
	}
}

// WithRecencyBonus sets the maximum score bonus for recently confirmed
// species; the bonus decays with recency rank. Default: 0.05.
func WithRecencyBonus(b float64) Option {
	return func(in *Interpreter) { in.recencyBonus = b }
}

// WithLeadingPrefix sets a provenance prefix token that is stripped
// case-insensitively from the front of every hypothesis. Default: none.
func WithLeadingPrefix(p string) Option {
	return func(in *Interpreter) { in.leadingPrefix = strings.TrimSpace(p) }
}

// Interpreter applies the decision policy over matcher results.
// Safe for concurrent use; it holds no per-call state.
type Interpreter struct {
	matcher *match.Matcher

	fuzzyThreshold   float64
	acceptThreshold  float64
	ambiguityGap     float64
	topN             int
	hypothesisWeight float64
	recencyBonus     float64
	leadingPrefix    string
}

// New creates an Interpreter over m with the supplied options.
func New(m *match.Matcher, opts ...Option) *Interpreter {
	in := &Interpreter{
		matcher:          m,
		fuzzyThreshold:   DefaultFuzzyThreshold,
		acceptThreshold:  DefaultAcceptThreshold,
		ambiguityGap:     DefaultAmbiguityGap,
		topN:             DefaultTopN,
		hypothesisWeight: DefaultHypothesisWeight,
		recencyBonus:     DefaultRecencyBonus,
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// segment is one name+amount pair extracted from an utterance.
type segment struct {
	name   string
	amount int
}

// Interpret evaluates one recognition cycle against ctx and returns exactly
// one decision. It never fails on bad input: the worst case is a [NoMatch]
// carrying the original hypothesis verbatim.
func (in *Interpreter) Interpret(cycle speech.Cycle, ctx Context) Result {
	hyps := cycle.Hypotheses
	if len(hyps) == 0 {
		partial := strings.TrimSpace(cycle.Partial)
		if partial == "" {
			return NoMatch{}
		}
		// A bare partial gets interpreted with zero recognizer confidence,
		// leaning entirely on the match score.
		hyps = []speech.Hypothesis{{Text: partial}}
	}
	primary := strings.TrimSpace(hyps[0].Text)

	// Multi-segment utterances ("buizerd 3 merel 2") only count when every
	// segment resolves unambiguously on its own.
	if segs := splitSegments(in.stripPrefix(strings.Fields(primary))); len(segs) > 1 {
		matches := make([]MatchWithAmount, 0, len(segs))
		resolved := true
		for _, sg := range segs {
			cand, ok := in.resolveUnambiguous(sg.name, hyps[0].Confidence, ctx)
			if !ok {
				resolved = false
				break
			}
			matches = append(matches, MatchWithAmount{Candidate: cand, Amount: sg.amount})
		}
		if resolved {
			return MultiMatch{Matches: matches}
		}
	}

	// Single-species path: aggregate candidates across all hypotheses,
	// keeping the best combined score per species.
	amount := 1
	byID := make(map[string]Candidate)
	for i, h := range hyps {
		name, amt := splitTrailingAmount(in.stripPrefix(strings.Fields(h.Text)))
		if name == "" {
			continue
		}
		if i == 0 {
			amount = amt
		}
		for _, c := range in.candidatesFor(name, h.Confidence, ctx) {
			if have, ok := byID[c.SpeciesID]; !ok || c.Score > have.Score {
				byID[c.SpeciesID] = c
			}
		}
	}

	ranked := rankCandidates(byID)
	if len(ranked) == 0 {
		return NoMatch{Hypothesis: primary}
	}

	top := ranked[0]
	unambiguous := len(ranked) == 1 || top.Score-ranked[1].Score >= in.ambiguityGap
	if top.Score >= in.acceptThreshold && unambiguous {
		if ctx.InTiles(top.SpeciesID) {
			return AutoAccept{Candidate: top, Amount: amount}
		}
		return AutoAcceptAddPopup{Candidate: top, Amount: amount, InTiles: false}
	}
	return SuggestionList{Candidates: ranked, Hypothesis: primary}
}

// candidatesFor matches one name portion and returns site-filtered
// candidates with combined scores: recognizer confidence blended with match
// score, plus a decaying recency bonus.
func (in *Interpreter) candidatesFor(name string, confidence float64, ctx Context) []Candidate {
	type scored struct {
		rec   match.Candidate
		score float64
	}
	var found []scored

	for _, rec := range in.matcher.FindExact(name) {
		found = append(found, scored{match.Candidate{Record: rec, Score: 1.0}, 1.0})
	}
	for _, c := range in.matcher.FindFuzzyCandidates(name, in.topN, in.fuzzyThreshold) {
		found = append(found, scored{c, c.Score})
	}

	out := make([]Candidate, 0, len(found))
	for _, f := range found {
		id := f.rec.Record.SpeciesID
		if !ctx.SiteAllows(id) {
			continue
		}
		combined := in.hypothesisWeight*confidence + (1-in.hypothesisWeight)*f.score
		if rank := ctx.recencyRank(id); rank >= 0 && len(ctx.RecentIDs) > 0 {
			combined += in.recencyBonus * (1 - float64(rank)/float64(len(ctx.RecentIDs)))
		}
		if combined > 1 {
			combined = 1
		}
		out = append(out, Candidate{
			SpeciesID: id,
			Name:      ctx.DisplayName(id, displayFallback(f.rec)),
			Record:    f.rec.Record,
			Score:     combined,
		})
	}
	return out
}

// resolveUnambiguous matches name and reports whether exactly one species
// clears the accept threshold with a sufficient gap.
func (in *Interpreter) resolveUnambiguous(name string, confidence float64, ctx Context) (Candidate, bool) {
	byID := make(map[string]Candidate)
	for _, c := range in.candidatesFor(name, confidence, ctx) {
		if have, ok := byID[c.SpeciesID]; !ok || c.Score > have.Score {
			byID[c.SpeciesID] = c
		}
	}
	ranked := rankCandidates(byID)
	if len(ranked) == 0 || ranked[0].Score < in.acceptThreshold {
		return Candidate{}, false
	}
	if len(ranked) > 1 && ranked[0].Score-ranked[1].Score < in.ambiguityGap {
		return Candidate{}, false
	}
	return ranked[0], true
}

// stripPrefix drops the configured provenance prefix from the token list.
func (in *Interpreter) stripPrefix(tokens []string) []string {
	if in.leadingPrefix != "" && len(tokens) > 0 && strings.EqualFold(tokens[0], in.leadingPrefix) {
		return tokens[1:]
	}
	return tokens
}

// splitSegments decomposes tokens into name+amount segments: each numeric
// token closes the segment accumulated before it, a trailing name without a
// number defaults to amount 1. Numbers with no preceding name are dropped.
func splitSegments(tokens []string) []segment {
	var segs []segment
	var name []string
	for _, tok := range tokens {
		if n, ok := parseAmount(tok); ok {
			if len(name) > 0 {
				segs = append(segs, segment{name: strings.Join(name, " "), amount: n})
				name = name[:0]
			}
			continue
		}
		name = append(name, tok)
	}
	if len(name) > 0 {
		segs = append(segs, segment{name: strings.Join(name, " "), amount: 1})
	}
	return segs
}

// splitTrailingAmount separates the trailing numeric run from the name
// portion. The last numeric token is the spoken amount; default 1.
func splitTrailingAmount(tokens []string) (string, int) {
	amount := 1
	end := len(tokens)
	for end > 0 {
		n, ok := parseAmount(tokens[end-1])
		if !ok {
			break
		}
		if end == len(tokens) {
			amount = n
		}
		end--
	}
	return strings.Join(tokens[:end], " "), amount
}

// parseAmount parses a positive spoken count.
func parseAmount(tok string) (int, bool) {
	n, err := strconv.Atoi(tok)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// displayFallback picks a display name from the record itself.
func displayFallback(c match.Candidate) string {
	if c.Record.Canonical != "" {
		return c.Record.Canonical
	}
	return c.Record.Alias
}

// rankCandidates orders the per-species best candidates descending by score
// with a stable id tie-break.
func rankCandidates(byID map[string]Candidate) []Candidate {
	out := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SpeciesID < out[j].SpeciesID
	})
	return out
}
