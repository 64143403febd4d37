package interpret

import "github.com/vogelwacht/telling/internal/alias"

// Candidate is one ranked species option produced from an utterance.
type Candidate struct {
	// SpeciesID identifies the resolved species.
	SpeciesID string

	// Name is the display name: the species' canonical name when known,
	// otherwise the matched alias text.
	Name string

	// Record is the alias record the candidate was derived from.
	Record alias.Record

	// Score is the combined ASR-confidence/match score in [0,1].
	Score float64
}

// MatchWithAmount pairs a resolved candidate with its spoken amount.
type MatchWithAmount struct {
	Candidate Candidate
	Amount    int
}

// Result is the outcome of one interpretation cycle — a closed variant set.
// No-match and ambiguity are first-class outcomes here, never errors.
type Result interface{ isResult() }

// AutoAccept is an unambiguous match for a species that is already active;
// the caller can record the observation directly.
type AutoAccept struct {
	Candidate Candidate
	Amount    int
}

// AutoAcceptAddPopup is an unambiguous match for a species that is not yet
// active; the caller must confirm adding it before recording.
type AutoAcceptAddPopup struct {
	Candidate Candidate
	Amount    int

	// InTiles reports whether the species is on-screen already (it can be
	// on-screen but outside the active counting set).
	InTiles bool
}

// MultiMatch is an utterance that decomposed into several species+amount
// segments, each resolving unambiguously.
type MultiMatch struct {
	Matches []MatchWithAmount
}

// SuggestionList is an ambiguous utterance: several species scored within a
// narrow band. The caller presents the ranked options for disambiguation.
type SuggestionList struct {
	Candidates []Candidate

	// Hypothesis is the utterance text the suggestions were derived from.
	Hypothesis string
}

// NoMatch means nothing crossed the acceptance threshold. The hypothesis is
// preserved verbatim for display or manual correction.
type NoMatch struct {
	Hypothesis string
}

func (AutoAccept) isResult()         {}
func (AutoAcceptAddPopup) isResult() {}
func (MultiMatch) isResult()         {}
func (SuggestionList) isResult()     {}
func (NoMatch) isResult()            {}
