// Package speech defines the boundary between the recognition engine and the
// interpretation core. The platform recognizer (microphone lifecycle, model
// configuration, endpointing) lives outside this module; it only has to
// deliver recognition cycles in the shape declared here.
package speech

import "time"

// Hypothesis is one ranked recognizer alternative for an utterance.
type Hypothesis struct {
	// Text is the recognized utterance text.
	Text string

	// Confidence is the recognizer's own score (0.0–1.0). May be zero when
	// the engine does not report confidence.
	Confidence float64
}

// Cycle is the result of one recognition cycle: the ranked final hypotheses
// plus the running partial (in-progress, unfinalized) text.
type Cycle struct {
	// Hypotheses are ordered best-first. May be empty while only a partial
	// is available.
	Hypotheses []Hypothesis

	// Partial is the current unfinalized recognizer text. Retained verbatim
	// so an unresolved utterance can be shown to the user for manual entry.
	Partial string

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration
}

// Source produces recognition cycles. Implementations wrap the platform
// speech engine; the interpretation core never manages the engine itself.
type Source interface {
	// Cycles returns a channel of recognition cycles. The channel is closed
	// when the source shuts down.
	Cycles() <-chan Cycle
}
