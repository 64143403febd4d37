package main

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vogelwacht/telling/pkg/speech"
)

// stdinSource adapts line-based input into recognition cycles so the entry
// pipeline can be driven from a terminal or a piped transcript. Each line
// becomes one cycle with a single full-confidence hypothesis.
type stdinSource struct {
	cycles chan speech.Cycle
}

var _ speech.Source = (*stdinSource)(nil)

func newStdinSource(r io.Reader) *stdinSource {
	s := &stdinSource{cycles: make(chan speech.Cycle)}
	go s.read(r)
	return s
}

// Cycles implements [speech.Source]. The channel closes on EOF.
func (s *stdinSource) Cycles() <-chan speech.Cycle {
	return s.cycles
}

func (s *stdinSource) read(r io.Reader) {
	defer close(s.cycles)
	start := time.Now()

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s.cycles <- speech.Cycle{
			Hypotheses: []speech.Hypothesis{{Text: line, Confidence: 1.0}},
			Timestamp:  time.Since(start),
		}
	}
	if err := sc.Err(); err != nil {
		slog.Warn("input read error", "err", err)
	}
}
