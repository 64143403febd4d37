package match_test

import (
	"testing"

	"github.com/vogelwacht/telling/internal/match"
)

func TestScore_IdenticalKeys(t *testing.T) {
	t.Parallel()

	// Edit and phonetic terms saturate; without phoneme data the maximum
	// combined score is their weight sum.
	got := match.Score("buizerd", "buizerd", "", "")
	if got < 0.79 || got > 0.81 {
		t.Errorf("Score(identical) = %v, want ~0.80", got)
	}

	// With identical phoneme strings the phoneme term contributes too.
	full := match.Score("buizerd", "buizerd", "bœyzərt", "bœyzərt")
	if full < 0.99 || full > 1.0 {
		t.Errorf("Score(identical with phonemes) = %v, want ~1.0", full)
	}
}

func TestScore_DroppedLetterStaysAboveThreshold(t *testing.T) {
	t.Parallel()

	// One dropped letter: high edit ratio, identical phonetic code.
	got := match.Score("buzerd", "buizerd", "", "")
	if got < match.DefaultThreshold {
		t.Errorf("Score(buzerd, buizerd) = %v, want >= %v", got, match.DefaultThreshold)
	}
}

func TestScore_UnrelatedNamesStayBelowThreshold(t *testing.T) {
	t.Parallel()

	got := match.Score("buizerd", "winterkoning", "", "")
	if got >= match.DefaultThreshold {
		t.Errorf("Score(buizerd, winterkoning) = %v, want < %v", got, match.DefaultThreshold)
	}
}

func TestScore_Monotonicity(t *testing.T) {
	t.Parallel()

	near := match.Score("buzerd", "buizerd", "", "")
	far := match.Score("merel", "buizerd", "", "")
	if near <= far {
		t.Errorf("near-miss scored %v, unrelated scored %v; want near > far", near, far)
	}
}
