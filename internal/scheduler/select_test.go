package scheduler

import (
	"math/rand"
	"testing"

	"github.com/shortfab/shortfab/internal/domain"
)

func selectorForTest(seed int64) *Scheduler {
	s := New(Config{MaxDailyVideos: 3, DailyBudget: 3.0}, &mockStore{}, &fixedEstimator{cost: 0.5}, nil)
	s.rng = rand.New(rand.NewSource(seed))
	return s
}

func TestPickFormat_ZeroWeightNeverSelected(t *testing.T) {
	s := selectorForTest(42)
	weights := map[domain.VideoFormat]float64{
		domain.FormatTalkingObject:    0,
		domain.FormatAbsurdMotivation: 1.0,
		domain.FormatNothingHappens:   1.0,
	}
	for i := 0; i < 1000; i++ {
		if got := s.pickFormat(weights); got == domain.FormatTalkingObject {
			t.Fatal("zero-weight format was selected")
		}
	}
}

func TestPickFormat_NegativeWeightNeverSelected(t *testing.T) {
	s := selectorForTest(7)
	weights := map[domain.VideoFormat]float64{
		domain.FormatTalkingObject:    -0.5,
		domain.FormatAbsurdMotivation: 2.0,
		domain.FormatNothingHappens:   1.0,
	}
	for i := 0; i < 1000; i++ {
		if got := s.pickFormat(weights); got == domain.FormatTalkingObject {
			t.Fatal("negative-weight format was selected")
		}
	}
}

// All weights zero falls back to uniform random across formats; the draw
// must still return valid formats and, over many draws, hit all of them.
func TestPickFormat_AllZeroFallsBackToUniform(t *testing.T) {
	s := selectorForTest(3)
	weights := map[domain.VideoFormat]float64{}
	for _, f := range domain.AllFormats() {
		weights[f] = 0
	}

	seen := make(map[domain.VideoFormat]int)
	for i := 0; i < 3000; i++ {
		got := s.pickFormat(weights)
		if !domain.ValidFormat(got) {
			t.Fatalf("invalid format selected: %q", got)
		}
		seen[got]++
	}
	for _, f := range domain.AllFormats() {
		if seen[f] == 0 {
			t.Errorf("format %s never selected under uniform fallback", f)
		}
	}
}

// Heavily skewed weights should produce a correspondingly skewed draw.
// This is a loose statistical check, not an exact one.
func TestPickFormat_RespectsSkew(t *testing.T) {
	s := selectorForTest(99)
	weights := map[domain.VideoFormat]float64{
		domain.FormatTalkingObject:    8.0,
		domain.FormatAbsurdMotivation: 1.0,
		domain.FormatNothingHappens:   1.0,
	}

	const draws = 10000
	seen := make(map[domain.VideoFormat]int)
	for i := 0; i < draws; i++ {
		seen[s.pickFormat(weights)]++
	}

	// talking_object carries 80% of the mass; allow generous slack.
	if frac := float64(seen[domain.FormatTalkingObject]) / draws; frac < 0.7 || frac > 0.9 {
		t.Errorf("talking_object fraction = %.3f, want roughly 0.8", frac)
	}
}
