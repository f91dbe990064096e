package scheduler

import "github.com/shortfab/shortfab/internal/domain"

// pickFormat draws one format by weighted random sampling over the freshly
// normalized weights. Formats with non-positive weight are never selected.
// If every weight is non-positive the draw falls back to uniform random,
// so a degenerate weight set can never stall scheduling.
//
// The cumulative-sum walk is rebuilt per call on purpose: weights may be
// replaced between cycles and the distribution must never be cached.
func (s *Scheduler) pickFormat(weights map[domain.VideoFormat]float64) domain.VideoFormat {
	formats := domain.AllFormats()

	var total float64
	for _, f := range formats {
		if w := weights[f]; w > 0 {
			total += w
		}
	}

	if total <= 0 {
		return formats[s.rng.Intn(len(formats))]
	}

	r := s.rng.Float64() * total
	var cum float64
	for _, f := range formats {
		w := weights[f]
		if w <= 0 {
			continue
		}
		cum += w
		if r < cum {
			return f
		}
	}
	// Floating-point edge: r landed exactly on the total. Return the last
	// positively weighted format.
	for i := len(formats) - 1; i >= 0; i-- {
		if weights[formats[i]] > 0 {
			return formats[i]
		}
	}
	return formats[len(formats)-1]
}
