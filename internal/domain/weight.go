package domain

import "time"

// FormatWeight is the relative selection preference for one format.
// Weights are not probabilities; the scheduler normalizes them per draw.
// The optimizer keeps the set summing to the format count so the mean
// weight stays 1.0.
type FormatWeight struct {
	Format      VideoFormat
	Weight      float64
	LastUpdated time.Time
	Reason      string
}

// SeedWeights returns the initial weight set: 1.0 for every format.
func SeedWeights(now time.Time) []FormatWeight {
	formats := AllFormats()
	weights := make([]FormatWeight, 0, len(formats))
	for _, f := range formats {
		weights = append(weights, FormatWeight{
			Format:      f,
			Weight:      1.0,
			LastUpdated: now,
			Reason:      "initial seed",
		})
	}
	return weights
}
