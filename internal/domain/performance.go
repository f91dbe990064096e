package domain

import (
	"time"

	"github.com/google/uuid"
)

// PerformanceSample is the per-format aggregate of observed audience
// outcomes. Owned by the analytics side; the optimizer consumes it
// read-only. Metric units are pre-normalized upstream.
type PerformanceSample struct {
	Count      int     // number of published videos in the aggregate
	AvgViewPct float64 // average watched percentage
	AvgViews   float64 // average reach
}

// VideoMetric is one observed audience measurement for a published job.
// Measurements are ingested per video and aggregated into
// PerformanceSamples by format.
type VideoMetric struct {
	ID         uuid.UUID
	JobID      uuid.UUID
	Views      int64
	ViewPct    float64 // watched percentage, normalized to [0, 1]
	RecordedAt time.Time
}
