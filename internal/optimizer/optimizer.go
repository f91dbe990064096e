// Package optimizer adjusts format weights toward recent relative audience
// performance. Adjustments are bounded per run to avoid oscillation, floored
// so no format ever starves, and renormalized so the weight set always sums
// to the format count (mean weight 1.0).
package optimizer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shortfab/shortfab/internal/domain"
)

// Score blend applied to each sampled format. Watched percentage dominates,
// reach matters, sample size breaks ties.
const (
	scoreWeightViewPct = 0.6
	scoreWeightViews   = 0.3
	scoreWeightSamples = 0.1
)

// Reason strings persisted with weight updates.
const (
	ReasonAutomatic = "automatic optimization based on performance"
	ReasonManual    = "manual update"
)

// Store is the weight persistence surface. ReplaceWeights must apply the
// whole set in one transaction; a partial weight set must never be
// observable.
type Store interface {
	ListWeights(ctx context.Context) ([]domain.FormatWeight, error)
	ReplaceWeights(ctx context.Context, weights []domain.FormatWeight) error
}

// PerformanceSource supplies per-format aggregates of observed outcomes.
type PerformanceSource interface {
	GetFormatPerformance(ctx context.Context) (map[domain.VideoFormat]domain.PerformanceSample, error)
}

// MetricsSink records optimizer metrics. Non-blocking, fire-and-forget.
type MetricsSink interface {
	OptimizerRunCompleted(outcome string)
	WeightUpdated(format string, weight float64)
}

// Outcome of one optimizer run.
type Outcome string

const (
	OutcomeOptimized        Outcome = "optimized"
	OutcomeInsufficientData Outcome = "insufficient_data"
	OutcomeNoSignal         Outcome = "no_signal"
)

// Result reports what a run did. OldWeights and NewWeights always cover
// every known format.
type Result struct {
	Outcome    Outcome
	OldWeights map[domain.VideoFormat]float64
	NewWeights map[domain.VideoFormat]float64
}

type Config struct {
	MinSamples    int
	MaxAdjustment float64
	WeightFloor   float64
	Cooldown      time.Duration
}

// DefaultConfig returns the standard optimizer tuning.
func DefaultConfig() Config {
	return Config{
		MinSamples:    3,
		MaxAdjustment: 0.2,
		WeightFloor:   0.1,
		Cooldown:      24 * time.Hour,
	}
}

type Optimizer struct {
	config  Config
	store   Store
	source  PerformanceSource
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store, source PerformanceSource) *Optimizer {
	return &Optimizer{
		config: config,
		store:  store,
		source: source,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the optimizer.
func (o *Optimizer) WithMetrics(sink MetricsSink) *Optimizer {
	o.metrics = sink
	return o
}

// ShouldRun reports whether the cooldown since the last weight update has
// elapsed. The optimizer does not self-schedule; the control loop gates
// invocation on this. Errors read as "not yet": skipping a run is safer
// than violating the cooldown.
func (o *Optimizer) ShouldRun(ctx context.Context) bool {
	weights, err := o.store.ListWeights(ctx)
	if err != nil {
		log.Printf("optimizer: failed to read weights for cooldown check: %v", err)
		return false
	}
	if len(weights) == 0 {
		return true // never optimized
	}
	var latest time.Time
	for _, w := range weights {
		if w.LastUpdated.After(latest) {
			latest = w.LastUpdated
		}
	}
	return o.clock().UTC().Sub(latest) >= o.config.Cooldown
}

// Optimize runs one bounded weight adjustment. It is stateless per call:
// cooldown gating is the caller's job via ShouldRun.
func (o *Optimizer) Optimize(ctx context.Context) (Result, error) {
	perf, err := o.source.GetFormatPerformance(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("get format performance: %w", err)
	}

	current, err := o.currentWeights(ctx)
	if err != nil {
		return Result{}, err
	}

	totalSamples := 0
	for _, sample := range perf {
		totalSamples += sample.Count
	}
	if totalSamples < o.config.MinSamples {
		log.Printf("optimizer: insufficient data (samples=%d, need=%d)", totalSamples, o.config.MinSamples)
		o.recordOutcome(OutcomeInsufficientData)
		return Result{Outcome: OutcomeInsufficientData, OldWeights: current, NewWeights: current}, nil
	}

	scores := make(map[domain.VideoFormat]float64, len(domain.AllFormats()))
	var totalScore float64
	for _, f := range domain.AllFormats() {
		sample := perf[f]
		if sample.Count > 0 {
			scores[f] = scoreWeightViewPct*sample.AvgViewPct +
				scoreWeightViews*sample.AvgViews +
				scoreWeightSamples*float64(sample.Count)
		}
		totalScore += scores[f]
	}
	if totalScore == 0 {
		log.Printf("optimizer: no performance signal, weights unchanged")
		o.recordOutcome(OutcomeNoSignal)
		return Result{Outcome: OutcomeNoSignal, OldWeights: current, NewWeights: current}, nil
	}

	n := float64(len(domain.AllFormats()))
	next := make(map[domain.VideoFormat]float64, len(domain.AllFormats()))
	for _, f := range domain.AllFormats() {
		share := scores[f] / totalScore
		// The target distribution is scaled to weight space (sum n, mean
		// 1.0) before diffing, so shares and weights are comparable.
		delta := clamp(share*n-current[f], -o.config.MaxAdjustment, o.config.MaxAdjustment)
		next[f] = current[f] + delta
		if next[f] < o.config.WeightFloor {
			next[f] = o.config.WeightFloor
		}
	}

	normalizeWithFloor(next, n, o.config.WeightFloor)

	if err := o.persist(ctx, next, ReasonAutomatic); err != nil {
		return Result{}, err
	}

	log.Printf("optimizer: weights updated (old=%v, new=%v)", current, next)
	o.recordOutcome(OutcomeOptimized)
	return Result{Outcome: OutcomeOptimized, OldWeights: current, NewWeights: next}, nil
}

// ManualAdjust applies raw additive operator adjustments, then the same
// floor-and-renormalize treatment as an automatic run. It deliberately
// bypasses the cooldown and minimum-sample gates: a human override is
// always allowed.
func (o *Optimizer) ManualAdjust(ctx context.Context, adjustments map[domain.VideoFormat]float64) (Result, error) {
	for f := range adjustments {
		if !domain.ValidFormat(f) {
			return Result{}, fmt.Errorf("unknown format %q", f)
		}
	}

	current, err := o.currentWeights(ctx)
	if err != nil {
		return Result{}, err
	}

	next := make(map[domain.VideoFormat]float64, len(current))
	for f, w := range current {
		next[f] = w + adjustments[f]
		if next[f] < o.config.WeightFloor {
			next[f] = o.config.WeightFloor
		}
	}

	normalizeWithFloor(next, float64(len(domain.AllFormats())), o.config.WeightFloor)

	if err := o.persist(ctx, next, ReasonManual); err != nil {
		return Result{}, err
	}

	log.Printf("optimizer: manual adjustment applied (old=%v, new=%v)", current, next)
	return Result{Outcome: OutcomeOptimized, OldWeights: current, NewWeights: next}, nil
}

// currentWeights loads the stored weight set, seeding missing formats at
// 1.0 so the output always covers every known format.
func (o *Optimizer) currentWeights(ctx context.Context) (map[domain.VideoFormat]float64, error) {
	weights := make(map[domain.VideoFormat]float64, len(domain.AllFormats()))
	for _, f := range domain.AllFormats() {
		weights[f] = 1.0
	}
	stored, err := o.store.ListWeights(ctx)
	if err != nil {
		return nil, fmt.Errorf("list weights: %w", err)
	}
	for _, w := range stored {
		if domain.ValidFormat(w.Format) {
			weights[w.Format] = w.Weight
		}
	}
	return weights, nil
}

func (o *Optimizer) persist(ctx context.Context, weights map[domain.VideoFormat]float64, reason string) error {
	now := o.clock().UTC()
	set := make([]domain.FormatWeight, 0, len(weights))
	for _, f := range domain.AllFormats() {
		set = append(set, domain.FormatWeight{
			Format:      f,
			Weight:      weights[f],
			LastUpdated: now,
			Reason:      reason,
		})
	}
	if err := o.store.ReplaceWeights(ctx, set); err != nil {
		return fmt.Errorf("replace weights: %w", err)
	}
	if o.metrics != nil {
		for _, w := range set {
			o.metrics.WeightUpdated(string(w.Format), w.Weight)
		}
	}
	return nil
}

func (o *Optimizer) recordOutcome(outcome Outcome) {
	if o.metrics != nil {
		o.metrics.OptimizerRunCompleted(string(outcome))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeWithFloor rescales weights in place so they sum to target while
// keeping every weight at or above floor. Plain rescaling can push an
// already-floored weight under the floor; pinned weights are held there and
// the remaining mass is rescaled until the set is stable.
func normalizeWithFloor(weights map[domain.VideoFormat]float64, target, floor float64) {
	pinned := make(map[domain.VideoFormat]bool, len(weights))

	for iter := 0; iter < len(weights); iter++ {
		var freeSum, pinnedSum float64
		for f, w := range weights {
			if pinned[f] {
				pinnedSum += w
			} else {
				freeSum += w
			}
		}
		if freeSum <= 0 {
			return
		}

		scale := (target - pinnedSum) / freeSum
		violated := false
		for f, w := range weights {
			if pinned[f] {
				continue
			}
			scaled := w * scale
			if scaled < floor {
				weights[f] = floor
				pinned[f] = true
				violated = true
			}
		}
		if violated {
			continue
		}
		for f, w := range weights {
			if !pinned[f] {
				weights[f] = w * scale
			}
		}
		return
	}
}
