// Package scheduler decides how many production jobs to create per cycle
// and of which format, subject to the daily video cap and the daily budget.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/shortfab/shortfab/internal/domain"
	"github.com/shortfab/shortfab/internal/pricing"
)

// Cost split applied to every estimate at job creation.
const (
	generationShare = 0.7
	renderShare     = 0.3
)

// Store is the persistence surface the scheduler needs. CreateJobWithSpend
// must insert the job and increment the day's cost ledger in one atomic
// unit; on failure neither may be visible.
type Store interface {
	ListWeights(ctx context.Context) ([]domain.FormatWeight, error)
	CountJobsCreatedOn(ctx context.Context, day time.Time, excludeFailed bool) (int, error)
	GetDayCosts(ctx context.Context, day time.Time) (domain.CostEntry, error)
	CreateJobWithSpend(ctx context.Context, job domain.Job, day time.Time) error
}

// Estimator prices one video of a given format.
type Estimator interface {
	EstimateVideoCost(format domain.VideoFormat) (float64, error)
}

// EventEmitter hands freshly created jobs to the pipeline.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.JobEvent) error
}

// MetricsSink records scheduler metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	CycleCompleted(duration time.Duration, jobsScheduled int, err error)
	SlotSkipped(reason string)
	SpendRecorded(amount float64)
}

// ErrComplianceDenied is returned by ScheduleManual when the daily budget
// or video cap would be exceeded.
var ErrComplianceDenied = errors.New("compliance denied")

// Skip reasons reported via MetricsSink.SlotSkipped and cycle logs.
const (
	SkipReasonBudget         = "budget_exhausted"
	SkipReasonEstimateFailed = "estimate_failed"
	SkipReasonCapReached     = "cap_reached"
)

type Config struct {
	MaxDailyVideos int
	DailyBudget    float64 // EUR
}

type Scheduler struct {
	config    Config
	store     Store
	estimator Estimator
	emitter   EventEmitter
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
	rng       *rand.Rand
}

func New(config Config, store Store, estimator Estimator, emitter EventEmitter) *Scheduler {
	return &Scheduler{
		config:    config,
		store:     store,
		estimator: estimator,
		emitter:   emitter,
		clock:     time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// ScheduleCycle attempts to create up to maxJobsHint jobs, bounded by the
// daily cap and by budgetRemainingHint. Jobs are committed one at a time,
// each atomically with its ledger increment; a persistence failure aborts
// the remainder of the cycle (fail-closed: under-scheduling is preferred
// to over-spending). The returned slice holds the jobs actually created,
// possibly alongside a non-nil error when the cycle aborted partway.
func (s *Scheduler) ScheduleCycle(ctx context.Context, maxJobsHint int, budgetRemainingHint float64) ([]domain.Job, error) {
	start := s.clock().UTC()
	scheduled, err := s.scheduleCycle(ctx, maxJobsHint, budgetRemainingHint, start)
	if s.metrics != nil {
		s.metrics.CycleCompleted(s.clock().UTC().Sub(start), len(scheduled), err)
	}
	return scheduled, err
}

func (s *Scheduler) scheduleCycle(ctx context.Context, maxJobsHint int, budgetRemaining float64, now time.Time) ([]domain.Job, error) {
	// Weights are reloaded every cycle: the optimizer or a manual override
	// may have replaced them since the last tick.
	weights := s.loadWeights(ctx)

	day := domain.Day(now)
	created, err := s.store.CountJobsCreatedOn(ctx, day, true)
	if err != nil {
		return nil, fmt.Errorf("count jobs created today: %w", err)
	}

	availableSlots := s.config.MaxDailyVideos - created
	if availableSlots < 0 {
		availableSlots = 0
	}
	attempts := maxJobsHint
	if availableSlots < attempts {
		attempts = availableSlots
	}

	if attempts <= 0 {
		log.Printf("scheduler: no slots available (created_today=%d, cap=%d, hint=%d)",
			created, s.config.MaxDailyVideos, maxJobsHint)
		if s.metrics != nil && availableSlots == 0 {
			s.metrics.SlotSkipped(SkipReasonCapReached)
		}
		return nil, nil
	}

	var scheduled []domain.Job

	for i := 0; i < attempts; i++ {
		format := s.pickFormat(weights)

		cost, err := s.estimator.EstimateVideoCost(format)
		if err != nil {
			// Misconfigured pricing is fatal for this slot only.
			log.Printf("scheduler: slot skipped (reason=%s, format=%s): %v", SkipReasonEstimateFailed, format, err)
			if s.metrics != nil {
				s.metrics.SlotSkipped(SkipReasonEstimateFailed)
			}
			continue
		}

		if cost > budgetRemaining {
			// Budget exhaustion ends the cycle; cheaper formats are not
			// retried, keeping daily spend predictable.
			log.Printf("scheduler: cycle stopped (reason=%s, format=%s, cost=%.4f, remaining=%.4f)",
				SkipReasonBudget, format, cost, budgetRemaining)
			if s.metrics != nil {
				s.metrics.SlotSkipped(SkipReasonBudget)
			}
			break
		}

		job := domain.Job{
			ID:             uuid.New(),
			Format:         format,
			Status:         domain.StatusPending,
			GenerationCost: cost * generationShare,
			RenderCost:     cost * renderShare,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := s.store.CreateJobWithSpend(ctx, job, day); err != nil {
			return scheduled, fmt.Errorf("create job: %w", err)
		}

		budgetRemaining -= cost
		scheduled = append(scheduled, job)

		if s.metrics != nil {
			s.metrics.SpendRecorded(cost)
		}
		log.Printf("scheduler: job scheduled (job=%s, format=%s, cost=%.4f, remaining=%.4f)",
			job.ID, format, cost, budgetRemaining)

		s.emitEvent(ctx, job, now)
	}

	return scheduled, nil
}

// ScheduleManual creates a single job of the requested format, bypassing
// weighted selection but not the budget or cap. Used by the API for
// operator-triggered jobs.
func (s *Scheduler) ScheduleManual(ctx context.Context, format domain.VideoFormat) (domain.Job, error) {
	if !domain.ValidFormat(format) {
		return domain.Job{}, fmt.Errorf("unknown format %q", format)
	}

	now := s.clock().UTC()
	day := domain.Day(now)

	created, err := s.store.CountJobsCreatedOn(ctx, day, true)
	if err != nil {
		return domain.Job{}, fmt.Errorf("count jobs created today: %w", err)
	}
	costs, err := s.store.GetDayCosts(ctx, day)
	if err != nil {
		return domain.Job{}, fmt.Errorf("get day costs: %w", err)
	}

	if ok, reason := pricing.CheckCompliance(costs.TotalCost, s.config.DailyBudget, created, s.config.MaxDailyVideos); !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrComplianceDenied, reason)
	}

	cost, err := s.estimator.EstimateVideoCost(format)
	if err != nil {
		return domain.Job{}, fmt.Errorf("estimate cost: %w", err)
	}

	job := domain.Job{
		ID:             uuid.New(),
		Format:         format,
		Status:         domain.StatusPending,
		GenerationCost: cost * generationShare,
		RenderCost:     cost * renderShare,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateJobWithSpend(ctx, job, day); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SpendRecorded(cost)
	}
	log.Printf("scheduler: manual job scheduled (job=%s, format=%s, cost=%.4f)", job.ID, format, cost)

	s.emitEvent(ctx, job, now)
	return job, nil
}

// loadWeights fetches the current weight set, seeding any missing format
// with 1.0. A store failure falls back to the uniform seed: selection
// degrades gracefully rather than blocking the cycle.
func (s *Scheduler) loadWeights(ctx context.Context) map[domain.VideoFormat]float64 {
	weights := make(map[domain.VideoFormat]float64, len(domain.AllFormats()))
	for _, f := range domain.AllFormats() {
		weights[f] = 1.0
	}

	stored, err := s.store.ListWeights(ctx)
	if err != nil {
		log.Printf("scheduler: failed to load weights, using uniform defaults: %v", err)
		return weights
	}
	for _, w := range stored {
		if domain.ValidFormat(w.Format) {
			weights[w.Format] = w.Weight
		}
	}
	return weights
}

// emitEvent hands the job to the pipeline. Best-effort: a full bus is not
// fatal because the reconciler requeues jobs that were never picked up.
func (s *Scheduler) emitEvent(ctx context.Context, job domain.Job, now time.Time) {
	if s.emitter == nil {
		return
	}
	event := domain.JobEvent{
		JobID:     job.ID,
		Format:    job.Format,
		EmittedAt: now,
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		log.Printf("scheduler: emit failed (job=%s): %v", job.ID, err)
	}
}
