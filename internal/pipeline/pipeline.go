// Package pipeline consumes scheduled job events and drives each job
// through the production stages: generate, safety check, render, upload.
// Every status change goes through the job state machine guards in the
// store, so replayed or stale events are safely ignored.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shortfab/shortfab/internal/domain"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
}

const maxAttempts = 3

// ErrStatusTransitionDenied is returned when a status update is rejected by
// the job state machine (terminal state, or another worker got there first).
var ErrStatusTransitionDenied = errors.New("status transition denied")

// Stage names used for breaker keys and metrics labels.
const (
	StageGenerate = "generate"
	StageSafety   = "safety"
	StageRender   = "render"
	StageUpload   = "upload"
)

type Store interface {
	GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.Job, error)
	// TransitionJob moves a job between statuses atomically. Implementations
	// MUST enforce the domain state machine and return
	// ErrStatusTransitionDenied when the job is not in the expected status.
	TransitionJob(ctx context.Context, jobID uuid.UUID, from, to domain.VideoStatus) error
	CompleteJob(ctx context.Context, jobID uuid.UUID, youtubeID string) error
	FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error
	RejectJob(ctx context.Context, jobID uuid.UUID, reason string) error
}

// Assets holds the artifacts produced by the generation stage and consumed
// by the later stages.
type Assets struct {
	ScriptText string
	ImagePath  string
	AudioPath  string
}

// Verdict is the safety check result. A non-approved verdict rejects the
// job permanently; Reason is persisted as the rejection message.
type Verdict struct {
	Approved bool
	Reason   string
}

type Generator interface {
	Generate(ctx context.Context, job domain.Job) (Assets, error)
}

type SafetyChecker interface {
	Check(ctx context.Context, job domain.Job, assets Assets) (Verdict, error)
}

type Renderer interface {
	Render(ctx context.Context, job domain.Job, assets Assets) (videoPath string, err error)
}

type Uploader interface {
	Upload(ctx context.Context, job domain.Job, videoPath string) (youtubeID string, err error)
}

// Breaker guards calls to external services, keyed by stage name.
type Breaker interface {
	Allow(service string) error
	RecordSuccess(service string)
	RecordFailure(service string)
}

// AnalyticsSink records final per-format outcomes. Best-effort: the sink
// handles its own errors and never affects pipeline correctness.
type AnalyticsSink interface {
	RecordOutcome(ctx context.Context, format domain.VideoFormat, outcome string)
}

// MetricsSink records pipeline metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	StageCompleted(stage string, duration time.Duration, err error)
	PipelineOutcome(outcome string)
	RetryAttempt(retryable bool)
	JobsInFlightIncr()
	JobsInFlightDecr()
}

// Final outcome labels.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// RetryableError marks a stage failure as transient. Stages wrap timeouts
// and rate limits in it; anything else fails the job on first attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the pipeline retries the stage with backoff.
func Retryable(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err allows another attempt of the same stage.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

type Pipeline struct {
	store        Store
	generator    Generator
	checker      SafetyChecker
	renderer     Renderer
	uploader     Uploader
	breaker      Breaker       // optional, nil = disabled
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	backoff      []time.Duration
	drainTimeout time.Duration
	clock        func() time.Time
}

func New(store Store, generator Generator, checker SafetyChecker, renderer Renderer, uploader Uploader) *Pipeline {
	return &Pipeline{
		store:        store,
		generator:    generator,
		checker:      checker,
		renderer:     renderer,
		uploader:     uploader,
		backoff:      defaultBackoff,
		drainTimeout: DrainTimeout,
		clock:        time.Now,
	}
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (p *Pipeline) WithDrainTimeout(d time.Duration) *Pipeline {
	p.drainTimeout = d
	return p
}

// WithBreaker attaches a circuit breaker to the pipeline.
func (p *Pipeline) WithBreaker(breaker Breaker) *Pipeline {
	p.breaker = breaker
	return p
}

// WithAnalytics attaches an analytics sink to the pipeline.
func (p *Pipeline) WithAnalytics(sink AnalyticsSink) *Pipeline {
	p.analytics = sink
	return p
}

// WithMetrics attaches a metrics sink to the pipeline.
func (p *Pipeline) WithMetrics(sink MetricsSink) *Pipeline {
	p.metrics = sink
	return p
}

// Run processes events from the channel until context is cancelled.
// After cancellation, it drains remaining buffered events with a timeout.
func (p *Pipeline) Run(ctx context.Context, ch <-chan domain.JobEvent) {
	for {
		select {
		case <-ctx.Done():
			p.drain(ch)
			return
		case event := <-ch:
			if err := p.Process(ctx, event); err != nil {
				log.Printf("pipeline: error: %v", err)
			}
		}
	}
}

// DrainTimeout is the maximum time to wait for buffered events during shutdown.
const DrainTimeout = 30 * time.Second

// drain processes remaining events in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (p *Pipeline) drain(ch <-chan domain.JobEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("pipeline: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("pipeline: drain complete, processed %d events", count)
				return
			}
			if err := p.Process(drainCtx, event); err != nil {
				log.Printf("pipeline: drain error: %v", err)
			}
			count++
		default:
			// No more buffered events
			if count > 0 {
				log.Printf("pipeline: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Process runs one job through all production stages. Replayed events are
// harmless: claiming the job (pending -> generating) is atomic, so a job
// already picked up or already terminal is skipped.
func (p *Pipeline) Process(ctx context.Context, event domain.JobEvent) error {
	if p.metrics != nil {
		p.metrics.JobsInFlightIncr()
		defer p.metrics.JobsInFlightDecr()
	}

	job, err := p.store.GetJobByID(ctx, event.JobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	if job.Status != domain.StatusPending {
		log.Printf("pipeline: job=%s skipped (status=%s)", job.ID, job.Status)
		return nil
	}

	// Claim the job. A denied transition means another worker won the race.
	if err := p.store.TransitionJob(ctx, job.ID, domain.StatusPending, domain.StatusGenerating); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			log.Printf("pipeline: job=%s already claimed, skipping", job.ID)
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}

	var assets Assets
	if err := p.runStage(ctx, StageGenerate, job.ID, func(ctx context.Context) error {
		var stageErr error
		assets, stageErr = p.generator.Generate(ctx, job)
		return stageErr
	}); err != nil {
		return p.fail(ctx, job, StageGenerate, err)
	}

	var verdict Verdict
	if err := p.runStage(ctx, StageSafety, job.ID, func(ctx context.Context) error {
		var stageErr error
		verdict, stageErr = p.checker.Check(ctx, job, assets)
		return stageErr
	}); err != nil {
		return p.fail(ctx, job, StageSafety, err)
	}
	if !verdict.Approved {
		return p.reject(ctx, job, verdict.Reason)
	}

	if err := p.store.TransitionJob(ctx, job.ID, domain.StatusGenerating, domain.StatusRendering); err != nil {
		return fmt.Errorf("transition to rendering: %w", err)
	}

	var videoPath string
	if err := p.runStage(ctx, StageRender, job.ID, func(ctx context.Context) error {
		var stageErr error
		videoPath, stageErr = p.renderer.Render(ctx, job, assets)
		return stageErr
	}); err != nil {
		return p.fail(ctx, job, StageRender, err)
	}

	if err := p.store.TransitionJob(ctx, job.ID, domain.StatusRendering, domain.StatusUploading); err != nil {
		return fmt.Errorf("transition to uploading: %w", err)
	}

	var youtubeID string
	if err := p.runStage(ctx, StageUpload, job.ID, func(ctx context.Context) error {
		var stageErr error
		youtubeID, stageErr = p.uploader.Upload(ctx, job, videoPath)
		return stageErr
	}); err != nil {
		return p.fail(ctx, job, StageUpload, err)
	}

	if err := p.store.CompleteJob(ctx, job.ID, youtubeID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	log.Printf("pipeline: job=%s published (format=%s, youtube=%s)", job.ID, job.Format, youtubeID)
	p.recordOutcome(ctx, job.Format, OutcomePublished)
	return nil
}

// runStage invokes fn with breaker guards, per-attempt metrics and bounded
// retries. Only errors wrapped with Retryable get another attempt.
func (p *Pipeline) runStage(ctx context.Context, stage string, jobID uuid.UUID, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if p.metrics != nil {
				p.metrics.RetryAttempt(true)
			}

			idx := attempt - 1
			if idx >= len(p.backoff) {
				idx = len(p.backoff) - 1
			}
			backoff := p.backoff[idx]

			log.Printf("pipeline: job=%s stage=%s attempt=%d backoff=%s", jobID, stage, attempt, backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		if p.breaker != nil {
			if err := p.breaker.Allow(stage); err != nil {
				return fmt.Errorf("stage %s: %w", stage, err)
			}
		}

		start := p.clock()
		err := fn(ctx)
		if p.metrics != nil {
			p.metrics.StageCompleted(stage, p.clock().Sub(start), err)
		}

		if err == nil {
			if p.breaker != nil {
				p.breaker.RecordSuccess(stage)
			}
			return nil
		}

		if p.breaker != nil {
			p.breaker.RecordFailure(stage)
		}
		lastErr = err

		if !IsRetryable(err) {
			log.Printf("pipeline: job=%s stage=%s non-retryable: %v", jobID, stage, err)
			return err
		}

		log.Printf("pipeline: job=%s stage=%s attempt=%d failed: %v", jobID, stage, attempt, err)
	}

	return fmt.Errorf("stage %s: attempts exhausted: %w", stage, lastErr)
}

// fail marks the job failed with the stage error. A denied transition means
// the job already reached a terminal state; safe to ignore.
func (p *Pipeline) fail(ctx context.Context, job domain.Job, stage string, stageErr error) error {
	log.Printf("pipeline: job=%s failed (stage=%s): %v", job.ID, stage, stageErr)
	p.recordOutcome(ctx, job.Format, OutcomeFailed)

	msg := fmt.Sprintf("%s: %v", stage, stageErr)
	if err := p.store.FailJob(ctx, job.ID, msg); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			log.Printf("pipeline: job=%s already terminal, skipping fail update", job.ID)
			return nil
		}
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// reject marks the job rejected by the safety gate. Rejection is terminal:
// the reconciler never requeues rejected jobs.
func (p *Pipeline) reject(ctx context.Context, job domain.Job, reason string) error {
	log.Printf("pipeline: job=%s rejected: %s", job.ID, reason)
	p.recordOutcome(ctx, job.Format, OutcomeRejected)

	if err := p.store.RejectJob(ctx, job.ID, reason); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			log.Printf("pipeline: job=%s already terminal, skipping reject update", job.ID)
			return nil
		}
		return fmt.Errorf("reject job: %w", err)
	}
	return nil
}

func (p *Pipeline) recordOutcome(ctx context.Context, format domain.VideoFormat, outcome string) {
	if p.metrics != nil {
		p.metrics.PipelineOutcome(outcome)
	}
	if p.analytics != nil {
		p.analytics.RecordOutcome(ctx, format, outcome)
	}
}
