// Package reconciler detects and recovers jobs the pipeline lost track of.
//
// Two kinds of jobs go stale. A pending job whose event never reached the
// pipeline (buffer overflow, crash between commit and emit) is re-emitted.
// An active job stuck mid-stage (worker crash) is requeued to pending with
// its retry count incremented, or failed once retries are exhausted.
//
// Idempotency is guaranteed by the pipeline's claim transition: if a job
// was already picked up, the re-emitted event is safely ignored.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shortfab/shortfab/internal/domain"
)

// Store defines the persistence surface for finding and recovering stale jobs.
type Store interface {
	// GetStalePendingJobs returns pending jobs created before olderThan.
	GetStalePendingJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error)
	// GetStaleActiveJobs returns jobs stuck in generating/rendering/uploading
	// whose last update is before olderThan.
	GetStaleActiveJobs(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Job, error)
	// RequeueJob moves an active job back to pending and increments its
	// retry count.
	RequeueJob(ctx context.Context, jobID uuid.UUID) error
	FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error
}

// EventEmitter defines the interface for emitting job events.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.JobEvent) error
}

// MetricsSink records reconciler metrics. Non-blocking, fire-and-forget.
type MetricsSink interface {
	StaleJobsUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a job is considered stale.
	// Default: 15 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of stale jobs per kind per cycle.
	// Default: 50.
	BatchSize int

	// MaxRetries is how many requeues a job gets before it is failed.
	// Default: 3.
	MaxRetries int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		Threshold:  15 * time.Minute,
		BatchSize:  50,
		MaxRetries: 3,
	}
}

// Reconciler recovers stale jobs.
type Reconciler struct {
	config  Config
	store   Store
	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store, emitter EventEmitter) *Reconciler {
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d, max_retries=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize, r.config.MaxRetries)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation pass.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	olderThan := now.Add(-r.config.Threshold)

	stalePending := r.reemitOrphanedPending(ctx, olderThan, now)
	staleActive := r.recoverStaleActive(ctx, olderThan, now)

	if r.metrics != nil {
		r.metrics.StaleJobsUpdate(stalePending + staleActive)
	}
	if stalePending > 0 || staleActive > 0 {
		log.Printf("reconciler: cycle complete (pending=%d, active=%d)", stalePending, staleActive)
	}
}

// reemitOrphanedPending re-emits events for pending jobs that were never
// picked up. Returns the number of stale pending jobs found.
func (r *Reconciler) reemitOrphanedPending(ctx context.Context, olderThan, now time.Time) int {
	jobs, err := r.store.GetStalePendingJobs(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort. Will retry next interval.
		log.Printf("reconciler: failed to fetch stale pending jobs: %v", err)
		return 0
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return len(jobs)
		}
		event := domain.JobEvent{
			JobID:     job.ID,
			Format:    job.Format,
			EmittedAt: now,
		}
		if err := r.emitter.Emit(ctx, event); err != nil {
			// Emit failed (buffer full, context cancelled).
			// Log and continue - will retry next cycle.
			log.Printf("reconciler: failed to re-emit job=%s: %v", job.ID, err)
			continue
		}
		log.Printf("reconciler: re-emitted job=%s format=%s (age=%s)",
			job.ID, job.Format, now.Sub(job.CreatedAt).Round(time.Second))
	}
	return len(jobs)
}

// recoverStaleActive requeues jobs stuck in an active stage, failing those
// out of retries. Returns the number of stale active jobs found.
func (r *Reconciler) recoverStaleActive(ctx context.Context, olderThan, now time.Time) int {
	jobs, err := r.store.GetStaleActiveJobs(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		log.Printf("reconciler: failed to fetch stale active jobs: %v", err)
		return 0
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return len(jobs)
		}

		if job.RetryCount >= r.config.MaxRetries {
			msg := "retries exhausted after pipeline stall"
			if err := r.store.FailJob(ctx, job.ID, msg); err != nil {
				log.Printf("reconciler: failed to fail job=%s: %v", job.ID, err)
				continue
			}
			log.Printf("reconciler: job=%s failed (status=%s, retries=%d)",
				job.ID, job.Status, job.RetryCount)
			continue
		}

		if err := r.store.RequeueJob(ctx, job.ID); err != nil {
			log.Printf("reconciler: failed to requeue job=%s: %v", job.ID, err)
			continue
		}
		log.Printf("reconciler: requeued job=%s (was=%s, retry=%d, stale=%s)",
			job.ID, job.Status, job.RetryCount+1, now.Sub(job.UpdatedAt).Round(time.Second))

		event := domain.JobEvent{
			JobID:     job.ID,
			Format:    job.Format,
			EmittedAt: now,
		}
		if err := r.emitter.Emit(ctx, event); err != nil {
			// The stale pending scan catches the job next cycle.
			log.Printf("reconciler: failed to emit requeued job=%s: %v", job.ID, err)
		}
	}
	return len(jobs)
}
