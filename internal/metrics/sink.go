package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	CycleCompleted(duration time.Duration, jobsScheduled int, err error)
	SlotSkipped(reason string)
	SpendRecorded(amount float64)
	DailySpendUpdate(spend float64)

	// Optimizer metrics
	OptimizerRunCompleted(outcome string)
	WeightUpdated(format string, weight float64)

	// Pipeline metrics
	StageCompleted(stage string, duration time.Duration, err error)
	PipelineOutcome(outcome string)
	RetryAttempt(retryable bool)
	JobsInFlightIncr()
	JobsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Reconciler metrics
	StaleJobsUpdate(count int)
}

// Outcome constants for PipelineOutcome metric.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeAbandoned = "abandoned"
)

// Stage constants for StageCompleted metric.
const (
	StageGenerate = "generate"
	StageSafety   = "safety"
	StageRender   = "render"
	StageUpload   = "upload"
)
