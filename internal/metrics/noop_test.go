package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Scheduler metrics
	s.CycleCompleted(100*time.Millisecond, 3, nil)
	s.CycleCompleted(100*time.Millisecond, 0, errors.New("db error"))
	s.SlotSkipped("budget_exhausted")
	s.SpendRecorded(0.45)
	s.DailySpendUpdate(1.35)

	// Optimizer metrics
	s.OptimizerRunCompleted("optimized")
	s.WeightUpdated("talking_object", 1.2)

	// Pipeline metrics
	s.StageCompleted(StageGenerate, time.Second, nil)
	s.PipelineOutcome(OutcomePublished)
	s.PipelineOutcome(OutcomeFailed)
	s.PipelineOutcome(OutcomeRejected)
	s.PipelineOutcome(OutcomeAbandoned)
	s.RetryAttempt(true)
	s.RetryAttempt(false)
	s.JobsInFlightIncr()
	s.JobsInFlightDecr()

	// EventBus metrics
	s.BufferSizeUpdate(10)
	s.BufferCapacitySet(100)
	s.EmitError()

	// Reconciler metrics
	s.StaleJobsUpdate(3)
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
