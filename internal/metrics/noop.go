package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) CycleCompleted(duration time.Duration, jobsScheduled int, err error) {}
func (n *NoopSink) SlotSkipped(reason string)                                           {}
func (n *NoopSink) SpendRecorded(amount float64)                                        {}
func (n *NoopSink) DailySpendUpdate(spend float64)                                      {}
func (n *NoopSink) OptimizerRunCompleted(outcome string)                                {}
func (n *NoopSink) WeightUpdated(format string, weight float64)                         {}
func (n *NoopSink) StageCompleted(stage string, duration time.Duration, err error)      {}
func (n *NoopSink) PipelineOutcome(outcome string)                                      {}
func (n *NoopSink) RetryAttempt(retryable bool)                                         {}
func (n *NoopSink) JobsInFlightIncr()                                                   {}
func (n *NoopSink) JobsInFlightDecr()                                                   {}
func (n *NoopSink) BufferSizeUpdate(size int)                                           {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                      {}
func (n *NoopSink) EmitError()                                                          {}
func (n *NoopSink) StaleJobsUpdate(count int)                                           {}
