package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	cyclesTotal        prometheus.Counter
	cycleErrorsTotal   prometheus.Counter
	jobsScheduledTotal prometheus.Counter
	cycleDuration      prometheus.Histogram
	slotsSkippedTotal  *prometheus.CounterVec
	spendTotal         prometheus.Counter
	dailySpend         prometheus.Gauge

	// Optimizer metrics
	optimizerRunsTotal *prometheus.CounterVec
	formatWeight       *prometheus.GaugeVec

	// Pipeline metrics
	stageDuration      prometheus.Histogram
	stageErrorsTotal   *prometheus.CounterVec
	outcomesTotal      *prometheus.CounterVec
	retryAttemptsTotal *prometheus.CounterVec
	jobsInFlight       prometheus.Gauge

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Reconciler metrics
	staleJobs prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
// Metrics that fail to register will be replaced with no-op collectors.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initOptimizerMetrics(reg)
	s.initPipelineMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initReconcilerMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortfab_scheduler_cycles_total",
		Help: "Total number of scheduling cycles completed.",
	})
	s.cycleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortfab_scheduler_cycle_errors_total",
		Help: "Total number of scheduling cycle errors.",
	})
	s.jobsScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortfab_scheduler_jobs_scheduled_total",
		Help: "Total number of video jobs created by the scheduler.",
	})
	s.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shortfab_scheduler_cycle_duration_seconds",
		Help:    "Duration of each scheduling cycle in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.slotsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shortfab_scheduler_slots_skipped_total",
		Help: "Total number of scheduling slots skipped, by reason.",
	}, []string{"reason"})
	s.spendTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortfab_budget_spend_eur_total",
		Help: "Total estimated spend committed by the scheduler in EUR.",
	})
	s.dailySpend = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shortfab_budget_daily_spend_eur",
		Help: "Spend recorded for the current UTC day in EUR.",
	})

	s.register(reg, s.cyclesTotal, "shortfab_scheduler_cycles_total")
	s.register(reg, s.cycleErrorsTotal, "shortfab_scheduler_cycle_errors_total")
	s.register(reg, s.jobsScheduledTotal, "shortfab_scheduler_jobs_scheduled_total")
	s.register(reg, s.cycleDuration, "shortfab_scheduler_cycle_duration_seconds")
	s.register(reg, s.slotsSkippedTotal, "shortfab_scheduler_slots_skipped_total")
	s.register(reg, s.spendTotal, "shortfab_budget_spend_eur_total")
	s.register(reg, s.dailySpend, "shortfab_budget_daily_spend_eur")
}

func (s *PrometheusSink) initOptimizerMetrics(reg prometheus.Registerer) {
	s.optimizerRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shortfab_optimizer_runs_total",
		Help: "Total number of optimizer runs, by outcome.",
	}, []string{"outcome"})
	s.formatWeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shortfab_format_weight",
		Help: "Current scheduling weight per video format.",
	}, []string{"format"})

	s.register(reg, s.optimizerRunsTotal, "shortfab_optimizer_runs_total")
	s.register(reg, s.formatWeight, "shortfab_format_weight")
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.stageDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shortfab_pipeline_stage_duration_seconds",
		Help:    "Duration of each pipeline stage in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})
	s.stageErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shortfab_pipeline_stage_errors_total",
		Help: "Total number of pipeline stage errors, by stage.",
	}, []string{"stage"})
	s.outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shortfab_pipeline_outcomes_total",
		Help: "Total number of final pipeline outcomes per job.",
	}, []string{"outcome"})
	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shortfab_pipeline_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})
	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shortfab_pipeline_jobs_in_flight",
		Help: "Number of jobs currently being processed by the pipeline.",
	})

	s.register(reg, s.stageDuration, "shortfab_pipeline_stage_duration_seconds")
	s.register(reg, s.stageErrorsTotal, "shortfab_pipeline_stage_errors_total")
	s.register(reg, s.outcomesTotal, "shortfab_pipeline_outcomes_total")
	s.register(reg, s.retryAttemptsTotal, "shortfab_pipeline_retry_attempts_total")
	s.register(reg, s.jobsInFlight, "shortfab_pipeline_jobs_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shortfab_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shortfab_eventbus_buffer_capacity",
		Help: "Configured capacity of the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shortfab_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "shortfab_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "shortfab_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "shortfab_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.staleJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shortfab_reconciler_stale_jobs",
		Help: "Number of stale in-flight jobs found in the last reconcile pass.",
	})

	s.register(reg, s.staleJobs, "shortfab_reconciler_stale_jobs")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) CycleCompleted(duration time.Duration, jobsScheduled int, err error) {
	s.cyclesTotal.Inc()
	s.cycleDuration.Observe(duration.Seconds())
	s.jobsScheduledTotal.Add(float64(jobsScheduled))
	if err != nil {
		s.cycleErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) SlotSkipped(reason string) {
	s.slotsSkippedTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) SpendRecorded(amount float64) {
	s.spendTotal.Add(amount)
}

func (s *PrometheusSink) DailySpendUpdate(spend float64) {
	s.dailySpend.Set(spend)
}

// Optimizer metrics implementation

func (s *PrometheusSink) OptimizerRunCompleted(outcome string) {
	s.optimizerRunsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) WeightUpdated(format string, weight float64) {
	s.formatWeight.WithLabelValues(format).Set(weight)
}

// Pipeline metrics implementation

func (s *PrometheusSink) StageCompleted(stage string, duration time.Duration, err error) {
	s.stageDuration.Observe(duration.Seconds())
	if err != nil {
		s.stageErrorsTotal.WithLabelValues(stage).Inc()
	}
}

func (s *PrometheusSink) PipelineOutcome(outcome string) {
	s.outcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	label := "false"
	if retryable {
		label = "true"
	}
	s.retryAttemptsTotal.WithLabelValues(label).Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Reconciler metrics implementation

func (s *PrometheusSink) StaleJobsUpdate(count int) {
	s.staleJobs.Set(float64(count))
}
