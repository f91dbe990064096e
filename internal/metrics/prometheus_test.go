package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					if m.GetCounter() != nil {
						return m.GetCounter().GetValue()
					}
					if m.GetGauge() != nil {
						return m.GetGauge().GetValue()
					}
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_CycleCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.CycleCompleted(100*time.Millisecond, 3, nil)
	sink.CycleCompleted(100*time.Millisecond, 0, errors.New("db error"))

	if val := getCounterValue(t, reg, "shortfab_scheduler_cycles_total"); val != 2 {
		t.Errorf("cycles_total = %v, want 2", val)
	}
	if val := getCounterValue(t, reg, "shortfab_scheduler_jobs_scheduled_total"); val != 3 {
		t.Errorf("jobs_scheduled_total = %v, want 3", val)
	}
	if val := getCounterValue(t, reg, "shortfab_scheduler_cycle_errors_total"); val != 1 {
		t.Errorf("cycle_errors_total = %v, want 1", val)
	}
}

func TestPrometheusSink_SlotSkippedLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SlotSkipped("budget_exhausted")
	sink.SlotSkipped("budget_exhausted")
	sink.SlotSkipped("cap_reached")

	budget := getVecValue(t, reg, "shortfab_scheduler_slots_skipped_total",
		map[string]string{"reason": "budget_exhausted"})
	if budget != 2 {
		t.Errorf("reason=budget_exhausted = %v, want 2", budget)
	}
	capped := getVecValue(t, reg, "shortfab_scheduler_slots_skipped_total",
		map[string]string{"reason": "cap_reached"})
	if capped != 1 {
		t.Errorf("reason=cap_reached = %v, want 1", capped)
	}
}

func TestPrometheusSink_SpendMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SpendRecorded(0.45)
	sink.SpendRecorded(0.45)
	sink.DailySpendUpdate(0.90)

	if val := getCounterValue(t, reg, "shortfab_budget_spend_eur_total"); val != 0.90 {
		t.Errorf("spend_eur_total = %v, want 0.90", val)
	}
	if val := getGaugeValue(t, reg, "shortfab_budget_daily_spend_eur"); val != 0.90 {
		t.Errorf("daily_spend_eur = %v, want 0.90", val)
	}
}

func TestPrometheusSink_OptimizerMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.OptimizerRunCompleted("optimized")
	sink.OptimizerRunCompleted("insufficient_data")
	sink.OptimizerRunCompleted("optimized")
	sink.WeightUpdated("talking_object", 1.286)

	opt := getVecValue(t, reg, "shortfab_optimizer_runs_total",
		map[string]string{"outcome": "optimized"})
	if opt != 2 {
		t.Errorf("outcome=optimized = %v, want 2", opt)
	}
	weight := getVecValue(t, reg, "shortfab_format_weight",
		map[string]string{"format": "talking_object"})
	if weight != 1.286 {
		t.Errorf("format_weight{talking_object} = %v, want 1.286", weight)
	}
}

func TestPrometheusSink_PipelineMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.StageCompleted(StageGenerate, time.Second, nil)
	sink.StageCompleted(StageRender, time.Second, errors.New("render timeout"))
	sink.PipelineOutcome(OutcomePublished)
	sink.RetryAttempt(true)
	sink.JobsInFlightIncr()
	sink.JobsInFlightIncr()
	sink.JobsInFlightDecr()

	renderErrs := getVecValue(t, reg, "shortfab_pipeline_stage_errors_total",
		map[string]string{"stage": "render"})
	if renderErrs != 1 {
		t.Errorf("stage=render errors = %v, want 1", renderErrs)
	}
	published := getVecValue(t, reg, "shortfab_pipeline_outcomes_total",
		map[string]string{"outcome": "published"})
	if published != 1 {
		t.Errorf("outcome=published = %v, want 1", published)
	}
	if val := getGaugeValue(t, reg, "shortfab_pipeline_jobs_in_flight"); val != 1 {
		t.Errorf("jobs_in_flight = %v, want 1", val)
	}
}

func TestPrometheusSink_BufferMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BufferCapacitySet(100)
	sink.BufferSizeUpdate(42)
	sink.EmitError()

	if val := getGaugeValue(t, reg, "shortfab_eventbus_buffer_capacity"); val != 100 {
		t.Errorf("buffer_capacity = %v, want 100", val)
	}
	if val := getGaugeValue(t, reg, "shortfab_eventbus_buffer_size"); val != 42 {
		t.Errorf("buffer_size = %v, want 42", val)
	}
	if val := getCounterValue(t, reg, "shortfab_eventbus_emit_errors_total"); val != 1 {
		t.Errorf("emit_errors_total = %v, want 1", val)
	}
}

func TestPrometheusSink_StaleJobs(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.StaleJobsUpdate(4)
	if val := getGaugeValue(t, reg, "shortfab_reconciler_stale_jobs"); val != 4 {
		t.Errorf("stale_jobs = %v, want 4", val)
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	// Registering metrics twice with the same registry should not panic.
	// The second registration will fail, but should be handled gracefully.
	reg := prometheus.NewRegistry()

	sink1 := NewPrometheusSink(reg)
	if sink1 == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}

	sink2 := NewPrometheusSink(reg)
	if sink2 == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
