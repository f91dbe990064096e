package main

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/shortfab/shortfab/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg *config.Config) string {
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)

	logConfigWarnings(cfg)
	return buf.String()
}

func TestLogConfigWarnings_NoReconciler(t *testing.T) {
	cfg := &config.Config{
		ReconcileEnabled: false,
		MetricsEnabled:   true,
		LeaderEnabled:    true,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: RECONCILE_ENABLED=false") {
		t.Error("expected no-reconciler P0 warning, got:", output)
	}
	if strings.Contains(output, "WARNING [P1]") {
		t.Error("did not expect metrics warning when metrics enabled, got:", output)
	}
	if strings.Contains(output, "LEADER_ELECTION_ENABLED=false") {
		t.Error("did not expect leader INFO when leader election enabled, got:", output)
	}
}

func TestLogConfigWarnings_MetricsDisabled(t *testing.T) {
	cfg := &config.Config{
		ReconcileEnabled: true,
		MetricsEnabled:   false,
		LeaderEnabled:    true,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: METRICS_ENABLED=false") {
		t.Error("expected metrics P1 warning, got:", output)
	}
	if strings.Contains(output, "WARNING [P0]") {
		t.Error("did not expect P0 warning with reconciler enabled, got:", output)
	}
}

func TestLogConfigWarnings_NoLeaderElection(t *testing.T) {
	cfg := &config.Config{
		ReconcileEnabled: true,
		MetricsEnabled:   true,
		LeaderEnabled:    false,
	}
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: LEADER_ELECTION_ENABLED=false") {
		t.Error("expected leader election INFO, got:", output)
	}
}

func TestLogConfigWarnings_AllEnabled(t *testing.T) {
	cfg := &config.Config{
		ReconcileEnabled: true,
		MetricsEnabled:   true,
		LeaderEnabled:    true,
	}
	output := captureLogOutput(cfg)

	if strings.Contains(output, "WARNING") || strings.Contains(output, "INFO") {
		t.Error("did not expect any warnings, got:", output)
	}
}

func TestLogConfigWarnings_AllWarnings(t *testing.T) {
	cfg := &config.Config{
		ReconcileEnabled: false,
		MetricsEnabled:   false,
		LeaderEnabled:    false,
	}
	output := captureLogOutput(cfg)

	expected := []string{
		"WARNING [P0]: RECONCILE_ENABLED=false",
		"WARNING [P1]: METRICS_ENABLED=false",
		"INFO: LEADER_ELECTION_ENABLED=false",
	}
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}
