package cron

import (
	"testing"
	"time"
)

func TestParse_DailySchedule(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("0 3 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}
}

func TestParse_BeforeFireTimeSameDay(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("0 3 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}
}

func TestParse_Invalid(t *testing.T) {
	p := NewParser()
	for _, expr := range []string{"", "not cron", "99 99 * * *", "* * * * * *"} {
		if _, err := p.Parse(expr); err == nil {
			t.Errorf("expected error for %q", expr)
		}
	}
}
