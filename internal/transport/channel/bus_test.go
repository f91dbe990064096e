package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shortfab/shortfab/internal/domain"
)

type mockMetrics struct {
	sizes      []int
	capacity   int
	emitErrors int
}

func (m *mockMetrics) BufferSizeUpdate(size int)      { m.sizes = append(m.sizes, size) }
func (m *mockMetrics) BufferCapacitySet(capacity int) { m.capacity = capacity }
func (m *mockMetrics) EmitError()                     { m.emitErrors++ }

func testEvent() domain.JobEvent {
	return domain.JobEvent{
		JobID:     uuid.New(),
		Format:    domain.FormatTalkingObject,
		EmittedAt: time.Now().UTC(),
	}
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	bus := NewEventBus(4)
	ev := testEvent()

	if err := bus.Emit(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.JobID != ev.JobID {
			t.Errorf("received job %s, want %s", got.JobID, ev.JobID)
		}
	default:
		t.Fatal("expected event on channel")
	}
}

func TestEventBus_FullBufferReturnsError(t *testing.T) {
	metrics := &mockMetrics{}
	bus := NewEventBus(1, WithMetrics(metrics))

	if err := bus.Emit(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error on first emit: %v", err)
	}
	err := bus.Emit(context.Background(), testEvent())
	if !errors.Is(err, ErrBusFull) {
		t.Fatalf("error = %v, want ErrBusFull", err)
	}
	if metrics.emitErrors != 1 {
		t.Errorf("emitErrors = %d, want 1", metrics.emitErrors)
	}
}

func TestEventBus_CanceledContext(t *testing.T) {
	bus := NewEventBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A canceled context may still succeed if the buffer has room; fill it
	// first so the ctx branch is the only viable one.
	if err := bus.Emit(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := bus.Emit(ctx, testEvent())
	if err == nil {
		t.Fatal("expected error from canceled context on full buffer")
	}
}

func TestEventBus_MetricsRecorded(t *testing.T) {
	metrics := &mockMetrics{}
	bus := NewEventBus(8, WithMetrics(metrics))

	if metrics.capacity != 8 {
		t.Errorf("capacity = %d, want 8", metrics.capacity)
	}

	for i := 0; i < 3; i++ {
		if err := bus.Emit(context.Background(), testEvent()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(metrics.sizes) != 3 {
		t.Fatalf("recorded %d size updates, want 3", len(metrics.sizes))
	}
	if got := metrics.sizes[2]; got != 3 {
		t.Errorf("last buffer size = %d, want 3", got)
	}
}
