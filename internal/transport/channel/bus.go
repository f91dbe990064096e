// Package channel provides the in-memory event bus between the scheduler
// and the pipeline.
package channel

import (
	"context"
	"errors"

	"github.com/shortfab/shortfab/internal/domain"
)

// ErrBusFull is returned when the buffer is saturated. Callers treat this
// as non-fatal: the reconciler requeues jobs whose events were dropped.
var ErrBusFull = errors.New("event bus buffer full")

// MetricsSink records bus metrics. Non-blocking, fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

type EventBus struct {
	ch      chan domain.JobEvent
	metrics MetricsSink // optional, nil = disabled
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch: make(chan domain.JobEvent, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues the event without blocking. A full buffer returns
// ErrBusFull rather than stalling the scheduling cycle.
func (b *EventBus) Emit(ctx context.Context, event domain.JobEvent) error {
	select {
	case b.ch <- event:
		b.updateSize()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBusFull
	}
}

func (b *EventBus) Channel() <-chan domain.JobEvent {
	return b.ch
}

func (b *EventBus) updateSize() {
	if b.metrics != nil {
		b.metrics.BufferSizeUpdate(len(b.ch))
	}
}
