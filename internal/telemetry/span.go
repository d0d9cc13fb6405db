// Package telemetry resolves spec.md §9's "periodic tracing span" open
// question with OpenTelemetry, the way nevindra-oasis wires its own
// tracer around the global otel.Tracer (observer/tracer.go). The Rust
// source's PeriodicSpan (original_source/src/execution/mod.rs) closes and
// reopens a tracing::Span on a fixed cadence to bound trace chunk size;
// fluxrun's PeriodicSpan does the same with an otel span, but ties the
// cadence to the dataflow's own epoch interval (SPEC_FULL.md §6) instead
// of an unrelated constant.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fluxrun/fluxrun"

// PeriodicSpan is a span that is closed and reopened on a wall-clock
// cadence, so that a long-running worker doesn't accumulate one
// unbounded trace for its entire lifetime.
type PeriodicSpan struct {
	tracer   trace.Tracer
	name     string
	length   time.Duration
	lastOpen time.Time
	counter  uint64
	span     trace.Span
	baseCtx  context.Context
}

// SpanCadence computes the periodic-span reopen interval from the
// dataflow's epoch interval, per SPEC_FULL.md §6: 10 epochs, floored at
// 30s and capped at 10 minutes.
func SpanCadence(epochInterval time.Duration) time.Duration {
	d := 10 * epochInterval
	if d < 30*time.Second {
		d = 30 * time.Second
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

// NewPeriodicSpan opens the first span under name and returns a handle
// whose Context() changes identity every time Update reopens it.
func NewPeriodicSpan(ctx context.Context, name string, length time.Duration) *PeriodicSpan {
	p := &PeriodicSpan{
		tracer:  otel.Tracer(tracerName),
		name:    name,
		length:  length,
		baseCtx: ctx,
	}
	p.open()
	return p
}

func (p *PeriodicSpan) open() {
	spanCtx, span := p.tracer.Start(p.baseCtx, p.name,
		trace.WithAttributes(
			attribute.Int64("counter", int64(p.counter)),
			attribute.String("chunk_id", uuid.NewString()),
		))
	p.span = span
	p.baseCtx = spanCtx
	p.lastOpen = time.Now()
}

// Update closes and reopens the span if length has elapsed since it was
// last (re)opened. Call it frequently enough that trace chunks stay
// bounded; the worker runner calls it once per frontier advance (each
// epoch close).
func (p *PeriodicSpan) Update() {
	if time.Since(p.lastOpen) <= p.length {
		return
	}
	p.span.End()
	p.counter++
	p.open()
}

// Context returns the context carrying the currently-open span.
func (p *PeriodicSpan) Context() context.Context { return p.baseCtx }

// Close ends the currently-open span. Call once on worker shutdown.
func (p *PeriodicSpan) Close() { p.span.End() }
