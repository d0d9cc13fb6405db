package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fluxrun/fluxrun"

// WorkerMetrics replaces the teacher's internal (and, being unexported
// from bigslice, unavailable to us) stats.Map with OpenTelemetry
// instruments: a current-epoch gauge, a frontier-lag gauge, and an
// in-flight-records counter, enough to drive the introspection server's
// /health payload and an external OTel collector.
type WorkerMetrics struct {
	epoch       metric.Int64Gauge
	frontierLag metric.Int64Gauge
	inFlight    metric.Int64UpDownCounter
	lateRecords metric.Int64Counter
}

// NewWorkerMetrics registers this worker's instruments against the
// global MeterProvider.
func NewWorkerMetrics() (*WorkerMetrics, error) {
	meter := otel.Meter(meterName)
	epoch, err := meter.Int64Gauge("fluxrun.worker.epoch",
		metric.WithDescription("current epoch this worker is producing records in"))
	if err != nil {
		return nil, err
	}
	lag, err := meter.Int64Gauge("fluxrun.worker.frontier_lag",
		metric.WithDescription("epochs between the current epoch and the output frontier"))
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("fluxrun.worker.records_in_flight",
		metric.WithDescription("records admitted but not yet acknowledged by an output"))
	if err != nil {
		return nil, err
	}
	late, err := meter.Int64Counter("fluxrun.worker.late_records",
		metric.WithDescription("records a windowed operator judged too late for any open window"))
	if err != nil {
		return nil, err
	}
	return &WorkerMetrics{epoch: epoch, frontierLag: lag, inFlight: inFlight, lateRecords: late}, nil
}

func (m *WorkerMetrics) SetEpoch(ctx context.Context, epoch int64) { m.epoch.Record(ctx, epoch) }

func (m *WorkerMetrics) SetFrontierLag(ctx context.Context, lag int64) {
	m.frontierLag.Record(ctx, lag)
}

func (m *WorkerMetrics) RecordInFlight(ctx context.Context, delta int64) {
	m.inFlight.Add(ctx, delta)
}

func (m *WorkerMetrics) RecordLate(ctx context.Context, n int64) {
	m.lateRecords.Add(ctx, n)
}
