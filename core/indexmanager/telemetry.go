package indexmanager

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// startOp begins the telemetry recording for a store operation.
func (m *StoreManager) startOp(ctx context.Context, op, store string) (context.Context, trace.Span, time.Time) {
	startTime := time.Now()

	m.metrics.OpsStartedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("store.op", op),
	))

	ctx, span := m.tracer.Start(ctx, "StoreManager."+op, trace.WithAttributes(
		attribute.String("store.op", op),
		attribute.String("store.name", store),
	))
	return ctx, span, startTime
}

// endOp completes the telemetry recording for a store operation.
func (m *StoreManager) endOp(ctx context.Context, span trace.Span, startTime time.Time, op, store string, err error) {
	latency := time.Since(startTime).Milliseconds()

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	} else {
		span.SetStatus(otelcodes.Ok, "Success")
	}
	span.End()

	attrs := metric.WithAttributes(
		attribute.String("store.op", op),
		attribute.String("store.status", status),
	)
	m.metrics.OpsHandledCounter.Add(ctx, 1, attrs)
	m.metrics.OpLatencyHistogram.Record(ctx, latency, attrs)
}
