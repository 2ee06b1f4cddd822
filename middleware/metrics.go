package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/RobinTMiller/dt-sub002/device"
)

// meterName is the instrumentation scope name for engine metrics.
const meterName = "github.com/RobinTMiller/dt-sub002"

// Metrics returns middleware that records per-operation metrics using
// the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - dt.op.duration (Float64Histogram): operation time in seconds,
//     with attributes: device, op, status
//   - dt.op.executions (Int64Counter): total operations,
//     with attributes: device, op, status
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"dt.op.duration",
		metric.WithDescription("Duration of elemental device operations in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"dt.op.executions",
		metric.WithDescription("Total number of elemental device operations"),
		metric.WithUnit("{operation}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, info OpInfo, next Handler) device.Result {
		start := time.Now()
		res := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("device", info.Device),
			attribute.String("op", info.Op.String()),
			attribute.String("status", res.Status.String()),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return res
	}
}
