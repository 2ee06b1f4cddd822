package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RobinTMiller/dt-sub002/device"
)

// tracerName is the instrumentation scope name for engine tracing.
const tracerName = "github.com/RobinTMiller/dt-sub002"

// Tracing returns middleware that wraps each elemental operation in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, info OpInfo, next Handler) device.Result {
		ctx, span := tracer.Start(ctx, "dt.op",
			trace.WithAttributes(
				attribute.String("dt.device", info.Device),
				attribute.Int("dt.thread", info.Thread),
				attribute.String("dt.op", info.Op.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		res := next(ctx)
		if res.Failed() {
			if res.Err != nil {
				span.RecordError(res.Err)
				span.SetStatus(codes.Error, res.Err.Error())
			} else {
				span.SetStatus(codes.Error, res.Status.String())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return res
	}
}
