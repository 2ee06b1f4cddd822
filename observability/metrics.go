// Package observability ships the stock OTel metrics extension. It
// subscribes to engine lifecycle hooks and maps them onto counters and
// histograms; with no MeterProvider configured the instruments are
// noops and the extension costs nothing.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Metrics)(nil)
	_ ext.PassCompleted    = (*Metrics)(nil)
	_ ext.ThreadRetrying   = (*Metrics)(nil)
	_ ext.ThreadNoProgress = (*Metrics)(nil)
	_ ext.ThreadHung       = (*Metrics)(nil)
	_ ext.ThreadFinished   = (*Metrics)(nil)
	_ ext.JobFinished      = (*Metrics)(nil)
)

// meterName is the instrumentation scope name for engine metrics.
const meterName = "github.com/RobinTMiller/dt-sub002"

// Metrics is an extension recording engine lifecycle metrics.
//
// Instruments:
//   - dt.pass.duration (Float64Histogram): pass time in seconds, by device
//   - dt.bytes.transferred (Int64Counter): bytes moved per finished thread
//   - dt.errors (Int64Counter): device errors per finished thread
//   - dt.retries (Int64Counter): transient-failure retries, by operation
//   - dt.threads.no_progress (Int64Counter): no-progress detections
//   - dt.threads.hung (Int64Counter): forced thread cancellations
//   - dt.jobs.completed (Int64Counter): finished jobs, by status
type Metrics struct {
	passDuration metric.Float64Histogram
	bytesMoved   metric.Int64Counter
	errors       metric.Int64Counter
	retries      metric.Int64Counter
	noProgress   metric.Int64Counter
	hangs        metric.Int64Counter
	jobsDone     metric.Int64Counter
}

// NewMetrics builds the extension against the global MeterProvider.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter builds the extension against the provided meter,
// for injecting a specific MeterProvider in tests.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{}

	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.passDuration, _ = meter.Float64Histogram(
		"dt.pass.duration",
		metric.WithDescription("Duration of completed passes in seconds"),
		metric.WithUnit("s"),
	)
	m.bytesMoved, _ = meter.Int64Counter(
		"dt.bytes.transferred",
		metric.WithDescription("Bytes transferred by finished threads"),
		metric.WithUnit("By"),
	)
	m.errors, _ = meter.Int64Counter(
		"dt.errors",
		metric.WithDescription("Device errors accumulated by finished threads"),
		metric.WithUnit("{error}"),
	)
	m.retries, _ = meter.Int64Counter(
		"dt.retries",
		metric.WithDescription("Retries of transiently failed device operations"),
		metric.WithUnit("{retry}"),
	)
	m.noProgress, _ = meter.Int64Counter(
		"dt.threads.no_progress",
		metric.WithDescription("No-progress detections by the watchdog"),
		metric.WithUnit("{detection}"),
	)
	m.hangs, _ = meter.Int64Counter(
		"dt.threads.hung",
		metric.WithDescription("Threads forcibly cancelled after ignoring a stop request"),
		metric.WithUnit("{thread}"),
	)
	m.jobsDone, _ = meter.Int64Counter(
		"dt.jobs.completed",
		metric.WithDescription("Jobs that reached the finished state"),
		metric.WithUnit("{job}"),
	)
	return m
}

// Name implements ext.Extension.
func (m *Metrics) Name() string { return "otel-metrics" }

// OnPassCompleted implements ext.PassCompleted.
func (m *Metrics) OnPassCompleted(ctx context.Context, c *device.Context, _ int64, elapsed time.Duration) error {
	m.passDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("device", c.Name),
	))
	return nil
}

// OnThreadRetrying implements ext.ThreadRetrying.
func (m *Metrics) OnThreadRetrying(ctx context.Context, c *device.Context, op device.Op, _ int) error {
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device", c.Name),
		attribute.String("operation", op.String()),
	))
	return nil
}

// OnThreadNoProgress implements ext.ThreadNoProgress.
func (m *Metrics) OnThreadNoProgress(ctx context.Context, c *device.Context, _ time.Duration) error {
	m.noProgress.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device", c.Name),
	))
	return nil
}

// OnThreadHung implements ext.ThreadHung.
func (m *Metrics) OnThreadHung(ctx context.Context, c *device.Context, _ time.Duration) error {
	m.hangs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device", c.Name),
	))
	return nil
}

// OnThreadFinished implements ext.ThreadFinished.
func (m *Metrics) OnThreadFinished(ctx context.Context, c *device.Context, status dt.Status) error {
	attrs := metric.WithAttributes(
		attribute.String("device", c.Name),
		attribute.String("status", status.String()),
	)
	m.bytesMoved.Add(ctx, c.Bytes.Load(), attrs)
	if n := c.Errors.Load(); n > 0 {
		m.errors.Add(ctx, n, attrs)
	}
	return nil
}

// OnJobFinished implements ext.JobFinished.
func (m *Metrics) OnJobFinished(ctx context.Context, jobID int64, _ string, status dt.Status) error {
	m.jobsDone.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("job", jobID),
		attribute.String("status", status.String()),
	))
	return nil
}
