// Package retry implements the retryable operation executor: it issues
// one structured device command, classifies failure into transient or
// fatal, and retries transient failures with a bounded delay and
// attempt limit.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/RobinTMiller/dt-sub002/backoff"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/ext"
)

// Operation issues one device command attempt and reports its outcome.
// The executor calls it afresh per attempt; implementations must not
// carry state between attempts.
type Operation func(ctx context.Context) device.Result

// Executor retries transient device-command failures. One executor
// serves one worker thread; it is not shared.
type Executor struct {
	strategy backoff.Strategy
	logger   *slog.Logger
	hooks    *ext.Registry

	// terminating reports whether the process is globally shutting
	// down. Retries are abandoned once it returns true.
	terminating func() bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithStrategy sets the inter-attempt delay strategy. The default is
// backoff.DefaultStrategy (constant delay), overridden per context by
// the context's configured retry delay.
func WithStrategy(s backoff.Strategy) Option {
	return func(e *Executor) { e.strategy = s }
}

// WithHooks notifies lifecycle extensions before each retry.
func WithHooks(r *ext.Registry) Option {
	return func(e *Executor) { e.hooks = r }
}

// WithTerminating sets the process-teardown probe.
func WithTerminating(fn func() bool) Option {
	return func(e *Executor) { e.terminating = fn }
}

// NewExecutor creates an executor logging through the given logger.
func NewExecutor(logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		strategy:    nil,
		logger:      logger,
		terminating: func() bool { return false },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do executes op, retrying transient failures against dctx's retry
// policy. The total number of attempts never exceeds the configured
// limit plus one. Each attempt starts from freshly cleared status and
// sense state; nothing from a prior attempt bleeds into the next.
//
// A failure is retriable iff the process is not globally terminating,
// the owning thread is not being torn down, the attempt counter has
// not reached the limit, and the sense classification names a
// known-transient condition. On a non-retriable failure or an
// exhausted limit, the structured sense data and the transport error
// (both, when both are present) are reported and the final result
// returned.
func (e *Executor) Do(ctx context.Context, dctx *device.Context, op device.Op, fn Operation) device.Result {
	delay := dctx.Retry.Delay
	if delay <= 0 {
		delay = backoff.DefaultRetryDelay
	}
	strategy := e.strategy
	if strategy == nil {
		strategy = backoff.NewConstant(delay)
	}

	var res device.Result
	for attempt := 0; ; attempt++ {
		// Fresh per-attempt state: the operation returns a new Result
		// each call, so stale sense data never survives an attempt.
		res = fn(ctx)
		if !res.Failed() {
			return res
		}

		if !e.retriable(dctx, attempt, res) {
			break
		}

		e.logger.Warn("retrying device operation",
			slog.String("device", dctx.Name),
			slog.Int("thread", dctx.Thread),
			slog.String("op", op.String()),
			slog.Int("attempt", attempt+1),
			slog.Int("retry_limit", dctx.Retry.Limit),
			slog.String("sense", res.Sense.String()),
		)
		if e.hooks != nil {
			e.hooks.EmitThreadRetrying(ctx, dctx, op, attempt+1)
		}

		select {
		case <-time.After(strategy.Delay(attempt + 1)):
		case <-ctx.Done():
			return res
		}
	}

	e.reportFailure(dctx, op, res)
	return res
}

// retriable applies the full retry gate for one failed attempt.
func (e *Executor) retriable(dctx *device.Context, attempt int, res device.Result) bool {
	if e.terminating() {
		return false
	}
	if dctx.Terminating() {
		return false
	}
	if attempt >= dctx.Retry.Limit {
		return false
	}
	return res.Sense != nil && res.Sense.Retriable()
}

// reportFailure emits the final failure report, naming the structured
// classification and/or the transport error, whichever are present.
func (e *Executor) reportFailure(dctx *device.Context, op device.Op, res device.Result) {
	attrs := []any{
		slog.String("device", dctx.Name),
		slog.Int("thread", dctx.Thread),
		slog.String("op", op.String()),
	}
	if res.Sense != nil {
		attrs = append(attrs, slog.String("sense", res.Sense.String()))
	}
	if res.Err != nil {
		attrs = append(attrs, slog.String("error", res.Err.Error()))
	}
	e.logger.Error("device operation failed", attrs...)
}
