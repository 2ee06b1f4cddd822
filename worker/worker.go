// Package worker implements the per-thread execution engine: thread
// startup, the I/O pass loop shared by the test/copy/mirror workload
// variants, capacity recovery, and the exactly-once statistics
// finalization every termination path funnels through.
package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/ext"
	"github.com/RobinTMiller/dt-sub002/fsprobe"
	"github.com/RobinTMiller/dt-sub002/job"
	"github.com/RobinTMiller/dt-sub002/middleware"
	"github.com/RobinTMiller/dt-sub002/pattern"
	"github.com/RobinTMiller/dt-sub002/retry"
	"github.com/RobinTMiller/dt-sub002/throttle"
)

// PatternFactory builds the pattern generator for one pass.
type PatternFactory func(seed int64, blockSize int64) pattern.Generator

// DefaultPatternFactory produces the seeded PRNG pattern.
func DefaultPatternFactory(seed int64, _ int64) pattern.Generator {
	return pattern.NewPRNG(seed)
}

// Worker is one thread of a job. It exclusively owns its device
// context (and the paired context for copy/mirror workloads) while
// running; the supervisor and watchdog only read the context, except
// when forcing a cancellation.
type Worker struct {
	j        *job.Job
	dctx     *device.Context
	backend  device.Backend
	pair     *device.Context
	pairBE   device.Backend
	workload Workload

	exec       *retry.Executor
	hooks      *ext.Registry
	logger     *slog.Logger
	limiter    *throttle.Limiter
	prober     fsprobe.Prober
	mw         middleware.Middleware
	newPattern PatternFactory

	verify     bool
	stopOnFile string
	spaceWait  time.Duration

	runCtx    context.Context
	cancelRun context.CancelFunc
	finalOnce sync.Once
	status    atomic.Int32
	done      chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithPair attaches the paired output context and backend for
// copy/mirror workloads.
func WithPair(c *device.Context, be device.Backend) Option {
	return func(w *Worker) {
		w.pair = c
		w.pairBE = be
	}
}

// WithHooks sets the lifecycle hook registry.
func WithHooks(r *ext.Registry) Option {
	return func(w *Worker) { w.hooks = r }
}

// WithMiddleware wraps each elemental operation attempt with the
// given middleware chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.mw = middleware.Chain(mws...) }
}

// WithExecutor sets the retry executor.
func WithExecutor(e *retry.Executor) Option {
	return func(w *Worker) { w.exec = e }
}

// WithProber sets the capacity prober used by no-space recovery.
func WithProber(p fsprobe.Prober) Option {
	return func(w *Worker) { w.prober = p }
}

// WithPatternFactory sets the per-pass pattern generator.
func WithPatternFactory(f PatternFactory) Option {
	return func(w *Worker) { w.newPattern = f }
}

// WithVerify enables the read-back verification sub-pass.
func WithVerify(v bool) Option {
	return func(w *Worker) { w.verify = v }
}

// WithStopOnFile sets the sentinel file checked at pass boundaries.
func WithStopOnFile(path string) Option {
	return func(w *Worker) { w.stopOnFile = path }
}

// WithSpaceWait bounds how long no-space recovery waits for the
// filesystem to free up.
func WithSpaceWait(d time.Duration) Option {
	return func(w *Worker) { w.spaceWait = d }
}

// New creates a worker bound to its job, context, backend, and
// workload variant. The worker does not run until Start is called.
func New(j *job.Job, dctx *device.Context, backend device.Backend, wl Workload, logger *slog.Logger, opts ...Option) *Worker {
	runCtx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		j:          j,
		dctx:       dctx,
		backend:    backend,
		workload:   wl,
		logger:     logger,
		newPattern: DefaultPatternFactory,
		spaceWait:  30 * time.Second,
		runCtx:     runCtx,
		cancelRun:  cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.exec == nil {
		w.exec = retry.NewExecutor(logger)
	}
	if w.hooks == nil {
		w.hooks = ext.NewRegistry(logger)
	}
	if w.limiter == nil {
		w.limiter = throttle.New(dctx.Throttle)
	}
	return w
}

// Start launches the worker goroutine. It returns immediately.
func (w *Worker) Start() {
	go w.main()
}

// Context implements job.Thread.
func (w *Worker) Context() *device.Context { return w.dctx }

// Pair returns the paired output context, or nil for plain tests.
func (w *Worker) Pair() *device.Context { return w.pair }

// Status implements job.Thread. Valid once the context reaches a
// terminal state.
func (w *Worker) Status() dt.Status { return dt.Status(w.status.Load()) }

// Done is closed after finalization completes.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Cancel implements job.Thread: the forced, preemptive termination the
// watchdog applies to threads that failed to honor a stop within the
// terminate wait. Finalization still runs exactly once, so statistics
// collected before the hang are not lost.
func (w *Worker) Cancel() {
	if w.dctx.ForceCancel() {
		w.cancelRun()
	}
	w.finalize(dt.Failure)
}

// main is the goroutine body. Any internal failure funnels through
// finalization rather than escaping as a process-level crash.
func (w *Worker) main() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panicked",
				slog.String("device", w.dctx.Name),
				slog.Int("thread", w.dctx.Thread),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			w.finalize(dt.Failure)
		}
	}()

	status := w.run()
	w.finalize(status)
}

// startup performs the thread startup sequence: initial state, the
// job-lock synchronization barrier, start-time recording, and the
// one-time device open. A startup failure is fatal for this thread
// only and is reported through the normal finish path.
func (w *Worker) startup() device.Result {
	// Barrier: the initiator's bookkeeping must be visible before any
	// I/O begins. The initial state is decided only after release, so a
	// paused start is already reflected in the job state read below.
	if w.j != nil {
		w.j.StartupBarrier()
	}

	initial := device.Running
	if w.j != nil && w.j.State() == job.Paused {
		initial = device.Paused
	}
	w.dctx.TrySetState(initial)
	if w.pair != nil {
		w.pair.TrySetState(initial)
	}

	now := time.Now()
	w.dctx.MarkStarted(now)
	if w.pair != nil {
		w.pair.MarkStarted(now)
	}

	if res := w.do(w.runCtx, w.dctx, device.OpOpen, 0, 0, func(ctx context.Context) device.Result {
		return w.backend.Open(ctx, w.dctx.Mode)
	}); res.Failed() {
		return res
	}
	if w.pair != nil {
		if res := w.do(w.runCtx, w.pair, device.OpOpen, 0, 0, func(ctx context.Context) device.Result {
			return w.pairBE.Open(ctx, w.pair.Mode)
		}); res.Failed() {
			return res
		}
	}

	w.hooks.EmitThreadStarted(w.runCtx, w.dctx)
	return device.Good
}

// do issues one elemental operation through the throttle, middleware
// chain, and retry executor, updating the watchdog's progress sample.
// It refuses to start a new operation once the error limit is reached
// or the thread is terminating; an operation already in flight always
// completes.
func (w *Worker) do(ctx context.Context, dctx *device.Context, op device.Op, record int64, nbytes int, fn middleware.Handler) device.Result {
	if dctx.ErrorLimitReached() {
		return device.Fail(dt.ErrErrorLimit)
	}
	if dctx.Terminating() {
		return device.Fail(dt.ErrTerminating)
	}

	dctx.SetOp(op, record)
	if err := w.limiter.Wait(ctx, nbytes); err != nil {
		return device.Fail(err)
	}

	handler := fn
	if w.mw != nil {
		info := middleware.OpInfo{Device: dctx.Name, Thread: dctx.Thread, Op: op}
		mw := w.mw
		handler = func(ctx context.Context) device.Result {
			return mw(ctx, info, fn)
		}
	}

	res := w.exec.Do(ctx, dctx, op, retry.Operation(handler))
	dctx.Touch()
	return res
}

// fail records one non-recovered operation failure against the
// context's error count. The retry executor and middleware have
// already reported the failure detail.
func (w *Worker) fail(dctx *device.Context) {
	dctx.Errors.Add(1)
}

// finalize runs the termination sequence exactly once, whether the
// thread exits normally, on error, or is forcibly cancelled: close the
// device handles (pending asynchronous operations complete first),
// seal the thread status, fold into the job totals, report, apply the
// artifact disposition, and hand off.
func (w *Worker) finalize(status dt.Status) {
	w.finalOnce.Do(func() {
		ctx := context.Background()

		w.closeBackends(ctx)

		// A cancel mid-pass can leave pair accounting unmerged.
		w.mergePair()

		if w.dctx.Errors.Load() > 0 {
			status = dt.Merge(status, dt.Failure)
		}
		final := status.Normalize()
		w.status.Store(int32(final))
		w.dctx.TrySetState(device.Finished)
		if w.pair != nil {
			w.pair.TrySetState(device.Finished)
		}

		w.logger.Info("thread finished",
			slog.String("device", w.dctx.Name),
			slog.Int("thread", w.dctx.Thread),
			slog.Int64("job", w.dctx.JobID),
			slog.String("status", final.String()),
			slog.Int64("passes", w.dctx.Passes.Load()),
			slog.Int64("errors", w.dctx.Errors.Load()),
			slog.Int64("bytes", w.dctx.Bytes.Load()),
			slog.Int64("records", w.dctx.Records.Load()),
		)

		w.dispose(final)
		w.hooks.EmitThreadFinished(ctx, w.dctx, final)

		if w.j != nil && w.j.ThreadDone(final) {
			totals := w.j.Totals()
			w.logger.Info("job finished",
				slog.Int64("job", w.j.ID),
				slog.String("tag", w.j.Tag),
				slog.String("status", w.j.Status().String()),
				slog.Int64("passes", totals.Passes),
				slog.Int64("errors", totals.Errors),
				slog.Int64("bytes", totals.Bytes),
			)
			w.hooks.EmitJobFinished(ctx, w.j.ID, w.j.Tag, w.j.Status())
		}

		w.cancelRun()
		close(w.done)
	})
}

// closeBackends closes the device handles, tolerating close failures
// with a warning (the handle is gone either way).
func (w *Worker) closeBackends(ctx context.Context) {
	for _, be := range []device.Backend{w.backend, w.pairBE} {
		if be == nil {
			continue
		}
		if res := be.Close(ctx); res.Failed() && res.Err != nil {
			w.logger.Warn("device close failed",
				slog.String("device", w.dctx.Name),
				slog.Int("thread", w.dctx.Thread),
				slog.String("error", res.Err.Error()),
			)
		}
	}
}

// remover is implemented by backends whose artifacts can be deleted.
type remover interface{ Remove() error }

// dispose applies the artifact disposition policy: keep, delete, or
// keep only when the thread failed (so the evidence survives).
func (w *Worker) dispose(final dt.Status) {
	del := false
	switch w.dctx.Disposition {
	case device.DeleteArtifacts:
		del = true
	case device.KeepOnError:
		del = final != dt.Failure
	case device.KeepArtifacts:
	}
	if !del || w.dctx.Mode != device.WriteMode {
		return
	}
	for _, be := range []device.Backend{w.backend, w.pairBE} {
		if r, ok := be.(remover); ok {
			if err := r.Remove(); err != nil {
				w.logger.Warn("artifact removal failed",
					slog.String("device", w.dctx.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
