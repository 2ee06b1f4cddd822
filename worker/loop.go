package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/fsprobe"
	"github.com/RobinTMiller/dt-sub002/pattern"
)

// run drives the outer pass loop shared by every workload variant. It
// continues while the thread is not terminating, the error count is
// below the error limit, and the pass count is below the pass limit
// (or an unlimited run was requested). Pause, stop, and limit checks
// happen only at pass boundaries; a pass that would exceed a limit
// mid-iteration breaks after completing the current elemental
// operation, never mid-operation.
func (w *Worker) run() dt.Status {
	if res := w.startup(); res.Failed() {
		// A stop or the error limit landing before the device opened is
		// a control outcome, not a setup failure: unwind clean.
		if errors.Is(res.Err, dt.ErrTerminating) || errors.Is(res.Err, dt.ErrErrorLimit) {
			return dt.Success
		}
		w.fail(w.dctx)
		return dt.Failure
	}

	status := dt.Success
	recovered := false

	for {
		// Pause checkpoint. Blocks while paused; returns the state
		// that let the thread proceed.
		st := w.dctx.AwaitResume()
		if st == device.Terminating || st == device.Cancelled {
			break
		}

		if w.dctx.ErrorLimitReached() {
			status = dt.Failure
			break
		}
		if !w.dctx.Limits.Unlimited && w.dctx.Passes.Load() >= w.dctx.Limits.PassLimit() {
			break
		}
		if w.runtimeExpired() {
			break
		}

		pass := w.dctx.Passes.Load()
		seed := pattern.SeedForPass(w.dctx.Seed, pass)
		gen := w.newPattern(seed, w.dctx.BlockSize)

		start := time.Now()
		res := w.workload.RunPass(w.runCtx, w, gen, pass)

		switch {
		case res.EndOfData():
			// Natural end of the medium: record the pass and let the
			// loop conditions decide.
			status = dt.Merge(status, dt.EndOfData)
		case res.Failed() && errors.Is(res.Err, dt.ErrNoSpace) && !recovered:
			// Recoverable capacity exhaustion: reclaim space and retry
			// the pass once. A second exhaustion is fatal.
			if w.recoverNoSpace() {
				recovered = true
				continue
			}
			w.fail(w.dctx)
			status = dt.Failure
		case res.Failed() && (errors.Is(res.Err, dt.ErrTerminating) || errors.Is(res.Err, dt.ErrErrorLimit)):
			// The pass was cut short by a stop request or the error
			// limit; the boundary checks above settle the outcome.
		case res.Failed():
			w.fail(w.dctx)
		}

		w.dctx.Passes.Add(1)
		w.mergePair()
		w.hooks.EmitPassCompleted(w.runCtx, w.dctx, pass, time.Since(start))

		if w.stopFileExists() {
			w.logger.Info("stop-on file detected, ending thread",
				slog.String("device", w.dctx.Name),
				slog.Int("thread", w.dctx.Thread),
				slog.String("stop_on", w.stopOnFile),
			)
			break
		}
	}

	return status
}

// runtimeExpired reports whether the thread's wall-clock budget has
// been spent. The watchdog performs the same check between passes; the
// local check just avoids starting a pass that could never finish in
// budget.
func (w *Worker) runtimeExpired() bool {
	budget := w.dctx.Limits.Runtime
	if budget <= 0 {
		return false
	}
	started := w.dctx.StartedAt()
	return !started.IsZero() && time.Since(started) >= budget
}

// stopFileExists checks the stop-on sentinel at the pass boundary.
func (w *Worker) stopFileExists() bool {
	if w.stopOnFile == "" {
		return false
	}
	_, err := os.Stat(w.stopOnFile)
	return err == nil
}

// recoverNoSpace is the dedicated recovery routine for backing-store
// exhaustion: wait (bounded) for the filesystem to free space so the
// pass can be retried. Failure escalates to a fatal thread error.
func (w *Worker) recoverNoSpace() bool {
	if w.prober == nil {
		w.prober = fsprobe.OS{}
	}
	need := uint64(w.dctx.DataLimit)
	if need == 0 {
		need = uint64(w.dctx.BlockSize)
	}
	dir := filepath.Dir(w.dctx.Name)

	w.logger.Warn("no space left, waiting for capacity",
		slog.String("device", w.dctx.Name),
		slog.Int("thread", w.dctx.Thread),
		slog.String("dir", dir),
		slog.Uint64("need", need),
		slog.Duration("max_wait", w.spaceWait),
	)

	err := fsprobe.WaitForSpace(w.runCtx, w.prober, dir, need, time.Second, w.spaceWait)
	if err != nil {
		w.logger.Error("space recovery failed",
			slog.String("device", w.dctx.Name),
			slog.Int("thread", w.dctx.Thread),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// mergePair folds the paired context's per-pass accounting into the
// controlling (input) side, so job totals attribute copy/mirror
// transfer and errors to the context in control.
func (w *Worker) mergePair() {
	if w.pair == nil {
		return
	}
	w.dctx.Bytes.Add(w.pair.Bytes.Swap(0))
	w.dctx.Records.Add(w.pair.Records.Swap(0))
	w.dctx.Errors.Add(w.pair.Errors.Swap(0))
}

// recordCount returns the number of elemental records per pass.
func (w *Worker) recordCount() int64 {
	if w.dctx.Limits.Records > 0 {
		return w.dctx.Limits.Records
	}
	if w.dctx.BlockSize <= 0 {
		return 0
	}
	n := w.dctx.DataLimit / w.dctx.BlockSize
	if n <= 0 {
		n = 1
	}
	return n
}

// interrupted reports whether the sequence should stop before issuing
// another elemental operation: terminating thread, error limit, or a
// cancelled run context.
func (w *Worker) interrupted(ctx context.Context) bool {
	if w.dctx.Terminating() || w.dctx.ErrorLimitReached() {
		return true
	}
	return ctx.Err() != nil
}
