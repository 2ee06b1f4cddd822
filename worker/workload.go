package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/pattern"
)

// Workload is one pass of a workload variant. The three variants
// (plain test, copy, mirror) share the worker's pass-loop skeleton and
// sequence helpers; RunPass supplies only the variant-specific
// operation order.
type Workload interface {
	// Name identifies the variant in logs and queries.
	Name() string
	// RunPass performs one full pass using the worker's contexts. The
	// generator is seeded for this pass, so a verify sub-pass
	// reproduces the written bytes exactly.
	RunPass(ctx context.Context, w *Worker, gen pattern.Generator, pass int64) device.Result
}

// control reports whether a failed result is a loop-control signal
// (stop request or error limit) rather than a device failure.
func control(res device.Result) bool {
	return res.Err != nil &&
		(errors.Is(res.Err, dt.ErrTerminating) || errors.Is(res.Err, dt.ErrErrorLimit))
}

// ── Sequence helpers (shared by the variants) ─────

// writeSequence writes the pass's pattern, one block-sized record at a
// time. Device failures are counted and the sequence continues until
// the error limit trips; capacity exhaustion and end-of-data return to
// the pass loop immediately.
func (w *Worker) writeSequence(ctx context.Context, dctx *device.Context, be device.Backend, gen pattern.Generator) device.Result {
	bs := dctx.BlockSize
	buf := make([]byte, bs)
	n := w.recordCount()

	for rec := int64(0); rec < n; rec++ {
		off := rec * bs
		gen.Fill(buf, off)

		res := w.do(ctx, dctx, device.OpWrite, rec, len(buf), func(ctx context.Context) device.Result {
			_, r := be.WriteAt(ctx, buf, off)
			return r
		})
		switch {
		case res.EndOfData():
			return res
		case res.Failed() && control(res):
			return res
		case res.Failed() && errors.Is(res.Err, dt.ErrNoSpace):
			return res
		case res.Failed():
			w.fail(dctx)
			continue
		}

		dctx.Bytes.Add(bs)
		dctx.Records.Add(1)
	}
	return device.Good
}

// verifySequence reads the pass's records back and checks them against
// the same generator sequence that produced the write. Mismatches are
// data-integrity errors: always counted against the error limit,
// independent of any retry classification.
func (w *Worker) verifySequence(ctx context.Context, dctx *device.Context, be device.Backend, gen pattern.Generator) device.Result {
	bs := dctx.BlockSize
	buf := make([]byte, bs)
	n := w.recordCount()

	for rec := int64(0); rec < n; rec++ {
		off := rec * bs

		res := w.do(ctx, dctx, device.OpVerify, rec, len(buf), func(ctx context.Context) device.Result {
			_, r := be.ReadAt(ctx, buf, off)
			return r
		})
		switch {
		case res.EndOfData():
			return res
		case res.Failed() && control(res):
			return res
		case res.Failed():
			w.fail(dctx)
			continue
		}

		if at, ok := gen.Verify(buf, off); !ok {
			w.logger.Error("data verification mismatch",
				slog.String("device", dctx.Name),
				slog.Int("thread", dctx.Thread),
				slog.Int64("record", rec),
				slog.Int64("offset", at),
			)
			w.fail(dctx)
		}
	}
	return device.Good
}

// readSequence reads the pass's records without pattern checking,
// counting transfer statistics. Used by read-mode plain tests and the
// copy source side.
func (w *Worker) readSequence(ctx context.Context, dctx *device.Context, be device.Backend) device.Result {
	bs := dctx.BlockSize
	buf := make([]byte, bs)
	n := w.recordCount()

	for rec := int64(0); rec < n; rec++ {
		off := rec * bs

		res := w.do(ctx, dctx, device.OpRead, rec, len(buf), func(ctx context.Context) device.Result {
			_, r := be.ReadAt(ctx, buf, off)
			return r
		})
		switch {
		case res.EndOfData():
			return res
		case res.Failed() && control(res):
			return res
		case res.Failed():
			w.fail(dctx)
			continue
		}

		dctx.Bytes.Add(bs)
		dctx.Records.Add(1)
	}
	return device.Good
}

// bracket wraps a pass body in the backend's StartPass/EndPass hooks,
// preserving the body's result when EndPass also fails.
func (w *Worker) bracket(ctx context.Context, dctx *device.Context, be device.Backend, pass int64, body func() device.Result) device.Result {
	if res := w.do(ctx, dctx, device.OpStartPass, 0, 0, func(ctx context.Context) device.Result {
		return be.StartPass(ctx, pass)
	}); res.Failed() {
		return res
	}

	res := body()

	end := w.do(ctx, dctx, device.OpEndPass, 0, 0, func(ctx context.Context) device.Result {
		return be.EndPass(ctx, pass)
	})
	if !res.Failed() && end.Failed() {
		return end
	}
	return res
}

// ── Plain test ────────────────────────────────────

// PlainTest writes the per-pass pattern to one device and optionally
// reads it back for verification.
type PlainTest struct{}

// Name implements Workload.
func (PlainTest) Name() string { return "test" }

// RunPass implements Workload.
func (PlainTest) RunPass(ctx context.Context, w *Worker, gen pattern.Generator, pass int64) device.Result {
	dctx, be := w.dctx, w.backend

	return w.bracket(ctx, dctx, be, pass, func() device.Result {
		if dctx.Mode == device.ReadMode {
			if w.verify {
				return w.verifySequence(ctx, dctx, be, gen)
			}
			return w.readSequence(ctx, dctx, be)
		}

		if res := w.writeSequence(ctx, dctx, be, gen); res.Failed() || res.EndOfData() {
			return res
		}
		if !w.verify {
			return device.Good
		}

		// Read-back sub-pass: reopen for reading so the verify hits
		// the device, then restore write mode for the next pass.
		if res := w.do(ctx, dctx, device.OpReopen, 0, 0, func(ctx context.Context) device.Result {
			return be.Reopen(ctx, device.ReadMode)
		}); res.Failed() {
			return res
		}
		res := w.verifySequence(ctx, dctx, be, gen)
		if reres := w.do(ctx, dctx, device.OpReopen, 0, 0, func(ctx context.Context) device.Result {
			return be.Reopen(ctx, device.WriteMode)
		}); !res.Failed() && reres.Failed() {
			res = reres
		}
		if !res.Failed() {
			dctx.FullPasses.Add(1)
		}
		return res
	})
}

// ── Copy ──────────────────────────────────────────

// Copy streams records from the source context to the paired
// destination, optionally re-reading both sides to compare.
type Copy struct{}

// Name implements Workload.
func (Copy) Name() string { return "copy" }

// RunPass implements Workload.
func (Copy) RunPass(ctx context.Context, w *Worker, _ pattern.Generator, pass int64) device.Result {
	src, dst := w.dctx, w.pair
	sbe, dbe := w.backend, w.pairBE

	return w.bracket(ctx, src, sbe, pass, func() device.Result {
		bs := src.BlockSize
		buf := make([]byte, bs)
		n := w.recordCount()

		for rec := int64(0); rec < n; rec++ {
			off := rec * bs

			res := w.do(ctx, src, device.OpRead, rec, len(buf), func(ctx context.Context) device.Result {
				_, r := sbe.ReadAt(ctx, buf, off)
				return r
			})
			switch {
			case res.EndOfData():
				return res
			case res.Failed() && control(res):
				return res
			case res.Failed():
				w.fail(src)
				continue
			}
			src.Bytes.Add(bs)
			src.Records.Add(1)

			res = w.do(ctx, dst, device.OpWrite, rec, len(buf), func(ctx context.Context) device.Result {
				_, r := dbe.WriteAt(ctx, buf, off)
				return r
			})
			switch {
			case res.Failed() && control(res):
				return res
			case res.Failed() && errors.Is(res.Err, dt.ErrNoSpace):
				return res
			case res.Failed():
				w.fail(dst)
				continue
			}
			dst.Bytes.Add(bs)
			dst.Records.Add(1)
		}

		if !w.verify {
			return device.Good
		}
		return w.compareSequence(ctx, pass)
	})
}

// compareSequence re-reads both sides of a copy and compares them
// record by record. Differences are charged to the controlling (input)
// context.
func (w *Worker) compareSequence(ctx context.Context, _ int64) device.Result {
	src, dst := w.dctx, w.pair
	sbe, dbe := w.backend, w.pairBE
	bs := src.BlockSize
	want := make([]byte, bs)
	got := make([]byte, bs)
	n := w.recordCount()

	for rec := int64(0); rec < n; rec++ {
		off := rec * bs

		res := w.do(ctx, src, device.OpVerify, rec, len(want), func(ctx context.Context) device.Result {
			_, r := sbe.ReadAt(ctx, want, off)
			return r
		})
		if res.EndOfData() {
			return res
		}
		if res.Failed() {
			if control(res) {
				return res
			}
			w.fail(src)
			continue
		}

		res = w.do(ctx, dst, device.OpVerify, rec, len(got), func(ctx context.Context) device.Result {
			_, r := dbe.ReadAt(ctx, got, off)
			return r
		})
		if res.Failed() {
			if control(res) {
				return res
			}
			w.fail(src)
			continue
		}

		if !bytes.Equal(want, got) {
			w.logger.Error("copy comparison mismatch",
				slog.String("source", src.Name),
				slog.String("destination", dst.Name),
				slog.Int("thread", src.Thread),
				slog.Int64("record", rec),
			)
			w.fail(src)
		}
	}
	return device.Good
}

// ── Mirror ────────────────────────────────────────

// Mirror writes the same per-pass pattern to both devices, then
// verifies each side against the pattern.
type Mirror struct{}

// Name implements Workload.
func (Mirror) Name() string { return "mirror" }

// RunPass implements Workload.
func (Mirror) RunPass(ctx context.Context, w *Worker, gen pattern.Generator, pass int64) device.Result {
	src, dst := w.dctx, w.pair
	sbe, dbe := w.backend, w.pairBE

	return w.bracket(ctx, src, sbe, pass, func() device.Result {
		bs := src.BlockSize
		buf := make([]byte, bs)
		n := w.recordCount()

		for rec := int64(0); rec < n; rec++ {
			off := rec * bs
			gen.Fill(buf, off)

			res := w.do(ctx, src, device.OpWrite, rec, len(buf), func(ctx context.Context) device.Result {
				_, r := sbe.WriteAt(ctx, buf, off)
				return r
			})
			switch {
			case res.EndOfData():
				return res
			case res.Failed() && control(res):
				return res
			case res.Failed() && errors.Is(res.Err, dt.ErrNoSpace):
				return res
			case res.Failed():
				w.fail(src)
				continue
			}
			src.Bytes.Add(bs)
			src.Records.Add(1)

			res = w.do(ctx, dst, device.OpWrite, rec, len(buf), func(ctx context.Context) device.Result {
				_, r := dbe.WriteAt(ctx, buf, off)
				return r
			})
			switch {
			case res.Failed() && control(res):
				return res
			case res.Failed() && errors.Is(res.Err, dt.ErrNoSpace):
				return res
			case res.Failed():
				w.fail(dst)
				continue
			}
			dst.Bytes.Add(bs)
			dst.Records.Add(1)
		}

		if !w.verify {
			return device.Good
		}

		if res := w.verifySequence(ctx, src, sbe, gen); res.Failed() {
			return res
		}
		res := w.verifySequence(ctx, dst, dbe, gen)
		if !res.Failed() {
			src.FullPasses.Add(1)
		}
		return res
	})
}
