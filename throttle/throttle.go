// Package throttle caps a worker thread's I/O issue rate with token
// buckets. Limits apply at elemental-operation boundaries only; a
// thread never throttles mid-operation.
package throttle

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/RobinTMiller/dt-sub002/device"
)

// Limiter bounds operations per second and bytes per second for one
// thread. A nil *Limiter is valid and imposes no limits.
type Limiter struct {
	ops   *rate.Limiter
	bytes *rate.Limiter
}

// New builds a limiter from a template's throttle settings. It returns
// nil when both caps are disabled so callers can skip the wait path
// entirely.
func New(t device.Throttle) *Limiter {
	if t.OpsPerSec <= 0 && t.BytesPerSec <= 0 {
		return nil
	}
	l := &Limiter{}
	if t.OpsPerSec > 0 {
		l.ops = rate.NewLimiter(rate.Limit(t.OpsPerSec), 1)
	}
	if t.BytesPerSec > 0 {
		burst := int(t.BytesPerSec)
		if burst < 1 {
			burst = 1
		}
		l.bytes = rate.NewLimiter(rate.Limit(t.BytesPerSec), burst)
	}
	return l
}

// Wait blocks until the next operation transferring n bytes may be
// issued. It returns early with the context error on cancellation.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	if l.ops != nil {
		if err := l.ops.Wait(ctx); err != nil {
			return err
		}
	}
	if l.bytes != nil && n > 0 {
		if n > l.bytes.Burst() {
			n = l.bytes.Burst()
		}
		if err := l.bytes.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
