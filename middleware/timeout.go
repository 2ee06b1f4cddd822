package middleware

import (
	"context"
	"time"

	"github.com/RobinTMiller/dt-sub002/device"
)

// Timeout returns middleware that enforces a per-operation deadline.
// When d is zero the middleware is a pass-through. A deadline here
// bounds a single elemental operation, not the pass; the watchdog
// handles coarser stalls.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ OpInfo, next Handler) device.Result {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
