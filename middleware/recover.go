package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/RobinTMiller/dt-sub002/device"
)

// Recover returns middleware that recovers from panics in the backend
// chain. Panics are converted to failed results and logged with a
// stack trace; a misbehaving backend must not take the whole job down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, info OpInfo, next Handler) (res device.Result) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("device backend panicked",
					slog.String("device", info.Device),
					slog.Int("thread", info.Thread),
					slog.String("op", info.Op.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				res = device.Fail(fmt.Errorf("panic in %s on %s: %v", info.Op, info.Device, r))
			}
		}()
		return next(ctx)
	}
}
