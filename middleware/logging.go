package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/RobinTMiller/dt-sub002/device"
)

// Logging returns middleware that logs each elemental operation at
// debug level and failures at error level. Per-operation logging is
// hot-path noise under normal runs, so successes stay at debug.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, info OpInfo, next Handler) device.Result {
		start := time.Now()
		res := next(ctx)
		elapsed := time.Since(start)

		if res.Failed() {
			attrs := []any{
				slog.String("device", info.Device),
				slog.Int("thread", info.Thread),
				slog.String("op", info.Op.String()),
				slog.Duration("elapsed", elapsed),
			}
			if res.Err != nil {
				attrs = append(attrs, slog.String("error", res.Err.Error()))
			}
			if res.Sense != nil {
				attrs = append(attrs, slog.String("sense", res.Sense.String()))
			}
			logger.Error("device operation failed", attrs...)
		} else {
			logger.Debug("device operation",
				slog.String("device", info.Device),
				slog.Int("thread", info.Thread),
				slog.String("op", info.Op.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return res
	}
}
