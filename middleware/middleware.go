// Package middleware provides composable wrappers around elemental
// device operations. Middleware wraps operation attempts synchronously
// and can modify execution (recover from panics, log, time out, record
// metrics and traces).
package middleware

import (
	"context"

	"github.com/RobinTMiller/dt-sub002/device"
)

// OpInfo identifies one elemental operation for cross-cutting layers.
type OpInfo struct {
	Device string
	Thread int
	Op     device.Op
}

// Handler is the terminal function that issues the device command.
type Handler func(ctx context.Context) device.Result

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the operation being issued, and the next handler to
// call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, info OpInfo, next Handler) device.Result

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, metrics) executes as:
//
//	logging → recover → metrics → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, info OpInfo, next Handler) device.Result {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) device.Result {
				return mw(ctx, info, prev)
			}
		}
		return h(ctx)
	}
}
