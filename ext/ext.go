// Package ext defines the extension system for the exerciser engine.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, mirroring keepalives to another sink, writing
// audit trails. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnThreadFinished(ctx context.Context, c *device.Context, status dt.Status) error {
//	    log.Printf("thread %d finished: %s", c.Thread, status)
//	    return nil
//	}
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext

import (
	"context"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
)

// Extension is the base interface all extensions implement.
type Extension interface {
	// Name identifies the extension in logs.
	Name() string
}

// JobInitiated is notified when a job's threads have been spawned and
// the job registered.
type JobInitiated interface {
	OnJobInitiated(ctx context.Context, jobID int64, tag string, threads int) error
}

// ThreadStarted is notified when a worker thread completes startup and
// enters its pass loop.
type ThreadStarted interface {
	OnThreadStarted(ctx context.Context, c *device.Context) error
}

// PassCompleted is notified after each completed pass.
type PassCompleted interface {
	OnPassCompleted(ctx context.Context, c *device.Context, pass int64, elapsed time.Duration) error
}

// ThreadRetrying is notified before each retry of a transiently failed
// device operation.
type ThreadRetrying interface {
	OnThreadRetrying(ctx context.Context, c *device.Context, op device.Op, attempt int) error
}

// ThreadNoProgress is notified when the watchdog detects a thread with
// no forward activity past the configured threshold.
type ThreadNoProgress interface {
	OnThreadNoProgress(ctx context.Context, c *device.Context, idle time.Duration) error
}

// ThreadHung is notified when the watchdog forcibly cancels a thread
// that failed to honor a stop request within the terminate wait.
type ThreadHung interface {
	OnThreadHung(ctx context.Context, c *device.Context, waited time.Duration) error
}

// ThreadFinished is notified exactly once per thread, after its
// statistics have been finalized.
type ThreadFinished interface {
	OnThreadFinished(ctx context.Context, c *device.Context, status dt.Status) error
}

// JobFinished is notified when the last thread of a job reaches the
// finished state and the job totals are sealed.
type JobFinished interface {
	OnJobFinished(ctx context.Context, jobID int64, tag string, status dt.Status) error
}

// Shutdown is notified when the supervisor is shutting down gracefully.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
