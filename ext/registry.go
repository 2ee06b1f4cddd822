package ext

import (
	"context"
	"log/slog"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobInitiatedEntry struct {
	name string
	hook JobInitiated
}

type threadStartedEntry struct {
	name string
	hook ThreadStarted
}

type passCompletedEntry struct {
	name string
	hook PassCompleted
}

type threadRetryingEntry struct {
	name string
	hook ThreadRetrying
}

type threadNoProgressEntry struct {
	name string
	hook ThreadNoProgress
}

type threadHungEntry struct {
	name string
	hook ThreadHung
}

type threadFinishedEntry struct {
	name string
	hook ThreadFinished
}

type jobFinishedEntry struct {
	name string
	hook JobFinished
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit
// calls iterate only over extensions that implement the relevant hook.
// Register all extensions before the supervisor starts; registration
// is not synchronized against emission.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobInitiated     []jobInitiatedEntry
	threadStarted    []threadStartedEntry
	passCompleted    []passCompletedEntry
	threadRetrying   []threadRetryingEntry
	threadNoProgress []threadNoProgressEntry
	threadHung       []threadHungEntry
	threadFinished   []threadFinishedEntry
	jobFinished      []jobFinishedEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobInitiated); ok {
		r.jobInitiated = append(r.jobInitiated, jobInitiatedEntry{name, h})
	}
	if h, ok := e.(ThreadStarted); ok {
		r.threadStarted = append(r.threadStarted, threadStartedEntry{name, h})
	}
	if h, ok := e.(PassCompleted); ok {
		r.passCompleted = append(r.passCompleted, passCompletedEntry{name, h})
	}
	if h, ok := e.(ThreadRetrying); ok {
		r.threadRetrying = append(r.threadRetrying, threadRetryingEntry{name, h})
	}
	if h, ok := e.(ThreadNoProgress); ok {
		r.threadNoProgress = append(r.threadNoProgress, threadNoProgressEntry{name, h})
	}
	if h, ok := e.(ThreadHung); ok {
		r.threadHung = append(r.threadHung, threadHungEntry{name, h})
	}
	if h, ok := e.(ThreadFinished); ok {
		r.threadFinished = append(r.threadFinished, threadFinishedEntry{name, h})
	}
	if h, ok := e.(JobFinished); ok {
		r.jobFinished = append(r.jobFinished, jobFinishedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns the registered extensions in registration order.
func (r *Registry) Extensions() []Extension { return r.extensions }

// hookErr logs a hook failure. Extension errors never propagate into
// the engine; a broken extension must not stop I/O.
func (r *Registry) hookErr(hook, ext string, err error) {
	r.logger.Warn("extension hook failed",
		slog.String("hook", hook),
		slog.String("extension", ext),
		slog.String("error", err.Error()),
	)
}

// EmitJobInitiated notifies JobInitiated hooks.
func (r *Registry) EmitJobInitiated(ctx context.Context, jobID int64, tag string, threads int) {
	for _, en := range r.jobInitiated {
		if err := en.hook.OnJobInitiated(ctx, jobID, tag, threads); err != nil {
			r.hookErr("job_initiated", en.name, err)
		}
	}
}

// EmitThreadStarted notifies ThreadStarted hooks.
func (r *Registry) EmitThreadStarted(ctx context.Context, c *device.Context) {
	for _, en := range r.threadStarted {
		if err := en.hook.OnThreadStarted(ctx, c); err != nil {
			r.hookErr("thread_started", en.name, err)
		}
	}
}

// EmitPassCompleted notifies PassCompleted hooks.
func (r *Registry) EmitPassCompleted(ctx context.Context, c *device.Context, pass int64, elapsed time.Duration) {
	for _, en := range r.passCompleted {
		if err := en.hook.OnPassCompleted(ctx, c, pass, elapsed); err != nil {
			r.hookErr("pass_completed", en.name, err)
		}
	}
}

// EmitThreadRetrying notifies ThreadRetrying hooks.
func (r *Registry) EmitThreadRetrying(ctx context.Context, c *device.Context, op device.Op, attempt int) {
	for _, en := range r.threadRetrying {
		if err := en.hook.OnThreadRetrying(ctx, c, op, attempt); err != nil {
			r.hookErr("thread_retrying", en.name, err)
		}
	}
}

// EmitThreadNoProgress notifies ThreadNoProgress hooks.
func (r *Registry) EmitThreadNoProgress(ctx context.Context, c *device.Context, idle time.Duration) {
	for _, en := range r.threadNoProgress {
		if err := en.hook.OnThreadNoProgress(ctx, c, idle); err != nil {
			r.hookErr("thread_no_progress", en.name, err)
		}
	}
}

// EmitThreadHung notifies ThreadHung hooks.
func (r *Registry) EmitThreadHung(ctx context.Context, c *device.Context, waited time.Duration) {
	for _, en := range r.threadHung {
		if err := en.hook.OnThreadHung(ctx, c, waited); err != nil {
			r.hookErr("thread_hung", en.name, err)
		}
	}
}

// EmitThreadFinished notifies ThreadFinished hooks.
func (r *Registry) EmitThreadFinished(ctx context.Context, c *device.Context, status dt.Status) {
	for _, en := range r.threadFinished {
		if err := en.hook.OnThreadFinished(ctx, c, status); err != nil {
			r.hookErr("thread_finished", en.name, err)
		}
	}
}

// EmitJobFinished notifies JobFinished hooks.
func (r *Registry) EmitJobFinished(ctx context.Context, jobID int64, tag string, status dt.Status) {
	for _, en := range r.jobFinished {
		if err := en.hook.OnJobFinished(ctx, jobID, tag, status); err != nil {
			r.hookErr("job_finished", en.name, err)
		}
	}
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, en := range r.shutdown {
		if err := en.hook.OnShutdown(ctx); err != nil {
			r.hookErr("shutdown", en.name, err)
		}
	}
}
