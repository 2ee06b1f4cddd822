package device

import (
	"sync"
	"sync/atomic"
	"time"
)

// ThreadState is the lifecycle state of the worker thread owning a
// context. Normal transitions run not-started → running ⇄ paused →
// terminating → finished; cancelled is a forced terminal state
// reachable from any non-finished state.
type ThreadState int32

const (
	NotStarted ThreadState = iota
	Running
	Paused
	Terminating
	Finished
	Cancelled
)

var stateNames = map[ThreadState]string{
	NotStarted:  "not-started",
	Running:     "running",
	Paused:      "paused",
	Terminating: "terminating",
	Finished:    "finished",
	Cancelled:   "cancelled",
}

// String returns the lowercase state name.
func (s ThreadState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether the state is one a thread never leaves.
func (s ThreadState) Terminal() bool { return s == Finished || s == Cancelled }

// Limits bound a context's pass loop.
type Limits struct {
	// Passes is the number of passes to perform. Ignored when
	// Unlimited is set.
	Passes int64
	// Errors is the error count at which the thread stops. Zero means
	// stop on the first error.
	Errors int64
	// Records caps the records transferred per pass. Zero derives the
	// record count from DataLimit / BlockSize.
	Records int64
	// Runtime is the wall-clock budget for the thread. Zero means no
	// budget; the pass limit governs.
	Runtime time.Duration
	// Unlimited requests an unbounded pass count; only the runtime
	// budget, error limit, or an explicit stop ends the loop.
	Unlimited bool
}

// ErrorLimit returns the effective error limit (at least 1).
func (l Limits) ErrorLimit() int64 {
	if l.Errors <= 0 {
		return 1
	}
	return l.Errors
}

// PassLimit returns the effective pass limit (at least 1).
func (l Limits) PassLimit() int64 {
	if l.Passes <= 0 {
		return 1
	}
	return l.Passes
}

// Retry holds the bounded-retry policy for transient device-command
// failures.
type Retry struct {
	// Limit is the number of retries after the initial attempt.
	Limit int
	// Delay is the sleep between attempts.
	Delay time.Duration
}

// Throttle caps a thread's I/O issue rate. Zero values disable the
// corresponding cap.
type Throttle struct {
	// OpsPerSec limits elemental operations per second.
	OpsPerSec float64
	// BytesPerSec limits transferred bytes per second.
	BytesPerSec float64
}

// BackendFactory builds the backend for one worker thread. Each thread
// gets its own instance.
type BackendFactory func(thread int) (Backend, error)

// Template is the immutable configuration snapshot per-thread contexts
// are built from. A job initiator populates one template; Initiate
// clones one Context per thread from it. The template itself is never
// mutated after job creation.
type Template struct {
	// Name is the device special file or file path under test.
	Name string
	// Mode is the context's operation mode.
	Mode Mode
	// Seed is the base random seed. Zero picks a time-based seed at
	// context creation so re-runs differ; a fixed seed makes every
	// pass reproducible.
	Seed int64
	// BlockSize is the elemental transfer size in bytes.
	BlockSize int64
	// DataLimit is the bytes transferred per pass.
	DataLimit int64
	// Limits bound the pass loop.
	Limits Limits
	// Retry is the transient-failure retry policy.
	Retry Retry
	// Throttle caps the thread's I/O issue rate.
	Throttle Throttle
	// Disposition controls artifact cleanup at finalization.
	Disposition Disposition
	// Verify enables the read-back verification sub-pass.
	Verify bool
	// StopOnFile names a sentinel file; the pass loop stops once it
	// exists. Empty disables the check.
	StopOnFile string
	// Backend builds the per-thread backend.
	Backend BackendFactory
}

// NewContext builds the mutable per-thread context for the given
// thread number. The returned context starts in the NotStarted state
// and is exclusively owned by its worker thread during execution.
func (t *Template) NewContext(thread int) *Context {
	seed := t.Seed
	if seed == 0 {
		seed = time.Now().UnixNano() + int64(thread)
	}
	c := &Context{
		Name:        t.Name,
		Thread:      thread,
		Mode:        t.Mode,
		Seed:        seed,
		BlockSize:   t.BlockSize,
		DataLimit:   t.DataLimit,
		Limits:      t.Limits,
		Retry:       t.Retry,
		Disposition: t.Disposition,
		Throttle:    t.Throttle,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Context is the per-thread mutable execution state: counters, mode,
// retry state, and the thread lifecycle. Counters are single-writer
// (the owning thread) and multi-reader (supervisor and watchdog read
// them without locks; eventual consistency is fine for diagnostics).
type Context struct {
	Name        string
	Thread      int
	Mode        Mode
	Seed        int64
	BlockSize   int64
	DataLimit   int64
	Limits      Limits
	Retry       Retry
	Throttle    Throttle
	Disposition Disposition

	// JobID back-references the owning job (non-owning).
	JobID int64
	// Tag is the owning job's tag, carried for diagnostics.
	Tag string

	// Cumulative accounting, owned by the worker thread.
	Passes     atomic.Int64 // completed passes (write or read)
	FullPasses atomic.Int64 // completed write+verify cycles
	Errors     atomic.Int64
	Bytes      atomic.Int64
	Records    atomic.Int64

	// Progress sampling for the watchdog.
	currentOp  atomic.Int32
	currentRec atomic.Int64
	startedAt  atomic.Int64 // unix nanos; zero until the thread starts
	lastActive atomic.Int64 // unix nanos of the last recorded activity

	mu    sync.Mutex
	cond  *sync.Cond
	state atomic.Int32
}

// State returns the thread state without locking.
func (c *Context) State() ThreadState { return ThreadState(c.state.Load()) }

// transitions lists the allowed source states per target state.
// Cancelled is handled separately (any non-finished source).
var transitions = map[ThreadState][]ThreadState{
	Running:     {NotStarted, Paused},
	Paused:      {NotStarted, Running},
	Terminating: {NotStarted, Running, Paused},
	Finished:    {Terminating, Running, Paused, NotStarted},
}

// TrySetState transitions the thread state to the target if the current
// state is an allowed source, waking any checkpoint waiter. It returns
// false (leaving the state untouched) otherwise.
func (c *Context) TrySetState(to ThreadState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := ThreadState(c.state.Load())
	if cur == to {
		return true
	}
	for _, from := range transitions[to] {
		if cur == from {
			c.state.Store(int32(to))
			c.cond.Broadcast()
			return true
		}
	}
	return false
}

// ForceCancel moves the thread into the cancelled state from any
// non-finished state. It is the only preemptive transition and is
// reserved for the watchdog.
func (c *Context) ForceCancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := ThreadState(c.state.Load())
	if cur.Terminal() {
		return false
	}
	c.state.Store(int32(Cancelled))
	c.cond.Broadcast()
	return true
}

// AwaitResume is the pause checkpoint. It blocks while the thread is
// paused and returns the state observed once the thread may proceed.
// Workers call it only at pass boundaries, never mid-operation.
func (c *Context) AwaitResume() ThreadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ThreadState(c.state.Load()) == Paused {
		c.cond.Wait()
	}
	return ThreadState(c.state.Load())
}

// MarkStarted records the thread start time and initial activity.
func (c *Context) MarkStarted(now time.Time) {
	c.startedAt.Store(now.UnixNano())
	c.lastActive.Store(now.UnixNano())
}

// StartedAt returns the recorded start time, or the zero time if the
// thread has not started.
func (c *Context) StartedAt() time.Time {
	ns := c.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Touch records forward activity for the no-progress check.
func (c *Context) Touch() { c.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns the time of the last recorded activity.
func (c *Context) LastActive() time.Time {
	ns := c.lastActive.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SetOp records the elemental operation and record the thread is on.
// The watchdog samples both when naming a stalled thread.
func (c *Context) SetOp(op Op, record int64) {
	c.currentOp.Store(int32(op))
	c.currentRec.Store(record)
	c.Touch()
}

// CurrentOp returns the sampled operation and record number.
func (c *Context) CurrentOp() (Op, int64) {
	return Op(c.currentOp.Load()), c.currentRec.Load()
}

// ErrorLimitReached reports whether the error count has hit the
// configured limit; once true, no further elemental operation may be
// attempted by the owning thread.
func (c *Context) ErrorLimitReached() bool {
	return c.Errors.Load() >= c.Limits.ErrorLimit()
}

// Terminating reports whether the thread should unwind. Both the
// cooperative stop and the forced cancel set it.
func (c *Context) Terminating() bool {
	s := c.State()
	return s == Terminating || s == Cancelled
}
