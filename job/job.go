// Package job groups the worker threads spawned by one initiate
// request and tracks their aggregated state and accounting, plus the
// process-wide registry the supervisor and watchdog traverse.
package job

import (
	"context"
	"sync"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
)

// State is the lifecycle state of a job.
type State int32

const (
	// Initiated means the job is registered but its threads have not
	// been released into their pass loops yet.
	Initiated State = iota
	// Running means member threads are executing.
	Running
	// Paused means member threads are blocked at the pause checkpoint.
	Paused
	// Terminating means a stop was requested and threads are
	// unwinding.
	Terminating
	// Finished means every member thread reached its terminal state
	// and the job totals are sealed.
	Finished
)

var stateNames = map[State]string{
	Initiated:   "initiated",
	Running:     "running",
	Paused:      "paused",
	Terminating: "terminating",
	Finished:    "finished",
}

// String returns the lowercase state name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Thread is one member worker of a job, as seen by the supervisor and
// watchdog. The concrete implementation lives in the worker package.
type Thread interface {
	// Context returns the thread's device context.
	Context() *device.Context
	// Cancel forcibly terminates the thread. Statistics finalization
	// still runs exactly once.
	Cancel()
	// Status returns the thread's final status. Valid once the
	// thread's context is in a terminal state.
	Status() dt.Status
}

// Totals is a job's aggregated accounting at one reporting event.
type Totals struct {
	Passes     int64
	FullPasses int64
	Errors     int64
	Bytes      int64
	Records    int64
}

// Tuning carries the per-job watchdog parameters.
type Tuning struct {
	// CheckInterval is the job's requested watchdog poll interval.
	// The watchdog runs at the minimum across live jobs.
	CheckInterval time.Duration
	// TermWait is how long a stop request may go unhonored before the
	// watchdog forcibly cancels the stuck threads.
	TermWait time.Duration
	// NoProgress is the idle threshold for the no-progress diagnostic.
	// Zero disables it.
	NoProgress time.Duration
	// KeepaliveInterval is how often the periodic status message is
	// emitted per thread. Zero disables keepalives.
	KeepaliveInterval time.Duration
	// KeepaliveTemplate is the operator message template; empty uses
	// the engine default.
	KeepaliveTemplate string
	// Runtime is the wall-clock budget for member threads. Zero means
	// no budget.
	Runtime time.Duration
	// AbortOnError stops the whole job (cooperatively) as soon as any
	// member thread fails.
	AbortOnError bool
}

// Job is a named, identified group of worker threads spawned together.
// The job's own lock guards state transitions; registry membership is
// guarded separately by the registry lock.
type Job struct {
	ID  int64
	Tag string

	Tuning Tuning

	mu      sync.Mutex
	state   State
	threads []Thread
	stopAt  time.Time
	status  dt.Status
	totals  Totals
	pending int
	started chan struct{}
	done    chan struct{}

	createdAt time.Time
}

// New creates a job in the Initiated state.
func New(id int64, tag string, tuning Tuning) *Job {
	return &Job{
		ID:        id,
		Tag:       tag,
		Tuning:    tuning,
		state:     Initiated,
		started:   make(chan struct{}),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
}

// AddThread registers a member thread. Called only during initiate,
// before the job is visible to the watchdog.
func (j *Job) AddThread(t Thread) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.threads = append(j.threads, t)
	j.pending++
}

// Threads returns a snapshot of the member threads.
func (j *Job) Threads() []Thread {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Thread, len(j.threads))
	copy(out, j.threads)
	return out
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// CreatedAt returns when the job was initiated.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// Start releases the job into the Running state (or Paused, if the job
// was created paused). Worker threads observe the matching context
// state at their first checkpoint.
func (j *Job) Start(paused bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Initiated {
		return
	}
	if paused {
		j.state = Paused
		// Member contexts must already be paused when the barrier opens,
		// or a thread could sample the job state first and start I/O.
		for _, t := range j.threads {
			t.Context().TrySetState(device.Paused)
		}
	} else {
		j.state = Running
	}
	j.releaseLocked()
}

// StartupBarrier blocks a worker thread until the job has been
// released by Start. Threads spawned during initiate park here so none
// begins I/O before every sibling's setup succeeded.
func (j *Job) StartupBarrier() {
	<-j.started
}

// releaseLocked opens the startup barrier. Safe to call more than
// once; callers hold j.mu.
func (j *Job) releaseLocked() {
	select {
	case <-j.started:
	default:
		close(j.started)
	}
}

// Pause transitions every member context into the paused state.
// Pausing an already-paused job is a no-op; threads honor the pause at
// their next pass boundary, never mid-operation.
func (j *Job) Pause() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.state {
	case Paused:
		return nil
	case Running:
	default:
		return dt.ErrInvalidState
	}

	j.state = Paused
	for _, t := range j.threads {
		t.Context().TrySetState(device.Paused)
	}
	return nil
}

// Resume transitions every paused member context back to running. It is
// the exact reciprocal of Pause and a no-op on a running job.
func (j *Job) Resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.state {
	case Running:
		return nil
	case Paused:
	default:
		return dt.ErrInvalidState
	}

	j.state = Running
	for _, t := range j.threads {
		t.Context().TrySetState(device.Running)
	}
	return nil
}

// Stop requests cooperative termination. Member threads observe the
// terminating flag at their next checkpoint and unwind through the
// normal finish path, reporting statistics once.
func (j *Job) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.state {
	case Terminating, Finished:
		return nil
	case Initiated, Running, Paused:
	}

	j.state = Terminating
	j.stopAt = time.Now()
	j.releaseLocked()
	for _, t := range j.threads {
		t.Context().TrySetState(device.Terminating)
	}
	return nil
}

// StopRequestedAt returns when Stop was called, or the zero time.
func (j *Job) StopRequestedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopAt
}

// Cancel forcibly cancels every member thread. Not a normal
// termination path: the watchdog uses it for threads that failed to
// honor a stop within the terminate wait. Final statistics are still
// gathered exactly once per thread.
func (j *Job) Cancel() {
	j.mu.Lock()
	j.releaseLocked()
	j.mu.Unlock()
	for _, t := range j.Threads() {
		t.Cancel()
	}
}

// ThreadDone folds one finished thread's status into the job. The last
// thread seals the totals and moves the job to Finished; ThreadDone
// reports whether this call finished the job.
func (j *Job) ThreadDone(status dt.Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = dt.Merge(j.status, status.Normalize())
	j.pending--
	if j.pending > 0 {
		return false
	}

	j.totals = j.aggregateLocked()
	j.state = Finished
	close(j.done)
	return true
}

// Wait blocks until every member thread reaches the finished state,
// then returns the job's final status. The totals observed afterwards
// are final, never partial.
func (j *Job) Wait(ctx context.Context) (dt.Status, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return dt.Failure, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, nil
}

// Done exposes the completion channel for select-based waiters.
func (j *Job) Done() <-chan struct{} { return j.done }

// Status returns the job's merged status so far.
func (j *Job) Status() dt.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Totals aggregates member-context counters. For a finished job it
// returns the sealed totals; otherwise it sums the live counters at
// this instant. Each reporting event aggregates exactly once.
func (j *Job) Totals() Totals {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == Finished {
		return j.totals
	}
	return j.aggregateLocked()
}

func (j *Job) aggregateLocked() Totals {
	var t Totals
	for _, th := range j.threads {
		c := th.Context()
		t.Passes += c.Passes.Load()
		t.FullPasses += c.FullPasses.Load()
		t.Errors += c.Errors.Load()
		t.Bytes += c.Bytes.Load()
		t.Records += c.Records.Load()
	}
	return t
}
