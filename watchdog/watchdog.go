// Package watchdog runs the engine's single monitoring goroutine. One
// goroutine watches every live job: it emits keepalive messages,
// detects threads that stopped making progress, enforces runtime
// budgets, and forcibly cancels threads that ignore a stop request
// past the terminate wait. All thread observation is done through
// lock-free context reads so a wedged worker can never wedge the
// watchdog.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/ext"
	"github.com/RobinTMiller/dt-sub002/job"
	"github.com/RobinTMiller/dt-sub002/keepalive"
)

// Action is a trigger's verdict on a no-progress thread.
type Action int

const (
	// Continue takes no action; the trigger fires again next time the
	// threshold trips.
	Continue Action = iota
	// Terminate cooperatively stops the thread's job.
	Terminate
	// Sleep suppresses further triggers for this thread.
	Sleep
	// Abort cooperatively stops every job.
	Abort
)

// Event describes the thread a trigger is being consulted about.
type Event struct {
	JobID  int64
	Tag    string
	Device string
	Thread int
	Op     device.Op
	Record int64
	Idle   time.Duration
}

// Trigger is an operator hook consulted when a thread trips the
// no-progress threshold. It runs on a helper goroutine, never on the
// watchdog itself, so a slow trigger (a script, an HTTP call) cannot
// stall monitoring. At most one trigger per thread is in flight.
type Trigger func(ctx context.Context, ev Event) Action

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithTrigger installs the no-progress trigger.
func WithTrigger(t Trigger) Option {
	return func(w *Watchdog) { w.trigger = t }
}

// WithAbort installs the callback the Abort action invokes.
func WithAbort(fn func()) Option {
	return func(w *Watchdog) { w.abort = fn }
}

// Watchdog is the monitoring goroutine's state. Construct with New,
// then Start; Stop blocks until the goroutine exits.
type Watchdog struct {
	cfg     dt.Config
	reg     *job.Registry
	hooks   *ext.Registry
	logger  *slog.Logger
	trigger Trigger
	abort   func()

	stopCh chan struct{}
	doneCh chan struct{}

	// Per-thread bookkeeping, touched only by the watchdog goroutine
	// and the trigger helpers (mu guards the trigger maps).
	mu       sync.Mutex
	inFlight map[*device.Context]bool
	asleep   map[*device.Context]bool

	lastKeep  map[*device.Context]time.Time
	stuckFrom map[*device.Context]time.Time
}

// New builds a watchdog over the given registry. Hooks may be nil.
func New(cfg dt.Config, reg *job.Registry, hooks *ext.Registry, logger *slog.Logger, opts ...Option) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watchdog{
		cfg:       cfg,
		reg:       reg,
		hooks:     hooks,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		inFlight:  make(map[*device.Context]bool),
		asleep:    make(map[*device.Context]bool),
		lastKeep:  make(map[*device.Context]time.Time),
		stuckFrom: make(map[*device.Context]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the monitoring goroutine.
func (w *Watchdog) Start() {
	go w.loop()
}

// Stop terminates the monitoring goroutine and waits for it to exit.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// loop wakes at the minimum check interval across live jobs. The
// interval is re-derived every wake so a newly initiated job with a
// smaller request takes effect within one cycle; it is never raised
// while any job still holds a smaller request.
func (w *Watchdog) loop() {
	defer close(w.doneCh)

	timer := time.NewTimer(w.interval())
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case now := <-timer.C:
			w.check(now)
			timer.Reset(w.interval())
		}
	}
}

func (w *Watchdog) interval() time.Duration {
	return w.reg.MinCheckInterval(w.cfg.PollInterval)
}

// check is one monitoring sweep over the registry snapshot.
func (w *Watchdog) check(now time.Time) {
	jobs := w.reg.Jobs()
	if len(jobs) == 0 {
		return
	}
	for _, j := range jobs {
		switch j.State() {
		case job.Finished:
			w.forget(j)
		case job.Terminating:
			w.checkTerminating(j, now)
		case job.Running, job.Paused:
			w.checkRunning(j, now)
		}
	}
}

// forget drops per-thread bookkeeping for a finished job.
func (w *Watchdog) forget(j *job.Job) {
	for _, t := range j.Threads() {
		c := t.Context()
		delete(w.lastKeep, c)
		delete(w.stuckFrom, c)
		w.mu.Lock()
		delete(w.asleep, c)
		w.mu.Unlock()
	}
}

// termWait resolves the job's terminate wait, falling back to the
// engine default.
func (w *Watchdog) termWait(j *job.Job) time.Duration {
	if j.Tuning.TermWait > 0 {
		return j.Tuning.TermWait
	}
	return w.cfg.TermWait
}

// checkTerminating handles a job whose stop request is outstanding.
// Once the terminate wait elapses, every thread still not terminal is
// reported (totals first, so a hang never loses statistics) and the
// whole job is force-cancelled.
func (w *Watchdog) checkTerminating(j *job.Job, now time.Time) {
	stopAt := j.StopRequestedAt()
	if stopAt.IsZero() {
		return
	}
	waited := now.Sub(stopAt)
	if waited < w.termWait(j) {
		return
	}
	// A trigger consultation still in flight for a member defers the
	// force-cancel to the next sweep; its verdict may settle the job.
	if w.triggerInFlight(j.Threads()) {
		return
	}

	hung := false
	for _, t := range j.Threads() {
		c := t.Context()
		if c.State().Terminal() {
			continue
		}
		hung = true
		w.reportTotals(c)
		op, rec := c.CurrentOp()
		w.logger.Error("thread has NOT terminated, cancelling",
			slog.Int64("job", j.ID),
			slog.String("device", c.Name),
			slog.Int("thread", c.Thread),
			slog.String("operation", op.String()),
			slog.Int64("record", rec),
			slog.Int64("seconds", int64(waited.Seconds())),
		)
		if w.hooks != nil {
			w.hooks.EmitThreadHung(context.Background(), c, waited)
		}
	}
	if hung {
		j.Cancel()
	}
}

// triggerInFlight reports whether any of the given threads has a
// trigger consultation outstanding.
func (w *Watchdog) triggerInFlight(threads []job.Thread) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range threads {
		if w.inFlight[t.Context()] {
			return true
		}
	}
	return false
}

// checkRunning handles a live job: runtime budget, abort-on-error,
// then per-thread no-progress, keepalive, and stuck-thread checks.
func (w *Watchdog) checkRunning(j *job.Job, now time.Time) {
	if r := j.Tuning.Runtime; r > 0 && now.Sub(j.CreatedAt()) > r {
		w.logger.Info("runtime budget reached, stopping job",
			slog.Int64("job", j.ID),
			slog.Duration("runtime", r),
		)
		_ = j.Stop()
		return
	}

	for _, t := range j.Threads() {
		c := t.Context()
		switch c.State() {
		case device.Running:
			if j.Tuning.AbortOnError && c.Errors.Load() > 0 {
				w.logger.Warn("thread reported errors, aborting job",
					slog.Int64("job", j.ID),
					slog.Int("thread", c.Thread),
					slog.Int64("errors", c.Errors.Load()),
				)
				_ = j.Stop()
				return
			}
			w.checkProgress(j, c, now)
			w.emitKeepalive(j, c, now)
		case device.Terminating:
			// A lone stopping thread in an otherwise running job gets
			// the same stuck-thread treatment, scoped to the thread.
			w.checkStuckThread(j, t, now)
		}
	}
}

// noProgress resolves the job's idle threshold, falling back to the
// engine default. Zero disables the check.
func (w *Watchdog) noProgress(j *job.Job) time.Duration {
	if j.Tuning.NoProgress > 0 {
		return j.Tuning.NoProgress
	}
	return w.cfg.NoProgressThreshold
}

// checkProgress emits the no-progress diagnostic and consults the
// trigger when a thread's last activity is older than the threshold.
func (w *Watchdog) checkProgress(j *job.Job, c *device.Context, now time.Time) {
	np := w.noProgress(j)
	if np <= 0 {
		return
	}
	last := c.LastActive()
	if last.IsZero() {
		return
	}
	idle := now.Sub(last)
	if idle < np {
		return
	}

	op, rec := c.CurrentOp()
	w.logger.Warn("thread has made no progress",
		slog.Int64("job", j.ID),
		slog.String("device", c.Name),
		slog.Int("thread", c.Thread),
		slog.String("operation", op.String()),
		slog.Int64("record", rec),
		slog.Duration("idle", idle),
	)
	if w.hooks != nil {
		w.hooks.EmitThreadNoProgress(context.Background(), c, idle)
	}
	w.fireTrigger(j, c, Event{
		JobID:  j.ID,
		Tag:    j.Tag,
		Device: c.Name,
		Thread: c.Thread,
		Op:     op,
		Record: rec,
		Idle:   idle,
	})
}

// fireTrigger consults the trigger on a helper goroutine. The
// in-flight gate keeps one consultation per thread; Sleep verdicts
// silence the thread permanently.
func (w *Watchdog) fireTrigger(j *job.Job, c *device.Context, ev Event) {
	if w.trigger == nil {
		return
	}
	w.mu.Lock()
	if w.asleep[c] || w.inFlight[c] {
		w.mu.Unlock()
		return
	}
	w.inFlight[c] = true
	w.mu.Unlock()

	go func() {
		act := w.trigger(context.Background(), ev)

		w.mu.Lock()
		delete(w.inFlight, c)
		if act == Sleep {
			w.asleep[c] = true
		}
		w.mu.Unlock()

		switch act {
		case Terminate:
			_ = j.Stop()
		case Abort:
			if w.abort != nil {
				w.abort()
			}
		}
	}()
}

// keepaliveInterval resolves the job's message interval, falling back
// to the engine default. Zero disables keepalives.
func (w *Watchdog) keepaliveInterval(j *job.Job) time.Duration {
	if j.Tuning.KeepaliveInterval > 0 {
		return j.Tuning.KeepaliveInterval
	}
	return w.cfg.KeepaliveInterval
}

// emitKeepalive logs the periodic operator status message.
func (w *Watchdog) emitKeepalive(j *job.Job, c *device.Context, now time.Time) {
	ki := w.keepaliveInterval(j)
	if ki <= 0 {
		return
	}
	if last, ok := w.lastKeep[c]; ok && now.Sub(last) < ki {
		return
	}
	w.lastKeep[c] = now

	op, _ := c.CurrentOp()
	started := c.StartedAt()
	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = now.Sub(started)
	}
	msg := keepalive.Format(j.Tuning.KeepaliveTemplate, keepalive.Snapshot{
		Device:    c.Name,
		Thread:    c.Thread,
		JobID:     j.ID,
		Tag:       j.Tag,
		Operation: op.String(),
		Pass:      c.Passes.Load() + 1,
		Passes:    c.Limits.Passes,
		Errors:    c.Errors.Load(),
		Bytes:     c.Bytes.Load(),
		Records:   c.Records.Load(),
		Elapsed:   elapsed,
	})
	w.logger.Info(msg)
}

// checkStuckThread cancels a single thread that has ignored its stop
// request past the terminate wait, without disturbing its running
// siblings.
func (w *Watchdog) checkStuckThread(j *job.Job, t job.Thread, now time.Time) {
	c := t.Context()
	from, ok := w.stuckFrom[c]
	if !ok {
		w.stuckFrom[c] = now
		return
	}
	waited := now.Sub(from)
	if waited < w.termWait(j) {
		return
	}
	if w.triggerInFlight([]job.Thread{t}) {
		return
	}

	w.reportTotals(c)
	op, rec := c.CurrentOp()
	w.logger.Error("thread has NOT terminated, cancelling",
		slog.Int64("job", j.ID),
		slog.String("device", c.Name),
		slog.Int("thread", c.Thread),
		slog.String("operation", op.String()),
		slog.Int64("record", rec),
		slog.Int64("seconds", int64(waited.Seconds())),
	)
	if w.hooks != nil {
		w.hooks.EmitThreadHung(context.Background(), c, waited)
	}
	delete(w.stuckFrom, c)
	t.Cancel()
}

// reportTotals logs a thread's cumulative statistics. Called before a
// forced cancel so a hang never loses accounting.
func (w *Watchdog) reportTotals(c *device.Context) {
	w.logger.Info("thread totals",
		slog.String("device", c.Name),
		slog.Int("thread", c.Thread),
		slog.Int64("passes", c.Passes.Load()),
		slog.Int64("full_passes", c.FullPasses.Load()),
		slog.Int64("errors", c.Errors.Load()),
		slog.Int64("bytes", c.Bytes.Load()),
		slog.Int64("records", c.Records.Load()),
	)
}
