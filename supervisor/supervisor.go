// Package supervisor is the engine's job control surface. A Supervisor
// owns the job registry, the hook registry, the retry executor, and
// the watchdog; callers initiate jobs from device templates and then
// pause, resume, stop, cancel, query, and wait on them by id or tag.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/ext"
	"github.com/RobinTMiller/dt-sub002/fsprobe"
	"github.com/RobinTMiller/dt-sub002/job"
	"github.com/RobinTMiller/dt-sub002/middleware"
	"github.com/RobinTMiller/dt-sub002/retry"
	"github.com/RobinTMiller/dt-sub002/watchdog"
	"github.com/RobinTMiller/dt-sub002/worker"
)

// Workload names the pass-loop variant a job runs.
type Workload string

const (
	// WorkloadTest writes the per-pass pattern to one device and
	// optionally verifies it by read-back.
	WorkloadTest Workload = "test"
	// WorkloadCopy streams records from the template device to the
	// pair device, optionally comparing afterwards.
	WorkloadCopy Workload = "copy"
	// WorkloadMirror writes the same pattern to both devices and
	// verifies each side.
	WorkloadMirror Workload = "mirror"
)

// JobSpec describes one job to initiate.
type JobSpec struct {
	// Template configures the (controlling) device contexts.
	Template *device.Template
	// PairTemplate configures the output side of copy and mirror
	// workloads. Required for those, ignored for plain tests.
	PairTemplate *device.Template
	// Threads is the number of worker threads to spawn.
	Threads int
	// Tag is an optional operator label; many jobs may share one.
	Tag string
	// Workload selects the pass-loop variant. Empty means WorkloadTest.
	Workload Workload
	// InitialPaused creates the job paused; threads park at their
	// first checkpoint until Resume.
	InitialPaused bool
	// Patterns overrides the pattern generator for this job's passes.
	// Nil falls back to the supervisor-wide factory, then the engine
	// default.
	Patterns worker.PatternFactory
	// Tuning carries the per-job watchdog parameters.
	Tuning job.Tuning
}

// Selector addresses jobs by id or by tag. An id selects exactly one
// job; a tag selects every job carrying it.
type Selector struct {
	ID  int64
	Tag string
}

// ByID selects the single job with the given id.
func ByID(id int64) Selector { return Selector{ID: id} }

// ByTag selects every job carrying the given tag.
func ByTag(tag string) Selector { return Selector{Tag: tag} }

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithExtensions registers hook extensions at construction.
func WithExtensions(exts ...ext.Extension) Option {
	return func(s *Supervisor) { s.pendingExts = append(s.pendingExts, exts...) }
}

// WithMiddleware sets the elemental-operation middleware chain applied
// to every worker.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Supervisor) { s.mw = mws }
}

// WithProber overrides the filesystem space prober used for no-space
// recovery. Defaults to the OS prober.
func WithProber(p fsprobe.Prober) Option {
	return func(s *Supervisor) { s.prober = p }
}

// WithTrigger installs the watchdog's no-progress trigger.
func WithTrigger(t watchdog.Trigger) Option {
	return func(s *Supervisor) { s.trigger = t }
}

// WithPatternFactory overrides how per-pass pattern generators are
// built for every worker.
func WithPatternFactory(f worker.PatternFactory) Option {
	return func(s *Supervisor) { s.patterns = f }
}

// Supervisor owns the engine's runtime state. Construct with New,
// Start before initiating jobs, Shutdown to tear down.
type Supervisor struct {
	cfg    dt.Config
	logger *slog.Logger

	reg      *job.Registry
	hooks    *ext.Registry
	exec     *retry.Executor
	wd       *watchdog.Watchdog
	prober   fsprobe.Prober
	mw       []middleware.Middleware
	trigger  watchdog.Trigger
	patterns worker.PatternFactory

	pendingExts []ext.Extension

	started     atomic.Bool
	terminating atomic.Bool
	shutdownOne sync.Once
}

// New builds a Supervisor with the given engine configuration.
func New(cfg dt.Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		logger: slog.Default(),
		reg:    job.NewRegistry(),
		prober: fsprobe.OS{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hooks = ext.NewRegistry(s.logger)
	for _, e := range s.pendingExts {
		s.hooks.Register(e)
	}
	s.exec = retry.NewExecutor(s.logger,
		retry.WithHooks(s.hooks),
		retry.WithTerminating(s.terminating.Load),
	)
	s.wd = watchdog.New(cfg, s.reg, s.hooks, s.logger,
		watchdog.WithTrigger(s.trigger),
		watchdog.WithAbort(func() { _ = s.StopAll() }),
	)
	return s
}

// Hooks exposes the extension registry for late registration.
func (s *Supervisor) Hooks() *ext.Registry { return s.hooks }

// Start launches the watchdog. Idempotent.
func (s *Supervisor) Start() {
	if s.started.CompareAndSwap(false, true) {
		s.wd.Start()
	}
}

// validate rejects structurally unusable specs before any device is
// touched.
func validate(spec JobSpec) error {
	if spec.Template == nil {
		return fmt.Errorf("%w: nil device template", dt.ErrSetupFailed)
	}
	if spec.Template.Backend == nil {
		return fmt.Errorf("%w: nil backend factory", dt.ErrSetupFailed)
	}
	if spec.Threads <= 0 {
		return fmt.Errorf("%w: thread count %d", dt.ErrSetupFailed, spec.Threads)
	}
	if spec.Template.BlockSize <= 0 {
		return fmt.Errorf("%w: block size %d", dt.ErrSetupFailed, spec.Template.BlockSize)
	}
	switch spec.Workload {
	case "", WorkloadTest:
	case WorkloadCopy, WorkloadMirror:
		if spec.PairTemplate == nil {
			return fmt.Errorf("%w: %s workload requires a pair template", dt.ErrSetupFailed, spec.Workload)
		}
		if spec.PairTemplate.Backend == nil {
			return fmt.Errorf("%w: nil pair backend factory", dt.ErrSetupFailed)
		}
	default:
		return fmt.Errorf("%w: unknown workload %q", dt.ErrSetupFailed, spec.Workload)
	}
	return nil
}

// threadSetup is one thread's opened device state during initiate.
type threadSetup struct {
	dctx   *device.Context
	be     device.Backend
	pair   *device.Context
	pairBE device.Backend
}

// Initiate creates a job from the spec and returns its id. Device
// setup runs in parallel across threads; if any thread's setup fails,
// every already-created backend is torn down synchronously and the
// error is returned with no threads left running. Threads spawned here
// park on the job's startup barrier until every sibling succeeded, so
// no partial job ever performs I/O.
func (s *Supervisor) Initiate(ctx context.Context, spec JobSpec) (int64, error) {
	if s.terminating.Load() {
		return 0, dt.ErrTerminating
	}
	if err := validate(spec); err != nil {
		return 0, err
	}

	id := s.reg.NextID()
	j := job.New(id, spec.Tag, spec.Tuning)

	setups := make([]threadSetup, spec.Threads)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < spec.Threads; i++ {
		g.Go(func() error {
			st, err := s.setupThread(gctx, spec, id, i)
			if err != nil {
				return err
			}
			setups[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.teardown(setups)
		return 0, fmt.Errorf("%w: job %d: %v", dt.ErrSetupFailed, id, err)
	}

	wl := s.workloadFor(spec.Workload)
	for i := range setups {
		st := &setups[i]
		opts := []worker.Option{
			worker.WithHooks(s.hooks),
			worker.WithExecutor(s.exec),
			worker.WithProber(s.prober),
			worker.WithMiddleware(s.mw...),
			worker.WithVerify(spec.Template.Verify),
			worker.WithStopOnFile(spec.Template.StopOnFile),
		}
		if st.pair != nil {
			opts = append(opts, worker.WithPair(st.pair, st.pairBE))
		}
		switch {
		case spec.Patterns != nil:
			opts = append(opts, worker.WithPatternFactory(spec.Patterns))
		case s.patterns != nil:
			opts = append(opts, worker.WithPatternFactory(s.patterns))
		}
		w := worker.New(j, st.dctx, st.be, wl, s.logger, opts...)
		j.AddThread(w)
		w.Start()
	}

	if err := s.reg.Insert(j); err != nil {
		j.Cancel()
		return 0, err
	}
	s.hooks.EmitJobInitiated(ctx, id, spec.Tag, spec.Threads)
	s.logger.Info("job initiated",
		slog.Int64("job", id),
		slog.String("tag", spec.Tag),
		slog.Int("threads", spec.Threads),
		slog.String("workload", string(s.workloadName(spec.Workload))),
	)

	j.Start(spec.InitialPaused)
	return id, nil
}

// setupThread opens one thread's backend(s), tearing down the first on
// pair failure.
func (s *Supervisor) setupThread(ctx context.Context, spec JobSpec, id int64, thread int) (threadSetup, error) {
	var st threadSetup

	st.dctx = spec.Template.NewContext(thread)
	st.dctx.JobID = id
	st.dctx.Tag = spec.Tag

	be, err := spec.Template.Backend(thread)
	if err != nil {
		return st, fmt.Errorf("thread %d: %w", thread, err)
	}
	st.be = be

	if spec.PairTemplate == nil {
		return st, nil
	}
	st.pair = spec.PairTemplate.NewContext(thread)
	st.pair.JobID = id
	st.pair.Tag = spec.Tag

	pbe, err := spec.PairTemplate.Backend(thread)
	if err != nil {
		_ = be.Close(ctx)
		return st, fmt.Errorf("thread %d pair: %w", thread, err)
	}
	st.pairBE = pbe
	return st, nil
}

// teardown closes every backend a failed initiate managed to open.
func (s *Supervisor) teardown(setups []threadSetup) {
	ctx := context.Background()
	for i := range setups {
		if setups[i].be != nil {
			_ = setups[i].be.Close(ctx)
		}
		if setups[i].pairBE != nil {
			_ = setups[i].pairBE.Close(ctx)
		}
	}
}

func (s *Supervisor) workloadFor(kind Workload) worker.Workload {
	switch kind {
	case WorkloadCopy:
		return worker.Copy{}
	case WorkloadMirror:
		return worker.Mirror{}
	default:
		return worker.PlainTest{}
	}
}

func (s *Supervisor) workloadName(kind Workload) Workload {
	if kind == "" {
		return WorkloadTest
	}
	return kind
}

// selectJobs resolves a selector against the registry.
func (s *Supervisor) selectJobs(sel Selector) ([]*job.Job, error) {
	if sel.ID != 0 {
		j, ok := s.reg.Find(sel.ID)
		if !ok {
			return nil, dt.ErrJobNotFound
		}
		return []*job.Job{j}, nil
	}
	jobs := s.reg.FindByTag(sel.Tag)
	if len(jobs) == 0 {
		return nil, dt.ErrJobNotFound
	}
	return jobs, nil
}

// Pause moves the selected jobs to the paused state. Member threads
// honor the pause at their next pass boundary, never mid-operation.
// Pausing an already-paused job is a no-op.
func (s *Supervisor) Pause(sel Selector) error {
	jobs, err := s.selectJobs(sel)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if perr := j.Pause(); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

// Resume moves the selected paused jobs back to running.
func (s *Supervisor) Resume(sel Selector) error {
	jobs, err := s.selectJobs(sel)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if rerr := j.Resume(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// Stop requests cooperative termination of the selected jobs. Threads
// unwind through the normal finish path; the watchdog force-cancels
// any that ignore the request past the terminate wait.
func (s *Supervisor) Stop(sel Selector) error {
	jobs, err := s.selectJobs(sel)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		_ = j.Stop()
	}
	return nil
}

// Cancel forcibly cancels the selected jobs. Normally the watchdog's
// job; exposed for hard shutdown paths.
func (s *Supervisor) Cancel(sel Selector) error {
	jobs, err := s.selectJobs(sel)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		j.Cancel()
	}
	return nil
}

// Wait blocks until every selected job finishes, then returns the
// severest final status across them. The totals observable afterwards
// are final.
func (s *Supervisor) Wait(ctx context.Context, sel Selector) (dt.Status, error) {
	jobs, err := s.selectJobs(sel)
	if err != nil {
		return dt.Failure, err
	}
	status := dt.Success
	for _, j := range jobs {
		st, werr := j.Wait(ctx)
		if werr != nil {
			return dt.Failure, werr
		}
		status = dt.Merge(status, st)
	}
	return status, nil
}

// StopAll requests cooperative termination of every live job.
func (s *Supervisor) StopAll() error {
	for _, j := range s.reg.Jobs() {
		_ = j.Stop()
	}
	return nil
}

// CancelAll forcibly cancels every live job.
func (s *Supervisor) CancelAll() {
	for _, j := range s.reg.Jobs() {
		j.Cancel()
	}
}

// WaitAll blocks until every live job finishes and returns the
// severest status.
func (s *Supervisor) WaitAll(ctx context.Context) (dt.Status, error) {
	status := dt.Success
	for _, j := range s.reg.Jobs() {
		st, err := j.Wait(ctx)
		if err != nil {
			return dt.Failure, err
		}
		status = dt.Merge(status, st)
	}
	return status, nil
}

// Remove drops a finished job from the registry. Removing a live job
// is refused.
func (s *Supervisor) Remove(id int64) error {
	j, ok := s.reg.Find(id)
	if !ok {
		return dt.ErrJobNotFound
	}
	if j.State() != job.Finished {
		return dt.ErrInvalidState
	}
	s.reg.Remove(id)
	return nil
}

// Shutdown stops every job cooperatively, waits up to the configured
// shutdown timeout, then force-cancels stragglers. The watchdog is
// stopped last so hung threads are still reported during the drain.
// Safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOne.Do(func() {
		s.terminating.Store(true)
		_ = s.StopAll()

		dctx := ctx
		if s.cfg.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
			defer cancel()
		}
		if _, werr := s.WaitAll(dctx); werr != nil {
			s.logger.Warn("graceful drain expired, cancelling remaining jobs")
			s.CancelAll()
			_, _ = s.WaitAll(ctx)
		}

		if s.started.Load() {
			s.wd.Stop()
		}
		s.hooks.EmitShutdown(ctx)
	})
	return err
}

// Info is a read-only snapshot of one job.
type Info struct {
	ID        int64
	Tag       string
	State     job.State
	Status    dt.Status
	CreatedAt time.Time
	Totals    job.Totals
	Threads   []ThreadInfo
}

// ThreadInfo is a read-only snapshot of one member thread.
type ThreadInfo struct {
	Device  string
	Thread  int
	State   device.ThreadState
	Op      device.Op
	Record  int64
	Passes  int64
	Errors  int64
	Bytes   int64
	Records int64
}

// Query returns snapshots of the selected jobs, in initiation order.
func (s *Supervisor) Query(sel Selector) ([]Info, error) {
	jobs, err := s.selectJobs(sel)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, snapshot(j))
	}
	return out, nil
}

// QueryAll returns snapshots of every registered job.
func (s *Supervisor) QueryAll() []Info {
	jobs := s.reg.Jobs()
	out := make([]Info, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, snapshot(j))
	}
	return out
}

func snapshot(j *job.Job) Info {
	info := Info{
		ID:        j.ID,
		Tag:       j.Tag,
		State:     j.State(),
		Status:    j.Status(),
		CreatedAt: j.CreatedAt(),
		Totals:    j.Totals(),
	}
	for _, t := range j.Threads() {
		c := t.Context()
		op, rec := c.CurrentOp()
		info.Threads = append(info.Threads, ThreadInfo{
			Device:  c.Name,
			Thread:  c.Thread,
			State:   c.State(),
			Op:      op,
			Record:  rec,
			Passes:  c.Passes.Load(),
			Errors:  c.Errors.Load(),
			Bytes:   c.Bytes.Load(),
			Records: c.Records.Load(),
		})
	}
	return info
}
