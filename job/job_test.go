package job_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/job"
)

// fakeThread satisfies job.Thread with a plain context and a
// cancellation counter.
type fakeThread struct {
	ctx     *device.Context
	cancels atomic.Int32
	status  dt.Status
}

func newFakeThread(thread int) *fakeThread {
	tmpl := &device.Template{Name: "/tmp/dt.dat", BlockSize: 512}
	return &fakeThread{ctx: tmpl.NewContext(thread)}
}

func (f *fakeThread) Context() *device.Context { return f.ctx }
func (f *fakeThread) Cancel()                  { f.cancels.Add(1); f.ctx.ForceCancel() }
func (f *fakeThread) Status() dt.Status        { return f.status }

func newJob(t *testing.T, threads int) (*job.Job, []*fakeThread) {
	t.Helper()
	j := job.New(1, "", job.Tuning{})
	fakes := make([]*fakeThread, threads)
	for i := range fakes {
		fakes[i] = newFakeThread(i)
		j.AddThread(fakes[i])
	}
	return j, fakes
}

func TestStart_ReleasesBarrierRunning(t *testing.T) {
	j, _ := newJob(t, 1)

	released := make(chan struct{})
	go func() {
		j.StartupBarrier()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("barrier open before Start")
	case <-time.After(20 * time.Millisecond):
	}

	j.Start(false)
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("barrier still closed after Start")
	}
	if got := j.State(); got != job.Running {
		t.Errorf("State() = %v, want %v", got, job.Running)
	}
}

func TestStart_Paused(t *testing.T) {
	j, fakes := newJob(t, 2)
	j.Start(true)
	if got := j.State(); got != job.Paused {
		t.Errorf("State() = %v, want %v", got, job.Paused)
	}
	// Member contexts pause with the job, so a thread released by the
	// barrier can never sample a pre-start state and begin I/O.
	for i, f := range fakes {
		if got := f.ctx.State(); got != device.Paused {
			t.Errorf("thread %d state = %v, want %v", i, got, device.Paused)
		}
	}
}

func TestPause_IsIdempotent(t *testing.T) {
	j, fakes := newJob(t, 2)
	j.Start(false)
	for _, f := range fakes {
		f.ctx.TrySetState(device.Running)
	}

	if err := j.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := j.Pause(); err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if got := j.State(); got != job.Paused {
		t.Errorf("State() = %v, want %v", got, job.Paused)
	}
	for i, f := range fakes {
		if got := f.ctx.State(); got != device.Paused {
			t.Errorf("thread %d state = %v, want %v", i, got, device.Paused)
		}
	}
}

func TestResume_IsReciprocalOfPause(t *testing.T) {
	j, fakes := newJob(t, 2)
	j.Start(false)
	for _, f := range fakes {
		f.ctx.TrySetState(device.Running)
	}

	if err := j.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := j.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := j.Resume(); err != nil {
		t.Fatalf("Resume on running job: %v", err)
	}
	for i, f := range fakes {
		if got := f.ctx.State(); got != device.Running {
			t.Errorf("thread %d state = %v, want %v", i, got, device.Running)
		}
	}
}

func TestPause_RefusedOnTerminatingJob(t *testing.T) {
	j, _ := newJob(t, 1)
	j.Start(false)
	if err := j.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := j.Pause(); !errors.Is(err, dt.ErrInvalidState) {
		t.Errorf("Pause on terminating job = %v, want ErrInvalidState", err)
	}
	if err := j.Resume(); !errors.Is(err, dt.ErrInvalidState) {
		t.Errorf("Resume on terminating job = %v, want ErrInvalidState", err)
	}
}

func TestStop_SetsTerminatingEverywhere(t *testing.T) {
	j, fakes := newJob(t, 3)
	j.Start(false)
	for _, f := range fakes {
		f.ctx.TrySetState(device.Running)
	}

	before := time.Now()
	if err := j.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := j.State(); got != job.Terminating {
		t.Errorf("State() = %v, want %v", got, job.Terminating)
	}
	if at := j.StopRequestedAt(); at.Before(before) {
		t.Errorf("StopRequestedAt() = %v, want >= %v", at, before)
	}
	for i, f := range fakes {
		if got := f.ctx.State(); got != device.Terminating {
			t.Errorf("thread %d state = %v, want %v", i, got, device.Terminating)
		}
	}

	// A second stop is a no-op.
	if err := j.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestCancel_ReachesEveryThread(t *testing.T) {
	j, fakes := newJob(t, 3)
	j.Start(false)
	j.Cancel()
	for i, f := range fakes {
		if got := f.cancels.Load(); got != 1 {
			t.Errorf("thread %d cancelled %d times, want 1", i, got)
		}
	}
}

func TestThreadDone_LastThreadSealsTheJob(t *testing.T) {
	j, fakes := newJob(t, 3)
	j.Start(false)
	for i, f := range fakes {
		f.ctx.Bytes.Add(int64(100 * (i + 1)))
		f.ctx.Passes.Add(1)
	}

	if j.ThreadDone(dt.Success) {
		t.Error("first ThreadDone reported job finished")
	}
	if j.ThreadDone(dt.Failure) {
		t.Error("second ThreadDone reported job finished")
	}
	if !j.ThreadDone(dt.Success) {
		t.Error("last ThreadDone did not report job finished")
	}

	if got := j.State(); got != job.Finished {
		t.Errorf("State() = %v, want %v", got, job.Finished)
	}
	if got := j.Status(); got != dt.Failure {
		t.Errorf("Status() = %v, want %v (one member failed)", got, dt.Failure)
	}
	totals := j.Totals()
	if totals.Bytes != 600 {
		t.Errorf("Totals().Bytes = %d, want 600", totals.Bytes)
	}
	if totals.Passes != 3 {
		t.Errorf("Totals().Passes = %d, want 3", totals.Passes)
	}

	select {
	case <-j.Done():
	default:
		t.Error("Done() channel not closed after last thread")
	}
}

func TestThreadDone_EndOfDataNormalizes(t *testing.T) {
	j, _ := newJob(t, 1)
	j.Start(false)
	j.ThreadDone(dt.EndOfData)
	if got := j.Status(); got != dt.Success {
		t.Errorf("Status() = %v, want %v", got, dt.Success)
	}
}

func TestWait_HonorsContext(t *testing.T) {
	j, _ := newJob(t, 1)
	j.Start(false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := j.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait on unfinished job = %v, want deadline exceeded", err)
	}

	j.ThreadDone(dt.Success)
	status, err := j.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status != dt.Success {
		t.Errorf("Wait status = %v, want %v", status, dt.Success)
	}
}
