package device_test

import (
	"sync"
	"testing"
	"time"

	"github.com/RobinTMiller/dt-sub002/device"
)

func newContext(t *testing.T) *device.Context {
	t.Helper()
	tmpl := &device.Template{
		Name:      "/tmp/dt.dat",
		Mode:      device.WriteMode,
		Seed:      1,
		BlockSize: 4096,
		DataLimit: 65536,
	}
	return tmpl.NewContext(0)
}

func TestTrySetState_AllowedTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []device.ThreadState
		to   device.ThreadState
		want bool
	}{
		{"not-started to running", nil, device.Running, true},
		{"not-started to paused", nil, device.Paused, true},
		{"running to paused", []device.ThreadState{device.Running}, device.Paused, true},
		{"paused to running", []device.ThreadState{device.Paused}, device.Running, true},
		{"running to terminating", []device.ThreadState{device.Running}, device.Terminating, true},
		{"terminating to finished", []device.ThreadState{device.Running, device.Terminating}, device.Finished, true},
		{"terminating back to running", []device.ThreadState{device.Running, device.Terminating}, device.Running, false},
		{"finished to running", []device.ThreadState{device.Running, device.Finished}, device.Running, false},
		{"finished to terminating", []device.ThreadState{device.Running, device.Finished}, device.Terminating, false},
		{"same state is a no-op", []device.ThreadState{device.Running}, device.Running, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newContext(t)
			for _, s := range tt.path {
				if !c.TrySetState(s) {
					t.Fatalf("setup transition to %v refused", s)
				}
			}
			if got := c.TrySetState(tt.to); got != tt.want {
				t.Errorf("TrySetState(%v) = %v, want %v", tt.to, got, tt.want)
			}
		})
	}
}

func TestForceCancel_RefusedOnTerminalStates(t *testing.T) {
	c := newContext(t)
	c.TrySetState(device.Running)
	c.TrySetState(device.Finished)
	if c.ForceCancel() {
		t.Error("ForceCancel() on finished thread = true, want false")
	}

	c = newContext(t)
	c.TrySetState(device.Running)
	if !c.ForceCancel() {
		t.Fatal("ForceCancel() on running thread = false, want true")
	}
	if c.ForceCancel() {
		t.Error("second ForceCancel() = true, want false")
	}
	if got := c.State(); got != device.Cancelled {
		t.Errorf("State() = %v, want %v", got, device.Cancelled)
	}
}

func TestAwaitResume_BlocksWhilePaused(t *testing.T) {
	c := newContext(t)
	c.TrySetState(device.Paused)

	resumed := make(chan device.ThreadState, 1)
	var ready sync.WaitGroup
	ready.Add(1)
	go func() {
		ready.Done()
		resumed <- c.AwaitResume()
	}()
	ready.Wait()

	select {
	case st := <-resumed:
		t.Fatalf("AwaitResume returned %v while paused", st)
	case <-time.After(50 * time.Millisecond):
	}

	c.TrySetState(device.Running)
	select {
	case st := <-resumed:
		if st != device.Running {
			t.Errorf("AwaitResume() = %v, want %v", st, device.Running)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitResume did not wake after resume")
	}
}

func TestAwaitResume_WakesOnForceCancel(t *testing.T) {
	c := newContext(t)
	c.TrySetState(device.Paused)

	resumed := make(chan device.ThreadState, 1)
	go func() { resumed <- c.AwaitResume() }()

	time.Sleep(20 * time.Millisecond)
	c.ForceCancel()

	select {
	case st := <-resumed:
		if st != device.Cancelled {
			t.Errorf("AwaitResume() = %v, want %v", st, device.Cancelled)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitResume did not wake after cancel")
	}
}

func TestLimits_EffectiveMinimums(t *testing.T) {
	var l device.Limits
	if got := l.ErrorLimit(); got != 1 {
		t.Errorf("zero-value ErrorLimit() = %d, want 1", got)
	}
	if got := l.PassLimit(); got != 1 {
		t.Errorf("zero-value PassLimit() = %d, want 1", got)
	}

	l = device.Limits{Passes: 5, Errors: 10}
	if got := l.ErrorLimit(); got != 10 {
		t.Errorf("ErrorLimit() = %d, want 10", got)
	}
	if got := l.PassLimit(); got != 5 {
		t.Errorf("PassLimit() = %d, want 5", got)
	}
}

func TestNewContext_ZeroSeedPicksTimeBased(t *testing.T) {
	tmpl := &device.Template{Name: "x", BlockSize: 512}
	a := tmpl.NewContext(0)
	if a.Seed == 0 {
		t.Error("zero template seed produced zero context seed")
	}

	tmpl.Seed = 42
	b := tmpl.NewContext(3)
	if b.Seed != 42 {
		t.Errorf("fixed seed not carried: got %d, want 42", b.Seed)
	}
	if b.Thread != 3 {
		t.Errorf("Thread = %d, want 3", b.Thread)
	}
}

func TestTerminating_CoversStopAndCancel(t *testing.T) {
	c := newContext(t)
	c.TrySetState(device.Running)
	if c.Terminating() {
		t.Error("running thread reports terminating")
	}
	c.TrySetState(device.Terminating)
	if !c.Terminating() {
		t.Error("stopped thread does not report terminating")
	}

	c = newContext(t)
	c.TrySetState(device.Running)
	c.ForceCancel()
	if !c.Terminating() {
		t.Error("cancelled thread does not report terminating")
	}
}

func TestErrorLimitReached(t *testing.T) {
	tmpl := &device.Template{Name: "x", BlockSize: 512, Limits: device.Limits{Errors: 3}}
	c := tmpl.NewContext(0)

	c.Errors.Add(2)
	if c.ErrorLimitReached() {
		t.Error("limit reported at 2 of 3 errors")
	}
	c.Errors.Add(1)
	if !c.ErrorLimitReached() {
		t.Error("limit not reported at 3 of 3 errors")
	}
}
