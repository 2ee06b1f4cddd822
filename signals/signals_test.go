package signals_test

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/RobinTMiller/dt-sub002/signals"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine records the order of control calls the coordinator makes.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string
}

func (e *fakeEngine) StopAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "stop")
	return nil
}

func (e *fakeEngine) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "cancel")
}

func (e *fakeEngine) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// raise delivers SIGHUP to the test process. The coordinator's
// subscription intercepts it; tests only raise while subscribed.
func raise(t *testing.T) {
	t.Helper()
	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("kill: %v", err)
	}
}

func waitForCalls(t *testing.T, eng *fakeEngine, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := eng.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("engine saw %v, want %d calls", eng.snapshot(), n)
	return nil
}

func TestCoordinator_FirstSignalStopsAllJobs(t *testing.T) {
	eng := &fakeEngine{}
	c := signals.Notify(eng, discard())
	t.Cleanup(c.Stop)

	raise(t)

	calls := waitForCalls(t, eng, 1)
	if calls[0] != "stop" {
		t.Fatalf("calls = %v, want [stop]", calls)
	}
}

func TestCoordinator_SecondSignalEscalatesToCancel(t *testing.T) {
	eng := &fakeEngine{}
	c := signals.Notify(eng, discard())
	t.Cleanup(c.Stop)

	raise(t)
	waitForCalls(t, eng, 1)
	raise(t)

	calls := waitForCalls(t, eng, 2)
	want := []string{"stop", "cancel"}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestCoordinator_StopEndsDispatchWithoutCalls(t *testing.T) {
	eng := &fakeEngine{}
	c := signals.Notify(eng, discard())
	c.Stop()

	if calls := eng.snapshot(); len(calls) != 0 {
		t.Fatalf("calls = %v, want none", calls)
	}
}
