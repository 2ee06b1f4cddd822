package device_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
)

func TestFileBackend_WriteReadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dt.dat")
	be := &device.FileBackend{Path: path}
	ctx := context.Background()

	if res := be.Open(ctx, device.WriteMode); res.Failed() {
		t.Fatalf("Open: %v", res.Err)
	}
	defer be.Close(ctx)

	want := []byte("0123456789abcdef")
	if n, res := be.WriteAt(ctx, want, 32); res.Failed() || n != len(want) {
		t.Fatalf("WriteAt = %d, %v", n, res.Err)
	}

	got := make([]byte, len(want))
	if n, res := be.ReadAt(ctx, got, 32); res.Failed() || n != len(want) {
		t.Fatalf("ReadAt = %d, %v", n, res.Err)
	}
	if string(got) != string(want) {
		t.Errorf("read back %q, want %q", got, want)
	}
}

func TestFileBackend_ReadPastEndIsEndOfData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dt.dat")
	be := &device.FileBackend{Path: path}
	ctx := context.Background()

	if res := be.Open(ctx, device.WriteMode); res.Failed() {
		t.Fatalf("Open: %v", res.Err)
	}
	defer be.Close(ctx)

	buf := make([]byte, 64)
	_, res := be.ReadAt(ctx, buf, 0)
	if !res.EndOfData() {
		t.Errorf("read past end: status %v (err %v), want END-OF-DATA", res.Status, res.Err)
	}
}

func TestFileBackend_CancelledContextRefusesIO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dt.dat")
	be := &device.FileBackend{Path: path}
	if res := be.Open(context.Background(), device.WriteMode); res.Failed() {
		t.Fatalf("Open: %v", res.Err)
	}
	defer be.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, res := be.WriteAt(ctx, []byte("x"), 0); !res.Failed() {
		t.Error("WriteAt with cancelled context did not fail")
	}
	if _, res := be.ReadAt(ctx, make([]byte, 1), 0); !res.Failed() {
		t.Error("ReadAt with cancelled context did not fail")
	}
}

func TestFileBackend_ReopenSwitchesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dt.dat")
	be := &device.FileBackend{Path: path}
	ctx := context.Background()

	if res := be.Open(ctx, device.WriteMode); res.Failed() {
		t.Fatalf("Open: %v", res.Err)
	}
	if _, res := be.WriteAt(ctx, []byte("abc"), 0); res.Failed() {
		t.Fatalf("WriteAt: %v", res.Err)
	}
	if res := be.Reopen(ctx, device.ReadMode); res.Failed() {
		t.Fatalf("Reopen: %v", res.Err)
	}
	defer be.Close(ctx)

	if _, res := be.WriteAt(ctx, []byte("x"), 0); !res.Failed() {
		t.Error("write on read-mode handle succeeded")
	}
	buf := make([]byte, 3)
	if _, res := be.ReadAt(ctx, buf, 0); res.Failed() {
		t.Errorf("read after reopen failed: %v", res.Err)
	}
}

func TestFileBackend_CloseDuringTransferIsClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dt.dat")
	be := &device.FileBackend{Path: path}
	ctx := context.Background()

	if res := be.Open(ctx, device.WriteMode); res.Failed() {
		t.Fatalf("Open: %v", res.Err)
	}

	// A forced cancel closes the handle from another goroutine while
	// the owning thread is mid-transfer; the transfer must fail with a
	// result, never panic.
	buf := make([]byte, 4096)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if _, res := be.WriteAt(ctx, buf, 0); res.Failed() {
				return
			}
		}
	}()

	time.Sleep(time.Millisecond)
	if res := be.Close(ctx); res.Failed() {
		t.Fatalf("Close: %v", res.Err)
	}
	<-done

	if _, res := be.ReadAt(ctx, buf, 0); !res.Failed() {
		t.Error("ReadAt on a closed backend succeeded")
	}
	// Idempotent: a second close on the swapped-out handle is a no-op.
	if res := be.Close(ctx); res.Failed() {
		t.Errorf("second Close: %v", res.Err)
	}
}

func TestNewFileFactory_PerThreadPaths(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "dt.dat")
	factory := device.NewFileFactory(base, false, true)

	ctx := context.Background()
	for _, thread := range []int{0, 1} {
		be, err := factory(thread)
		if err != nil {
			t.Fatalf("factory(%d): %v", thread, err)
		}
		if res := be.Open(ctx, device.WriteMode); res.Failed() {
			t.Fatalf("Open thread %d: %v", thread, res.Err)
		}
		be.Close(ctx)
	}

	for _, want := range []string{"dt.dat-0", "dt.dat-1"} {
		if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
			t.Errorf("per-thread file %s missing: %v", want, err)
		}
	}
}

func TestFileBackend_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dt.dat")
	be := &device.FileBackend{Path: path}
	ctx := context.Background()

	if res := be.Open(ctx, device.WriteMode); res.Failed() {
		t.Fatalf("Open: %v", res.Err)
	}
	be.Close(ctx)

	if err := be.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still present after Remove")
	}
	// Removing an already-removed artifact is not an error.
	if err := be.Remove(); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestResult_Helpers(t *testing.T) {
	if !device.Good.Ok() {
		t.Error("Good.Ok() = false")
	}
	res := device.Fail(dt.ErrVerifyMismatch)
	if !res.Failed() || res.Ok() {
		t.Error("Fail result misclassified")
	}
}
