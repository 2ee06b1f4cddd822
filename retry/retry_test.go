package retry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/backoff"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/retry"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(retryLimit int) *device.Context {
	tmpl := &device.Template{
		Name:      "/dev/fake",
		BlockSize: 512,
		Retry:     device.Retry{Limit: retryLimit, Delay: time.Millisecond},
	}
	return tmpl.NewContext(0)
}

func busyResult() device.Result {
	return device.Result{
		Status: dt.Failure,
		Sense:  &device.Sense{Cmd: device.StatusBusy},
	}
}

func TestDo_SucceedsWithoutRetryOnSuccess(t *testing.T) {
	e := retry.NewExecutor(discard())
	attempts := 0

	res := e.Do(context.Background(), testContext(5), device.OpWrite, func(context.Context) device.Result {
		attempts++
		return device.Good
	})
	if res.Failed() {
		t.Fatalf("Do failed: %v", res.Err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	e := retry.NewExecutor(discard(), retry.WithStrategy(backoff.NewConstant(0)))
	attempts := 0

	res := e.Do(context.Background(), testContext(5), device.OpWrite, func(context.Context) device.Result {
		attempts++
		if attempts < 3 {
			return busyResult()
		}
		return device.Good
	})
	if res.Failed() {
		t.Fatalf("Do failed after transient condition cleared: %v", res.Err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_AttemptsBoundedByLimitPlusOne(t *testing.T) {
	tests := []struct {
		limit        int
		wantAttempts int
	}{
		{0, 1},
		{1, 2},
		{2, 3},
		{5, 6},
	}
	for _, tt := range tests {
		e := retry.NewExecutor(discard(), retry.WithStrategy(backoff.NewConstant(0)))
		attempts := 0

		res := e.Do(context.Background(), testContext(tt.limit), device.OpRead, func(context.Context) device.Result {
			attempts++
			return busyResult()
		})
		if !res.Failed() {
			t.Fatalf("limit %d: Do succeeded on always-busy device", tt.limit)
		}
		if attempts != tt.wantAttempts {
			t.Errorf("limit %d: attempts = %d, want %d", tt.limit, attempts, tt.wantAttempts)
		}
	}
}

func TestDo_NonRetriableFailsImmediately(t *testing.T) {
	e := retry.NewExecutor(discard(), retry.WithStrategy(backoff.NewConstant(0)))
	attempts := 0

	res := e.Do(context.Background(), testContext(5), device.OpWrite, func(context.Context) device.Result {
		attempts++
		return device.Result{
			Status: dt.Failure,
			Sense:  &device.Sense{Cmd: device.StatusCheckCondition, Key: device.KeyMediumError},
		}
	})
	if !res.Failed() {
		t.Fatal("Do succeeded on medium error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (medium error is not retriable)", attempts)
	}
}

func TestDo_PlainTransportErrorNotRetried(t *testing.T) {
	e := retry.NewExecutor(discard(), retry.WithStrategy(backoff.NewConstant(0)))
	attempts := 0
	bad := errors.New("i/o error")

	res := e.Do(context.Background(), testContext(5), device.OpWrite, func(context.Context) device.Result {
		attempts++
		return device.Fail(bad)
	})
	if !errors.Is(res.Err, bad) {
		t.Fatalf("final error = %v, want %v", res.Err, bad)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no sense data means no retry)", attempts)
	}
}

func TestDo_StopsWhenThreadTerminating(t *testing.T) {
	e := retry.NewExecutor(discard(), retry.WithStrategy(backoff.NewConstant(0)))
	dctx := testContext(100)
	dctx.TrySetState(device.Running)
	attempts := 0

	res := e.Do(context.Background(), dctx, device.OpWrite, func(context.Context) device.Result {
		attempts++
		if attempts == 2 {
			dctx.TrySetState(device.Terminating)
		}
		return busyResult()
	})
	if !res.Failed() {
		t.Fatal("Do succeeded on always-busy device")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (retry abandoned once terminating)", attempts)
	}
}

func TestDo_StopsWhenProcessTerminating(t *testing.T) {
	term := false
	e := retry.NewExecutor(discard(),
		retry.WithStrategy(backoff.NewConstant(0)),
		retry.WithTerminating(func() bool { return term }),
	)
	attempts := 0

	res := e.Do(context.Background(), testContext(100), device.OpWrite, func(context.Context) device.Result {
		attempts++
		term = true
		return busyResult()
	})
	if !res.Failed() {
		t.Fatal("Do succeeded on always-busy device")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (process teardown abandons retries)", attempts)
	}
}

func TestDo_ElapsedCoversConfiguredDelays(t *testing.T) {
	delay := 10 * time.Millisecond
	e := retry.NewExecutor(discard(), retry.WithStrategy(backoff.NewConstant(delay)))
	dctx := testContext(3)

	start := time.Now()
	res := e.Do(context.Background(), dctx, device.OpWrite, func(context.Context) device.Result {
		return busyResult()
	})
	elapsed := time.Since(start)

	if !res.Failed() {
		t.Fatal("Do succeeded on always-busy device")
	}
	// 3 retries, one delay before each.
	if want := 3 * delay; elapsed < want {
		t.Errorf("elapsed %v, want at least %v", elapsed, want)
	}
}

func TestDo_ContextCancelAbortsDelay(t *testing.T) {
	e := retry.NewExecutor(discard(), retry.WithStrategy(backoff.NewConstant(time.Hour)))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan device.Result, 1)
	go func() {
		done <- e.Do(ctx, testContext(5), device.OpWrite, func(context.Context) device.Result {
			return busyResult()
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if !res.Failed() {
			t.Error("Do succeeded on always-busy device")
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after context cancel")
	}
}
