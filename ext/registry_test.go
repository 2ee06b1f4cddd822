package ext_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	dt "github.com/RobinTMiller/dt-sub002"
	"github.com/RobinTMiller/dt-sub002/device"
	"github.com/RobinTMiller/dt-sub002/ext"
)

// recorder implements every hook and appends event names in order.
type recorder struct {
	name   string
	events []string
	err    error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnJobInitiated(context.Context, int64, string, int) error {
	r.events = append(r.events, "job_initiated")
	return r.err
}

func (r *recorder) OnThreadStarted(context.Context, *device.Context) error {
	r.events = append(r.events, "thread_started")
	return r.err
}

func (r *recorder) OnPassCompleted(context.Context, *device.Context, int64, time.Duration) error {
	r.events = append(r.events, "pass_completed")
	return r.err
}

func (r *recorder) OnThreadFinished(context.Context, *device.Context, dt.Status) error {
	r.events = append(r.events, "thread_finished")
	return r.err
}

func (r *recorder) OnJobFinished(context.Context, int64, string, dt.Status) error {
	r.events = append(r.events, "job_finished")
	return r.err
}

func (r *recorder) OnShutdown(context.Context) error {
	r.events = append(r.events, "shutdown")
	return r.err
}

// finishOnly opts in to a single hook.
type finishOnly struct {
	finished int
}

func (f *finishOnly) Name() string { return "finish-only" }

func (f *finishOnly) OnThreadFinished(context.Context, *device.Context, dt.Status) error {
	f.finished++
	return nil
}

func testContext() *device.Context {
	tmpl := &device.Template{Name: "/tmp/dt.dat", BlockSize: 512}
	return tmpl.NewContext(0)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_DispatchesOnlyToImplementers(t *testing.T) {
	reg := ext.NewRegistry(discard())
	all := &recorder{name: "all"}
	one := &finishOnly{}
	reg.Register(all)
	reg.Register(one)

	ctx := context.Background()
	c := testContext()
	reg.EmitJobInitiated(ctx, 1, "t", 4)
	reg.EmitThreadStarted(ctx, c)
	reg.EmitPassCompleted(ctx, c, 1, time.Second)
	reg.EmitThreadFinished(ctx, c, dt.Success)
	reg.EmitJobFinished(ctx, 1, "t", dt.Success)
	reg.EmitShutdown(ctx)

	want := []string{"job_initiated", "thread_started", "pass_completed", "thread_finished", "job_finished", "shutdown"}
	if len(all.events) != len(want) {
		t.Fatalf("events = %v, want %v", all.events, want)
	}
	for i := range want {
		if all.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", all.events, want)
		}
	}
	if one.finished != 1 {
		t.Errorf("finish-only saw %d thread_finished events, want 1", one.finished)
	}
}

func TestRegistry_HookErrorIsLoggedNotFatal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	reg := ext.NewRegistry(logger)

	bad := &recorder{name: "flaky", err: errors.New("sink unavailable")}
	good := &finishOnly{}
	reg.Register(bad)
	reg.Register(good)

	reg.EmitThreadFinished(context.Background(), testContext(), dt.Failure)

	if good.finished != 1 {
		t.Fatalf("later extension starved by earlier failure: finished=%d", good.finished)
	}
	out := buf.String()
	if !strings.Contains(out, "flaky") || !strings.Contains(out, "sink unavailable") {
		t.Errorf("hook failure not logged:\n%s", out)
	}
}

func TestRegistry_Extensions(t *testing.T) {
	reg := ext.NewRegistry(discard())
	a := &recorder{name: "a"}
	b := &finishOnly{}
	reg.Register(a)
	reg.Register(b)

	exts := reg.Extensions()
	if len(exts) != 2 || exts[0].Name() != "a" || exts[1].Name() != "finish-only" {
		t.Fatalf("Extensions() = %v", exts)
	}
}

func TestRegistry_NoImplementersIsNoOp(t *testing.T) {
	reg := ext.NewRegistry(discard())
	reg.Register(&finishOnly{})
	// None of these hooks are implemented; nothing should panic.
	reg.EmitJobInitiated(context.Background(), 1, "", 1)
	reg.EmitThreadNoProgress(context.Background(), testContext(), time.Minute)
	reg.EmitThreadHung(context.Background(), testContext(), time.Minute)
	reg.EmitShutdown(context.Background())
}
