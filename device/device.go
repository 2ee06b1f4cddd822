// Package device defines the per-thread device context (the unit of
// mutable execution state a worker thread owns) together with the
// backend interface I/O is delegated to and the structured error
// vocabulary device commands report through.
package device

import (
	"context"
	"fmt"

	dt "github.com/RobinTMiller/dt-sub002"
)

// Mode is the operation mode of a context.
type Mode int

const (
	// ReadMode means the context only reads existing data.
	ReadMode Mode = iota
	// WriteMode means the context writes (and optionally reads back).
	WriteMode
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	if m == ReadMode {
		return "read"
	}
	return "write"
}

// Op identifies the elemental operation a thread is currently
// performing. The watchdog samples it when naming a stalled thread.
type Op int32

const (
	OpNone Op = iota
	OpOpen
	OpClose
	OpReopen
	OpRead
	OpWrite
	OpVerify
	OpStartPass
	OpEndPass
)

var opNames = map[Op]string{
	OpNone:      "none",
	OpOpen:      "open",
	OpClose:     "close",
	OpReopen:    "reopen",
	OpRead:      "read",
	OpWrite:     "write",
	OpVerify:    "verify",
	OpStartPass: "start-pass",
	OpEndPass:   "end-pass",
}

// String returns the operation name used in diagnostics.
func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", int32(o))
}

// Disposition controls what happens to artifacts a thread created
// (output files) once the thread finishes.
type Disposition int

const (
	// KeepArtifacts leaves created files in place.
	KeepArtifacts Disposition = iota
	// DeleteArtifacts removes created files at finalization.
	DeleteArtifacts
	// KeepOnError removes created files only if the thread succeeded.
	KeepOnError
)

// Result is the uniform outcome of one device command. Backends report
// failure through the same status vocabulary used everywhere else;
// transport-level errors and structured sense data travel alongside.
type Result struct {
	Status dt.Status
	// Err is the OS/transport-level error, if any.
	Err error
	// Sense carries the structured failure classification, if the
	// backend produced one. Nil for plain transport errors.
	Sense *Sense
}

// Ok reports whether the command succeeded (success or warning).
func (r Result) Ok() bool { return r.Status == dt.Success || r.Status == dt.Warning }

// Failed reports whether the command failed outright.
func (r Result) Failed() bool { return r.Status == dt.Failure }

// EndOfData reports whether the command hit the end-of-data sentinel.
func (r Result) EndOfData() bool { return r.Status == dt.EndOfData }

// Good is the zero-effort success result.
var Good = Result{Status: dt.Success}

// Fail wraps a transport error into a failed Result.
func Fail(err error) Result { return Result{Status: dt.Failure, Err: err} }

// Backend is the device I/O collaborator a context delegates to. One
// backend instance belongs to exactly one worker thread; the engine
// never shares an instance across threads, but implementations must be
// safe to construct and use from any thread.
type Backend interface {
	// Open prepares the device for I/O in the given mode.
	Open(ctx context.Context, mode Mode) Result
	// Reopen closes and reopens the device, switching modes. Used
	// between the write pass and the read-back verify pass.
	Reopen(ctx context.Context, mode Mode) Result
	// Close releases the device handle. Pending asynchronous
	// operations complete before Close returns.
	Close(ctx context.Context) Result
	// ReadAt reads len(p) bytes at the given byte offset.
	ReadAt(ctx context.Context, p []byte, off int64) (int, Result)
	// WriteAt writes len(p) bytes at the given byte offset.
	WriteAt(ctx context.Context, p []byte, off int64) (int, Result)
	// StartPass brackets the beginning of a pass.
	StartPass(ctx context.Context, pass int64) Result
	// EndPass brackets the end of a pass.
	EndPass(ctx context.Context, pass int64) Result
}
