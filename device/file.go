package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"

	dt "github.com/RobinTMiller/dt-sub002"
)

// FileBackend is the default backend for regular files and block
// special files accessed through the filesystem. Each worker thread
// operates on its own path (the thread number is appended for
// write-mode regular files so threads never collide).
type FileBackend struct {
	Path string
	// CreateMode is the permission bits for files this backend
	// creates. Zero defaults to 0o644.
	CreateMode os.FileMode
	// Sync forces an fsync at EndPass so verify passes read from
	// media, not the page cache.
	Sync bool

	// f is atomic: a forced cancel closes the handle from another
	// goroutine while the owning thread may be mid-transfer. os.File
	// serializes Close against in-flight ReadAt/WriteAt itself.
	f atomic.Pointer[os.File]
}

// NewFileFactory returns a BackendFactory producing per-thread file
// backends. Write-mode threads get "<path>-<thread>" so a multi-thread
// job exercises distinct files.
func NewFileFactory(path string, sync bool, perThread bool) BackendFactory {
	return func(thread int) (Backend, error) {
		p := path
		if perThread {
			p = fmt.Sprintf("%s-%d", path, thread)
		}
		return &FileBackend{Path: p, Sync: sync}, nil
	}
}

// Open implements Backend.
func (b *FileBackend) Open(_ context.Context, mode Mode) Result {
	flags := os.O_RDONLY
	if mode == WriteMode {
		flags = os.O_RDWR | os.O_CREATE
	}
	perm := b.CreateMode
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(b.Path, flags, perm)
	if err != nil {
		return classify(err)
	}
	b.f.Store(f)
	return Good
}

// Reopen implements Backend. The close-then-open cycle drops any
// buffered state before a mode switch.
func (b *FileBackend) Reopen(ctx context.Context, mode Mode) Result {
	if res := b.Close(ctx); res.Failed() {
		return res
	}
	return b.Open(ctx, mode)
}

// Close implements Backend.
func (b *FileBackend) Close(_ context.Context) Result {
	f := b.f.Swap(nil)
	if f == nil {
		return Good
	}
	if err := f.Close(); err != nil {
		return classify(err)
	}
	return Good
}

// ReadAt implements Backend.
func (b *FileBackend) ReadAt(ctx context.Context, p []byte, off int64) (int, Result) {
	if err := ctx.Err(); err != nil {
		return 0, Fail(err)
	}
	f := b.f.Load()
	if f == nil {
		return 0, Fail(os.ErrClosed)
	}
	n, err := f.ReadAt(p, off)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, Result{Status: dt.EndOfData, Err: err}
		}
		return n, classify(err)
	}
	return n, Good
}

// WriteAt implements Backend.
func (b *FileBackend) WriteAt(ctx context.Context, p []byte, off int64) (int, Result) {
	if err := ctx.Err(); err != nil {
		return 0, Fail(err)
	}
	f := b.f.Load()
	if f == nil {
		return 0, Fail(os.ErrClosed)
	}
	n, err := f.WriteAt(p, off)
	if err != nil {
		return n, classify(err)
	}
	return n, Good
}

// StartPass implements Backend.
func (b *FileBackend) StartPass(context.Context, int64) Result { return Good }

// EndPass implements Backend. With Sync set it flushes the file so a
// following verify pass reads committed data.
func (b *FileBackend) EndPass(context.Context, int64) Result {
	if f := b.f.Load(); b.Sync && f != nil {
		if err := f.Sync(); err != nil {
			return classify(err)
		}
	}
	return Good
}

// Remove deletes the backing file. Finalization calls it when the
// artifact disposition asks for cleanup.
func (b *FileBackend) Remove() error {
	err := os.Remove(b.Path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// classify maps a transport error to the engine's result vocabulary.
// Capacity exhaustion is tagged with ErrNoSpace so the pass loop's
// recovery routine can identify it.
func classify(err error) Result {
	if errors.Is(err, syscall.ENOSPC) {
		return Fail(fmt.Errorf("%w: %w", dt.ErrNoSpace, err))
	}
	return Fail(err)
}
