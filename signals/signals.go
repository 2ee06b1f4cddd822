// Package signals maps process signals onto engine shutdown. The
// first SIGINT, SIGTERM, or SIGHUP requests cooperative termination of
// every job; a second signal forces cancellation. The handler itself
// only sets stop state, so no I/O or locks are taken in signal
// context beyond the engine's own lock-ordered control calls.
package signals

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Engine is the control surface the coordinator drives.
type Engine interface {
	// StopAll requests cooperative termination of every job.
	StopAll() error
	// CancelAll forcibly cancels every job.
	CancelAll()
}

// Coordinator owns the signal subscription. Construct with Notify;
// Stop unsubscribes.
type Coordinator struct {
	engine Engine
	logger *slog.Logger
	ch     chan os.Signal
	stop   chan struct{}
	done   chan struct{}
}

// Notify subscribes to SIGINT, SIGTERM, and SIGHUP and starts the
// dispatch goroutine.
func Notify(engine Engine, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		engine: engine,
		logger: logger,
		ch:     make(chan os.Signal, 2),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	signal.Notify(c.ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go c.run()
	return c
}

func (c *Coordinator) run() {
	defer close(c.done)

	forced := false
	for {
		select {
		case <-c.stop:
			return
		case sig := <-c.ch:
			if !forced {
				forced = true
				c.logger.Warn("signal received, stopping all jobs",
					slog.String("signal", sig.String()),
				)
				_ = c.engine.StopAll()
				continue
			}
			c.logger.Warn("second signal received, cancelling all jobs",
				slog.String("signal", sig.String()),
			)
			c.engine.CancelAll()
		}
	}
}

// Stop unsubscribes from signals and waits for the dispatch goroutine
// to exit. Pending shutdown already in motion is unaffected.
func (c *Coordinator) Stop() {
	signal.Stop(c.ch)
	close(c.stop)
	<-c.done
}
