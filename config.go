package dt

import "time"

// Config holds engine-wide tuning for the supervisor and watchdog.
type Config struct {
	// PollInterval is the watchdog's default wake interval. Jobs that
	// register a smaller check interval lower it; it is never raised
	// while such a job is alive.
	PollInterval time.Duration

	// TermWait is how long a thread may keep running after a stop
	// request before the watchdog forcibly cancels it.
	TermWait time.Duration

	// NoProgressThreshold is how long a running thread may show no
	// activity before a no-progress diagnostic is emitted. Zero
	// disables the check.
	NoProgressThreshold time.Duration

	// KeepaliveInterval is how often the watchdog emits the periodic
	// status message for each running thread. Zero disables keepalives.
	KeepaliveInterval time.Duration

	// ShutdownTimeout is the maximum time Shutdown waits for jobs to
	// unwind cooperatively before cancelling their threads.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:        3 * time.Second,
		TermWait:            3 * time.Minute,
		NoProgressThreshold: 0,
		KeepaliveInterval:   0,
		ShutdownTimeout:     30 * time.Second,
	}
}
