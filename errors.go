package dt

import "errors"

var (
	// Not found errors.
	ErrJobNotFound    = errors.New("dt: job not found")
	ErrThreadNotFound = errors.New("dt: thread not found")

	// Conflict errors.
	ErrJobExists = errors.New("dt: job already registered")

	// State errors.
	ErrInvalidState = errors.New("dt: invalid state transition")
	ErrTerminating  = errors.New("dt: thread is terminating")
	ErrStopped      = errors.New("dt: job has been stopped")

	// Execution errors.
	ErrSetupFailed      = errors.New("dt: device setup failed")
	ErrRetriesExhausted = errors.New("dt: retry limit exceeded")
	ErrErrorLimit       = errors.New("dt: error limit reached")
	ErrNoSpace          = errors.New("dt: no space left on device")
	ErrVerifyMismatch   = errors.New("dt: data verification mismatch")
)
