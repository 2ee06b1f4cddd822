package dt

import "fmt"

// Status is the normalized outcome vocabulary shared by device
// backends, worker threads, and jobs. Severity orders as
// Success < EndOfData < Warning < Failure.
type Status int

const (
	// Success means the operation or thread completed cleanly.
	Success Status = iota
	// EndOfData is the internal sentinel for reaching the end of the
	// medium or file. It normalizes to Success at reporting time.
	EndOfData
	// Warning means the operation completed but something was off
	// (recovered errors, partial transfers).
	Warning
	// Failure means the operation or thread failed.
	Failure
)

// String returns the operator-facing name of the status.
func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case EndOfData:
		return "END-OF-DATA"
	case Warning:
		return "WARNING"
	case Failure:
		return "FAILURE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Exit code contract with operators.
const (
	ExitSuccess = 0
	ExitWarning = 1
	ExitFailure = 2
)

// StatusFromCode maps a raw exit or signal code onto the normalized
// vocabulary. Any value outside the known set maps to Failure.
func StatusFromCode(code int) Status {
	switch code {
	case ExitSuccess:
		return Success
	case ExitWarning:
		return Warning
	case ExitFailure:
		return Failure
	default:
		return Failure
	}
}

// Code returns the process exit code for a status. EndOfData has
// already served its purpose as a loop sentinel by the time a process
// exits, so it reports as success.
func (s Status) Code() int {
	switch s {
	case Success, EndOfData:
		return ExitSuccess
	case Warning:
		return ExitWarning
	default:
		return ExitFailure
	}
}

// Merge combines two statuses, keeping the severest.
func Merge(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}

// Normalize maps the EndOfData sentinel to Success and leaves every
// other status untouched. Worker threads call this once, at statistics
// finalization.
func (s Status) Normalize() Status {
	if s == EndOfData {
		return Success
	}
	return s
}
