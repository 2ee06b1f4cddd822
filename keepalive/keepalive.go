// Package keepalive formats the periodic status messages the watchdog
// emits for running threads. The substitution token set is a contract
// with operators; removing or renaming a token breaks existing
// monitoring scripts.
//
// Supported tokens:
//
//	%device     device or file name under test
//	%dsf        alias of %device (device special file)
//	%thread     thread number within the job
//	%job        job id
//	%tag        job tag (empty if none)
//	%operation  elemental operation the thread is on
//	%pass       current pass number
//	%passes     configured pass limit ("unlimited" when unbounded)
//	%errors     cumulative error count
//	%bytes      cumulative bytes transferred
//	%blocks     cumulative records transferred (block-sized)
//	%records    alias of %blocks
//	%elapsed    elapsed time since thread start, as a duration
//	%seconds    elapsed time since thread start, in whole seconds
//
// Unknown tokens pass through verbatim.
package keepalive

import (
	"strconv"
	"strings"
	"time"
)

// DefaultTemplate is the engine's stock keepalive message.
const DefaultTemplate = "Stats: %device (thread %thread, job %job) %operation pass %pass/%passes, %blocks blocks, %bytes bytes, %errors errors, elapsed %elapsed"

// Snapshot is the point-in-time thread view a message is rendered
// from. The watchdog fills it from lock-free context reads.
type Snapshot struct {
	Device    string
	Thread    int
	JobID     int64
	Tag       string
	Operation string
	Pass      int64
	Passes    int64 // 0 means unlimited
	Errors    int64
	Bytes     int64
	Records   int64
	Elapsed   time.Duration
}

// Format expands the template's substitution tokens against the
// snapshot. Longer tokens win over shorter prefixes (%passes before
// %pass).
func Format(template string, s Snapshot) string {
	if template == "" {
		template = DefaultTemplate
	}

	passes := "unlimited"
	if s.Passes > 0 {
		passes = strconv.FormatInt(s.Passes, 10)
	}

	// Pair order matters: the replacer tries pairs in order at each
	// position, so longer tokens must precede their prefixes.
	r := strings.NewReplacer(
		"%operation", s.Operation,
		"%seconds", strconv.FormatInt(int64(s.Elapsed/time.Second), 10),
		"%records", strconv.FormatInt(s.Records, 10),
		"%elapsed", s.Elapsed.Truncate(time.Second).String(),
		"%passes", passes,
		"%errors", strconv.FormatInt(s.Errors, 10),
		"%device", s.Device,
		"%blocks", strconv.FormatInt(s.Records, 10),
		"%thread", strconv.Itoa(s.Thread),
		"%bytes", strconv.FormatInt(s.Bytes, 10),
		"%pass", strconv.FormatInt(s.Pass, 10),
		"%job", strconv.FormatInt(s.JobID, 10),
		"%tag", s.Tag,
		"%dsf", s.Device,
	)
	return r.Replace(template)
}
