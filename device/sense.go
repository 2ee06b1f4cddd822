package device

import "fmt"

// CmdStatus is the command-level completion status, following the SCSI
// status byte vocabulary for disk-class devices.
type CmdStatus uint8

const (
	StatusGood           CmdStatus = 0x00
	StatusCheckCondition CmdStatus = 0x02
	StatusBusy           CmdStatus = 0x08
	StatusQueueFull      CmdStatus = 0x28
)

// SenseKey is the coarse failure classification reported with a
// check-condition status.
type SenseKey uint8

const (
	KeyNoSense        SenseKey = 0x0
	KeyRecoveredError SenseKey = 0x1
	KeyNotReady       SenseKey = 0x2
	KeyMediumError    SenseKey = 0x3
	KeyHardwareError  SenseKey = 0x4
	KeyIllegalRequest SenseKey = 0x5
	KeyUnitAttention  SenseKey = 0x6
	KeyDataProtect    SenseKey = 0x7
	KeyAbortedCommand SenseKey = 0xB
)

// Additional sense codes referenced by the retry classification.
const (
	// ascStandby qualifies a not-ready condition as "target port in
	// standby". It never clears on its own, so retrying it has no
	// natural ceiling.
	ascStandby, ascqStandby uint8 = 0x04, 0x0B

	// ascRecoveredData marks the benign recovered-data unit attention.
	ascRecoveredData uint8 = 0x17
)

// Sense carries the fine-grained error classification of a failed
// device command: command status plus, for check conditions, the sense
// key / additional code / qualifier triple.
type Sense struct {
	Cmd       CmdStatus
	Key       SenseKey
	Code      uint8
	Qualifier uint8
}

// String renders the classification in the compact form used by
// failure reports, e.g. "status 0x2, key 0x2, asc/ascq 0x4/0xb".
func (s *Sense) String() string {
	if s.Cmd != StatusCheckCondition {
		return fmt.Sprintf("status %#x", uint8(s.Cmd))
	}
	return fmt.Sprintf("status %#x, key %#x, asc/ascq %#x/%#x",
		uint8(s.Cmd), uint8(s.Key), s.Code, s.Qualifier)
}

// Retriable reports whether this classification names a known-transient
// condition. Transient conditions are resource contention (busy, queue
// full), most not-ready conditions, and unit attentions other than the
// benign recovered-data report. A not-ready caused by a target port in
// standby is explicitly not retriable.
func (s *Sense) Retriable() bool {
	switch s.Cmd {
	case StatusBusy, StatusQueueFull:
		return true
	case StatusCheckCondition:
		// Classified below.
	default:
		return false
	}

	switch s.Key {
	case KeyNotReady:
		return !(s.Code == ascStandby && s.Qualifier == ascqStandby)
	case KeyUnitAttention:
		return s.Code != ascRecoveredData
	default:
		return false
	}
}
