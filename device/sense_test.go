package device_test

import (
	"testing"

	"github.com/RobinTMiller/dt-sub002/device"
)

func TestSense_Retriable(t *testing.T) {
	tests := []struct {
		name  string
		sense device.Sense
		want  bool
	}{
		{
			name:  "busy",
			sense: device.Sense{Cmd: device.StatusBusy},
			want:  true,
		},
		{
			name:  "queue full",
			sense: device.Sense{Cmd: device.StatusQueueFull},
			want:  true,
		},
		{
			name:  "good",
			sense: device.Sense{Cmd: device.StatusGood},
			want:  false,
		},
		{
			name:  "not ready",
			sense: device.Sense{Cmd: device.StatusCheckCondition, Key: device.KeyNotReady, Code: 0x04, Qualifier: 0x01},
			want:  true,
		},
		{
			name:  "not ready, target in standby",
			sense: device.Sense{Cmd: device.StatusCheckCondition, Key: device.KeyNotReady, Code: 0x04, Qualifier: 0x0B},
			want:  false,
		},
		{
			name:  "unit attention",
			sense: device.Sense{Cmd: device.StatusCheckCondition, Key: device.KeyUnitAttention, Code: 0x29},
			want:  true,
		},
		{
			name:  "unit attention, recovered data",
			sense: device.Sense{Cmd: device.StatusCheckCondition, Key: device.KeyUnitAttention, Code: 0x17},
			want:  false,
		},
		{
			name:  "medium error",
			sense: device.Sense{Cmd: device.StatusCheckCondition, Key: device.KeyMediumError},
			want:  false,
		},
		{
			name:  "hardware error",
			sense: device.Sense{Cmd: device.StatusCheckCondition, Key: device.KeyHardwareError},
			want:  false,
		},
		{
			name:  "illegal request",
			sense: device.Sense{Cmd: device.StatusCheckCondition, Key: device.KeyIllegalRequest},
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sense.Retriable(); got != tt.want {
				t.Errorf("Retriable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSense_String(t *testing.T) {
	busy := device.Sense{Cmd: device.StatusBusy}
	if got := busy.String(); got != "status 0x8" {
		t.Errorf("busy String() = %q", got)
	}

	cc := device.Sense{Cmd: device.StatusCheckCondition, Key: device.KeyNotReady, Code: 0x04, Qualifier: 0x0B}
	if got := cc.String(); got != "status 0x2, key 0x2, asc/ascq 0x4/0xb" {
		t.Errorf("check condition String() = %q", got)
	}
}
