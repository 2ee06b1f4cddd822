// Package fsprobe supplies the filesystem free-space information used
// by the wait-for-free-space recovery helper.
package fsprobe

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	dt "github.com/RobinTMiller/dt-sub002"
)

// Space describes the capacity of the filesystem holding a path.
type Space struct {
	Free   uint64
	Total  uint64
	FSType string
}

// Prober reports filesystem capacity. The default implementation asks
// the OS; tests substitute fakes.
type Prober interface {
	Usage(path string) (Space, error)
}

// OS is the operating-system backed prober.
type OS struct{}

// Usage implements Prober via the host's mount table.
func (OS) Usage(path string) (Space, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return Space{}, fmt.Errorf("fsprobe: usage %s: %w", path, err)
	}
	return Space{Free: u.Free, Total: u.Total, FSType: u.Fstype}, nil
}

// WaitForSpace polls until the filesystem holding path has at least
// need bytes free, checking every interval up to maxWait. It returns
// dt.ErrNoSpace when the budget expires without space appearing, and
// the context error if the caller is cancelled first.
func WaitForSpace(ctx context.Context, p Prober, path string, need uint64, interval, maxWait time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(maxWait)

	for {
		sp, err := p.Usage(path)
		if err != nil {
			return err
		}
		if sp.Free >= need {
			return nil
		}
		if maxWait > 0 && time.Now().After(deadline) {
			return fmt.Errorf("%w: %s has %d free, need %d", dt.ErrNoSpace, path, sp.Free, need)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
