package power

import (
	"fmt"
	"os"
)

// NopBackend is used when nothing should be inhibited, e.g. on a system without autosleep
type NopBackend struct{}

func (NopBackend) Inhibit(string) error { return nil }
func (NopBackend) Release(string) error { return nil }
func (NopBackend) Close() error         { return nil }

// WakelockBackend uses the kernel's userspace wakelock interface
// (CONFIG_PM_WAKELOCKS). Autosleep is blocked while any wakelock is active.
type WakelockBackend struct {
	lockPath   string
	unlockPath string
}

// NewWakelockBackend checks that the wakelock files exist under sysfsRoot
func NewWakelockBackend(sysfsRoot string) (*WakelockBackend, error) {
	b := &WakelockBackend{
		lockPath:   sysfsRoot + "/power/wake_lock",
		unlockPath: sysfsRoot + "/power/wake_unlock",
	}
	for _, path := range []string{b.lockPath, b.unlockPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("kernel wakelocks not available: %w", err)
		}
	}
	return b, nil
}

func (b *WakelockBackend) Inhibit(name string) error {
	if err := os.WriteFile(b.lockPath, []byte(name), 0644); err != nil {
		return fmt.Errorf("failed to take wakelock %s: %w", name, err)
	}
	return nil
}

func (b *WakelockBackend) Release(name string) error {
	if err := os.WriteFile(b.unlockPath, []byte(name), 0644); err != nil {
		return fmt.Errorf("failed to drop wakelock %s: %w", name, err)
	}
	return nil
}

func (b *WakelockBackend) Close() error {
	return nil
}
