package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/librescoot/uart-wakeup-service/internal/config"
	"github.com/librescoot/uart-wakeup-service/internal/power"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend(t *testing.T) {
	cfg := config.New()
	cfg.DryRun = true
	b, err := newBackend(cfg)
	require.NoError(t, err)
	assert.IsType(t, power.NopBackend{}, b)

	cfg.DryRun = false
	cfg.LockBackend = config.BackendNone
	b, err = newBackend(cfg)
	require.NoError(t, err)
	assert.IsType(t, power.NopBackend{}, b)

	cfg.LockBackend = "flock"
	_, err = newBackend(cfg)
	assert.Error(t, err)
}

func TestNewBackendWakelock(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "power"), 0755))
	for _, name := range []string{"wake_lock", "wake_unlock"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, "power", name), nil, 0644))
	}

	cfg := config.New()
	cfg.SysfsRoot = root
	b, err := newBackend(cfg)
	require.NoError(t, err)
	assert.IsType(t, &power.WakelockBackend{}, b)

	cfg.SysfsRoot = t.TempDir()
	_, err = newBackend(cfg)
	assert.Error(t, err)
}
