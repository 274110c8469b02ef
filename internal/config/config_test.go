package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := New()
	require.NoError(t, c.Parse(nil))
	require.NoError(t, c.Validate())

	assert.Equal(t, "/dev/ttyS1", c.Port)
	assert.Equal(t, 1, c.Line)
	assert.Equal(t, 115200, c.BaudRate)
	assert.Equal(t, 20, c.QueueDepth)
	assert.Equal(t, 100*time.Millisecond, c.ReadTimeout)
	assert.Equal(t, 3, c.WakeupThreshold)
	assert.Equal(t, 6, c.WakeupPin)
	assert.Equal(t, BackendWakelock, c.LockBackend)
	assert.True(t, c.LightSleep)
	assert.Empty(t, c.RedisHost)
}

func TestFlagsOverride(t *testing.T) {
	c := New()
	require.NoError(t, c.Parse([]string{
		"-port", "/dev/ttymxc1",
		"-wakeup-threshold", "10",
		"-light-sleep=false",
		"-read-timeout", "250ms",
	}))

	assert.Equal(t, "/dev/ttymxc1", c.Port)
	assert.Equal(t, 10, c.WakeupThreshold)
	assert.False(t, c.LightSleep)
	assert.Equal(t, 250*time.Millisecond, c.ReadTimeout)
}

func TestFileOverlayBelowFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uart-wakeup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: /dev/ttyS3
baud-rate: 9600
wakeup-idle: 2s
lock-backend: logind
dry-run: true
`), 0644))

	c := New()
	require.NoError(t, c.Parse([]string{"-config", path, "-baud-rate", "57600"}))

	assert.Equal(t, "/dev/ttyS3", c.Port)
	assert.Equal(t, 57600, c.BaudRate)
	assert.Equal(t, 2*time.Second, c.WakeupIdle)
	assert.Equal(t, BackendLogind, c.LockBackend)
	assert.True(t, c.DryRun)
	assert.Equal(t, path, c.ConfigFile)
	// untouched keys keep their defaults
	assert.Equal(t, 2048, c.RxBufSize)
}

func TestEnvironmentOverlay(t *testing.T) {
	t.Setenv("UART_WAKEUP_QUEUE_DEPTH", "64")
	t.Setenv("UART_WAKEUP_REDIS_HOST", "localhost")

	c := New()
	require.NoError(t, c.Parse(nil))
	assert.Equal(t, 64, c.QueueDepth)
	assert.Equal(t, "localhost", c.RedisHost)
}

func TestMissingConfigFile(t *testing.T) {
	c := New()
	assert.Error(t, c.Parse([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}))
}

func TestVersionSkipsLoading(t *testing.T) {
	c := New()
	require.NoError(t, c.Parse([]string{"-version", "-config", "/nonexistent.yaml"}))
	assert.True(t, c.ShowVersion)
}

func TestValidate(t *testing.T) {
	c := New()
	c.QueueDepth = 0
	c.LockBackend = "flock"
	c.LogLevel = "chatty"
	c.WakeupPull = "sideways"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue-depth")
	assert.Contains(t, err.Error(), "flock")
	assert.Contains(t, err.Error(), "chatty")
	assert.Contains(t, err.Error(), "sideways")

	// a low threshold is reported later by the configurator
	c = New()
	c.WakeupThreshold = 1
	assert.NoError(t, c.Validate())
}

func TestDerivedConfigs(t *testing.T) {
	c := New()
	c.MaxFreqKHz = 792000

	u := c.UART()
	assert.Equal(t, c.Port, u.Port)
	assert.Equal(t, c.WakeupIdle, u.WakeupIdle)

	w := c.Wakeup()
	assert.Equal(t, "ttyS1", w.Serial.TTYName())
	assert.Equal(t, 6, w.GPIO.Pin)
	assert.True(t, w.GPIO.InputEnable)
	assert.Equal(t, 792000, w.Power.MaxFreqKHz)

	assert.Equal(t, "info", c.Logging().Level)
}
