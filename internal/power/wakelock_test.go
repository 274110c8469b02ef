package power

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeWakelockSysfs(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "power"), 0755))
	for _, name := range []string{"wake_lock", "wake_unlock"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, "power", name), nil, 0644))
	}
	return root
}

func TestWakelockBackend(t *testing.T) {
	root := fakeWakelockSysfs(t)
	b, err := NewWakelockBackend(root)
	require.NoError(t, err)

	require.NoError(t, b.Inhibit("uart_evt"))
	data, err := os.ReadFile(filepath.Join(root, "power", "wake_lock"))
	require.NoError(t, err)
	assert.Equal(t, "uart_evt", string(data))

	require.NoError(t, b.Release("uart_evt"))
	data, err = os.ReadFile(filepath.Join(root, "power", "wake_unlock"))
	require.NoError(t, err)
	assert.Equal(t, "uart_evt", string(data))

	assert.NoError(t, b.Close())
}

func TestWakelockBackendUnavailable(t *testing.T) {
	_, err := NewWakelockBackend(t.TempDir())
	assert.Error(t, err)
}
