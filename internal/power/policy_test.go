package power

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fakeCPUSysfs(t *testing.T, cpus int) string {
	root := t.TempDir()
	for i := 0; i < cpus; i++ {
		dir := filepath.Join(root, "devices", "system", "cpu", "cpu"+string(rune('0'+i)), "cpufreq")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cpuinfo_max_freq"), []byte("1200000\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cpuinfo_min_freq"), []byte("24000\n"), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "power"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "power", "autosleep"), nil, 0644))
	return root
}

func readFile(t *testing.T, path string) string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestConfigurePolicyDefaultsToHardwareLimits(t *testing.T) {
	root := fakeCPUSysfs(t, 2)
	m := NewManager(zaptest.NewLogger(t), nil, root, false)

	require.NoError(t, m.ConfigurePolicy(Policy{LightSleep: true}))

	for _, cpu := range []string{"cpu0", "cpu1"} {
		dir := filepath.Join(root, "devices", "system", "cpu", cpu, "cpufreq")
		assert.Equal(t, "1200000", readFile(t, filepath.Join(dir, "scaling_max_freq")))
		assert.Equal(t, "24000", readFile(t, filepath.Join(dir, "scaling_min_freq")))
	}
	assert.Equal(t, "freeze", readFile(t, filepath.Join(root, "power", "autosleep")))
}

func TestConfigurePolicyExplicitLimits(t *testing.T) {
	root := fakeCPUSysfs(t, 1)
	m := NewManager(zaptest.NewLogger(t), nil, root, false)

	require.NoError(t, m.ConfigurePolicy(Policy{MaxFreqKHz: 800000, MinFreqKHz: 40000}))

	dir := filepath.Join(root, "devices", "system", "cpu", "cpu0", "cpufreq")
	assert.Equal(t, "800000", readFile(t, filepath.Join(dir, "scaling_max_freq")))
	assert.Equal(t, "40000", readFile(t, filepath.Join(dir, "scaling_min_freq")))
	assert.Equal(t, "off", readFile(t, filepath.Join(root, "power", "autosleep")))
}

func TestConfigurePolicyErrors(t *testing.T) {
	var perr *PolicyError

	m := NewManager(zaptest.NewLogger(t), nil, t.TempDir(), false)
	err := m.ConfigurePolicy(Policy{LightSleep: true})
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "cpufreq", perr.Setting)

	m = NewManager(zaptest.NewLogger(t), nil, fakeCPUSysfs(t, 1), false)
	err = m.ConfigurePolicy(Policy{MaxFreqKHz: 1000, MinFreqKHz: 2000})
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "frequency", perr.Setting)

	err = m.ConfigurePolicy(Policy{MaxFreqKHz: -1})
	require.True(t, errors.As(err, &perr))
}

func TestConfigurePolicyDryRunLeavesSysfs(t *testing.T) {
	root := fakeCPUSysfs(t, 1)
	m := NewManager(zaptest.NewLogger(t), nil, root, true)

	require.NoError(t, m.ConfigurePolicy(Policy{LightSleep: true}))
	_, err := os.Stat(filepath.Join(root, "devices", "system", "cpu", "cpu0", "cpufreq", "scaling_max_freq"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "", readFile(t, filepath.Join(root, "power", "autosleep")))
}
