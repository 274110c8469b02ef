package power

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Policy is the global power configuration installed once at startup
type Policy struct {
	MaxFreqKHz int  // 0 selects the hardware maximum
	MinFreqKHz int  // 0 selects the hardware minimum
	LightSleep bool // let the kernel autosleep to idle when no lock is held
}

// PolicyError reports a failed policy install.
// The clock/voltage state is unknown afterwards, so callers treat it as fatal.
type PolicyError struct {
	Setting string
	Err     error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("power policy %s: %v", e.Setting, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

// ConfigurePolicy applies p to every cpufreq policy and to autosleep
func (m *Manager) ConfigurePolicy(p Policy) error {
	if p.MaxFreqKHz < 0 || p.MinFreqKHz < 0 {
		return &PolicyError{Setting: "frequency", Err: fmt.Errorf("negative frequency min=%d max=%d", p.MinFreqKHz, p.MaxFreqKHz)}
	}

	cpus, err := filepath.Glob(filepath.Join(m.cpuPath, "cpu[0-9]*", "cpufreq"))
	if err != nil || len(cpus) == 0 {
		return &PolicyError{Setting: "cpufreq", Err: fmt.Errorf("no cpufreq policies under %s", m.cpuPath)}
	}

	for _, dir := range cpus {
		if err := m.applyFrequency(dir, p); err != nil {
			return err
		}
	}

	mode := "off"
	if p.LightSleep {
		mode = "freeze"
	}
	if m.dryRun {
		m.logger.Info("DRY RUN: Would set autosleep", zap.String("mode", mode))
	} else if err := os.WriteFile(m.autosleepPath, []byte(mode), 0644); err != nil {
		return &PolicyError{Setting: "autosleep", Err: fmt.Errorf("failed to set autosleep to %s: %w", mode, err)}
	}

	m.logger.Info("Configured power policy",
		zap.Int("max_freq_khz", p.MaxFreqKHz),
		zap.Int("min_freq_khz", p.MinFreqKHz),
		zap.Bool("light_sleep", p.LightSleep))
	return nil
}

func (m *Manager) applyFrequency(dir string, p Policy) error {
	maxFreq := p.MaxFreqKHz
	if maxFreq == 0 {
		v, err := readKHz(filepath.Join(dir, "cpuinfo_max_freq"))
		if err != nil {
			return &PolicyError{Setting: "max-freq", Err: err}
		}
		maxFreq = v
	}

	minFreq := p.MinFreqKHz
	if minFreq == 0 {
		v, err := readKHz(filepath.Join(dir, "cpuinfo_min_freq"))
		if err != nil {
			return &PolicyError{Setting: "min-freq", Err: err}
		}
		minFreq = v
	}

	if minFreq > maxFreq {
		return &PolicyError{Setting: "frequency", Err: fmt.Errorf("min %d kHz above max %d kHz", minFreq, maxFreq)}
	}

	if m.dryRun {
		m.logger.Info("DRY RUN: Would set cpufreq limits",
			zap.String("policy", dir), zap.Int("min_khz", minFreq), zap.Int("max_khz", maxFreq))
		return nil
	}

	if err := writeKHz(filepath.Join(dir, "scaling_max_freq"), maxFreq); err != nil {
		return &PolicyError{Setting: "max-freq", Err: err}
	}
	if err := writeKHz(filepath.Join(dir, "scaling_min_freq"), minFreq); err != nil {
		return &PolicyError{Setting: "min-freq", Err: err}
	}
	return nil
}

func readKHz(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid frequency in %s: %w", path, err)
	}
	return v, nil
}

func writeKHz(path string, khz int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(khz)), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
