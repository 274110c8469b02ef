package wakeup

import "fmt"

// Step identifies which part of the wakeup configuration failed
type Step string

const (
	StepPin       Step = "pin"
	StepThreshold Step = "threshold"
	StepSource    Step = "source"
)

// ConfigError is a non-fatal wakeup configuration failure.
// Sleep may not be entered, or may not wake correctly, after one.
type ConfigError struct {
	Step Step
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("wakeup %s config: %v", e.Step, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
