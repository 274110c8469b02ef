package wakeup

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/librescoot/uart-wakeup-service/internal/power"
	"github.com/librescoot/uart-wakeup-service/internal/uart"
)

// PullMode is the bias applied to the wakeup pin while sleeping
type PullMode string

const (
	PullUpOnly   PullMode = "pull-up"
	PullDownOnly PullMode = "pull-down"
	PullNone     PullMode = "none"
)

// GPIOSource is the pin armed as a wakeup source. Pin < 0 disables it.
type GPIOSource struct {
	Chip        string
	Pin         int
	Pull        PullMode
	InputEnable bool
}

// SerialSource is the serial line armed as a wakeup source
type SerialSource struct {
	Line      int
	Port      string
	Threshold int
}

// Policy describes every armed sleep trigger plus the power policy.
// It is built once at startup and passed by value.
type Policy struct {
	GPIO   GPIOSource
	Serial SerialSource
	Power  power.Policy
}

// TTYName returns the kernel name of the serial port, e.g. ttyS1
func (s SerialSource) TTYName() string {
	return filepath.Base(s.Port)
}

// Validate checks the policy without touching hardware
func (p Policy) Validate() error {
	var errs []error
	if p.Serial.Threshold < uart.MinWakeupThreshold || p.Serial.Threshold > uart.MaxWakeupThreshold {
		errs = append(errs, &ConfigError{
			Step: StepThreshold,
			Err:  fmt.Errorf("%w: %d", uart.ErrThresholdRange, p.Serial.Threshold),
		})
	}
	if p.Serial.Port == "" {
		errs = append(errs, &ConfigError{Step: StepSource, Err: errors.New("serial port not set")})
	}
	if p.GPIO.Pin >= 0 {
		if p.GPIO.Chip == "" {
			errs = append(errs, &ConfigError{Step: StepPin, Err: errors.New("gpio chip not set")})
		}
		switch p.GPIO.Pull {
		case PullUpOnly, PullDownOnly, PullNone:
		default:
			errs = append(errs, &ConfigError{Step: StepPin, Err: fmt.Errorf("unknown pull mode %q", p.GPIO.Pull)})
		}
	}
	return errors.Join(errs...)
}
