package wakeup

import (
	"errors"
	"os"

	"github.com/librescoot/uart-wakeup-service/internal/power"
	"go.uber.org/zap"
)

// ThresholdSetter is implemented by the serial driver
type ThresholdSetter interface {
	SetWakeupThreshold(symbols int) error
}

// PolicyInstaller is implemented by the power manager
type PolicyInstaller interface {
	ConfigurePolicy(p power.Policy) error
}

// Configurator arms the wakeup pin and serial line once at startup
type Configurator struct {
	logger      *zap.Logger
	registry    *Registry
	serial      ThresholdSetter
	requestLine lineRequester
	dryRun      bool

	line pinLine
}

// NewConfigurator creates a configurator. In dry run the wakeup pin is
// not requested.
func NewConfigurator(logger *zap.Logger, registry *Registry, serial ThresholdSetter, dryRun bool) *Configurator {
	return &Configurator{
		logger:      logger,
		registry:    registry,
		serial:      serial,
		requestLine: requestGPIOLine,
		dryRun:      dryRun,
	}
}

// Configure arms every wakeup source in p. Each step runs even if an
// earlier one failed; the failures are returned joined as *ConfigError.
func (c *Configurator) Configure(p Policy) error {
	var errs []error

	if p.GPIO.Pin >= 0 {
		if err := c.armPin(p.GPIO); err != nil {
			errs = append(errs, &ConfigError{Step: StepPin, Err: err})
		}
	} else {
		c.logger.Info("Wakeup pin disabled")
	}

	if err := c.serial.SetWakeupThreshold(p.Serial.Threshold); err != nil {
		c.logger.Error("Set wakeup threshold failed", zap.Int("line", p.Serial.Line), zap.Error(err))
		errs = append(errs, &ConfigError{Step: StepThreshold, Err: err})
	}

	if err := c.registry.EnableSource(SourceUART, p.Serial.TTYName()); err != nil {
		c.logger.Error("Set uart wakeup failed", zap.Int("line", p.Serial.Line), zap.Error(err))
		errs = append(errs, &ConfigError{Step: StepSource, Err: err})
	}

	// Not every gpiochip exposes a wakeup attribute; the pin still works
	// when the board wires it through gpio-keys.
	if p.GPIO.Pin >= 0 {
		if err := c.registry.EnableSource(SourceGPIO, p.GPIO.Chip); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				c.logger.Debug("GPIO chip has no wakeup attribute", zap.String("chip", p.GPIO.Chip))
			} else {
				errs = append(errs, &ConfigError{Step: StepSource, Err: err})
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.logger.Info("Set light sleep wakeup ok")
	return nil
}

// Setup runs Configure and then installs the power policy.
// Wakeup configuration failures are logged and do not stop startup;
// a policy failure is returned and must abort it.
func (c *Configurator) Setup(p Policy, pm PolicyInstaller) error {
	if err := c.Configure(p); err != nil {
		c.logger.Error("Wakeup configuration incomplete, sleep may not be entered or may not wake", zap.Error(err))
	}

	if err := pm.ConfigurePolicy(p.Power); err != nil {
		return err
	}
	return nil
}

// Close releases the wakeup pin
func (c *Configurator) Close() error {
	if c.line == nil {
		return nil
	}
	err := c.line.Close()
	c.line = nil
	return err
}
