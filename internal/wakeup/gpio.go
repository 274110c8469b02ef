package wakeup

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/zap"
)

// pinLine is the part of *gpiocdev.Line the wakeup pin needs
type pinLine interface {
	Value() (int, error)
	Close() error
}

type lineRequester func(chip string, offset int, options ...gpiocdev.LineReqOption) (pinLine, error)

func requestGPIOLine(chip string, offset int, options ...gpiocdev.LineReqOption) (pinLine, error) {
	line, err := gpiocdev.RequestLine(chip, offset, options...)
	if err != nil {
		return nil, err
	}
	return line, nil
}

// pinOptions builds the line request for a wakeup pin: an input with
// a defined bias and falling-edge detection so transitions are seen
func pinOptions(src GPIOSource, onEdge func(gpiocdev.LineEvent)) ([]gpiocdev.LineReqOption, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer("uart-wakeup"),
	}

	if src.InputEnable {
		opts = append(opts, gpiocdev.AsInput)
	}

	switch src.Pull {
	case PullUpOnly:
		opts = append(opts, gpiocdev.WithPullUp)
	case PullDownOnly:
		opts = append(opts, gpiocdev.WithPullDown)
	case PullNone:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	default:
		return nil, fmt.Errorf("unknown pull mode %q", src.Pull)
	}

	if src.InputEnable && onEdge != nil {
		opts = append(opts, gpiocdev.WithFallingEdge, gpiocdev.WithEventHandler(onEdge))
	}
	return opts, nil
}

// armPin requests the wakeup pin and keeps it for the life of the service
func (c *Configurator) armPin(src GPIOSource) error {
	opts, err := pinOptions(src, c.onEdge)
	if err != nil {
		return err
	}

	if c.dryRun {
		c.logger.Info("DRY RUN: Would arm wakeup pin",
			zap.String("chip", src.Chip),
			zap.Int("pin", src.Pin),
			zap.String("pull", string(src.Pull)))
		return nil
	}

	line, err := c.requestLine(src.Chip, src.Pin, opts...)
	if err != nil {
		return fmt.Errorf("failed to request GPIO %s:%d: %w", src.Chip, src.Pin, err)
	}

	if c.line != nil {
		c.line.Close()
	}
	c.line = line

	level := -1
	if v, err := line.Value(); err == nil {
		level = v
	}
	c.logger.Info("Armed wakeup pin",
		zap.String("chip", src.Chip),
		zap.Int("pin", src.Pin),
		zap.String("pull", string(src.Pull)),
		zap.Int("level", level))
	return nil
}

func (c *Configurator) onEdge(evt gpiocdev.LineEvent) {
	c.logger.Debug("Wakeup pin edge",
		zap.Int("pin", evt.Offset),
		zap.Duration("timestamp", evt.Timestamp),
		zap.Bool("falling", evt.Type == gpiocdev.LineEventFallingEdge))
}
