package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/librescoot/uart-wakeup-service/internal/logging"
	"github.com/librescoot/uart-wakeup-service/internal/power"
	"github.com/librescoot/uart-wakeup-service/internal/uart"
	"github.com/librescoot/uart-wakeup-service/internal/wakeup"
	"github.com/spf13/viper"
)

const EnvPrefix = "UART_WAKEUP"

// Lock backends
const (
	BackendWakelock = "wakelock"
	BackendLogind   = "logind"
	BackendNone     = "none"
)

type Config struct {
	Port        string        `mapstructure:"port"`
	Line        int           `mapstructure:"line"`
	BaudRate    int           `mapstructure:"baud-rate"`
	RxBufSize   int           `mapstructure:"rx-buf-size"`
	TxBufSize   int           `mapstructure:"tx-buf-size"`
	QueueDepth  int           `mapstructure:"queue-depth"`
	ReadBufSize int           `mapstructure:"read-buf-size"`
	ReadTimeout time.Duration `mapstructure:"read-timeout"`

	WakeupIdle      time.Duration `mapstructure:"wakeup-idle"`
	WakeupThreshold int           `mapstructure:"wakeup-threshold"`
	GPIOChip        string        `mapstructure:"gpio-chip"`
	WakeupPin       int           `mapstructure:"wakeup-pin"`
	WakeupPull      string        `mapstructure:"wakeup-pull"`

	LockBackend string `mapstructure:"lock-backend"`
	LockName    string `mapstructure:"lock-name"`
	MaxFreqKHz  int    `mapstructure:"max-freq-khz"`
	MinFreqKHz  int    `mapstructure:"min-freq-khz"`
	LightSleep  bool   `mapstructure:"light-sleep"`
	SysfsRoot   string `mapstructure:"sysfs-root"`

	RedisHost   string `mapstructure:"redis-host"`
	RedisPort   int    `mapstructure:"redis-port"`
	MetricsAddr string `mapstructure:"metrics-addr"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogFile   string `mapstructure:"log-file"`

	DryRun bool `mapstructure:"dry-run"`

	ConfigFile  string `mapstructure:"-"`
	ShowVersion bool   `mapstructure:"-"`
}

func New() *Config {
	return &Config{
		Port:        "/dev/ttyS1",
		Line:        1,
		BaudRate:    115200,
		RxBufSize:   2048,
		TxBufSize:   2048,
		QueueDepth:  20,
		ReadBufSize: 1024,
		ReadTimeout: 100 * time.Millisecond,

		WakeupIdle:      time.Second,
		WakeupThreshold: 3,
		GPIOChip:        "gpiochip0",
		WakeupPin:       6,
		WakeupPull:      string(wakeup.PullUpOnly),

		LockBackend: BackendWakelock,
		LockName:    "uart_evt",
		LightSleep:  true,
		SysfsRoot:   "/sys",

		RedisPort: 6379,

		LogLevel:  "info",
		LogFormat: "console",
	}
}

func (c *Config) flagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("uart-wakeup", flag.ContinueOnError)

	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML config file, overridden by flags")
	fs.BoolVar(&c.ShowVersion, "version", c.ShowVersion, "Print version and exit")

	fs.StringVar(&c.Port, "port", c.Port, "Serial device")
	fs.IntVar(&c.Line, "line", c.Line, "Serial line index, used for error counters and wakeup naming")
	fs.IntVar(&c.BaudRate, "baud-rate", c.BaudRate, "Line speed (8N1)")
	fs.IntVar(&c.RxBufSize, "rx-buf-size", c.RxBufSize, "Receive ring buffer size in bytes")
	fs.IntVar(&c.TxBufSize, "tx-buf-size", c.TxBufSize, "Largest single write in bytes")
	fs.IntVar(&c.QueueDepth, "queue-depth", c.QueueDepth, "Event queue depth")
	fs.IntVar(&c.ReadBufSize, "read-buf-size", c.ReadBufSize, "Coordinator read buffer in bytes")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "Timeout for reading announced data")

	fs.DurationVar(&c.WakeupIdle, "wakeup-idle", c.WakeupIdle,
		"Line silence after which a burst counts as a wakeup")
	fs.IntVar(&c.WakeupThreshold, "wakeup-threshold", c.WakeupThreshold,
		"Minimum burst length that counts as a wakeup")
	fs.StringVar(&c.GPIOChip, "gpio-chip", c.GPIOChip, "GPIO chip of the wakeup pin")
	fs.IntVar(&c.WakeupPin, "wakeup-pin", c.WakeupPin, "Wakeup pin offset, -1 to disable")
	fs.StringVar(&c.WakeupPull, "wakeup-pull", c.WakeupPull, "Wakeup pin bias (pull-up, pull-down, none)")

	fs.StringVar(&c.LockBackend, "lock-backend", c.LockBackend, "Power lock backend (wakelock, logind, none)")
	fs.StringVar(&c.LockName, "lock-name", c.LockName, "Name of the coordinator power lock")
	fs.IntVar(&c.MaxFreqKHz, "max-freq-khz", c.MaxFreqKHz, "CPU frequency ceiling, 0 for hardware maximum")
	fs.IntVar(&c.MinFreqKHz, "min-freq-khz", c.MinFreqKHz, "CPU frequency floor, 0 for hardware minimum")
	fs.BoolVar(&c.LightSleep, "light-sleep", c.LightSleep, "Enable kernel autosleep while no lock is held")
	fs.StringVar(&c.SysfsRoot, "sysfs-root", c.SysfsRoot, "Mount point of sysfs")

	fs.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis host, empty disables status publishing")
	fs.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Address for /metrics, empty disables it")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (console, json)")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Also log to this file, rotated by size")

	fs.BoolVar(&c.DryRun, "dry-run", c.DryRun,
		"Dry run (log power and wakeup changes instead of writing sysfs)")

	return fs
}

// Parse applies args on top of the config file and environment. Flags
// given on the command line always win.
func (c *Config) Parse(args []string) error {
	fs := c.flagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.ShowVersion {
		return nil
	}

	explicit := map[string]string{}
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if err := c.Load(c.ConfigFile); err != nil {
		return err
	}
	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("reapply flag %s: %w", name, err)
		}
	}
	return nil
}

// Load overlays the optional config file and UART_WAKEUP_* environment
// variables onto c. The current values act as defaults.
func (c *Config) Load(path string) error {
	v := viper.New()

	fs := c.flagSet()
	fs.VisitAll(func(f *flag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}
		v.SetDefault(f.Name, f.Value.String())
	})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	configFile, showVersion := c.ConfigFile, c.ShowVersion
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	c.ConfigFile, c.ShowVersion = configFile, showVersion
	return nil
}

// Validate reports every out of range setting
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Line >= 0, "line %d is negative", c.Line)
	check(c.BaudRate > 0, "baud-rate %d must be positive", c.BaudRate)
	check(c.RxBufSize > 0 && c.TxBufSize > 0, "rx-buf-size and tx-buf-size must be positive")
	check(c.QueueDepth > 0, "queue-depth %d must be positive", c.QueueDepth)
	check(c.ReadBufSize > 0, "read-buf-size %d must be positive", c.ReadBufSize)
	check(c.ReadTimeout > 0, "read-timeout %s must be positive", c.ReadTimeout)
	check(c.WakeupIdle >= 0, "wakeup-idle %s is negative", c.WakeupIdle)

	switch c.LockBackend {
	case BackendWakelock, BackendLogind, BackendNone:
	default:
		errs = append(errs, fmt.Errorf("unknown lock-backend %q", c.LockBackend))
	}
	check(c.LockName != "", "lock-name must be set")
	check(c.RedisPort > 0 && c.RedisPort < 65536, "redis-port %d out of range", c.RedisPort)

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log-format %q", c.LogFormat))
	}

	// threshold and pin problems are reported by the configurator at
	// startup and are not fatal
	if err := c.Wakeup().Validate(); err != nil {
		var cerr *wakeup.ConfigError
		for _, e := range unwrapAll(err) {
			if errors.As(e, &cerr) && cerr.Step == wakeup.StepThreshold {
				continue
			}
			errs = append(errs, e)
		}
	}

	return errors.Join(errs...)
}

func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func (c *Config) UART() uart.Config {
	return uart.Config{
		Port:       c.Port,
		Line:       c.Line,
		BaudRate:   c.BaudRate,
		RxBufSize:  c.RxBufSize,
		TxBufSize:  c.TxBufSize,
		QueueDepth: c.QueueDepth,
		WakeupIdle: c.WakeupIdle,
	}
}

func (c *Config) Power() power.Policy {
	return power.Policy{
		MaxFreqKHz: c.MaxFreqKHz,
		MinFreqKHz: c.MinFreqKHz,
		LightSleep: c.LightSleep,
	}
}

func (c *Config) Wakeup() wakeup.Policy {
	return wakeup.Policy{
		GPIO: wakeup.GPIOSource{
			Chip:        c.GPIOChip,
			Pin:         c.WakeupPin,
			Pull:        wakeup.PullMode(c.WakeupPull),
			InputEnable: true,
		},
		Serial: wakeup.SerialSource{
			Line:      c.Line,
			Port:      c.Port,
			Threshold: c.WakeupThreshold,
		},
		Power: c.Power(),
	}
}

func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:  c.LogLevel,
		Format: c.LogFormat,
		File:   c.LogFile,
	}
}
