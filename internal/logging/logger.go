package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes where log output goes
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	File   string // optional path, rotated by size

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Component tags used as logger names
const (
	TagUART   = "UART"
	TagPM     = "PM"
	TagWakeup = "WAKEUP"
	TagStatus = "STATUS"
)

// New builds the process logger. Under systemd (INVOCATION_ID set) the
// console encoder drops timestamps since journald records its own.
func New(cfg Config) (*zap.Logger, error) {
	return newLogger(cfg, os.Stdout, os.Getenv("INVOCATION_ID") != "")
}

func newLogger(cfg Config, stdout io.Writer, journald bool) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(time.RFC3339Nano)) },
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		if journald {
			encoderCfg.TimeKey = ""
		}
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	ws := zapcore.AddSync(stdout)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 7),
		}
		ws = zapcore.NewMultiWriteSyncer(ws, zapcore.AddSync(lj))
	}

	core := zapcore.NewCore(encoder, ws, level)
	return zap.New(core, zap.AddCaller()), nil
}

func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, &LevelError{Level: s}
}

type LevelError struct {
	Level string
}

func (e *LevelError) Error() string {
	return "unknown log level " + e.Level
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
