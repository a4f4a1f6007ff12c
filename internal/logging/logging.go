package logging

import (
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls how the global logger is built.
type Options struct {
	// Level is one of debug, info, warn, error. The aliases dev/development
	// and prod/production map to debug and error.
	Level string

	// Development switches to a colored console encoder.
	Development bool

	// File, when set, adds a rotating JSON sink.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FILE and MODE.
func OptionsFromEnv() Options {
	mode := strings.ToLower(os.Getenv("MODE"))
	return Options{
		Level:       os.Getenv("LOG_LEVEL"),
		Development: mode == "dev" || mode == "development",
		File:        os.Getenv("LOG_FILE"),
		MaxSizeMB:   100,
		MaxBackups:  5,
		MaxAgeDays:  30,
	}
}

// ParseLevel maps a LOG_LEVEL value to a zap level. Unknown values fall back
// to error so production runs stay quiet.
func ParseLevel(l string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "dev", "development", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Init builds the process-wide logger and installs it with zap.ReplaceGlobals.
// The returned function flushes buffered entries.
func Init(opts Options) func() {
	logger := New(opts)
	zap.ReplaceGlobals(logger)
	return func() { _ = logger.Sync() }
}

// New builds a logger without installing it globally.
func New(opts Options) *zap.Logger {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	var consoleEncoder zapcore.Encoder
	if opts.Development {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encCfg.EncodeCaller = zapcore.ShortCallerEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(productionEncoderConfig())
	}

	// Logs go to stderr so they never interleave with the terminal UI on stdout.
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}

	if opts.File != "" {
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			LocalTime:  true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(productionEncoderConfig()), writer, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func productionEncoderConfig() zapcore.EncoderConfig {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeDuration = zapcore.SecondsDurationEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	return encCfg
}
