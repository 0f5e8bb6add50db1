// Package logger provides the process-wide structured logger used by every
// component. It wraps zap behind a single lazily-initialised SugaredLogger.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once  sync.Once
	sugar *zap.SugaredLogger
)

// Logger returns the process-wide sugared logger, building it on first use.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		sugar = build().Sugar()
	})
	return sugar
}

// SetLevel adjusts the minimum level of the process-wide logger. Intended
// for CLI --verbose/--quiet flags.
func SetLevel(level zapcore.Level) {
	Logger()
	atomicLevel.SetLevel(level)
}

var atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func build() *zap.Logger {
	if v := os.Getenv("INSECA_LOG_LEVEL"); v != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			atomicLevel.SetLevel(lvl)
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		atomicLevel,
	)
	return zap.New(core, zap.AddCaller())
}
