// Package logger provides the process-wide structured logger.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once    sync.Once
	sugared *zap.SugaredLogger
	level   = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// SetVerbose switches the logger between debug and info level. It takes
// effect whether it is called before or after the first call to Logger().
func SetVerbose(v bool) {
	if v {
		level.SetLevel(zap.DebugLevel)
	} else {
		level.SetLevel(zap.InfoLevel)
	}
}

// Logger returns the process-wide sugared logger, building it on first use.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.DisableStacktrace = true
		cfg.Level = level

		base, err := cfg.Build()
		if err != nil {
			base = zap.NewNop()
		}
		sugared = base.Sugar()
	})
	return sugared
}

// Sync flushes any buffered log entries. Call once at process exit.
func Sync() {
	if sugared != nil {
		_ = sugared.Sync()
	}
}
