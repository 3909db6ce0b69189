// Package vlog provides the process-wide structured logger, built on
// go.uber.org/zap.
package vlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger *zap.Logger
)

// Init configures the global logger. verbose selects debug-level output;
// otherwise info and above. Safe to call more than once (e.g. once the
// CLI has parsed --verbose).
func Init(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	initLocked(verbose)
}

func initLocked(verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), level)
	logger = zap.New(core)
}

// L returns the global logger, initializing a default (info-level) one
// if Init has not been called yet.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		initLocked(false)
	}
	return logger
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		_ = l.Sync()
	}
}
