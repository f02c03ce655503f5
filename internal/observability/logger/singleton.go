package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init builds the singleton logger. Idempotent: only the first call
// has effect. Call it at process start, before any logging.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L returns the singleton logger, building a default dev logger if
// Init was never called.
func L() *zap.Logger {
	if instance == nil {
		Init(Config{Env: "dev", Level: "info"})
	}
	return instance
}

// Named returns a logger tagged with a component name.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered entries. Defer it in main.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
