package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init installs the global zap logger used throughout the daemon.
func Init(debug bool) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(l)
}
