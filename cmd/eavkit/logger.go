package main

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// newLogger: debug — человекочитаемый development-логгер, остальное — JSON.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	var cfg zap.Config
	if lvl.Level() == zap.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = lvl
	return cfg.Build()
}
