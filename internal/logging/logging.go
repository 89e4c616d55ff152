// Package logging builds the zap logger from the three user-facing levels:
// silent, normal and verbose.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	Silent  = "silent"
	Normal  = "normal"
	Verbose = "verbose"
)

// Level maps a user-facing level to a zap level. ok is false for silent.
func Level(name string) (lvl zapcore.Level, ok bool, err error) {
	switch name {
	case Silent:
		return zapcore.FatalLevel, false, nil
	case Normal, "":
		return zapcore.InfoLevel, true, nil
	case Verbose:
		return zapcore.DebugLevel, true, nil
	}
	return 0, false, fmt.Errorf("unknown log level %q", name)
}

// New returns a logger for level and format ("json" or "console"). The silent
// level yields a no-op logger.
func New(level, format string) (*zap.Logger, error) {
	lvl, ok, err := Level(level)
	if err != nil {
		return nil, err
	}
	if !ok {
		return zap.NewNop(), nil
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
