// Package logging builds the process logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a console logger writing to stderr. debug selects the
// development config and overrides level; otherwise level is parsed as a zap
// level name, defaulting to info.
func New(level string, debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
		if level != "" {
			parsed, err := zap.ParseAtomicLevel(level)
			if err != nil {
				return nil, fmt.Errorf("invalid log level %q: %w", level, err)
			}
			lvl = parsed
		}
		cfg.Level = lvl
		cfg.DisableStacktrace = true
	}
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
