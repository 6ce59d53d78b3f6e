package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		debug   bool
		enabled zapcore.Level
		skipped zapcore.Level
		wantErr bool
	}{
		{name: "default info", enabled: zapcore.InfoLevel, skipped: zapcore.DebugLevel},
		{name: "warn", level: "warn", enabled: zapcore.WarnLevel, skipped: zapcore.InfoLevel},
		{name: "debug flag wins", level: "error", debug: true, enabled: zapcore.DebugLevel, skipped: zapcore.DebugLevel - 1},
		{name: "bad level", level: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.debug)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			core := logger.Core()
			if !core.Enabled(tt.enabled) {
				t.Errorf("%s should be enabled", tt.enabled)
			}
			if core.Enabled(tt.skipped) {
				t.Errorf("%s should be disabled", tt.skipped)
			}
		})
	}
}
