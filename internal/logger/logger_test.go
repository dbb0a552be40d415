package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug level", "debug", "console"},
		{"info level", "info", "console"},
		{"warn level", "warn", "console"},
		{"error level", "error", "console"},
		{"json format", "info", "json"},
		{"uppercase level", "DEBUG", "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.level, tt.format)
			if Log == nil {
				t.Error("expected Log to be initialized")
			}
		})
	}
}

func TestLoggerLevelConstants(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel}, // default case
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(tt.level, "console")
			got := zerolog.GlobalLevel()
			if got != tt.expect {
				t.Errorf("level %s: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	Setup("debug", "console")

	// These should not panic
	Log.Info("test info message", "key", "value")
	Log.Debug("test debug message", "epoch", 3)
	Log.Warn("test warn message", "loss", 0.25)
	Log.Error("test error message", "step", int64(12))
}

func TestLoggerOddAndEmptyArgs(t *testing.T) {
	Setup("info", "console")

	// Odd number of args drops the orphan key; empty args is fine
	Log.Info("odd args", "key1", "value1", "orphan_key")
	Log.Info("empty args")
}

func TestLoggerNonStringKey(t *testing.T) {
	Setup("info", "console")

	// Non-string keys are stringified
	Log.Info("non-string key", 123, "value")
}

func TestComponentLogger(t *testing.T) {
	Setup("info", "console")

	child := Log.Component("trainer")
	if child == nil {
		t.Fatal("expected child logger")
	}
	child.Info("component message", "step", 1)
}
