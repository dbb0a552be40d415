package config

import (
	"fmt"
	"strings"
)

// Config holds every knob for one training run. Populated from flags in
// cmd/ and validated before the trainer starts.
type Config struct {
	Epochs     int
	InputSize  int
	HiddenSize int
	OutputSize int
	BatchSize  int
	BatchCount int

	// AccumInterval is the gradient accumulation interval: the optimizer
	// steps once every AccumInterval batches. 1 means step every batch.
	AccumInterval int

	// AMPLevel selects the precision mode: O0 (pure fp32), O1 (autocast),
	// O2 (autocast plus fp16 parameter storage).
	AMPLevel string

	// LossScale is the fixed loss scaling factor applied before backward
	// when AMP is active. Never adjusted at runtime.
	LossScale float32

	LearningRate float32
	Seed         int64
	LogEvery     int

	// CustomAllow / CustomDeny override the default per-op precision lists.
	CustomAllow []string
	CustomDeny  []string

	// TelemetryAddr, when set, enables the Arrow Flight step publisher.
	TelemetryAddr string
}

func (c *Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("invalid epochs: %d (must be positive)", c.Epochs)
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("invalid input_size: %d (must be positive)", c.InputSize)
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("invalid hidden_size: %d (must be positive)", c.HiddenSize)
	}
	if c.OutputSize <= 0 {
		return fmt.Errorf("invalid output_size: %d (must be positive)", c.OutputSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", c.BatchSize)
	}
	if c.BatchCount <= 0 {
		return fmt.Errorf("invalid batch_count: %d (must be positive)", c.BatchCount)
	}
	if c.AccumInterval <= 0 {
		return fmt.Errorf("invalid accum_interval: %d (must be positive)", c.AccumInterval)
	}
	if c.AccumInterval > c.BatchCount {
		return fmt.Errorf("accum_interval (%d) > batch_count (%d): no update would ever fire", c.AccumInterval, c.BatchCount)
	}
	switch strings.ToUpper(c.AMPLevel) {
	case "O0", "O1", "O2":
	default:
		return fmt.Errorf("invalid amp_level: %q (must be O0, O1 or O2)", c.AMPLevel)
	}
	if c.LossScale <= 0 {
		return fmt.Errorf("invalid loss_scale: %f (must be positive)", c.LossScale)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("invalid learning_rate: %f (must be positive)", c.LearningRate)
	}
	if c.LogEvery <= 0 {
		return fmt.Errorf("invalid log_every: %d (must be positive)", c.LogEvery)
	}
	return nil
}

// AMPEnabled reports whether any mixed-precision path is active.
func (c *Config) AMPEnabled() bool {
	return strings.ToUpper(c.AMPLevel) != "O0"
}

// Default returns the demonstration configuration: a square three-layer
// network large enough for fp16 matmuls to matter.
func Default() Config {
	return Config{
		Epochs:        5,
		InputSize:     4096,
		HiddenSize:    4096,
		OutputSize:    4096,
		BatchSize:     512,
		BatchCount:    50,
		AccumInterval: 1,
		AMPLevel:      "O1",
		LossScale:     1024.0,
		LearningRate:  0.001,
		Seed:          42,
		LogEvery:      10,
	}
}
