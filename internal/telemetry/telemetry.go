package telemetry

import (
	"context"
	"time"
)

// StepRecord is one training step's observable state, as published to an
// external collector.
type StepRecord struct {
	Epoch    int
	Step     int
	Loss     float32
	Scale    float32
	Duration time.Duration
}

// Publisher streams step records out of the process. Publishing is best
// effort: the trainer logs failures and keeps going.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, run string, records []StepRecord) error
	Close() error
}
