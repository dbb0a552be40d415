package dataset

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-tiller/internal/metrics"
	"github.com/23skdu/longbow-tiller/internal/tensor"
)

// Batch is one immutable (input, label) pair. Tensors are read-only during
// training.
type Batch struct {
	Input *tensor.Tensor
	Label *tensor.Tensor
}

// Spec describes a synthetic batch set.
type Spec struct {
	BatchSize  int
	BatchCount int
	InputSize  int
	OutputSize int
	Seed       int64
}

func (s Spec) validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("dataset: invalid batch_size %d", s.BatchSize)
	}
	if s.BatchCount <= 0 {
		return fmt.Errorf("dataset: invalid batch_count %d", s.BatchCount)
	}
	if s.InputSize <= 0 {
		return fmt.Errorf("dataset: invalid input_size %d", s.InputSize)
	}
	if s.OutputSize <= 0 {
		return fmt.Errorf("dataset: invalid output_size %d", s.OutputSize)
	}
	return nil
}

// Generate builds the finite ordered batch sequence for one run. The same
// spec always produces the same batches.
func Generate(s Spec) ([]Batch, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(s.Seed))
	batches := make([]Batch, 0, s.BatchCount)
	for i := 0; i < s.BatchCount; i++ {
		batches = append(batches, Batch{
			Input: tensor.Randn(s.BatchSize, s.InputSize, rng, 1.0),
			Label: tensor.Randn(s.BatchSize, s.OutputSize, rng, 1.0),
		})
	}
	metrics.RecordBatches(s.BatchCount)
	return batches, nil
}
