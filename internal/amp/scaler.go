package amp

import (
	"fmt"
	"sync/atomic"

	"github.com/23skdu/longbow-tiller/internal/metrics"
	"github.com/23skdu/longbow-tiller/internal/model"
	"github.com/23skdu/longbow-tiller/internal/optimizer"
)

// DefaultLossScale keeps small fp16 gradients representable: 2^10 adds ten
// bits of headroom above the fp16 minimum normal (2^-14).
const DefaultLossScale = 1024.0

// GradScaler implements static loss scaling: the loss is multiplied by a
// fixed factor before backward, and gradients are divided by the same
// factor before the optimizer step. The factor never changes; overflow
// handling is limited to skipping the update when a gradient went NaN/Inf.
type GradScaler struct {
	enabled bool
	scale   float32
	skipped atomic.Int64
}

func NewGradScaler(enabled bool, initScale float32) (*GradScaler, error) {
	if initScale <= 0 {
		return nil, fmt.Errorf("amp: invalid loss scale %f (must be positive)", initScale)
	}
	s := &GradScaler{enabled: enabled, scale: initScale}
	if enabled {
		metrics.SetLossScale(initScale)
	} else {
		metrics.SetLossScale(1)
	}
	return s, nil
}

func (s *GradScaler) Enabled() bool { return s.enabled }

// LossScale returns the factor applied to losses: 1 when disabled.
func (s *GradScaler) LossScale() float32 {
	if !s.enabled {
		return 1
	}
	return s.scale
}

// Scale multiplies a loss value by the scale factor.
func (s *GradScaler) Scale(loss float32) float32 {
	return loss * s.LossScale()
}

// Unscale divides every gradient by the scale factor.
func (s *GradScaler) Unscale(params []*model.Param) {
	if !s.enabled {
		return
	}
	inv := 1.0 / s.scale
	for _, p := range params {
		grad := p.Grad.Data()
		for i := range grad {
			grad[i] *= inv
		}
	}
}

// Minimize is the combined unscale-and-step operation: it verifies the
// gradients are finite, unscales them, and applies the optimizer update.
// When any gradient is NaN/Inf the step is skipped and false is returned;
// the caller still resets gradients, so the batch is simply dropped.
func (s *GradScaler) Minimize(opt *optimizer.SGD, params []*model.Param) bool {
	if s.enabled {
		for _, p := range params {
			if p.Grad.HasNonFinite() {
				metrics.RecordNonFiniteGrad(p.Name)
				metrics.RecordSkippedUpdate()
				s.skipped.Add(1)
				return false
			}
		}
		s.Unscale(params)
	}
	opt.Step(params)
	return true
}

// Skipped returns how many updates were dropped on non-finite gradients.
func (s *GradScaler) Skipped() int64 {
	return s.skipped.Load()
}
