package optimizer

import (
	"fmt"
	"sync/atomic"

	"github.com/23skdu/longbow-tiller/internal/metrics"
	"github.com/23skdu/longbow-tiller/internal/model"
)

// SGD applies plain stochastic gradient descent: w -= lr * grad.
//
// In multi-precision mode (installed by amp.Decorate) the update is applied
// to the fp32 master weights, and the fp16 working copy is refreshed from
// the result. Parameters without master weights fall back to the direct
// update either way.
type SGD struct {
	lr             float32
	multiPrecision bool
	updates        atomic.Int64
}

func NewSGD(lr float32) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("optimizer: invalid learning rate %f (must be positive)", lr)
	}
	return &SGD{lr: lr}, nil
}

func (o *SGD) LearningRate() float32 { return o.lr }

// EnableMultiPrecision switches updates to fp32 master weights. Called by
// amp.Decorate after it installs masters on the parameters.
func (o *SGD) EnableMultiPrecision() {
	o.multiPrecision = true
}

func (o *SGD) MultiPrecision() bool { return o.multiPrecision }

// Step applies one update to every parameter. Gradients are consumed as-is;
// unscaling is the caller's job (see amp.GradScaler.Minimize).
func (o *SGD) Step(params []*model.Param) {
	for _, p := range params {
		if o.multiPrecision && p.Master != nil {
			master := p.Master.Data()
			grad := p.Grad.Data()
			for i := range master {
				master[i] -= o.lr * grad[i]
			}
			p.Half.FromTensor(p.Master)
			p.Half.CopyTo(p.Value)
			continue
		}
		value := p.Value.Data()
		grad := p.Grad.Data()
		for i := range value {
			value[i] -= o.lr * grad[i]
		}
	}
	o.updates.Add(1)
	metrics.RecordOptimizerUpdate()
}

// ZeroGrad resets every accumulated gradient.
func (o *SGD) ZeroGrad(params []*model.Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// Updates returns how many Step calls have been applied.
func (o *SGD) Updates() int64 {
	return o.updates.Load()
}
