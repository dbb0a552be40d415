package amp

import (
	"errors"

	"github.com/23skdu/longbow-tiller/internal/model"
	"github.com/23skdu/longbow-tiller/internal/optimizer"
	"github.com/23skdu/longbow-tiller/internal/tensor"
)

// Decorate converts a model to O2 storage: every parameter gets an fp32
// master copy plus fp16 working storage, and the working copy is replaced
// by its own fp16 rounding so forward sees exactly what fp16 storage holds.
// The optimizer is switched to multi-precision updates. Output shapes are
// unchanged.
//
// Decorating twice is an error; the second master copy would capture
// already-rounded weights.
func Decorate(m *model.MLP, opt *optimizer.SGD) error {
	if m == nil {
		return errors.New("amp: nil model")
	}
	if opt == nil {
		return errors.New("amp: nil optimizer")
	}
	for _, p := range m.Params() {
		if p.Master != nil {
			return errors.New("amp: model already decorated")
		}
	}

	for _, p := range m.Params() {
		p.Master = p.Value.Clone()
		p.Half = tensor.ToHalf(p.Master)
		p.Half.CopyTo(p.Value)
	}
	opt.EnableMultiPrecision()
	return nil
}
