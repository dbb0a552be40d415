package model

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/23skdu/longbow-tiller/internal/tensor"
)

// Caster is the slice of the autocast context the model needs: it decides,
// per named op, whether inputs should carry fp16 rounding. A nil Caster
// means full fp32 everywhere.
type Caster interface {
	FP16(op string) bool
}

// Param is one named trainable parameter. Value is the working copy used by
// forward; Grad accumulates across batches until the optimizer resets it.
// Master and Half are populated only when the model has been decorated for
// fp16 parameter storage: Master keeps full-precision weights for updates,
// Half holds the fp16 storage the working copy is refreshed from.
type Param struct {
	Name   string
	Value  *tensor.Tensor
	Grad   *tensor.Tensor
	Master *tensor.Tensor
	Half   *tensor.Half
}

// MLP is the demonstration network: three affine layers with ReLU between
// them. Shapes are fixed at construction; forward mutates nothing except
// the activation cache consumed by Backward.
type MLP struct {
	inputSize  int
	hiddenSize int
	outputSize int

	w1, b1 *Param
	w2, b2 *Param
	w3, b3 *Param

	pool *tensor.Pool

	// forward cache, reused while the batch size is stable
	batch          int
	x1, h1c, h2c   *tensor.Tensor // cast copies of layer inputs
	w1c, w2c, w3c  *tensor.Tensor // cast copies of weights
	z1, h1, z2, h2 *tensor.Tensor
	pred           *tensor.Tensor
	dOut, dH2, dH1 *tensor.Tensor

	// backward uses the exact tensors forward multiplied
	x1u, h1u, h2u *tensor.Tensor
	w1u, w2u, w3u *tensor.Tensor
}

// New constructs the network with seeded He initialization. pool may be nil.
func New(inputSize, hiddenSize, outputSize int, seed int64, pool *tensor.Pool) (*MLP, error) {
	if inputSize <= 0 {
		return nil, fmt.Errorf("model: invalid input size %d", inputSize)
	}
	if hiddenSize <= 0 {
		return nil, fmt.Errorf("model: invalid hidden size %d", hiddenSize)
	}
	if outputSize <= 0 {
		return nil, fmt.Errorf("model: invalid output size %d", outputSize)
	}
	if pool == nil {
		pool = tensor.NewPool()
	}

	rng := rand.New(rand.NewSource(seed))
	newParam := func(name string, rows, cols, fanIn int) *Param {
		std := math32.Sqrt(2.0 / float32(fanIn))
		return &Param{
			Name:  name,
			Value: tensor.Randn(rows, cols, rng, std),
			Grad:  tensor.New(rows, cols),
		}
	}
	zeroParam := func(name string, cols int) *Param {
		return &Param{
			Name:  name,
			Value: tensor.New(1, cols),
			Grad:  tensor.New(1, cols),
		}
	}

	return &MLP{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		outputSize: outputSize,
		w1:         newParam("w1", inputSize, hiddenSize, inputSize),
		b1:         zeroParam("b1", hiddenSize),
		w2:         newParam("w2", hiddenSize, hiddenSize, hiddenSize),
		b2:         zeroParam("b2", hiddenSize),
		w3:         newParam("w3", hiddenSize, outputSize, hiddenSize),
		b3:         zeroParam("b3", outputSize),
		pool:       pool,
	}, nil
}

func (m *MLP) InputSize() int  { return m.inputSize }
func (m *MLP) OutputSize() int { return m.outputSize }

// Params returns the trainable parameters in deterministic order.
func (m *MLP) Params() []*Param {
	return []*Param{m.w1, m.b1, m.w2, m.b2, m.w3, m.b3}
}

func (m *MLP) ensureScratch(batch int) {
	if m.batch == batch {
		return
	}
	for _, t := range []*tensor.Tensor{m.z1, m.h1, m.z2, m.h2, m.pred, m.dOut, m.dH2, m.dH1} {
		if t != nil {
			m.pool.Put(t)
		}
	}
	m.batch = batch
	m.z1 = m.pool.Get(batch, m.hiddenSize)
	m.h1 = m.pool.Get(batch, m.hiddenSize)
	m.z2 = m.pool.Get(batch, m.hiddenSize)
	m.h2 = m.pool.Get(batch, m.hiddenSize)
	m.pred = m.pool.Get(batch, m.outputSize)
	m.dOut = m.pool.Get(batch, m.outputSize)
	m.dH2 = m.pool.Get(batch, m.hiddenSize)
	m.dH1 = m.pool.Get(batch, m.hiddenSize)
}

// castIn returns src unchanged when the op stays fp32, otherwise a
// half-rounded copy written into the reusable buffer at *buf.
func (m *MLP) castIn(cast Caster, op string, src *tensor.Tensor, buf **tensor.Tensor) *tensor.Tensor {
	if cast == nil || !cast.FP16(op) {
		return src
	}
	if *buf == nil || !(*buf).SameShape(src) {
		if *buf != nil {
			m.pool.Put(*buf)
		}
		*buf = m.pool.Get(src.Rows(), src.Cols())
	}
	tensor.RoundTripHalfInto(src, *buf)
	return *buf
}

// Forward computes pred = linear3(relu(linear2(relu(linear1(x))))) and
// caches the activations Backward consumes. x is [batch, inputSize].
func (m *MLP) Forward(cast Caster, x *tensor.Tensor) *tensor.Tensor {
	m.ensureScratch(x.Rows())

	m.x1u = m.castIn(cast, "linear", x, &m.x1)
	m.w1u = m.castIn(cast, "linear", m.w1.Value, &m.w1c)
	tensor.MatMul(m.x1u, m.w1u, m.z1)
	tensor.AddBiasRows(m.z1, m.b1.Value)
	tensor.ReLU(m.z1, m.h1)

	m.h1u = m.castIn(cast, "linear", m.h1, &m.h1c)
	m.w2u = m.castIn(cast, "linear", m.w2.Value, &m.w2c)
	tensor.MatMul(m.h1u, m.w2u, m.z2)
	tensor.AddBiasRows(m.z2, m.b2.Value)
	tensor.ReLU(m.z2, m.h2)

	m.h2u = m.castIn(cast, "linear", m.h2, &m.h2c)
	m.w3u = m.castIn(cast, "linear", m.w3.Value, &m.w3c)
	tensor.MatMul(m.h2u, m.w3u, m.pred)
	tensor.AddBiasRows(m.pred, m.b3.Value)

	return m.pred
}

// MSE returns mean((pred - label)^2) over all elements.
func MSE(pred, label *tensor.Tensor) float32 {
	if !pred.SameShape(label) {
		panic(fmt.Sprintf("model: mse shape mismatch [%d, %d] vs [%d, %d]",
			pred.Rows(), pred.Cols(), label.Rows(), label.Cols()))
	}
	var sum float32
	p := pred.Data()
	l := label.Data()
	for i, v := range p {
		d := v - l[i]
		sum += d * d
	}
	return sum / float32(len(p))
}

// Backward computes MSE against y, accumulates parameter gradients scaled
// by lossScale, and returns the unscaled loss. Forward must have run on the
// same batch first. Gradients add onto whatever is already in Grad, which
// is what makes gradient accumulation work; the optimizer resets them.
func (m *MLP) Backward(y *tensor.Tensor, lossScale float32) float32 {
	if m.pred == nil {
		panic("model: Backward called before Forward")
	}
	batch := m.batch
	n := float32(batch * m.outputSize)

	tensor.Sub(m.pred, y, m.dOut)
	var sum float32
	for _, v := range m.dOut.Data() {
		sum += v * v
	}
	loss := sum / n

	// d(mse)/d(pred) = 2 * diff / n, times the loss scale
	tensor.Scale(m.dOut, 2.0*lossScale/n)

	m.accumulateLayer(m.h2u, m.dOut, m.w3, m.b3)
	tensor.MatMulT2(m.dOut, m.w3u, m.dH2)
	tensor.ReLUGrad(m.z2, m.dH2, m.dH2)

	m.accumulateLayer(m.h1u, m.dH2, m.w2, m.b2)
	tensor.MatMulT2(m.dH2, m.w2u, m.dH1)
	tensor.ReLUGrad(m.z1, m.dH1, m.dH1)

	m.accumulateLayer(m.x1u, m.dH1, m.w1, m.b1)

	return loss
}

// accumulateLayer adds input^T * delta into the weight gradient and the
// column sums of delta into the bias gradient.
func (m *MLP) accumulateLayer(input, delta *tensor.Tensor, w, b *Param) {
	gw := m.pool.Get(w.Grad.Rows(), w.Grad.Cols())
	tensor.MatMulT1(input, delta, gw)
	tensor.Add(w.Grad, gw)
	m.pool.Put(gw)

	gb := m.pool.Get(1, b.Grad.Cols())
	tensor.ColSum(delta, gb)
	tensor.Add(b.Grad, gb)
	m.pool.Put(gb)
}
