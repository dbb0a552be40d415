package tensor

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"
)

// Tensor is a dense row-major float32 matrix. All training state in this
// repository is 2-D: batches are [batch, features], weights [in, out].
type Tensor struct {
	rows, cols int
	data       []float32
}

func New(rows, cols int) *Tensor {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("tensor: invalid shape [%d, %d]", rows, cols))
	}
	return &Tensor{
		rows: rows,
		cols: cols,
		data: make([]float32, rows*cols),
	}
}

// FromSlice wraps data in a tensor. The slice is owned by the tensor after
// the call.
func FromSlice(rows, cols int, data []float32) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: data length %d does not match shape [%d, %d]", len(data), rows, cols))
	}
	return &Tensor{rows: rows, cols: cols, data: data}
}

// Randn fills a new tensor with normally distributed values scaled by std.
func Randn(rows, cols int, rng *rand.Rand, std float32) *Tensor {
	t := New(rows, cols)
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64()) * std
	}
	return t
}

func (t *Tensor) Rows() int { return t.rows }
func (t *Tensor) Cols() int { return t.cols }

// Data exposes the backing slice. Callers must not resize it.
func (t *Tensor) Data() []float32 { return t.data }

func (t *Tensor) At(i, j int) float32 {
	return t.data[i*t.cols+j]
}

func (t *Tensor) Set(i, j int, v float32) {
	t.data[i*t.cols+j] = v
}

func (t *Tensor) Clone() *Tensor {
	out := New(t.rows, t.cols)
	copy(out.data, t.data)
	return out
}

func (t *Tensor) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// SameShape reports whether two tensors have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.rows == o.rows && t.cols == o.cols
}

// HasNonFinite reports whether the tensor contains any NaN or Inf value.
func (t *Tensor) HasNonFinite() bool {
	for _, v := range t.data {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// FrobeniusNorm returns the square root of the sum of squared elements.
func (t *Tensor) FrobeniusNorm() float32 {
	var sum float32
	for _, v := range t.data {
		sum += v * v
	}
	return math32.Sqrt(sum)
}

func shapeEq(t *Tensor, rows, cols int, what string) {
	if t.rows != rows || t.cols != cols {
		panic(fmt.Sprintf("tensor: %s has shape [%d, %d], want [%d, %d]", what, t.rows, t.cols, rows, cols))
	}
}
