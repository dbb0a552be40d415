package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// Half is a dense row-major IEEE 754 half-precision matrix. It is a storage
// format only: compute always happens in float32 after widening.
type Half struct {
	rows, cols int
	data       []float16.Float16
}

func NewHalf(rows, cols int) *Half {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("tensor: invalid half shape [%d, %d]", rows, cols))
	}
	return &Half{
		rows: rows,
		cols: cols,
		data: make([]float16.Float16, rows*cols),
	}
}

func (h *Half) Rows() int { return h.rows }
func (h *Half) Cols() int { return h.cols }

// ToHalf converts a float32 tensor to half precision, rounding to nearest
// even and clamping per IEEE 754.
func ToHalf(t *Tensor) *Half {
	h := NewHalf(t.rows, t.cols)
	for i, v := range t.data {
		h.data[i] = float16.Fromfloat32(v)
	}
	return h
}

// FromTensor overwrites h with the half-precision rounding of t.
func (h *Half) FromTensor(t *Tensor) {
	shapeEq(t, h.rows, h.cols, "half source")
	for i, v := range t.data {
		h.data[i] = float16.Fromfloat32(v)
	}
}

// ToTensor widens h back to float32.
func (h *Half) ToTensor() *Tensor {
	t := New(h.rows, h.cols)
	h.CopyTo(t)
	return t
}

// CopyTo widens h into an existing float32 tensor.
func (h *Half) CopyTo(t *Tensor) {
	shapeEq(t, h.rows, h.cols, "half dest")
	for i, v := range h.data {
		t.data[i] = v.Float32()
	}
}

// RoundTripHalf rounds every element of t through half precision in place.
// This is how the autocast context models fp16 compute: values entering an
// fp16 op carry fp16 rounding, while the arithmetic itself stays float32.
func RoundTripHalf(t *Tensor) {
	for i, v := range t.data {
		t.data[i] = float16.Fromfloat32(v).Float32()
	}
}

// RoundTripHalfInto writes the half-rounded elements of src into dst.
func RoundTripHalfInto(src, dst *Tensor) {
	shapeEq(dst, src.rows, src.cols, "half round trip dst")
	for i, v := range src.data {
		dst.data[i] = float16.Fromfloat32(v).Float32()
	}
}

// RoundTripHalfCopy returns a half-rounded copy, leaving t untouched.
func RoundTripHalfCopy(t *Tensor) *Tensor {
	out := New(t.rows, t.cols)
	for i, v := range t.data {
		out.data[i] = float16.Fromfloat32(v).Float32()
	}
	return out
}
