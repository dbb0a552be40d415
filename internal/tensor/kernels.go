package tensor

import (
	"runtime"
	"sync"
)

// parallelRows splits [0, rows) into NumCPU chunks and runs fn on each.
func parallelRows(rows int, fn func(start, end int)) {
	parallelism := runtime.NumCPU()
	chunkSize := (rows + parallelism - 1) / parallelism
	var wg sync.WaitGroup
	for i := 0; i < rows; i += chunkSize {
		end := i + chunkSize
		if end > rows {
			end = rows
		}
		wg.Add(1)
		go func(rowStart, rowEnd int) {
			defer wg.Done()
			fn(rowStart, rowEnd)
		}(i, end)
	}
	wg.Wait()
}

// MatMul computes out = a * b. a is [m, k], b is [k, n], out is [m, n].
func MatMul(a, b, out *Tensor) {
	if a.cols != b.rows {
		shapeEq(b, a.cols, b.cols, "matmul rhs")
	}
	shapeEq(out, a.rows, b.cols, "matmul out")
	n := b.cols
	k := a.cols
	parallelRows(a.rows, func(rowStart, rowEnd int) {
		for row := rowStart; row < rowEnd; row++ {
			aRow := a.data[row*k : (row+1)*k]
			outRow := out.data[row*n : (row+1)*n]
			for j := range outRow {
				outRow[j] = 0
			}
			for p, av := range aRow {
				if av == 0 {
					continue
				}
				bRow := b.data[p*n : (p+1)*n]
				for j, bv := range bRow {
					outRow[j] += av * bv
				}
			}
		}
	})
}

// MatMulT1 computes out = aT * b. a is [k, m], b is [k, n], out is [m, n].
// Used for weight gradients: dW = inputT * dOut.
func MatMulT1(a, b, out *Tensor) {
	if a.rows != b.rows {
		shapeEq(b, a.rows, b.cols, "matmulT1 rhs")
	}
	shapeEq(out, a.cols, b.cols, "matmulT1 out")
	m := a.cols
	n := b.cols
	k := a.rows
	parallelRows(m, func(rowStart, rowEnd int) {
		for row := rowStart; row < rowEnd; row++ {
			outRow := out.data[row*n : (row+1)*n]
			for j := range outRow {
				outRow[j] = 0
			}
			for p := 0; p < k; p++ {
				av := a.data[p*m+row]
				if av == 0 {
					continue
				}
				bRow := b.data[p*n : (p+1)*n]
				for j, bv := range bRow {
					outRow[j] += av * bv
				}
			}
		}
	})
}

// MatMulT2 computes out = a * bT. a is [m, k], b is [n, k], out is [m, n].
// Used for input gradients: dX = dOut * WT.
func MatMulT2(a, b, out *Tensor) {
	if a.cols != b.cols {
		shapeEq(b, b.rows, a.cols, "matmulT2 rhs")
	}
	shapeEq(out, a.rows, b.rows, "matmulT2 out")
	k := a.cols
	n := b.rows
	parallelRows(a.rows, func(rowStart, rowEnd int) {
		for row := rowStart; row < rowEnd; row++ {
			aRow := a.data[row*k : (row+1)*k]
			outRow := out.data[row*n : (row+1)*n]
			for j := 0; j < n; j++ {
				bRow := b.data[j*k : (j+1)*k]
				var sum float32
				for p, av := range aRow {
					sum += av * bRow[p]
				}
				outRow[j] = sum
			}
		}
	})
}

// AddBiasRows adds a [1, cols] bias vector to every row of t in place.
func AddBiasRows(t, bias *Tensor) {
	shapeEq(bias, 1, t.cols, "bias")
	parallelRows(t.rows, func(rowStart, rowEnd int) {
		for row := rowStart; row < rowEnd; row++ {
			tRow := t.data[row*t.cols : (row+1)*t.cols]
			for j, bv := range bias.data {
				tRow[j] += bv
			}
		}
	})
}

// ReLU computes dst = max(src, 0) element-wise.
func ReLU(src, dst *Tensor) {
	shapeEq(dst, src.rows, src.cols, "relu dst")
	for i, v := range src.data {
		if v > 0 {
			dst.data[i] = v
		} else {
			dst.data[i] = 0
		}
	}
}

// ReLUGrad computes dst = grad where pre > 0, else 0.
func ReLUGrad(pre, grad, dst *Tensor) {
	shapeEq(grad, pre.rows, pre.cols, "relu grad")
	shapeEq(dst, pre.rows, pre.cols, "relu grad dst")
	for i, v := range pre.data {
		if v > 0 {
			dst.data[i] = grad.data[i]
		} else {
			dst.data[i] = 0
		}
	}
}

// Add computes dst += src element-wise.
func Add(dst, src *Tensor) {
	shapeEq(src, dst.rows, dst.cols, "add src")
	for i, v := range src.data {
		dst.data[i] += v
	}
}

// Sub computes dst = a - b element-wise.
func Sub(a, b, dst *Tensor) {
	shapeEq(b, a.rows, a.cols, "sub rhs")
	shapeEq(dst, a.rows, a.cols, "sub dst")
	for i, v := range a.data {
		dst.data[i] = v - b.data[i]
	}
}

// Scale multiplies every element of t by s in place.
func Scale(t *Tensor, s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// ColSum sums the rows of t into a [1, cols] tensor.
func ColSum(t, out *Tensor) {
	shapeEq(out, 1, t.cols, "colsum out")
	for j := range out.data {
		out.data[j] = 0
	}
	for row := 0; row < t.rows; row++ {
		tRow := t.data[row*t.cols : (row+1)*t.cols]
		for j, v := range tRow {
			out.data[j] += v
		}
	}
}
