// Package tensor holds the dense buffers the CRF recursions run over.
//
// Everything is float64 and row-major with a contiguous last axis, so a
// single (time, batch) position exposes its tag scores as a plain slice
// that the gonum/floats kernels can consume without copying.
package tensor

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// Dense3 is a rank-3 tensor of shape (d0, d1, d2).
type Dense3 struct {
	data []float64
	d0   int
	d1   int
	d2   int
}

// NewDense3 creates a tensor of the given shape. If data is nil a zeroed
// buffer is allocated, otherwise data is copied.
func NewDense3(d0, d1, d2 int, data []float64) *Dense3 {
	if d0 < 0 || d1 < 0 || d2 < 0 {
		log.Panic().Int("d0", d0).Int("d1", d1).Int("d2", d2).Msg("NewDense3: negative dimension")
	}
	size := d0 * d1 * d2
	t := &Dense3{d0: d0, d1: d1, d2: d2, data: make([]float64, size)}
	if data != nil {
		if len(data) != size {
			log.Panic().Int("len", len(data)).Int("want", size).Msg("NewDense3: provided data length does not match dimensions")
		}
		copy(t.data, data)
	}
	return t
}

// Dims returns the shape.
func (t *Dense3) Dims() (int, int, int) {
	return t.d0, t.d1, t.d2
}

func (t *Dense3) offset(i, j, k int) int {
	if i < 0 || i >= t.d0 || j < 0 || j >= t.d1 || k < 0 || k >= t.d2 {
		log.Panic().Ints("index", []int{i, j, k}).Ints("shape", []int{t.d0, t.d1, t.d2}).Msg("Dense3: index out of range")
	}
	return (i*t.d1+j)*t.d2 + k
}

// At returns the value at (i, j, k).
func (t *Dense3) At(i, j, k int) float64 {
	return t.data[t.offset(i, j, k)]
}

// Set sets the value at (i, j, k).
func (t *Dense3) Set(i, j, k int, v float64) {
	t.data[t.offset(i, j, k)] = v
}

// Vec returns the last-axis row at (i, j). The slice aliases the tensor.
func (t *Dense3) Vec(i, j int) []float64 {
	start := t.offset(i, j, 0)
	return t.data[start : start+t.d2 : start+t.d2]
}

// Data returns the underlying buffer.
func (t *Dense3) Data() []float64 {
	return t.data
}

// Step returns a (d1, d2) matrix view of the leading slice i.
// Writes through the view modify the tensor.
func (t *Dense3) Step(i int) *mat.Dense {
	if i < 0 || i >= t.d0 {
		log.Panic().Int("index", i).Int("d0", t.d0).Msg("Dense3.Step: index out of range")
	}
	n := t.d1 * t.d2
	return mat.NewDense(t.d1, t.d2, t.data[i*n:(i+1)*n:(i+1)*n])
}

// SwapLeading returns a copy with the first two axes exchanged, turning
// (B, T, N) into (T, B, N) and back.
func (t *Dense3) SwapLeading() *Dense3 {
	out := &Dense3{d0: t.d1, d1: t.d0, d2: t.d2, data: make([]float64, len(t.data))}
	for i := 0; i < t.d0; i++ {
		for j := 0; j < t.d1; j++ {
			src := (i*t.d1 + j) * t.d2
			dst := (j*t.d0 + i) * t.d2
			copy(out.data[dst:dst+t.d2], t.data[src:src+t.d2])
		}
	}
	return out
}

// Ints2 is a rank-2 integer tensor of shape (rows, cols), used for tag
// index tensors.
type Ints2 struct {
	data []int
	rows int
	cols int
}

// NewInts2 creates an int tensor. If data is nil a zeroed buffer is
// allocated, otherwise data is copied.
func NewInts2(rows, cols int, data []int) *Ints2 {
	if rows < 0 || cols < 0 {
		log.Panic().Int("rows", rows).Int("cols", cols).Msg("NewInts2: negative dimension")
	}
	t := &Ints2{rows: rows, cols: cols, data: make([]int, rows*cols)}
	if data != nil {
		if len(data) != rows*cols {
			log.Panic().Int("len", len(data)).Int("want", rows*cols).Msg("NewInts2: provided data length does not match dimensions")
		}
		copy(t.data, data)
	}
	return t
}

// Dims returns (rows, cols).
func (t *Ints2) Dims() (int, int) {
	return t.rows, t.cols
}

// At returns the value at (i, j).
func (t *Ints2) At(i, j int) int {
	if i < 0 || i >= t.rows || j < 0 || j >= t.cols {
		log.Panic().Int("i", i).Int("j", j).Int("rows", t.rows).Int("cols", t.cols).Msg("Ints2: index out of range")
	}
	return t.data[i*t.cols+j]
}

// Set sets the value at (i, j).
func (t *Ints2) Set(i, j, v int) {
	if i < 0 || i >= t.rows || j < 0 || j >= t.cols {
		log.Panic().Int("i", i).Int("j", j).Int("rows", t.rows).Int("cols", t.cols).Msg("Ints2: index out of range")
	}
	t.data[i*t.cols+j] = v
}

// Row returns row i. The slice aliases the tensor.
func (t *Ints2) Row(i int) []int {
	return t.data[i*t.cols : (i+1)*t.cols : (i+1)*t.cols]
}

// Transpose returns a transposed copy.
func (t *Ints2) Transpose() *Ints2 {
	out := &Ints2{rows: t.cols, cols: t.rows, data: make([]int, len(t.data))}
	for i := 0; i < t.rows; i++ {
		for j := 0; j < t.cols; j++ {
			out.data[j*t.rows+i] = t.data[i*t.cols+j]
		}
	}
	return out
}
