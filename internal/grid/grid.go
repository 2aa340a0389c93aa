// Package grid holds small helpers over frames stored as *mat.Dense
package grid

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Values returns the frame's pixels in row-major order. The slice is a copy
// when m is a strided view.
func Values(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	if raw.Stride == raw.Cols {
		return raw.Data[:raw.Rows*raw.Cols]
	}
	out := make([]float64, 0, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		out = append(out, raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols]...)
	}
	return out
}

// Sum returns the total intensity of m
func Sum(m *mat.Dense) float64 {
	return floats.Sum(Values(m))
}

// ArgMax returns the row and column of the brightest pixel; ties resolve to
// the first in row-major order
func ArgMax(m *mat.Dense) (int, int) {
	_, cols := m.Dims()
	idx := floats.MaxIdx(Values(m))
	return idx / cols, idx % cols
}

// IsFlat reports whether every pixel of m has the same value
func IsFlat(m *mat.Dense) bool {
	_, std := stat.PopMeanStdDev(Values(m), nil)
	return std == 0
}

// SameShape reports whether a and b have identical dimensions
func SameShape(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}
