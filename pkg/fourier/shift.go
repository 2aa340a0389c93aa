package fourier

import (
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// Shift moves the zero frequency to the centre of the field, index n/2 per axis
func Shift(c *mat.CDense) *mat.CDense {
	rows, cols := c.Dims()
	return roll(c, rows/2, cols/2)
}

// Unshift is the inverse of Shift
func Unshift(c *mat.CDense) *mat.CDense {
	rows, cols := c.Dims()
	return roll(c, -(rows / 2), -(cols / 2))
}

// Roll circularly moves the content of c by (dy, dx)
func Roll(c *mat.CDense, dy, dx int) *mat.CDense {
	return roll(c, dy, dx)
}

func roll(c *mat.CDense, dy, dx int) *mat.CDense {
	rows, cols := c.Dims()
	out := mat.NewCDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		ii := mod(i+dy, rows)
		for j := 0; j < cols; j++ {
			out.Set(ii, mod(j+dx, cols), c.At(i, j))
		}
	}
	return out
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

// Abs returns the elementwise magnitude of c
func Abs(c *mat.CDense) *mat.Dense {
	rows, cols := c.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, cmplx.Abs(c.At(i, j)))
		}
	}
	return out
}
