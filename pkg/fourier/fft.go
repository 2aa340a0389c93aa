// Package fourier implements the two dimensional transforms used by the
// aligner and the holographic estimator. Frequency fields are carried as
// *mat.CDense; the exported Transform returns them frequency-shifted so the
// zero frequency sits at (rows/2, cols/2).
package fourier

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// FFT2 performs a 2D Fast Fourier Transform on a real matrix.
// Rows are transformed with the real FFT and completed by conjugate symmetry,
// columns with the complex FFT.
//
// Parameters:
//   - m: Input image
//
// Returns:
//   - The unshifted 2D spectrum
func FFT2(m mat.Matrix) *mat.CDense {
	rows, cols := m.Dims()
	result := mat.NewCDense(rows, cols, nil)

	// Row pass on real input
	rowFFT := fourier.NewFFT(cols)
	rowInput := make([]float64, cols)
	rowOutput := make([]complex128, cols/2+1)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			rowInput[j] = m.At(i, j)
		}
		rowFFT.Coefficients(rowOutput, rowInput)

		for j := 0; j < len(rowOutput); j++ {
			result.Set(i, j, rowOutput[j])
		}
		// F(n-k) = F*(k)
		for j := len(rowOutput); j < cols; j++ {
			result.Set(i, j, cmplx.Conj(rowOutput[cols-j]))
		}
	}

	columnPass(result, false)
	return result
}

// IFFT2 performs the inverse 2D transform, normalised by 1/(rows*cols)
func IFFT2(c *mat.CDense) *mat.CDense {
	rows, cols := c.Dims()
	result := mat.NewCDense(rows, cols, nil)
	result.Copy(c)
	rowPass(result, true)
	columnPass(result, true)

	norm := complex(1/float64(rows*cols), 0)
	raw := result.RawCMatrix()
	for i := 0; i < rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+cols]
		for j := range row {
			row[j] *= norm
		}
	}
	return result
}

// Transform returns the frequency-shifted spectrum of a real frame
func Transform(m mat.Matrix) *mat.CDense {
	return Shift(FFT2(m))
}

// rowPass transforms every row of c in place
func rowPass(c *mat.CDense, inverse bool) {
	rows, cols := c.Dims()
	fft := fourier.NewCmplxFFT(cols)
	in := make([]complex128, cols)
	out := make([]complex128, cols)
	raw := c.RawCMatrix()
	for i := 0; i < rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+cols]
		copy(in, row)
		if inverse {
			fft.Sequence(out, in)
		} else {
			fft.Coefficients(out, in)
		}
		copy(row, out)
	}
}

// columnPass transforms every column of c in place
func columnPass(c *mat.CDense, inverse bool) {
	rows, cols := c.Dims()
	fft := fourier.NewCmplxFFT(rows)
	in := make([]complex128, rows)
	out := make([]complex128, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			in[i] = c.At(i, j)
		}
		if inverse {
			fft.Sequence(out, in)
		} else {
			fft.Coefficients(out, in)
		}
		for i := 0; i < rows; i++ {
			c.Set(i, j, out[i])
		}
	}
}
