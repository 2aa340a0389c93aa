package fourier

import (
	"math"
	"math/cmplx"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testImage(rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, math.Sin(float64(i)*0.7)+math.Cos(float64(j)*0.3)+float64(i*j%5))
		}
	}
	return m
}

// TestRoundTrip verifies IFFT2(FFT2(x)) == x for even and odd shapes
func TestRoundTrip(t *testing.T) {
	for _, shape := range [][2]int{{8, 8}, {7, 9}, {16, 5}} {
		img := testImage(shape[0], shape[1])
		back := IFFT2(FFT2(img))
		for i := 0; i < shape[0]; i++ {
			for j := 0; j < shape[1]; j++ {
				if cmplx.Abs(back.At(i, j)-complex(img.At(i, j), 0)) > 1e-9 {
					t.Fatalf("Round trip failed for %dx%d at (%d,%d)", shape[0], shape[1], i, j)
				}
			}
		}
	}
}

// TestFFT2MatchesDFT checks the real row pass against a direct transform
func TestFFT2MatchesDFT(t *testing.T) {
	img := testImage(6, 7)
	rows, cols := img.Dims()
	got := FFT2(img)
	for u := 0; u < rows; u++ {
		for v := 0; v < cols; v++ {
			var want complex128
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					phase := -2 * math.Pi * (float64(u*i)/float64(rows) + float64(v*j)/float64(cols))
					want += complex(img.At(i, j), 0) * cmplx.Exp(complex(0, phase))
				}
			}
			if cmplx.Abs(got.At(u, v)-want) > 1e-9 {
				t.Fatalf("Mismatch at (%d,%d): %v vs %v", u, v, got.At(u, v), want)
			}
		}
	}
}

// TestDeltaSpectrum verifies that a delta at the origin has a flat spectrum
func TestDeltaSpectrum(t *testing.T) {
	img := mat.NewDense(4, 4, nil)
	img.Set(0, 0, 1)
	spec := FFT2(img)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if cmplx.Abs(spec.At(i, j)-1) > 1e-12 {
				t.Errorf("Expected flat spectrum, got %v at (%d,%d)", spec.At(i, j), i, j)
			}
		}
	}
}

// TestShiftCentresZeroFrequency verifies the zero frequency lands at n/2
func TestShiftCentresZeroFrequency(t *testing.T) {
	for _, n := range []int{4, 5} {
		img := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				img.Set(i, j, 1)
			}
		}
		field := Transform(img)
		if cmplx.Abs(field.At(n/2, n/2)-complex(float64(n*n), 0)) > 1e-9 {
			t.Errorf("n=%d: expected DC at centre, got %v", n, field.At(n/2, n/2))
		}

		back := Unshift(field)
		if cmplx.Abs(back.At(0, 0)-complex(float64(n*n), 0)) > 1e-9 {
			t.Errorf("n=%d: Unshift did not restore DC to origin", n)
		}
	}
}

func BenchmarkFFT2(b *testing.B) {
	img := testImage(128, 128)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FFT2(img)
	}
}
