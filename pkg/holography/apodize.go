package holography

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"specklerec/pkg/errs"
)

// Kind names an apodization window
type Kind string

const (
	// Gaussian falls off as exp(-r^2 / 2R^2)
	Gaussian Kind = "gaussian"
	// Airy is the optical transfer function of a circular pupil with cutoff R
	Airy Kind = "airy"
)

// ParseKind converts a configuration value into a window Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Gaussian, Airy:
		return k, nil
	}
	return "", errs.New(errs.InvalidArgument, "parse apodization", "apodization must be gaussian or airy, got %q", s)
}

// Window returns the n x n apodization window of the given kind. Radius is in
// frequency pixels, measured from the centre index n/2 where the window is 1.
func Window(n int, kind Kind, radius float64) (*mat.Dense, error) {
	const op = "apodization window"
	if n < 1 {
		return nil, errs.New(errs.InvalidArgument, op, "window size must be positive, got %d", n)
	}
	if !(radius > 0) || math.IsInf(radius, 0) {
		return nil, errs.New(errs.InvalidArgument, op, "radius must be positive and finite, got %g", radius)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	c := n / 2
	w := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dy, dx := float64(i-c), float64(j-c)
			r := math.Hypot(dy, dx)
			w.Set(i, j, window(kind, r, radius))
		}
	}
	return w, nil
}

func window(kind Kind, r, radius float64) float64 {
	if kind == Gaussian {
		return math.Exp(-r * r / (2 * radius * radius))
	}
	q := r / radius
	if q == 0 {
		return 1
	}
	if q >= 1 {
		return 0
	}
	return 2 / math.Pi * (math.Acos(q) - q*math.Sqrt(1-q*q))
}

// Apodize multiplies a centred Fourier field by a radially symmetric window.
// Only square fields are supported. The input is not modified.
func Apodize(field *mat.CDense, kind Kind, radius float64) (*mat.CDense, error) {
	rows, cols := field.Dims()
	if rows != cols {
		return nil, errs.New(errs.UnsupportedConfiguration, "apodize",
			"apodization needs a square field, got %dx%d", rows, cols)
	}
	w, err := Window(rows, kind, radius)
	if err != nil {
		return nil, err
	}

	out := mat.NewCDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, field.At(i, j)*complex(w.At(i, j), 0))
		}
	}
	return out, nil
}
