package holography

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/pkg/errs"
	"specklerec/pkg/fourier"
)

// Synthesize returns the image of a centred Fourier object, registered
// against a PSF centred at (rows/2, cols/2) and scaled to targetFlux
func Synthesize(object *mat.CDense, targetFlux float64) (*mat.Dense, error) {
	rows, cols := object.Dims()
	return SynthesizeAt(object, targetFlux, rows/2, cols/2)
}

// SynthesizeAt inverts a centred Fourier object to a real image. The object
// was estimated against PSFs whose centre sat at (cy, cx), so the inverse is
// rolled back by that offset. The magnitude image is scaled so it sums to
// targetFlux.
func SynthesizeAt(object *mat.CDense, targetFlux float64, cy, cx int) (*mat.Dense, error) {
	const op = "synthesize"
	if math.IsNaN(targetFlux) || math.IsInf(targetFlux, 0) || targetFlux <= 0 {
		return nil, errs.New(errs.InvalidArgument, op, "target flux must be positive and finite, got %g", targetFlux)
	}

	spatial := fourier.Roll(fourier.IFFT2(fourier.Unshift(object)), cy, cx)
	img := fourier.Abs(spatial)

	total := grid.Sum(img)
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, errs.New(errs.DegenerateSignal, op, "synthesized image has flux %g and cannot be rescaled", total)
	}

	rows, cols := img.Dims()
	data := grid.Values(img)
	floats.Scale(targetFlux/total, data)
	return mat.NewDense(rows, cols, data), nil
}
