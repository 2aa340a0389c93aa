// Package psf extracts point-spread-function stacks from reference stars and
// cleans them of background and noise before they enter the holographic
// estimator.
package psf

import (
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"specklerec/internal/grid"
	"specklerec/pkg/errs"
	"specklerec/pkg/logger"
)

// NoiseMask marks the noise reference pixels of a rows x cols PSF frame: those
// farther from the centre than centre-margin. The mask is row-major.
func NoiseMask(rows, cols, margin int) ([]bool, error) {
	const op = "noise mask"

	if rows < 1 || cols < 1 {
		return nil, errs.New(errs.InvalidArgument, op, "frame shape %dx%d is empty", rows, cols)
	}
	if margin < 0 {
		return nil, errs.New(errs.InvalidArgument, op, "margin must not be negative, got %d", margin)
	}
	center := (rows - 1) / 2
	radius := center - margin
	if radius < 0 {
		return nil, errs.New(errs.InvalidArgument, op, "margin %d exceeds the frame half-size %d", margin, center)
	}

	mask := make([]bool, rows*cols)
	count := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dy, dx := i-center, j-center
			if dy*dy+dx*dx > radius*radius {
				mask[i*cols+j] = true
				count++
			}
		}
	}
	if count == 0 {
		return nil, errs.New(errs.InvalidArgument, op, "noise annulus of a %dx%d frame with margin %d is empty", rows, cols, margin)
	}
	return mask, nil
}

// Threshold subtracts background + sigma*noise, measured on the masked
// reference pixels, clamps at zero and normalises the frame to unit sum. The
// input frame is not modified.
func Threshold(frame *mat.Dense, mask []bool, sigma float64) (*mat.Dense, error) {
	const op = "threshold"

	rows, cols := frame.Dims()
	if len(mask) != rows*cols {
		return nil, errs.New(errs.ShapeMismatch, op, "mask has %d pixels, frame has %d", len(mask), rows*cols)
	}
	values := grid.Values(frame)

	reference := make([]float64, 0, len(values))
	for i, use := range mask {
		if use {
			reference = append(reference, values[i])
		}
	}
	if len(reference) == 0 {
		return nil, errs.New(errs.InvalidArgument, op, "noise mask selects no pixels")
	}
	background, noise := stat.PopMeanStdDev(reference, nil)
	level := background + sigma*noise

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = max(v-level, 0)
	}
	total := floats.Sum(out)
	if total == 0 {
		return nil, errs.New(errs.DegenerateSignal, op,
			"no signal left after subtracting background %g + %g x noise %g; reduce the noise threshold", background, sigma, noise)
	}
	floats.Scale(1/total, out)
	return mat.NewDense(rows, cols, out), nil
}

// ThresholdStack thresholds every frame of a PSF stack with a shared noise
// mask derived from the first frame's shape. It either returns a complete new
// stack or an error.
func ThresholdStack(stack []*mat.Dense, margin int, sigma float64, workers int, log logger.ILogger) ([]*mat.Dense, error) {
	log = logger.OrNull(log)

	if len(stack) == 0 {
		return nil, errs.New(errs.InvalidArgument, "threshold stack", "empty PSF stack")
	}
	rows, cols := stack[0].Dims()
	for i, f := range stack {
		if r, c := f.Dims(); r != rows || c != cols {
			return nil, errs.New(errs.ShapeMismatch, "threshold stack", "PSF frame %d is %dx%d, expected %dx%d", i, r, c, rows, cols)
		}
	}
	mask, err := NoiseMask(rows, cols, margin)
	if err != nil {
		return nil, err
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([]*mat.Dense, len(stack))
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range stack {
		g.Go(func() error {
			t, err := Threshold(stack[i], mask, sigma)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debugf("Thresholded %d PSF frames at %.2f sigma", len(stack), sigma)
	return out, nil
}
