package alignment

import (
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/pkg/errs"
)

// Compositor sums padded frames, and optionally their variances, into a
// pre-zeroed canvas. It is not safe for concurrent use: parallel producers
// hand their frames over in index order so the sum is reproducible.
type Compositor struct {
	image    *mat.Dense
	variance *mat.Dense
}

// NewCompositor creates an empty canvas of rows x cols
func NewCompositor(rows, cols int, withVariance bool) *Compositor {
	c := &Compositor{image: mat.NewDense(rows, cols, nil)}
	if withVariance {
		c.variance = mat.NewDense(rows, cols, nil)
	}
	return c
}

// Accumulate adds frame, and variance when the canvas tracks it, into the
// canvas. Both shapes are checked before anything is added.
func (c *Compositor) Accumulate(frame, variance *mat.Dense) error {
	const op = "accumulate"

	if err := checkShape(c.image, frame); err != nil {
		return err
	}
	if c.variance != nil {
		if variance == nil {
			return errs.New(errs.InvalidArgument, op, "canvas tracks variance but no variance frame was given")
		}
		if err := checkShape(c.variance, variance); err != nil {
			return err
		}
		c.variance.Add(c.variance, variance)
	}
	c.image.Add(c.image, frame)
	return nil
}

// Image returns the accumulated intensity
func (c *Compositor) Image() *mat.Dense {
	return c.image
}

// Variance returns the accumulated variance, or nil when untracked
func (c *Compositor) Variance() *mat.Dense {
	return c.variance
}

func checkShape(target, frame *mat.Dense) error {
	if !grid.SameShape(target, frame) {
		tr, tc := target.Dims()
		fr, fc := frame.Dims()
		return errs.New(errs.ShapeMismatch, "accumulate", "frame is %dx%d, canvas is %dx%d", fr, fc, tr, tc)
	}
	return nil
}
