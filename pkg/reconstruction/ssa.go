package reconstruction

import (
	"image"

	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/internal/models"
	"specklerec/pkg/alignment"
	"specklerec/pkg/errs"
)

// Collapse sums a cube over time into a long exposure. A single variance frame
// applies to every exposure, so it is scaled by the number of frames.
func Collapse(cube models.Cube) (*mat.Dense, *mat.Dense, error) {
	if err := cube.Validate(); err != nil {
		return nil, nil, err
	}
	rows, cols := cube.Shape()

	image := mat.NewDense(rows, cols, nil)
	for _, f := range cube.Frames {
		image.Add(image, f)
	}
	return image, collapseVariance(cube, rows, cols), nil
}

func collapseVariance(cube models.Cube, rows, cols int) *mat.Dense {
	switch len(cube.Variance) {
	case 0:
		return nil
	case 1:
		v := mat.NewDense(rows, cols, nil)
		v.Scale(float64(cube.Len()), cube.Variance[0])
		return v
	}
	v := mat.NewDense(rows, cols, nil)
	for _, f := range cube.Variance {
		v.Add(v, f)
	}
	return v
}

// CoaddFrames is the inner shift-and-add of one cube. The brightest pixel of
// every frame is located inside box (the whole frame when box is empty), each
// frame is moved so its peak lands on the mean peak position, and the moved
// frames are summed on the frame's own footprint.
func CoaddFrames(cube models.Cube, box image.Rectangle) (*mat.Dense, *mat.Dense, error) {
	const op = "coadd frames"

	if err := cube.Validate(); err != nil {
		return nil, nil, err
	}
	rows, cols := cube.Shape()
	bounds := image.Rect(0, 0, cols, rows)
	if box.Empty() {
		box = bounds
	} else if !box.In(bounds) {
		return nil, nil, errs.New(errs.InvalidArgument, op, "search box %v exceeds frame bounds %v", box, bounds)
	}

	// Peak per frame, in frame coordinates
	peaks := make([]image.Point, cube.Len())
	var sumY, sumX int
	for i, f := range cube.Frames {
		view := f.Slice(box.Min.Y, box.Max.Y, box.Min.X, box.Max.X).(*mat.Dense)
		py, px := grid.ArgMax(view)
		peaks[i] = image.Pt(px+box.Min.X, py+box.Min.Y)
		sumY += peaks[i].Y
		sumX += peaks[i].X
	}
	targetY := sumY / cube.Len()
	targetX := sumX / cube.Len()

	shifts := make([]models.Shift, cube.Len())
	for i, p := range peaks {
		shifts[i] = models.Shift{DY: targetY - p.Y, DX: targetX - p.X}
	}
	vectors, ref, err := alignment.PadVectors(shifts, models.ModeSame)
	if err != nil {
		return nil, nil, err
	}

	perFrameVariance := len(cube.Variance) == cube.Len() && cube.Len() > 1
	comp := alignment.NewCompositor(rows, cols, perFrameVariance)
	for i, f := range cube.Frames {
		padded, err := alignment.Pad(f, vectors[i], models.ModeSame, ref)
		if err != nil {
			return nil, nil, err
		}
		var paddedVar *mat.Dense
		if perFrameVariance {
			if paddedVar, err = alignment.Pad(cube.Variance[i], vectors[i], models.ModeSame, ref); err != nil {
				return nil, nil, err
			}
		}
		if err := comp.Accumulate(padded, paddedVar); err != nil {
			return nil, nil, err
		}
	}

	if perFrameVariance {
		return comp.Image(), comp.Variance(), nil
	}
	return comp.Image(), collapseVariance(cube, rows, cols), nil
}
