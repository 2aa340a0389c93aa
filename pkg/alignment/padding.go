package alignment

import (
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/models"
	"specklerec/pkg/errs"
)

// PadVectors derives the per-frame pad vectors that place every frame on a
// common grid, together with the reference pad vector that frames the canvas.
// Per axis a frame is padded by (shift-min, max-shift); the reference vector is
// (max(0,-min), max(0,max)).
func PadVectors(shifts []models.Shift, mode models.Mode) ([]models.PadVector, models.PadVector, error) {
	if len(shifts) == 0 {
		return nil, models.PadVector{}, errs.New(errs.InvalidArgument, "pad vectors", "no shifts given")
	}
	if err := checkMode(mode, "pad vectors"); err != nil {
		return nil, models.PadVector{}, err
	}

	minY, maxY := shifts[0].DY, shifts[0].DY
	minX, maxX := shifts[0].DX, shifts[0].DX
	for _, s := range shifts[1:] {
		minY, maxY = min(minY, s.DY), max(maxY, s.DY)
		minX, maxX = min(minX, s.DX), max(maxX, s.DX)
	}

	vectors := make([]models.PadVector, len(shifts))
	for i, s := range shifts {
		vectors[i] = models.PadVector{
			Y: [2]int{s.DY - minY, maxY - s.DY},
			X: [2]int{s.DX - minX, maxX - s.DX},
		}
	}
	reference := models.PadVector{
		Y: [2]int{max(0, -minY), max(0, maxY)},
		X: [2]int{max(0, -minX), max(0, maxX)},
	}
	return vectors, reference, nil
}

// Canvas returns the output shape for frames of rows x cols
func Canvas(rows, cols int, ref models.PadVector, mode models.Mode) (int, int, error) {
	if err := checkMode(mode, "canvas"); err != nil {
		return 0, 0, err
	}
	spanY := ref.Y[0] + ref.Y[1]
	spanX := ref.X[0] + ref.X[1]

	switch mode {
	case models.ModeFull:
		return rows + spanY, cols + spanX, nil
	case models.ModeSame:
		return rows, cols, nil
	}
	r, c := rows-spanY, cols-spanX
	if r < 1 || c < 1 {
		return 0, 0, errs.New(errs.ShapeMismatch, "canvas",
			"frames of %dx%d do not overlap under a shift span of %dx%d", rows, cols, spanY, spanX)
	}
	return r, c, nil
}

// Origin returns where pixel (0,0) of a frame with pad vector pv lands in the
// canvas
func Origin(pv, ref models.PadVector, mode models.Mode) (int, int) {
	offY, offX := canvasOffset(ref, mode)
	return pv.Y[0] - offY, pv.X[0] - offX
}

// canvasOffset is the canvas position in the full, union-of-footprints grid
func canvasOffset(ref models.PadVector, mode models.Mode) (int, int) {
	switch mode {
	case models.ModeSame:
		return ref.Y[0], ref.X[0]
	case models.ModeValid:
		return ref.Y[0] + ref.Y[1], ref.X[0] + ref.X[1]
	}
	return 0, 0
}

// Pad translates frame onto the canvas described by ref and mode. Content
// that falls outside the canvas is clipped and uncovered pixels are zero.
func Pad(frame *mat.Dense, pv models.PadVector, mode models.Mode, ref models.PadVector) (*mat.Dense, error) {
	rows, cols := frame.Dims()
	cr, cc, err := Canvas(rows, cols, ref, mode)
	if err != nil {
		return nil, err
	}
	for _, v := range [][2]int{pv.Y, pv.X, ref.Y, ref.X} {
		if v[0] < 0 || v[1] < 0 {
			return nil, errs.New(errs.InvalidArgument, "pad", "negative pad vector %v", v)
		}
	}
	out := mat.NewDense(cr, cc, nil)
	oy, ox := Origin(pv, ref, mode)
	blit(out, frame, oy, ox)
	return out, nil
}

// blit copies src into dst with src's (0,0) at (oy, ox), clipping at dst's edges
func blit(dst, src *mat.Dense, oy, ox int) {
	dr, dc := dst.Dims()
	sr, sc := src.Dims()

	// overlap in destination coordinates
	y0, y1 := max(oy, 0), min(oy+sr, dr)
	x0, x1 := max(ox, 0), min(ox+sc, dc)
	if y0 >= y1 || x0 >= x1 {
		return
	}
	target := dst.Slice(y0, y1, x0, x1).(*mat.Dense)
	target.Copy(src.Slice(y0-oy, y1-oy, x0-ox, x1-ox))
}

func checkMode(mode models.Mode, op string) error {
	switch mode {
	case models.ModeFull, models.ModeSame, models.ModeValid:
		return nil
	}
	return errs.New(errs.InvalidArgument, op, "unknown reconstruction mode %d", int(mode))
}
