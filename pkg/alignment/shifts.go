// Package alignment estimates integer translations between images and embeds
// shifted frames in a common output canvas.
package alignment

import (
	"math/cmplx"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/internal/models"
	"specklerec/pkg/errs"
	"specklerec/pkg/fourier"
)

// EstimateShifts measures, for every image, the shift that re-aligns it onto
// images[ref] using Fourier cross-correlation. The reference receives (0, 0).
// Images should be time-collapsed long exposures; workers bounds the number of
// concurrent transforms (0 means one per CPU).
func EstimateShifts(images []*mat.Dense, ref int, workers int) ([]models.Shift, error) {
	const op = "estimate shifts"

	if len(images) == 0 {
		return nil, errs.New(errs.InvalidArgument, op, "no images given")
	}
	if ref < 0 || ref >= len(images) {
		return nil, errs.New(errs.InvalidArgument, op, "reference index %d out of range [0, %d)", ref, len(images))
	}
	for i, img := range images {
		if !grid.SameShape(img, images[ref]) {
			r, c := img.Dims()
			rr, rc := images[ref].Dims()
			return nil, errs.New(errs.ShapeMismatch, op, "image %d is %dx%d, reference is %dx%d", i, r, c, rr, rc)
		}
	}

	shifts := make([]models.Shift, len(images))
	if len(images) == 1 {
		return shifts, nil
	}

	if grid.IsFlat(images[ref]) {
		return nil, errs.New(errs.DegenerateSignal, op, "reference image %d is flat", ref)
	}

	refSpectrum := fourier.FFT2(images[ref])

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range images {
		if i == ref {
			continue
		}
		g.Go(func() error {
			// each goroutine owns slot i
			shifts[i] = correlationShift(refSpectrum, images[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return shifts, nil
}

// correlationShift locates the cross-correlation peak of image against the
// reference spectrum. The zero lag sits at the centre of the shifted
// correlation, so the peak's offset from the centre is the re-aligning shift.
func correlationShift(refSpectrum *mat.CDense, image *mat.Dense) models.Shift {
	rows, cols := refSpectrum.Dims()
	spectrum := fourier.FFT2(image)

	product := mat.NewCDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			product.Set(i, j, refSpectrum.At(i, j)*cmplx.Conj(spectrum.At(i, j)))
		}
	}
	correlation := fourier.Shift(fourier.IFFT2(product))

	best, by, bx := -1.0, 0, 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := cmplx.Abs(correlation.At(i, j)); v > best {
				best, by, bx = v, i, j
			}
		}
	}
	return models.Shift{DY: by - rows/2, DX: bx - cols/2}
}
