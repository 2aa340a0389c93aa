// Package holography implements speckle holography: a Fourier-domain
// deconvolution of the input frames against PSFs measured on reference stars,
// followed by apodization and flux-conserving synthesis, driven by an
// operator-controlled iteration loop.
package holography

import (
	"math/cmplx"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/internal/models"
	"specklerec/pkg/errs"
	"specklerec/pkg/fourier"
	"specklerec/pkg/logger"
)

// DefaultFloor masks frequencies whose mean PSF power is below this fraction
// of the peak power
const DefaultFloor = 1e-10

// PadWidth returns the padding that embeds a small frame in a large one. Odd
// differences put the extra pixel after.
func PadWidth(largeRows, largeCols, smallRows, smallCols int) (models.PadVector, error) {
	dy, dx := largeRows-smallRows, largeCols-smallCols
	if dy < 0 || dx < 0 {
		return models.PadVector{}, errs.New(errs.ShapeMismatch, "pad width",
			"PSF of %dx%d does not fit frames of %dx%d", smallRows, smallCols, largeRows, largeCols)
	}
	return models.PadVector{
		Y: [2]int{dy / 2, dy - dy/2},
		X: [2]int{dx / 2, dx - dx/2},
	}, nil
}

// PadPSF embeds psf in a rows x cols frame and returns the frame together with
// the position of the PSF's central pixel
func PadPSF(psf *mat.Dense, rows, cols int) (*mat.Dense, int, int, error) {
	pr, pc := psf.Dims()
	pv, err := PadWidth(rows, cols, pr, pc)
	if err != nil {
		return nil, 0, 0, err
	}
	out := mat.NewDense(rows, cols, nil)
	out.Slice(pv.Y[0], pv.Y[0]+pr, pv.X[0], pv.X[0]+pc).(*mat.Dense).Copy(psf)
	return out, pv.Y[0] + pr/2, pv.X[0] + pc/2, nil
}

// Estimator computes the Fourier object mean(I conj(P)) / mean(|P|^2)
type Estimator struct {
	// Floor masks frequencies where the mean PSF power is at most
	// Floor times its maximum. Zero masks only exact zeros.
	Floor float64

	// NumCores bounds the number of frames transformed concurrently
	NumCores int

	Log logger.ILogger
}

// Estimate combines matched, frequency-shifted image and PSF fields
func (e *Estimator) Estimate(images, psfs []*mat.CDense) (*mat.CDense, error) {
	if err := checkStacks(len(images), len(psfs)); err != nil {
		return nil, err
	}
	rows, cols := images[0].Dims()
	acc := newAccumulator(rows, cols)
	for i := range images {
		if err := acc.add(images[i], psfs[i]); err != nil {
			return nil, err
		}
	}
	return acc.object(e.Floor)
}

// EstimateFrames transforms canvas-sized frames and their PSFs and estimates
// the object. PSFs are padded to the frame shape first. It also returns the
// canvas position of the PSF centre, which the synthesized image is
// registered against.
func (e *Estimator) EstimateFrames(frames, psfs []*mat.Dense) (*mat.CDense, int, int, error) {
	if err := checkStacks(len(frames), len(psfs)); err != nil {
		return nil, 0, 0, err
	}
	rows, cols := frames[0].Dims()
	pr, pc := psfs[0].Dims()
	for i := range frames {
		if !grid.SameShape(frames[i], frames[0]) {
			return nil, 0, 0, errs.New(errs.ShapeMismatch, "estimate object", "frame %d differs in shape from frame 0", i)
		}
		if !grid.SameShape(psfs[i], psfs[0]) {
			return nil, 0, 0, errs.New(errs.ShapeMismatch, "estimate object", "PSF %d differs in shape from PSF 0", i)
		}
	}
	if _, err := PadWidth(rows, cols, pr, pc); err != nil {
		return nil, 0, 0, err
	}

	workers := e.NumCores
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger.OrNull(e.Log).Infof("Fourier transforming %d frames and PSFs on a %dx%d canvas", len(frames), rows, cols)

	acc := newAccumulator(rows, cols)
	var cy, cx int
	imgField := make([]*mat.CDense, workers)
	psfField := make([]*mat.CDense, workers)
	for start := 0; start < len(frames); start += workers {
		end := min(start+workers, len(frames))

		var g errgroup.Group
		for i := start; i < end; i++ {
			slot := i - start
			g.Go(func() error {
				padded, y, x, err := PadPSF(psfs[i], rows, cols)
				if err != nil {
					return err
				}
				if i == 0 {
					cy, cx = y, x
				}
				imgField[slot] = fourier.Transform(frames[i])
				psfField[slot] = fourier.Transform(padded)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, 0, 0, err
		}
		// reduce in frame order
		for slot := 0; slot < end-start; slot++ {
			if err := acc.add(imgField[slot], psfField[slot]); err != nil {
				return nil, 0, 0, err
			}
		}
	}

	object, err := acc.object(e.Floor)
	if err != nil {
		return nil, 0, 0, err
	}
	return object, cy, cx, nil
}

func checkStacks(nImages, nPSFs int) error {
	if nImages == 0 {
		return errs.New(errs.InvalidArgument, "estimate object", "empty image stack")
	}
	if nImages != nPSFs {
		return errs.New(errs.ShapeMismatch, "estimate object", "%d images for %d PSFs", nImages, nPSFs)
	}
	return nil
}

// accumulator holds the running numerator and denominator sums
type accumulator struct {
	rows, cols int
	num        []complex128
	den        []float64
	n          int
}

func newAccumulator(rows, cols int) *accumulator {
	return &accumulator{
		rows: rows,
		cols: cols,
		num:  make([]complex128, rows*cols),
		den:  make([]float64, rows*cols),
	}
}

func (a *accumulator) add(img, psf *mat.CDense) error {
	ir, ic := img.Dims()
	pr, pc := psf.Dims()
	if ir != a.rows || ic != a.cols || pr != a.rows || pc != a.cols {
		return errs.New(errs.ShapeMismatch, "estimate object",
			"fields of %dx%d and %dx%d do not match %dx%d", ir, ic, pr, pc, a.rows, a.cols)
	}
	for i := 0; i < a.rows; i++ {
		for j := 0; j < a.cols; j++ {
			p := psf.At(i, j)
			a.num[i*a.cols+j] += img.At(i, j) * cmplx.Conj(p)
			a.den[i*a.cols+j] += real(p)*real(p) + imag(p)*imag(p)
		}
	}
	a.n++
	return nil
}

// object divides the stack means, zeroing frequencies below the floor
func (a *accumulator) object(floor float64) (*mat.CDense, error) {
	var peak float64
	for _, d := range a.den {
		peak = max(peak, d)
	}
	if peak == 0 {
		return nil, errs.New(errs.DegenerateSignal, "estimate object", "PSF power spectrum is zero everywhere")
	}
	limit := floor * peak

	out := mat.NewCDense(a.rows, a.cols, nil)
	n := complex(float64(a.n), 0)
	for i := 0; i < a.rows; i++ {
		for j := 0; j < a.cols; j++ {
			d := a.den[i*a.cols+j]
			if d <= limit {
				continue
			}
			// the 1/n factors of both means cancel
			out.Set(i, j, (a.num[i*a.cols+j]/n)/(complex(d, 0)/n))
		}
	}
	return out, nil
}
