// Package sources detects point sources on reconstructed images, matches star
// lists and selects the reference stars used for PSF extraction.
package sources

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/internal/models"
	"specklerec/pkg/errs"
	"specklerec/pkg/logger"
)

// Finder locates stars as local maxima above a sigma-clipped sky level
type Finder struct {
	// FWHM is the expected full width at half maximum in pixels. It sets the
	// local-maximum window and the centroid box.
	FWHM float64

	// NoiseThreshold is the detection level in units of the sky noise
	NoiseThreshold float64

	// SigmaClip and MaxIters control the sky estimate. Zero values default to
	// 3 sigma and 5 iterations.
	SigmaClip float64
	MaxIters  int

	// MaxSources truncates the flux-sorted list; zero keeps all sources
	MaxSources int

	Log logger.ILogger
}

// Sky returns the sigma-clipped median and standard deviation of values
func (f *Finder) Sky(values []float64) (float64, float64, error) {
	clip := f.SigmaClip
	if clip <= 0 {
		clip = 3
	}
	iters := f.MaxIters
	if iters <= 0 {
		iters = 5
	}

	data := stats.Float64Data(append([]float64(nil), values...))
	var median, std float64
	for it := 0; it < iters; it++ {
		var err error
		if median, err = stats.Median(data); err != nil {
			return 0, 0, errs.Wrap(errs.InvalidArgument, "sky", err, "median")
		}
		if std, err = stats.StandardDeviationPopulation(data); err != nil {
			return 0, 0, errs.Wrap(errs.InvalidArgument, "sky", err, "standard deviation")
		}

		kept := data[:0:0]
		for _, v := range data {
			if math.Abs(v-median) <= clip*std {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(data) || len(kept) == 0 {
			break
		}
		data = kept
	}
	return median, std, nil
}

// FindStars returns the sources of image sorted by decreasing flux. Positions
// are in pixel coordinates of image.
func (f *Finder) FindStars(image *mat.Dense) ([]models.Source, error) {
	const op = "find stars"
	log := logger.OrNull(f.Log)

	if !(f.FWHM > 0) {
		return nil, errs.New(errs.InvalidArgument, op, "fwhm must be positive, got %g", f.FWHM)
	}
	if f.NoiseThreshold < 0 {
		return nil, errs.New(errs.InvalidArgument, op, "noise threshold must not be negative, got %g", f.NoiseThreshold)
	}

	rows, cols := image.Dims()
	values := grid.Values(image)
	sky, noise, err := f.Sky(values)
	if err != nil {
		return nil, err
	}
	level := sky + f.NoiseThreshold*noise
	r := int(math.Ceil(f.FWHM))
	log.Debugf("Sky %g, noise %g, detection level %g, window %d", sky, noise, level, r)

	var found []models.Source
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := values[i*cols+j]
			if v <= level || !isLocalMax(values, rows, cols, i, j, r) {
				continue
			}
			found = append(found, centroid(values, rows, cols, i, j, r, sky))
		}
	}

	sort.SliceStable(found, func(a, b int) bool { return found[a].Flux > found[b].Flux })
	if f.MaxSources > 0 && len(found) > f.MaxSources {
		found = found[:f.MaxSources]
	}
	log.Infof("Found %d sources above %.3g", len(found), level)
	return found, nil
}

// isLocalMax reports whether pixel (i, j) is the first maximum of its window
// in row-major order
func isLocalMax(values []float64, rows, cols, i, j, r int) bool {
	v := values[i*cols+j]
	for y := max(i-r, 0); y <= min(i+r, rows-1); y++ {
		for x := max(j-r, 0); x <= min(j+r, cols-1); x++ {
			w := values[y*cols+x]
			before := y < i || (y == i && x < j)
			if w > v || (before && w == v) {
				return false
			}
		}
	}
	return true
}

// centroid measures the background-subtracted centre of mass and flux in the
// box of radius r around (i, j)
func centroid(values []float64, rows, cols, i, j, r int, sky float64) models.Source {
	var mass, my, mx, flux float64
	for y := max(i-r, 0); y <= min(i+r, rows-1); y++ {
		for x := max(j-r, 0); x <= min(j+r, cols-1); x++ {
			v := values[y*cols+x] - sky
			flux += v
			if v > 0 {
				mass += v
				my += v * float64(y)
				mx += v * float64(x)
			}
		}
	}
	s := models.Source{Y: float64(i), X: float64(j), Flux: flux}
	if mass > 0 {
		s.Y, s.X = my/mass, mx/mass
	}
	return s
}
