package psf

import (
	"runtime"
	"strings"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"specklerec/internal/grid"
	"specklerec/internal/models"
	"specklerec/pkg/aperture"
	"specklerec/pkg/errs"
	"specklerec/pkg/logger"
)

// Mode selects how the per-star PSF estimates of one frame are combined
type Mode string

const (
	ModeMean         Mode = "mean"
	ModeMedian       Mode = "median"
	ModeWeightedMean Mode = "weighted_mean"
)

// ParseMode converts a configuration value into a Mode
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeMean, ModeMedian, ModeWeightedMean:
		return m, nil
	}
	return "", errs.New(errs.InvalidArgument, "parse psf mode", "PSF extraction mode must be mean, median or weighted_mean, got %q", s)
}

// Extractor builds one PSF per frame of a cube from a list of reference stars
type Extractor struct {
	// Radius is the PSF half-width; PSF frames are (2*Radius+1)^2
	Radius int

	// Mode combines the flux-normalised star cutouts of a frame
	Mode Mode

	// NumCores bounds the number of frames combined concurrently
	NumCores int

	Log logger.ILogger
}

// starStack is the cutout stack of one reference star
type starStack struct {
	ap       *aperture.Aperture
	variance []float64
}

// Extract returns the PSF stack of cube. Star positions are given in canvas
// coordinates; (originY, originX) is where the cube's pixel (0,0) lies on the
// canvas.
func (e *Extractor) Extract(cube models.Cube, stars []models.Source, originY, originX int) ([]*mat.Dense, error) {
	const op = "extract psfs"
	log := logger.OrNull(e.Log)

	if err := cube.Validate(); err != nil {
		return nil, err
	}
	if len(stars) == 0 {
		return nil, errs.New(errs.InvalidArgument, op, "no reference stars given")
	}
	if e.Radius < 1 {
		return nil, errs.New(errs.InvalidArgument, op, "PSF radius must be at least 1, got %d", e.Radius)
	}
	if _, err := ParseMode(string(e.Mode)); err != nil {
		return nil, err
	}

	stacks := make([]starStack, len(stars))
	for s, star := range stars {
		ap, err := aperture.ExtractStack(cube.Frames, star.Y-float64(originY), star.X-float64(originX), e.Radius,
			aperture.Options{SubsetOnly: true, Shape: aperture.Rectangular})
		if err != nil {
			return nil, err
		}
		stacks[s].ap = ap
		if e.Mode == ModeWeightedMean {
			stacks[s].variance = temporalVariance(ap)
		}
	}

	workers := e.NumCores
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([]*mat.Dense, cube.Len())
	var g errgroup.Group
	g.SetLimit(workers)
	for k := range cube.Frames {
		g.Go(func() error {
			p, err := e.combine(stacks, k)
			if err != nil {
				return errs.Wrap(errs.DegenerateSignal, op, err, cube.Name)
			}
			out[k] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Infof("Extracted %d PSF frames from %s using %d reference stars (%s)", len(out), cube.Name, len(stars), e.Mode)
	return out, nil
}

// combine merges the normalised cutouts of frame k
func (e *Extractor) combine(stacks []starStack, k int) (*mat.Dense, error) {
	w := 2*e.Radius + 1
	n := w * w

	var psfs, vars [][]float64
	for _, s := range stacks {
		cut := grid.Values(s.ap.Frame(k))
		var flux float64
		for _, v := range cut {
			flux += v
		}
		if flux <= 0 {
			continue
		}
		p := make([]float64, n)
		for i, v := range cut {
			p[i] = v / flux
		}
		psfs = append(psfs, p)
		if s.variance != nil {
			v := make([]float64, n)
			for i := range v {
				v[i] = s.variance[i] / flux
			}
			vars = append(vars, v)
		}
	}
	if len(psfs) == 0 {
		return nil, errs.New(errs.DegenerateSignal, "combine psfs", "frame %d: no reference star carries positive flux", k)
	}

	out := make([]float64, n)
	column := make([]float64, len(psfs))
	for i := 0; i < n; i++ {
		for s := range psfs {
			column[s] = psfs[s][i]
		}
		switch e.Mode {
		case ModeMedian:
			m, err := stats.Median(column)
			if err != nil {
				return nil, err
			}
			out[i] = m
		case ModeWeightedMean:
			out[i] = weightedMean(column, vars, i)
		default:
			out[i] = stat.Mean(column, nil)
		}
	}
	return mat.NewDense(w, w, out), nil
}

// weightedMean averages column with inverse-variance weights, falling back to
// the plain mean when no star has a positive variance at pixel i
func weightedMean(column []float64, vars [][]float64, i int) float64 {
	var num, den float64
	for s, v := range column {
		if vars[s][i] > 0 {
			num += v / vars[s][i]
			den += 1 / vars[s][i]
		}
	}
	if den == 0 {
		return stat.Mean(column, nil)
	}
	return num / den
}

// temporalVariance is the per-pixel variance of an aperture over time
func temporalVariance(ap *aperture.Aperture) []float64 {
	w := ap.Width()
	out := make([]float64, w*w)
	if ap.Len() < 2 {
		return out
	}
	series := make([]float64, ap.Len())
	for p := range out {
		for t := 0; t < ap.Len(); t++ {
			series[t] = ap.Frame(t).At(p/w, p%w)
		}
		out[p] = stat.PopVariance(series, nil)
	}
	return out
}
