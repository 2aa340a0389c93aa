// Package reconstruction implements shift-and-add (SSA) reconstruction of
// speckle exposures. Each cube is first reduced to a long exposure, then the
// long exposures are aligned against a reference cube and coadded onto a
// common canvas.
package reconstruction

import (
	"image"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/models"
	"specklerec/pkg/alignment"
	"specklerec/pkg/errs"
	"specklerec/pkg/logger"
)

// Method selects how a cube is reduced to a long exposure
type Method string

const (
	// MethodCollapse sums the frames of a cube over time
	MethodCollapse Method = "collapse"

	// MethodSSA shift-and-adds the frames of a cube on their peaks
	MethodSSA Method = "ssa"
)

// ParseMethod converts a configuration value into a Method
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCollapse, MethodSSA:
		return m, nil
	}
	return "", errs.New(errs.InvalidArgument, "parse method", "alignment method must be collapse or ssa, got %q", s)
}

// Params holds the reconstruction parameters
type Params struct {
	// Mode selects the output canvas
	Mode models.Mode

	// Reference designates the cube all shifts are measured against
	Reference models.Reference

	// Method selects how each cube is reduced to a long exposure
	Method Method

	// Box bounds the peak search of the inner SSA. An empty box searches the
	// whole frame.
	Box image.Rectangle

	// NumCores specifies how many cubes are processed concurrently
	NumCores int
}

// Validate checks the parameters before any work is done
func (p *Params) Validate() error {
	switch p.Mode {
	case models.ModeFull, models.ModeSame, models.ModeValid:
	default:
		return errs.New(errs.InvalidArgument, "validate params", "unknown reconstruction mode %d", int(p.Mode))
	}
	if _, err := ParseMethod(string(p.Method)); err != nil {
		return err
	}
	if p.NumCores < 0 {
		return errs.New(errs.InvalidArgument, "validate params", "numCores must not be negative, got %d", p.NumCores)
	}
	return nil
}

// Result is the output of a reconstruction. Callers own every field.
type Result struct {
	// Image is the coadded reconstruction
	Image *mat.Dense

	// Variance is the coadded variance, nil unless every cube carries variance
	Variance *mat.Dense

	// LongExposures holds the per-cube long exposures, in cube order
	LongExposures []*mat.Dense

	// Shifts holds the per-cube shifts onto the reference
	Shifts []models.Shift

	// PadVectors and ReferencePad place every cube on the canvas
	PadVectors   []models.PadVector
	ReferencePad models.PadVector

	// ReferenceIndex is the resolved reference cube
	ReferenceIndex int
}

// Reconstructor runs SSA reconstructions with fixed parameters
type Reconstructor struct {
	// params stores the reconstruction configuration
	params *Params

	log logger.ILogger
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
//
// Parameters:
//   - params: Configuration parameters for the reconstruction process
//   - log: Progress logger, may be nil
//
// Returns:
//   - A new Reconstructor instance initialized with the provided parameters
func NewReconstructor(params *Params, log logger.ILogger) *Reconstructor {
	return &Reconstructor{
		params: params,
		log:    logger.OrNull(log),
	}
}

// Run reconstructs one image from cubes
func (r *Reconstructor) Run(cubes []models.Cube) (*Result, error) {
	if err := r.params.Validate(); err != nil {
		return nil, err
	}
	if len(cubes) == 0 {
		return nil, errs.New(errs.InvalidArgument, "reconstruct", "no cubes given")
	}
	ref, err := r.params.Reference.Resolve(cubes)
	if err != nil {
		return nil, err
	}

	// Step 1: long exposures
	r.log.Infof("Computing %s long exposures for %d cubes", r.params.Method, len(cubes))
	images, variances, err := r.LongExposures(cubes)
	if err != nil {
		return nil, err
	}

	// Step 2: inter-cube shifts
	var shifts []models.Shift
	if len(cubes) == 1 {
		r.log.Infof("Single cube, skipping alignment")
		shifts = []models.Shift{{}}
	} else {
		r.log.Infof("Estimating shifts against cube %d (%s)", ref, cubes[ref].Name)
		shifts, err = alignment.EstimateShifts(images, ref, r.params.NumCores)
		if err != nil {
			return nil, err
		}
		for i, s := range shifts {
			r.log.Debugf("Cube %d (%s): shift (%d, %d)", i, cubes[i].Name, s.DY, s.DX)
		}
	}

	// Step 3: coadd
	result, err := r.Coadd(images, variances, shifts)
	if err != nil {
		return nil, err
	}
	result.ReferenceIndex = ref
	return result, nil
}

// LongExposures reduces every cube with the configured method. Variances are
// returned only when every cube carries variance data.
func (r *Reconstructor) LongExposures(cubes []models.Cube) ([]*mat.Dense, []*mat.Dense, error) {
	type processingResult struct {
		index    int
		image    *mat.Dense
		variance *mat.Dense
		err      error
	}

	numCores := r.params.NumCores
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}
	sem := make(chan struct{}, numCores)
	resultChan := make(chan processingResult)

	for i := range cubes {
		go func(index int, cube models.Cube) {
			sem <- struct{}{}
			defer func() { <-sem }()

			var res processingResult
			res.index = index
			if r.params.Method == MethodSSA {
				res.image, res.variance, res.err = CoaddFrames(cube, r.params.Box)
			} else {
				res.image, res.variance, res.err = Collapse(cube)
			}
			resultChan <- res
		}(i, cubes[i])
	}

	images := make([]*mat.Dense, len(cubes))
	variances := make([]*mat.Dense, len(cubes))
	var firstErr error
	withVariance := true
	for range cubes {
		res := <-resultChan
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		images[res.index] = res.image
		variances[res.index] = res.variance
		if res.variance == nil {
			withVariance = false
		}
	}
	if firstErr != nil {
		return nil, nil, firstErr
	}
	if !withVariance {
		variances = nil
	}
	return images, variances, nil
}

// Coadd places long exposures on the canvas defined by shifts and the
// configured mode and sums them. Padding runs in parallel; the sum is taken
// in cube order.
func (r *Reconstructor) Coadd(images, variances []*mat.Dense, shifts []models.Shift) (*Result, error) {
	const op = "coadd"

	if len(images) == 0 || len(images) != len(shifts) {
		return nil, errs.New(errs.InvalidArgument, op, "%d images for %d shifts", len(images), len(shifts))
	}
	if variances != nil && len(variances) != len(images) {
		return nil, errs.New(errs.InvalidArgument, op, "%d variances for %d images", len(variances), len(images))
	}

	vectors, ref, err := alignment.PadVectors(shifts, r.params.Mode)
	if err != nil {
		return nil, err
	}
	rows, cols := images[0].Dims()
	cr, cc, err := alignment.Canvas(rows, cols, ref, r.params.Mode)
	if err != nil {
		return nil, err
	}
	r.log.Infof("Coadding %d long exposures on a %dx%d canvas (%s mode)", len(images), cr, cc, r.params.Mode)

	padded := make([]*mat.Dense, len(images))
	paddedVar := make([]*mat.Dense, len(images))
	g := new(errgroup.Group)
	if r.params.NumCores > 0 {
		g.SetLimit(r.params.NumCores)
	}
	for i := range images {
		g.Go(func() error {
			var err error
			if padded[i], err = alignment.Pad(images[i], vectors[i], r.params.Mode, ref); err != nil {
				return err
			}
			if variances != nil {
				paddedVar[i], err = alignment.Pad(variances[i], vectors[i], r.params.Mode, ref)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	comp := alignment.NewCompositor(cr, cc, variances != nil)
	for i := range padded {
		if err := comp.Accumulate(padded[i], paddedVar[i]); err != nil {
			return nil, err
		}
	}

	return &Result{
		Image:         comp.Image(),
		Variance:      comp.Variance(),
		LongExposures: images,
		Shifts:        shifts,
		PadVectors:    vectors,
		ReferencePad:  ref,
	}, nil
}
