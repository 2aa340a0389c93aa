package holography

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/internal/models"
	"specklerec/pkg/alignment"
	"specklerec/pkg/errs"
	"specklerec/pkg/logger"
	"specklerec/pkg/psf"
	"specklerec/pkg/reconstruction"
)

// State is the current step of the holography loop
type State int

const (
	StateAligning State = iota
	StateSeedingSSA
	StateFindingStars
	StateSelectingReferenceStars
	StateExtractingPSFs
	StateThresholding
	StateEvaluatingObject
	StateApodizing
	StateSynthesizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAligning:
		return "aligning"
	case StateSeedingSSA:
		return "seeding ssa"
	case StateFindingStars:
		return "finding stars"
	case StateSelectingReferenceStars:
		return "selecting reference stars"
	case StateExtractingPSFs:
		return "extracting psfs"
	case StateThresholding:
		return "thresholding"
	case StateEvaluatingObject:
		return "evaluating object"
	case StateApodizing:
		return "apodizing"
	case StateSynthesizing:
		return "synthesizing"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// StarFinder detects point sources in an image
type StarFinder interface {
	FindStars(image *mat.Dense) ([]models.Source, error)
}

// StarSelector picks the reference stars used for PSF extraction among the
// detected candidates
type StarSelector interface {
	SelectStars(ctx context.Context, image *mat.Dense, candidates []models.Source) ([]models.Source, error)
}

// Params holds the holography parameters
type Params struct {
	// Mode selects the output canvas
	Mode models.Mode

	// Reference designates the cube all shifts are measured against
	Reference models.Reference

	// PSFRadius is the half-width of the extracted PSFs
	PSFRadius int

	// PSFMode combines the reference stars of one frame
	PSFMode psf.Mode

	// NoiseReferenceMargin and NoiseThreshold control PSF thresholding
	NoiseReferenceMargin int
	NoiseThreshold       float64

	// Apodization and ApodizationRadius select the Fourier window
	Apodization       Kind
	ApodizationRadius float64

	// DenominatorFloor regularizes the Fourier division, see Estimator
	DenominatorFloor float64

	NumCores int
}

// Validate checks the parameters before any work is done
func (p *Params) Validate() error {
	const op = "validate holography params"
	switch p.Mode {
	case models.ModeFull, models.ModeSame, models.ModeValid:
	default:
		return errs.New(errs.InvalidArgument, op, "unknown reconstruction mode %d", int(p.Mode))
	}
	if p.PSFRadius < 1 {
		return errs.New(errs.InvalidArgument, op, "psf radius must be at least 1, got %d", p.PSFRadius)
	}
	if _, err := psf.ParseMode(string(p.PSFMode)); err != nil {
		return err
	}
	if p.NoiseReferenceMargin < 0 || p.NoiseReferenceMargin > p.PSFRadius {
		return errs.New(errs.InvalidArgument, op, "noise reference margin must lie in [0, %d], got %d", p.PSFRadius, p.NoiseReferenceMargin)
	}
	if _, err := ParseKind(string(p.Apodization)); err != nil {
		return err
	}
	if !(p.ApodizationRadius > 0) {
		return errs.New(errs.InvalidArgument, op, "apodization radius must be positive, got %g", p.ApodizationRadius)
	}
	if p.DenominatorFloor < 0 {
		return errs.New(errs.InvalidArgument, op, "denominator floor must not be negative, got %g", p.DenominatorFloor)
	}
	return nil
}

// Result is the output of a holography run
type Result struct {
	// Image is the last synthesized reconstruction
	Image *mat.Dense

	// SSA and SSAVariance are the seed reconstruction
	SSA         *mat.Dense
	SSAVariance *mat.Dense

	// Shifts holds the per-cube shifts onto the reference
	Shifts []models.Shift

	// Sources are the stars found on the final image
	Sources []models.Source

	// References are the reference stars of the last iteration
	References []models.Source

	// Iterations counts completed holography iterations
	Iterations int
}

// Loop runs the iterative holography reconstruction
type Loop struct {
	params   *Params
	finder   StarFinder
	selector StarSelector
	decider  Decider
	log      logger.ILogger

	state State

	// OnState is called on every state transition when set
	OnState func(State)
}

// NewLoop creates a holography loop. The decider is mandatory.
func NewLoop(params *Params, finder StarFinder, selector StarSelector, decider Decider, log logger.ILogger) (*Loop, error) {
	if params == nil || finder == nil || selector == nil || decider == nil {
		return nil, errs.New(errs.InvalidArgument, "new holography loop", "params, star finder, star selector and decider are all required")
	}
	return &Loop{
		params:   params,
		finder:   finder,
		selector: selector,
		decider:  decider,
		log:      logger.OrNull(log),
	}, nil
}

// State returns the step the loop is in
func (l *Loop) State() State {
	return l.state
}

func (l *Loop) enter(s State) {
	l.state = s
	l.log.Debugf("Holography: %s", s)
	if l.OnState != nil {
		l.OnState(s)
	}
}

// Run reconstructs cubes by speckle holography, seeded with an SSA
// reconstruction. Iterations continue until the decider declines.
func (l *Loop) Run(ctx context.Context, cubes []models.Cube) (*Result, error) {
	p := l.params
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(cubes) == 0 {
		return nil, errs.New(errs.InvalidArgument, "holography", "no cubes given")
	}
	for i := range cubes {
		if err := cubes[i].Validate(); err != nil {
			return nil, err
		}
	}
	ref, err := p.Reference.Resolve(cubes)
	if err != nil {
		return nil, err
	}

	l.enter(StateAligning)
	recon := reconstruction.NewReconstructor(&reconstruction.Params{
		Mode:      p.Mode,
		Reference: p.Reference,
		Method:    reconstruction.MethodCollapse,
		NumCores:  p.NumCores,
	}, l.log)
	longExposures, variances, err := recon.LongExposures(cubes)
	if err != nil {
		return nil, err
	}
	shifts := []models.Shift{{}}
	if len(cubes) > 1 {
		if shifts, err = alignment.EstimateShifts(longExposures, ref, p.NumCores); err != nil {
			return nil, err
		}
	}

	l.enter(StateSeedingSSA)
	seed, err := recon.Coadd(longExposures, variances, shifts)
	if err != nil {
		return nil, err
	}
	targetFlux := grid.Sum(seed.Image)
	if !(targetFlux > 0) {
		return nil, errs.New(errs.DegenerateSignal, "holography", "SSA seed has flux %g", targetFlux)
	}
	l.log.Infof("SSA seed ready, flux %g", targetFlux)

	// frames on the canvas, shared by every iteration
	var frames []*mat.Dense
	for i := range cubes {
		for _, f := range cubes[i].Frames {
			padded, err := alignment.Pad(f, seed.PadVectors[i], p.Mode, seed.ReferencePad)
			if err != nil {
				return nil, err
			}
			frames = append(frames, padded)
		}
	}

	result := &Result{
		SSA:         seed.Image,
		SSAVariance: seed.Variance,
		Shifts:      shifts,
	}
	image := seed.Image
	extractor := &psf.Extractor{Radius: p.PSFRadius, Mode: p.PSFMode, NumCores: p.NumCores, Log: l.log}
	estimator := &Estimator{Floor: p.DenominatorFloor, NumCores: p.NumCores, Log: l.log}

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l.enter(StateFindingStars)
		candidates, err := l.finder.FindStars(image)
		if err != nil {
			return nil, err
		}

		l.enter(StateSelectingReferenceStars)
		stars, err := l.selector.SelectStars(ctx, image, candidates)
		if err != nil {
			return nil, err
		}
		if len(stars) == 0 {
			return nil, errs.New(errs.InvalidArgument, "holography", "no reference stars selected in iteration %d", iteration)
		}
		result.References = stars

		l.enter(StateExtractingPSFs)
		var psfs []*mat.Dense
		for i := range cubes {
			oy, ox := alignment.Origin(seed.PadVectors[i], seed.ReferencePad, p.Mode)
			cubePSFs, err := extractor.Extract(cubes[i], stars, oy, ox)
			if err != nil {
				return nil, err
			}
			psfs = append(psfs, cubePSFs...)
		}

		l.enter(StateThresholding)
		if psfs, err = psf.ThresholdStack(psfs, p.NoiseReferenceMargin, p.NoiseThreshold, p.NumCores, l.log); err != nil {
			return nil, err
		}

		l.enter(StateEvaluatingObject)
		object, cy, cx, err := estimator.EstimateFrames(frames, psfs)
		if err != nil {
			return nil, err
		}

		l.enter(StateApodizing)
		if object, err = Apodize(object, p.Apodization, p.ApodizationRadius); err != nil {
			return nil, err
		}

		l.enter(StateSynthesizing)
		if image, err = SynthesizeAt(object, targetFlux, cy, cx); err != nil {
			return nil, err
		}
		result.Image = image
		result.Iterations = iteration
		l.log.Infof("Holography iteration %d complete", iteration)

		more, err := l.decider.Continue(ctx, iteration, image)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	l.enter(StateDone)
	if result.Sources, err = l.finder.FindStars(image); err != nil {
		return nil, err
	}
	return result, nil
}
