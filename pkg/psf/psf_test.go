package psf

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/internal/models"
	"specklerec/pkg/errs"
)

func createStar(rows, cols int, cy, cx, sigma, amp float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d2 := (float64(i)-cy)*(float64(i)-cy) + (float64(j)-cx)*(float64(j)-cx)
			m.Set(i, j, amp*math.Exp(-d2/(2*sigma*sigma)))
		}
	}
	return m
}

// noisyPSF is a star on a rippled pedestal
func noisyPSF(size int) *mat.Dense {
	c := float64(size / 2)
	m := createStar(size, size, c, c, 1.5, 10)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			m.Set(i, j, m.At(i, j)+2+0.1*math.Sin(float64(3*i+7*j)))
		}
	}
	return m
}

func TestNoiseMask(t *testing.T) {
	mask, err := NoiseMask(11, 11, 2)
	if err != nil {
		t.Fatalf("NoiseMask failed: %v", err)
	}
	// centre 5, radius 3: corners are reference pixels, the centre is not
	if !mask[0] || mask[5*11+5] || mask[5*11+8] || !mask[5*11+9] {
		t.Errorf("Unexpected annulus layout")
	}

	if _, err := NoiseMask(11, 11, 6); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument for margin beyond half-size, got %v", err)
	}
	if _, err := NoiseMask(1, 1, 0); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument for empty annulus, got %v", err)
	}
}

// TestThresholdUnitSum verifies the cleaned frame is normalised and positive
func TestThresholdUnitSum(t *testing.T) {
	frame := noisyPSF(15)
	before := mat.DenseCopyOf(frame)
	mask, _ := NoiseMask(15, 15, 2)

	out, err := Threshold(frame, mask, 3)
	if err != nil {
		t.Fatalf("Threshold failed: %v", err)
	}
	if math.Abs(grid.Sum(out)-1) > 1e-12 {
		t.Errorf("Expected unit sum, got %v", grid.Sum(out))
	}
	if floats.Min(grid.Values(out)) < 0 {
		t.Errorf("Negative pixel after clamping")
	}
	if out.At(0, 0) != 0 {
		t.Errorf("Background pixel should be thresholded away, got %v", out.At(0, 0))
	}
	if !mat.Equal(frame, before) {
		t.Errorf("Threshold modified its input")
	}
}

func TestThresholdDegenerate(t *testing.T) {
	frame := noisyPSF(15)
	mask, _ := NoiseMask(15, 15, 2)
	if _, err := Threshold(frame, mask, 1e6); !errs.Is(err, errs.DegenerateSignal) {
		t.Errorf("Expected DegenerateSignal for a huge threshold, got %v", err)
	}
	if _, err := Threshold(frame, mask[:10], 1); !errs.Is(err, errs.ShapeMismatch) {
		t.Errorf("Expected ShapeMismatch for a short mask, got %v", err)
	}
}

func TestThresholdStackAllOrNothing(t *testing.T) {
	stack := []*mat.Dense{noisyPSF(15), noisyPSF(15), mat.NewDense(15, 15, nil)}
	if _, err := ThresholdStack(stack, 2, 3, 2, nil); !errs.Is(err, errs.DegenerateSignal) {
		t.Errorf("Expected DegenerateSignal from the blank frame, got %v", err)
	}

	out, err := ThresholdStack(stack[:2], 2, 3, 2, nil)
	if err != nil {
		t.Fatalf("ThresholdStack failed: %v", err)
	}
	if len(out) != 2 || !mat.Equal(out[0], out[1]) {
		t.Errorf("Expected two identical cleaned frames")
	}
}

func TestExtractorModes(t *testing.T) {
	// Two stars of different brightness in every frame
	var cube models.Cube
	for k := 0; k < 3; k++ {
		f := createStar(40, 40, 10, 10, 1.2+0.1*float64(k), 5)
		f.Add(f, createStar(40, 40, 28, 25, 1.2+0.1*float64(k), 20))
		cube.Frames = append(cube.Frames, f)
	}
	cube.Name = "cube"
	stars := []models.Source{{Y: 12, X: 13}, {Y: 30, X: 28}}

	for _, mode := range []Mode{ModeMean, ModeMedian, ModeWeightedMean} {
		e := &Extractor{Radius: 4, Mode: mode, NumCores: 2}
		// the cube sits at (2,3) on the canvas
		psfs, err := e.Extract(cube, stars, 2, 3)
		if err != nil {
			t.Fatalf("Mode %s: Extract failed: %v", mode, err)
		}
		if len(psfs) != 3 {
			t.Fatalf("Mode %s: expected 3 PSF frames, got %d", mode, len(psfs))
		}
		for k, p := range psfs {
			if r, c := p.Dims(); r != 9 || c != 9 {
				t.Errorf("Mode %s: PSF %d is %dx%d", mode, k, r, c)
			}
			if math.Abs(grid.Sum(p)-1) > 1e-9 {
				t.Errorf("Mode %s: PSF %d sums to %v", mode, k, grid.Sum(p))
			}
			if py, px := grid.ArgMax(p); py != 4 || px != 4 {
				t.Errorf("Mode %s: PSF %d peaks at (%d,%d)", mode, k, py, px)
			}
		}
	}
}

func TestExtractorErrors(t *testing.T) {
	cube := models.Cube{Frames: []*mat.Dense{mat.NewDense(20, 20, nil)}}
	e := &Extractor{Radius: 3, Mode: ModeMean}

	if _, err := e.Extract(cube, nil, 0, 0); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument without stars, got %v", err)
	}
	if _, err := e.Extract(cube, []models.Source{{Y: 10, X: 10}}, 0, 0); !errs.Is(err, errs.DegenerateSignal) {
		t.Errorf("Expected DegenerateSignal on a blank cube, got %v", err)
	}
	bad := &Extractor{Radius: 3, Mode: "epsf"}
	if _, err := bad.Extract(cube, []models.Source{{Y: 10, X: 10}}, 0, 0); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument for unknown mode, got %v", err)
	}
}
