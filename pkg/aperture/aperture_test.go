package aperture

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"specklerec/pkg/errs"
)

func createStar(rows, cols int, cy, cx, sigma float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d2 := (float64(i)-cy)*(float64(i)-cy) + (float64(j)-cx)*(float64(j)-cx)
			m.Set(i, j, math.Exp(-d2/(2*sigma*sigma)))
		}
	}
	return m
}

func TestExtractSubset(t *testing.T) {
	img := createStar(20, 20, 10, 10, 1.5)
	a, err := Extract(img, 10.3, 9.8, 3, Options{SubsetOnly: true, Shape: Rectangular})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if r, c := a.Data().Dims(); r != 7 || c != 7 {
		t.Errorf("Expected 7x7 cutout, got %dx%d", r, c)
	}
	if cy, cx := a.Center(); cy != 10 || cx != 10 {
		t.Errorf("Expected rounded centre (10,10), got (%d,%d)", cy, cx)
	}
	if oy, ox := a.Offset(); math.Abs(oy-0.3) > 1e-12 || math.Abs(ox+0.2) > 1e-12 {
		t.Errorf("Unexpected offset (%v,%v)", oy, ox)
	}
	if a.Data().At(3, 3) != 1 {
		t.Errorf("Expected star peak at the cutout centre, got %v", a.Data().At(3, 3))
	}
}

func TestExtractRecenter(t *testing.T) {
	img := createStar(30, 30, 14, 17, 1.2)
	a, err := Extract(img, 12, 15, 4, Options{Recenter: true, SubsetOnly: true})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if cy, cx := a.Center(); cy != 14 || cx != 17 {
		t.Errorf("Expected recentred aperture at (14,17), got (%d,%d)", cy, cx)
	}
	if py, px := a.Peak(); py != 4 || px != 4 {
		t.Errorf("Expected peak at cutout centre, got (%d,%d)", py, px)
	}
}

func TestExtractMasks(t *testing.T) {
	img := mat.NewDense(11, 11, nil)
	for i := 0; i < 11; i++ {
		for j := 0; j < 11; j++ {
			img.Set(i, j, 1)
		}
	}

	full, err := Extract(img, 5, 5, 2, Options{Shape: Circular})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if r, _ := full.Data().Dims(); r != 11 {
		t.Errorf("Full-frame aperture should keep the frame shape")
	}
	// 13 pixels lie within distance 2 of the centre
	if full.Flux() != 13 {
		t.Errorf("Expected circular flux 13, got %v", full.Flux())
	}
	if full.Data().At(0, 0) != 0 || img.At(0, 0) != 1 {
		t.Errorf("Mask must zero the copy and leave the source untouched")
	}

	square, err := Extract(img, 5, 5, 2, Options{SubsetOnly: true, Shape: Rectangular})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if square.Flux() != 25 {
		t.Errorf("Expected rectangular flux 25, got %v", square.Flux())
	}
}

func TestExtractEdge(t *testing.T) {
	img := createStar(10, 10, 0, 0, 1)
	a, err := Extract(img, 0, 0, 2, Options{SubsetOnly: true, Shape: Rectangular})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if a.Data().At(0, 0) != 0 || a.Data().At(2, 2) != 1 {
		t.Errorf("Expected zero fill outside the frame and the star at the centre")
	}
}

func TestExtractErrors(t *testing.T) {
	img := mat.NewDense(5, 5, nil)
	if _, err := Extract(img, 2, 2, 0, Options{}); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument for zero radius, got %v", err)
	}
	if _, err := Extract(img, math.NaN(), 2, 1, Options{}); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument for NaN centre, got %v", err)
	}
	if _, err := ExtractStack([]*mat.Dense{img, mat.NewDense(4, 5, nil)}, 2, 2, 1, Options{}); !errs.Is(err, errs.ShapeMismatch) {
		t.Errorf("Expected ShapeMismatch, got %v", err)
	}
}

// TestEncircledEnergyMonotonic verifies the cumulative profile
func TestEncircledEnergyMonotonic(t *testing.T) {
	img := createStar(25, 25, 12, 12, 2)
	a, err := Extract(img, 12, 12, 8, Options{SubsetOnly: true})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	radii, energy := a.EncircledEnergy()
	if len(radii) == 0 || radii[0] != 0 {
		t.Fatalf("Expected radii starting at 0, got %v", radii)
	}
	if energy[0] != 1 {
		t.Errorf("Expected central pixel energy 1, got %v", energy[0])
	}
	for i := 1; i < len(energy); i++ {
		if energy[i] < energy[i-1] || radii[i] <= radii[i-1] {
			t.Fatalf("Profile not monotonic at %d", i)
		}
	}
	if math.Abs(energy[len(energy)-1]-a.Flux()) > 1e-9 {
		t.Errorf("Outermost energy %v should equal aperture flux %v", energy[len(energy)-1], a.Flux())
	}
}

func TestProfiles(t *testing.T) {
	frames := []*mat.Dense{createStar(15, 15, 7, 7, 1.5), createStar(15, 15, 7, 7, 2.5)}
	a, err := ExtractStack(frames, 7, 7, 4, Options{SubsetOnly: true})
	if err != nil {
		t.Fatalf("ExtractStack failed: %v", err)
	}

	_, mean, std := a.Profile()
	if mean[0] != 2 || std[0] != 0 {
		t.Errorf("Expected integrated centre 2 with zero spread, got %v, %v", mean[0], std[0])
	}

	_, vmean, _, err := a.VarianceProfile()
	if err != nil {
		t.Fatalf("VarianceProfile failed: %v", err)
	}
	if vmean[0] != 0 || vmean[1] <= 0 {
		t.Errorf("Expected zero variance at the centre and positive variance outside, got %v", vmean[:2])
	}

	single, _ := Extract(frames[0], 7, 7, 2, Options{SubsetOnly: true})
	if _, _, _, err := single.VarianceProfile(); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument for single frame, got %v", err)
	}
}

func TestWriteTables(t *testing.T) {
	frames := []*mat.Dense{createStar(20, 20, 9, 11, 1.5), createStar(20, 20, 9, 11, 2)}
	a, err := ExtractStack(frames, 10, 10, 3, Options{Recenter: true, SubsetOnly: true, Shape: Circular})
	if err != nil {
		t.Fatalf("ExtractStack failed: %v", err)
	}
	radii, _ := a.EncircledEnergy()

	var buf bytes.Buffer
	if err := a.WriteProfile(&buf); err != nil {
		t.Fatalf("WriteProfile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "# centre y=9 x=11 radius=3 frames=2" || lines[1] != "radius mean std var_mean var_std" {
		t.Errorf("Unexpected profile header %q", lines[:2])
	}
	if len(lines) != len(radii)+2 || len(strings.Fields(lines[2])) != 5 {
		t.Errorf("Expected %d rows of 5 columns, got %q", len(radii), lines)
	}

	single, _ := Extract(frames[0], 9, 11, 3, Options{SubsetOnly: true, Shape: Circular})
	buf.Reset()
	if err := single.WriteProfile(&buf); err != nil {
		t.Fatalf("WriteProfile failed: %v", err)
	}
	if !strings.Contains(buf.String(), "\nradius mean std\n") {
		t.Errorf("Single frame profile should omit the variance columns, got %q", buf.String())
	}

	path := filepath.Join(t.TempDir(), "ee.dat")
	if err := a.SaveEncircledEnergy(path); err != nil {
		t.Fatalf("SaveEncircledEnergy failed: %v", err)
	}
	if err := a.SaveProfile(filepath.Join(t.TempDir(), "missing", "profile.dat")); err == nil {
		t.Errorf("Expected an error for a missing directory")
	}
}
