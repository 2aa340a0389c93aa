package main

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"specklerec/internal/models"
	"specklerec/internal/store"
	"specklerec/pkg/config"
	"specklerec/pkg/logger"
	"specklerec/pkg/sources"
)

func TestNewSelector(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.RefSourceFile = filepath.Join(t.TempDir(), "missing.dat")

	sel, err := newSelector(cfg, strings.NewReader(""))
	if err != nil {
		t.Fatalf("newSelector failed: %v", err)
	}
	if b, ok := sel.(sources.BrightestSelector); !ok || b.N != cfg.Holography.ReferenceStars {
		t.Errorf("Expected the brightest selector without a reference list, got %T", sel)
	}

	stars := []models.Source{{Y: 4, X: 5, Flux: 10}}
	if err := sources.SaveTable(cfg.Paths.RefSourceFile, stars); err != nil {
		t.Fatal(err)
	}
	sel, err = newSelector(cfg, strings.NewReader(""))
	if err != nil {
		t.Fatalf("newSelector failed: %v", err)
	}
	if l, ok := sel.(sources.ListSelector); !ok || len(l.Stars) != 1 {
		t.Errorf("Expected the list selector for an existing reference list, got %T", sel)
	}

	cfg.Holography.Interactive = true
	sel, _ = newSelector(cfg, strings.NewReader(""))
	if _, ok := sel.(*sources.FileSelector); !ok {
		t.Errorf("Expected the file selector in interactive mode, got %T", sel)
	}
}

func TestStartProfile(t *testing.T) {
	stop, err := startProfile("", t.TempDir())
	if err != nil {
		t.Fatalf("Empty profile kind should be a no-op, got %v", err)
	}
	stop()

	if _, err := startProfile("trace", t.TempDir()); err == nil {
		t.Errorf("Expected an error for an unknown profile kind")
	}
}

func TestCheckMemory(t *testing.T) {
	cube := models.Cube{Name: "a", Frames: []*mat.Dense{mat.NewDense(4, 4, nil)}}
	checkMemory(&logger.NullLogger{}, []models.Cube{cube})
}

func TestTrimExt(t *testing.T) {
	if got := trimExt("cube_01.fits"); got != "cube_01" {
		t.Errorf("Expected cube_01, got %q", got)
	}
}

func createStarFrame(rows, cols int, cy, cx float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d2 := (float64(i)-cy)*(float64(i)-cy) + (float64(j)-cx)*(float64(j)-cx)
			m.Set(i, j, math.Exp(-d2/4))
		}
	}
	return m
}

func TestAnalyseAperture(t *testing.T) {
	dir := t.TempDir()
	cube := models.Cube{
		Name:   "star.fits",
		Frames: []*mat.Dense{createStarFrame(24, 24, 11, 13), createStarFrame(24, 24, 11, 13)},
	}

	a, err := analyseAperture(cube, 10, 12, 4, dir)
	if err != nil {
		t.Fatalf("analyseAperture failed: %v", err)
	}
	if cy, cx := a.Center(); cy != 11 || cx != 13 {
		t.Errorf("Expected the aperture recentred on (11,13), got (%d,%d)", cy, cx)
	}

	for _, name := range []string{"star_encircled_energy.dat", "star_profile.dat"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to be written: %v", name, err)
		}
	}
	cutout, err := store.LoadCube(filepath.Join(dir, "star_aperture.fits"), "")
	if err != nil {
		t.Fatalf("LoadCube failed: %v", err)
	}
	if r, c := cutout.Shape(); cutout.Len() != 2 || r != 9 || c != 9 {
		t.Errorf("Expected 2 cutouts of 9x9, got %d of %dx%d", cutout.Len(), r, c)
	}
}
