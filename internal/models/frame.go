package models

import (
	"strings"

	"gonum.org/v1/gonum/mat"

	"specklerec/pkg/errs"
)

// Shift is the integer translation that re-aligns a frame or cube onto the
// reference. Positive values move content towards larger indices.
type Shift struct {
	// DY is the shift along the row axis
	DY int

	// DX is the shift along the column axis
	DX int
}

// PadVector holds the (before, after) pixel counts per axis that embed a frame
// in the common coordinate grid of a reconstruction
type PadVector struct {
	// Y is the (before, after) padding along the row axis
	Y [2]int

	// X is the (before, after) padding along the column axis
	X [2]int
}

// Mode selects the output canvas of a reconstruction
type Mode int

const (
	// ModeFull covers the union of all frame footprints
	ModeFull Mode = iota

	// ModeSame covers the footprint of the reference frame
	ModeSame

	// ModeValid covers the intersection of all frame footprints
	ModeValid
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeSame:
		return "same"
	case ModeValid:
		return "valid"
	}
	return "unknown"
}

// ParseMode converts a configuration value into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return ModeFull, nil
	case "same":
		return ModeSame, nil
	case "valid":
		return ModeValid, nil
	}
	return 0, errs.New(errs.InvalidArgument, "parse mode", "mode must be full, same or valid, got %q", s)
}

// Cube is one exposure: a time series of frames sharing a shape
type Cube struct {
	// Name identifies the cube, usually the file it was read from
	Name string

	// Frames are the individual exposures, indexed by time
	Frames []*mat.Dense

	// Variance is either empty, a single frame or one frame per exposure
	Variance []*mat.Dense
}

// Len returns the number of frames in the cube
func (c *Cube) Len() int {
	return len(c.Frames)
}

// Shape returns the rows and columns shared by every frame
func (c *Cube) Shape() (int, int) {
	if len(c.Frames) == 0 {
		return 0, 0
	}
	return c.Frames[0].Dims()
}

// HasVariance reports whether the cube carries variance data
func (c *Cube) HasVariance() bool {
	return len(c.Variance) > 0
}

// Validate checks that the cube is non-empty and consistently shaped
func (c *Cube) Validate() error {
	if len(c.Frames) == 0 {
		return errs.New(errs.InvalidArgument, "validate cube", "cube %q has no frames", c.Name)
	}
	rows, cols := c.Shape()
	for i, f := range c.Frames {
		if r, cl := f.Dims(); r != rows || cl != cols {
			return errs.New(errs.ShapeMismatch, "validate cube",
				"cube %q frame %d is %dx%d, expected %dx%d", c.Name, i, r, cl, rows, cols)
		}
	}
	if n := len(c.Variance); n != 0 && n != 1 && n != len(c.Frames) {
		return errs.New(errs.ShapeMismatch, "validate cube",
			"cube %q has %d variance frames for %d frames", c.Name, n, len(c.Frames))
	}
	for i, v := range c.Variance {
		if r, cl := v.Dims(); r != rows || cl != cols {
			return errs.New(errs.ShapeMismatch, "validate cube",
				"cube %q variance frame %d is %dx%d, expected %dx%d", c.Name, i, r, cl, rows, cols)
		}
	}
	return nil
}

// Source is a point source located in an image
type Source struct {
	// Y and X are the centroid in pixel coordinates
	Y, X float64

	// Flux is the background-subtracted integrated intensity
	Flux float64
}

// Reference designates the cube every shift is measured against. Name takes
// precedence over Index when set.
type Reference struct {
	Name  string
	Index int
}

// Resolve returns the index of the reference cube within cubes
func (r Reference) Resolve(cubes []Cube) (int, error) {
	if r.Name != "" {
		for i := range cubes {
			if cubes[i].Name == r.Name {
				return i, nil
			}
		}
		return 0, errs.New(errs.InvalidArgument, "resolve reference", "no cube named %q", r.Name)
	}
	if r.Index < 0 || r.Index >= len(cubes) {
		return 0, errs.New(errs.InvalidArgument, "resolve reference",
			"reference index %d out of range [0, %d)", r.Index, len(cubes))
	}
	return r.Index, nil
}
