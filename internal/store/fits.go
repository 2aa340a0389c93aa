// Package store reads speckle cubes from FITS files and writes
// reconstructions back to FITS.
package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/internal/models"
	"specklerec/pkg/errs"
)

// LoadCube reads the primary image of a FITS file as a cube. A 2-D image
// becomes a single frame. When varianceExt names an image extension of the
// file, it is read as the cube's variance.
func LoadCube(path, varianceExt string) (models.Cube, error) {
	r, err := os.Open(path)
	if err != nil {
		return models.Cube{}, errors.Wrapf(err, "error opening cube %s", path)
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return models.Cube{}, errs.Wrap(errs.InvalidArgument, "load cube", err, path)
	}
	defer f.Close()

	primary, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return models.Cube{}, errs.New(errs.InvalidArgument, "load cube", "%s: primary HDU is not an image", path)
	}
	frames, err := readFrames(primary)
	if err != nil {
		return models.Cube{}, errors.Wrapf(err, "error reading %s", path)
	}
	cube := models.Cube{Name: filepath.Base(path), Frames: frames}

	if varianceExt != "" && f.Has(varianceExt) {
		ext, ok := f.Get(varianceExt).(fitsio.Image)
		if !ok {
			return models.Cube{}, errs.New(errs.InvalidArgument, "load cube", "%s: extension %s is not an image", path, varianceExt)
		}
		if cube.Variance, err = readFrames(ext); err != nil {
			return models.Cube{}, errors.Wrapf(err, "error reading %s[%s]", path, varianceExt)
		}
	}
	return cube, cube.Validate()
}

// readFrames decodes a 2-D or 3-D image HDU into frames, applying BSCALE
// and BZERO
func readFrames(img fitsio.Image) ([]*mat.Dense, error) {
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) < 2 || len(axes) > 3 {
		return nil, errs.New(errs.InvalidArgument, "read image", "expected a 2-D or 3-D image, got %d axes", len(axes))
	}
	cols, rows, n := axes[0], axes[1], 1
	if len(axes) == 3 {
		n = axes[2]
	}

	values, err := readValues(img, hdr.Bitpix(), rows*cols*n)
	if err != nil {
		return nil, err
	}
	if len(values) != rows*cols*n {
		return nil, errs.New(errs.ShapeMismatch, "read image", "image holds %d values for axes %v", len(values), axes)
	}
	scale, zero := cardFloat(hdr, "BSCALE", 1), cardFloat(hdr, "BZERO", 0)
	if scale != 1 || zero != 0 {
		for i, v := range values {
			values[i] = zero + scale*v
		}
	}

	frames := make([]*mat.Dense, n)
	size := rows * cols
	for k := range frames {
		frames[k] = mat.NewDense(rows, cols, values[k*size:(k+1)*size:(k+1)*size])
	}
	return frames, nil
}

// readValues reads the n raw image values with the Go type matching bitpix
func readValues(img fitsio.Image, bitpix, n int) ([]float64, error) {
	var out []float64
	switch bitpix {
	case 8:
		data := make([]byte, n)
		if err := img.Read(&data); err != nil {
			return nil, err
		}
		out = make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
	case 16:
		data := make([]int16, n)
		if err := img.Read(&data); err != nil {
			return nil, err
		}
		out = make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
	case 32:
		data := make([]int32, n)
		if err := img.Read(&data); err != nil {
			return nil, err
		}
		out = make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
	case 64:
		data := make([]int64, n)
		if err := img.Read(&data); err != nil {
			return nil, err
		}
		out = make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
	case -32:
		data := make([]float32, n)
		if err := img.Read(&data); err != nil {
			return nil, err
		}
		out = make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
	case -64:
		out = make([]float64, n)
		if err := img.Read(&out); err != nil {
			return nil, err
		}
	default:
		return nil, errs.New(errs.InvalidArgument, "read image", "unsupported BITPIX %d", bitpix)
	}
	return out, nil
}

// cardFloat returns the numeric value of a header card, or def when absent
func cardFloat(hdr *fitsio.Header, name string, def float64) float64 {
	card := hdr.Get(name)
	if card == nil {
		return def
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	}
	return def
}

// SaveImage writes image as a float64 primary HDU with the given header
// cards. A non-nil variance is appended as the image extension varianceExt.
func SaveImage(path string, image, variance *mat.Dense, varianceExt string, cards []fitsio.Card) error {
	var frames, varFrames []*mat.Dense
	frames = []*mat.Dense{image}
	if variance != nil {
		varFrames = []*mat.Dense{variance}
	}
	return write(path, frames, varFrames, varianceExt, cards)
}

// SaveCube writes a cube as a 3-D float64 primary HDU, plus its variance
// frames when present
func SaveCube(path string, cube models.Cube, varianceExt string, cards []fitsio.Card) error {
	if err := cube.Validate(); err != nil {
		return err
	}
	return write(path, cube.Frames, cube.Variance, varianceExt, cards)
}

func write(path string, frames, variance []*mat.Dense, varianceExt string, cards []fitsio.Card) error {
	if len(variance) > 0 && varianceExt == "" {
		return errs.New(errs.InvalidArgument, "save fits", "variance given without an extension name")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "error creating directory for %s", path)
	}
	w, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", path)
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		return errors.Wrapf(err, "error creating FITS stream %s", path)
	}

	primary, err := newImageHDU(frames)
	if err != nil {
		return err
	}
	if len(cards) > 0 {
		if err := primary.Header().Append(cards...); err != nil {
			return errors.Wrap(err, "error appending header cards")
		}
	}
	if err := f.Write(primary); err != nil {
		return errors.Wrapf(err, "error writing %s", path)
	}

	if len(variance) > 0 {
		ext, err := newImageHDU(variance)
		if err != nil {
			return err
		}
		if err := ext.Header().Append(fitsio.Card{Name: "EXTNAME", Value: varianceExt, Comment: "variance"}); err != nil {
			return errors.Wrap(err, "error naming variance extension")
		}
		if err := f.Write(ext); err != nil {
			return errors.Wrapf(err, "error writing %s[%s]", path, varianceExt)
		}
	}

	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "error closing FITS stream %s", path)
	}
	return errors.Wrapf(w.Close(), "error closing %s", path)
}

// newImageHDU packs frames into one float64 image, 2-D for a single frame
func newImageHDU(frames []*mat.Dense) (fitsio.Image, error) {
	rows, cols := frames[0].Dims()
	axes := []int{cols, rows}
	if len(frames) > 1 {
		axes = append(axes, len(frames))
	}
	data := make([]float64, 0, rows*cols*len(frames))
	for i, fr := range frames {
		if !grid.SameShape(fr, frames[0]) {
			return nil, errs.New(errs.ShapeMismatch, "save fits", "frame %d differs in shape from frame 0", i)
		}
		data = append(data, grid.Values(fr)...)
	}

	img := fitsio.NewImage(-64, axes)
	if err := img.Write(data); err != nil {
		return nil, errors.Wrap(err, "error encoding image data")
	}
	return img, nil
}

// ListCubes returns the FITS files in dir, sorted by name
func ListCubes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "error listing %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".fits", ".fit", ".fts":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadCubes loads every path, in order
func LoadCubes(paths []string, varianceExt string) ([]models.Cube, error) {
	cubes := make([]models.Cube, 0, len(paths))
	for _, p := range paths {
		c, err := LoadCube(p, varianceExt)
		if err != nil {
			return nil, err
		}
		cubes = append(cubes, c)
	}
	return cubes, nil
}
