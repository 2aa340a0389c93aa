// Package visualization renders reconstructions and long exposures as 16-bit
// grayscale previews.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/pkg/errs"
)

// Stretch maps normalised intensities to display values
type Stretch string

const (
	StretchLinear Stretch = "linear"
	// StretchAsinh lifts faint structure next to bright stars
	StretchAsinh Stretch = "asinh"
)

// asinhSoftening sets where the asinh stretch turns from linear to logarithmic
const asinhSoftening = 10

// ParseStretch converts a configuration value into a Stretch
func ParseStretch(s string) (Stretch, error) {
	switch st := Stretch(strings.ToLower(strings.TrimSpace(s))); st {
	case StretchLinear, StretchAsinh:
		return st, nil
	case "":
		return StretchLinear, nil
	}
	return "", errs.New(errs.InvalidArgument, "parse stretch", "stretch must be linear or asinh, got %q", s)
}

// Render maps img onto the full 16-bit range between its minimum and maximum.
// A flat image renders black.
func Render(img *mat.Dense, stretch Stretch) (*image.Gray16, error) {
	if _, err := ParseStretch(string(stretch)); err != nil {
		return nil, err
	}
	rows, cols := img.Dims()
	values := grid.Values(img)
	lo, hi := floats.Min(values), floats.Max(values)

	out := image.NewGray16(image.Rect(0, 0, cols, rows))
	if hi == lo || math.IsNaN(hi-lo) || math.IsInf(hi-lo, 0) {
		return out, nil
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			t := (values[y*cols+x] - lo) / (hi - lo)
			if stretch == StretchAsinh {
				t = math.Asinh(asinhSoftening*t) / math.Asinh(asinhSoftening)
			}
			value := uint16(math.Max(0, math.Min(65535, math.Round(t*65535))))
			out.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return out, nil
}

// SaveJPEG saves a preview as a JPEG image
func SaveJPEG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "error creating preview %s", filename)
	}
	defer file.Close()

	return errors.Wrapf(jpeg.Encode(file, img, &jpeg.Options{Quality: 90}), "error encoding preview %s", filename)
}

// SaveTIFF saves a preview as a deflate-compressed TIFF, keeping all 16 bits
func SaveTIFF(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "error creating preview %s", filename)
	}
	defer file.Close()

	opts := &tiff.Options{Compression: tiff.Deflate}
	return errors.Wrapf(tiff.Encode(file, img, opts), "error encoding preview %s", filename)
}

// Save picks the encoder from the file extension
func Save(img image.Image, filename string) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tif", ".tiff":
		return SaveTIFF(img, filename)
	case ".jpg", ".jpeg":
		return SaveJPEG(img, filename)
	}
	return errs.New(errs.InvalidArgument, "save preview", "unsupported preview format %q", filepath.Ext(filename))
}

// SaveSequence renders frames and saves them as outputDir/prefix_NNN.tiff
func SaveSequence(frames []*mat.Dense, stretch Stretch, outputDir, prefix string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return errors.Wrapf(err, "error creating preview directory %s", outputDir)
	}

	for i, f := range frames {
		img, err := Render(f, stretch)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%03d.tiff", prefix, i))
		if err := SaveTIFF(img, filename); err != nil {
			return err
		}
	}

	return nil
}
