// Package aperture isolates the neighbourhood of a source in a frame or a
// stack of frames and derives radial diagnostics from it.
package aperture

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"specklerec/internal/grid"
	"specklerec/pkg/errs"
)

// Shape selects the aperture mask
type Shape int

const (
	// Circular masks every pixel farther than the radius from the centre
	Circular Shape = iota

	// Rectangular keeps the full (2r+1)^2 square
	Rectangular
)

// Options control how an aperture is cut out
type Options struct {
	// Recenter moves the aperture onto the brightest pixel found inside a
	// provisional aperture at the requested centre
	Recenter bool

	// SubsetOnly keeps a tight (2r+1)^2 cutout instead of the masked full frame
	SubsetOnly bool

	// Shape is the mask applied to the data
	Shape Shape
}

// Aperture is a masked region of one or more frames around a centre
type Aperture struct {
	y0, x0     int
	offY, offX float64
	radius     int
	cropped    bool

	// frames holds masked copies; pixels outside the mask are zero
	frames []*mat.Dense
	mask   []bool
}

// Extract cuts an aperture of the given radius around (y, x) out of image.
// Pixels of a cutout that fall outside the image are zero.
func Extract(image *mat.Dense, y, x float64, radius int, opts Options) (*Aperture, error) {
	return ExtractStack([]*mat.Dense{image}, y, x, radius, opts)
}

// ExtractStack cuts the same aperture out of every frame of a stack. Recentring
// uses the time-integrated stack.
func ExtractStack(frames []*mat.Dense, y, x float64, radius int, opts Options) (*Aperture, error) {
	const op = "extract aperture"

	if len(frames) == 0 {
		return nil, errs.New(errs.InvalidArgument, op, "no frames given")
	}
	if radius < 1 {
		return nil, errs.New(errs.InvalidArgument, op, "radius must be at least 1, got %d", radius)
	}
	if math.IsNaN(y) || math.IsNaN(x) || math.IsInf(y, 0) || math.IsInf(x, 0) {
		return nil, errs.New(errs.InvalidArgument, op, "centre (%v, %v) is not finite", y, x)
	}
	for i, f := range frames {
		if !grid.SameShape(f, frames[0]) {
			return nil, errs.New(errs.ShapeMismatch, op, "frame %d differs in shape from frame 0", i)
		}
	}
	if opts.Shape != Circular && opts.Shape != Rectangular {
		return nil, errs.New(errs.InvalidArgument, op, "unknown aperture shape %d", int(opts.Shape))
	}

	a := &Aperture{radius: radius}
	a.y0, a.x0 = int(math.Round(y)), int(math.Round(x))
	a.offY, a.offX = y-float64(a.y0), x-float64(a.x0)

	if opts.Recenter {
		provisional, err := ExtractStack(frames, float64(a.y0), float64(a.x0), radius, Options{SubsetOnly: true, Shape: Circular})
		if err != nil {
			return nil, err
		}
		py, px := provisional.Peak()
		a.y0 += py - radius
		a.x0 += px - radius
		a.offY, a.offX = 0, 0
	}

	a.cropped = opts.SubsetOnly
	for _, f := range frames {
		a.frames = append(a.frames, a.cut(f))
	}
	a.applyMask(opts.Shape)
	return a, nil
}

// cut returns the cropped square or a full copy of f
func (a *Aperture) cut(f *mat.Dense) *mat.Dense {
	if !a.cropped {
		return mat.DenseCopyOf(f)
	}
	rows, cols := f.Dims()
	w := a.Width()
	out := mat.NewDense(w, w, nil)

	top, left := a.y0-a.radius, a.x0-a.radius
	y0, y1 := max(top, 0), min(top+w, rows)
	x0, x1 := max(left, 0), min(left+w, cols)
	if y0 < y1 && x0 < x1 {
		out.Slice(y0-top, y1-top, x0-left, x1-left).(*mat.Dense).Copy(f.Slice(y0, y1, x0, x1))
	}
	return out
}

func (a *Aperture) applyMask(shape Shape) {
	rows, cols := a.frames[0].Dims()
	cy, cx := a.Center()
	if a.cropped {
		cy, cx = a.radius, a.radius
	}

	a.mask = make([]bool, rows*cols)
	r2 := a.radius * a.radius
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dy, dx := i-cy, j-cx
			var inside bool
			if shape == Circular {
				inside = dy*dy+dx*dx <= r2
			} else {
				inside = abs(dy) <= a.radius && abs(dx) <= a.radius
			}
			a.mask[i*cols+j] = inside
			if !inside {
				for _, f := range a.frames {
					f.Set(i, j, 0)
				}
			}
		}
	}
}

// Center returns the integer centre in the source frame
func (a *Aperture) Center() (int, int) {
	return a.y0, a.x0
}

// Offset returns the sub-pixel offset of the requested centre
func (a *Aperture) Offset() (float64, float64) {
	return a.offY, a.offX
}

// Radius returns the aperture radius in pixels
func (a *Aperture) Radius() int {
	return a.radius
}

// Width returns the side of the square cutout
func (a *Aperture) Width() int {
	return 2*a.radius + 1
}

// Len returns the number of frames in the aperture
func (a *Aperture) Len() int {
	return len(a.frames)
}

// Frame returns the masked data of frame i
func (a *Aperture) Frame(i int) *mat.Dense {
	return a.frames[i]
}

// Data returns the masked data of the first frame
func (a *Aperture) Data() *mat.Dense {
	return a.frames[0]
}

// Integrated sums the aperture over time
func (a *Aperture) Integrated() *mat.Dense {
	rows, cols := a.frames[0].Dims()
	out := mat.NewDense(rows, cols, nil)
	for _, f := range a.frames {
		out.Add(out, f)
	}
	return out
}

// Peak returns the brightest pixel of the integrated aperture, in aperture
// coordinates
func (a *Aperture) Peak() (int, int) {
	return grid.ArgMax(a.Integrated())
}

// Flux returns the integrated intensity inside the aperture
func (a *Aperture) Flux() float64 {
	return grid.Sum(a.Integrated())
}

// radialBins groups pixel indices of the aperture by squared distance
func (a *Aperture) radialBins() ([]int, map[int][]int) {
	rows, cols := a.frames[0].Dims()
	cy, cx := a.Center()
	if a.cropped {
		cy, cx = a.radius, a.radius
	}
	bins := make(map[int][]int)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if !a.mask[i*cols+j] {
				continue
			}
			d2 := (i-cy)*(i-cy) + (j-cx)*(j-cx)
			bins[d2] = append(bins[d2], i*cols+j)
		}
	}
	keys := make([]int, 0, len(bins))
	for k := range bins {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys, bins
}

// EncircledEnergy returns the cumulative integrated flux within each distinct
// pixel radius. For non-negative data the energy never decreases.
func (a *Aperture) EncircledEnergy() ([]float64, []float64) {
	values := grid.Values(a.Integrated())
	keys, bins := a.radialBins()

	radii := make([]float64, len(keys))
	energy := make([]float64, len(keys))
	var total float64
	for n, k := range keys {
		for _, idx := range bins[k] {
			total += values[idx]
		}
		radii[n] = math.Sqrt(float64(k))
		energy[n] = total
	}
	return radii, energy
}

// Profile returns the radial mean and standard deviation of the integrated
// aperture
func (a *Aperture) Profile() ([]float64, []float64, []float64) {
	return a.radialStats(grid.Values(a.Integrated()))
}

// VarianceProfile returns the radial profile of the per-pixel temporal
// variance. It needs at least two frames.
func (a *Aperture) VarianceProfile() ([]float64, []float64, []float64, error) {
	if len(a.frames) < 2 {
		return nil, nil, nil, errs.New(errs.InvalidArgument, "variance profile", "need at least 2 frames, have %d", len(a.frames))
	}
	rows, cols := a.frames[0].Dims()
	variance := make([]float64, rows*cols)
	series := make([]float64, len(a.frames))
	for p := range variance {
		for t, f := range a.frames {
			series[t] = f.At(p/cols, p%cols)
		}
		variance[p] = stat.PopVariance(series, nil)
	}
	r, m, s := a.radialStats(variance)
	return r, m, s, nil
}

func (a *Aperture) radialStats(values []float64) ([]float64, []float64, []float64) {
	keys, bins := a.radialBins()
	radii := make([]float64, len(keys))
	mean := make([]float64, len(keys))
	std := make([]float64, len(keys))
	for n, k := range keys {
		subset := make([]float64, len(bins[k]))
		for i, idx := range bins[k] {
			subset[i] = values[idx]
		}
		radii[n] = math.Sqrt(float64(k))
		mean[n], std[n] = stat.PopMeanStdDev(subset, nil)
	}
	return radii, mean, std
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
