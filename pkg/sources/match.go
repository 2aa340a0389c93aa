package sources

import (
	"gonum.org/v1/gonum/spatial/kdtree"

	"specklerec/internal/models"
	"specklerec/pkg/errs"
)

// starPoint is a source position indexed by a kd-tree
type starPoint struct {
	Y, X  float64
	index int
}

// Compare implements the kdtree.Comparable interface
func (p starPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(starPoint)
	switch d {
	case 0:
		return p.Y - q.Y
	case 1:
		return p.X - q.X
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p starPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p starPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(starPoint)
	dy := p.Y - q.Y
	dx := p.X - q.X
	return dy*dy + dx*dx
}

// starPoints satisfies kdtree.Interface
type starPoints []starPoint

func (p starPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p starPoints) Len() int                              { return len(p) }
func (p starPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p starPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(starPlane{starPoints: p, Dim: d}, kdtree.MedianOfRandoms(starPlane{starPoints: p, Dim: d}, 100))
}

// starPlane implements kdtree.SortSlicer for starPoints
type starPlane struct {
	starPoints
	kdtree.Dim
}

func (p starPlane) Less(i, j int) bool {
	if p.Dim == 0 {
		return p.starPoints[i].Y < p.starPoints[j].Y
	}
	return p.starPoints[i].X < p.starPoints[j].X
}

func (p starPlane) Slice(start, end int) kdtree.SortSlicer {
	return starPlane{starPoints: p.starPoints[start:end], Dim: p.Dim}
}

func (p starPlane) Swap(i, j int) {
	p.starPoints[i], p.starPoints[j] = p.starPoints[j], p.starPoints[i]
}

// Match pairs every reference star with its nearest candidate and returns the
// matched candidates in reference order. References without a candidate
// within tolerance pixels are dropped, and a candidate is used at most once.
func Match(reference, candidates []models.Source, tolerance float64) ([]models.Source, error) {
	if tolerance < 0 {
		return nil, errs.New(errs.InvalidArgument, "match stars", "tolerance must not be negative, got %g", tolerance)
	}
	if len(reference) == 0 || len(candidates) == 0 {
		return nil, nil
	}

	points := make(starPoints, len(candidates))
	for i, c := range candidates {
		points[i] = starPoint{Y: c.Y, X: c.X, index: i}
	}
	tree := kdtree.New(points, false)

	used := make(map[int]bool)
	var out []models.Source
	for _, r := range reference {
		nearest, dist := tree.Nearest(starPoint{Y: r.Y, X: r.X})
		if nearest == nil || dist > tolerance*tolerance {
			continue
		}
		idx := nearest.(starPoint).index
		if used[idx] {
			continue
		}
		used[idx] = true
		out = append(out, candidates[idx])
	}
	return out, nil
}
