package sources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/mat"

	"specklerec/internal/models"
	"specklerec/pkg/errs"
)

// BrightestSelector picks the N brightest candidates; N <= 0 keeps all
type BrightestSelector struct {
	N int
}

// SelectStars implements the holography StarSelector
func (s BrightestSelector) SelectStars(_ context.Context, _ *mat.Dense, candidates []models.Source) ([]models.Source, error) {
	out := append([]models.Source(nil), candidates...)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Flux > out[b].Flux })
	if s.N > 0 && len(out) > s.N {
		out = out[:s.N]
	}
	return out, nil
}

// ListSelector uses a fixed list of reference stars, snapped to the nearest
// candidate when Tolerance is positive
type ListSelector struct {
	Stars     []models.Source
	Tolerance float64
}

// SelectStars implements the holography StarSelector
func (s ListSelector) SelectStars(_ context.Context, _ *mat.Dense, candidates []models.Source) ([]models.Source, error) {
	if s.Tolerance <= 0 {
		return append([]models.Source(nil), s.Stars...), nil
	}
	return Match(s.Stars, candidates, s.Tolerance)
}

// FileSelector lets an operator choose reference stars by editing a file.
// All candidates are written to AllStarsPath; after the operator confirms on
// In, the reference list is read back from RefPath.
type FileSelector struct {
	AllStarsPath string
	RefPath      string
	Tolerance    float64

	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// SelectStars implements the holography StarSelector
func (s *FileSelector) SelectStars(ctx context.Context, _ *mat.Dense, candidates []models.Source) ([]models.Source, error) {
	if err := SaveTable(s.AllStarsPath, candidates); err != nil {
		return nil, err
	}
	fmt.Fprintf(s.Out, "Wrote %d candidate stars to %s.\nCopy the reference stars to %s and press Enter to continue.\n",
		len(candidates), s.AllStarsPath, s.RefPath)

	if s.reader == nil {
		s.reader = bufio.NewReader(s.In)
	}
	if _, err := s.reader.ReadString('\n'); err != nil && err != io.EOF {
		return nil, errs.Wrap(errs.InvalidArgument, "select stars", err, "waiting for the operator")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stars, err := LoadTable(s.RefPath)
	if err != nil {
		return nil, err
	}
	if s.Tolerance > 0 {
		if stars, err = Match(stars, candidates, s.Tolerance); err != nil {
			return nil, err
		}
	}
	if len(stars) == 0 {
		return nil, errs.New(errs.InvalidArgument, "select stars", "no reference stars in %s", s.RefPath)
	}
	return stars, nil
}
