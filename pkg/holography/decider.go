package holography

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/mat"

	"specklerec/internal/grid"
	"specklerec/pkg/errs"
)

// Decider is asked after every iteration whether the loop should run another
type Decider interface {
	Continue(ctx context.Context, iteration int, image *mat.Dense) (bool, error)
}

// FixedIterations runs the loop a fixed number of times
type FixedIterations int

// Continue reports whether fewer than n iterations have completed
func (n FixedIterations) Continue(ctx context.Context, iteration int, _ *mat.Dense) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return iteration < int(n), nil
}

// PromptDecider asks an operator on Out and reads the answer from In. When
// In is a *bufio.Reader it is read directly, so other consumers of the same
// reader see every line the decider did not take.
type PromptDecider struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// Continue prints a short summary of the iteration and waits for y or n.
// End of input stops the loop.
func (p *PromptDecider) Continue(ctx context.Context, iteration int, image *mat.Dense) (bool, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	py, px := grid.ArgMax(image)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(p.Out, "Iteration %d done: flux %.6g, peak %.6g at (%d, %d). Run another iteration? [y/n] ",
			iteration, grid.Sum(image), image.At(py, px), py, px)

		line, err := p.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, errs.Wrap(errs.InvalidArgument, "prompt", err, "reading answer")
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if err == io.EOF {
			return false, nil
		}
		fmt.Fprintln(p.Out, "Please answer y or n.")
	}
}
