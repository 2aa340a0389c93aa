// Package errs defines the error kinds reported by the reconstruction core.
// None of the kinds are retried internally; callers decide whether to re-run
// a stage with different parameters.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure of a reconstruction stage
type Kind int

const (
	// InvalidArgument reports a parameter of the wrong type, shape or mode
	InvalidArgument Kind = iota + 1

	// ShapeMismatch reports incompatible frame, PSF or canvas shapes
	ShapeMismatch

	// DegenerateSignal reports an input or result that carries no usable signal,
	// such as a flat reference frame or a PSF thresholded to zero
	DegenerateSignal

	// UnsupportedConfiguration reports a request the implementation cannot honour,
	// such as apodizing a non-square field
	UnsupportedConfiguration
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case ShapeMismatch:
		return "shape mismatch"
	case DegenerateSignal:
		return "degenerate signal"
	case UnsupportedConfiguration:
		return "unsupported configuration"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure raised by operation Op
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message and a stack trace
func New(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// Wrap classifies err, annotating it with msg
func Wrap(kind Kind, op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: errors.Wrap(err, msg)}
}

// KindOf returns the kind of the first classified error in err's chain
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
