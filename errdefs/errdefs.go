// Package errdefs defines the error kinds shared across the training and
// inference pipeline. Callers classify failures with the Is* predicates
// regardless of how many times an error was wrapped on the way up.
package errdefs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindShapeMismatch
	KindResourceExhausted
	KindDivergence
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindShapeMismatch:
		return "shape mismatch"
	case KindResourceExhausted:
		return "resource exhausted"
	case KindDivergence:
		return "divergence"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return e.err.Error()
}

func (e *kindError) Unwrap() error {
	return e.err
}

// Configurationf reports invalid settings detected before any compute runs.
// Fatal: never retried.
func Configurationf(format string, args ...interface{}) error {
	return &kindError{kind: KindConfiguration, err: fmt.Errorf(format, args...)}
}

// ShapeMismatchf reports tensors whose shapes disagree with expectations,
// such as predictor output channels vs the configured class count. Fatal.
func ShapeMismatchf(format string, args ...interface{}) error {
	return &kindError{kind: KindShapeMismatch, err: fmt.Errorf(format, args...)}
}

// ResourceExhaustedf reports device memory exhaustion mid-operation. The
// sliding-window inferer retries such failures once at a reduced batch size.
func ResourceExhaustedf(format string, args ...interface{}) error {
	return &kindError{kind: KindResourceExhausted, err: fmt.Errorf(format, args...)}
}

// Divergencef reports a non-finite training loss. Training halts and the
// last written checkpoint is left intact.
func Divergencef(format string, args ...interface{}) error {
	return &kindError{kind: KindDivergence, err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or KindUnknown when no classified error is present.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}

func IsShapeMismatch(err error) bool {
	return KindOf(err) == KindShapeMismatch
}

func IsResourceExhausted(err error) bool {
	return KindOf(err) == KindResourceExhausted
}

func IsDivergence(err error) bool {
	return KindOf(err) == KindDivergence
}
