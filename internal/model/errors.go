package model

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad is matched by every checkpoint or graph loading failure.
	ErrLoad = errors.New("model load failed")

	// ErrShape is matched by every dimension mismatch between pipeline stages.
	ErrShape = errors.New("shape mismatch")
)

// LoadError reports why a checkpoint was rejected. No partially built
// network is ever returned alongside it.
type LoadError struct {
	Source string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	msg := "load " + e.Source + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

func loadErrorf(source string, err error, format string, args ...any) *LoadError {
	return &LoadError{Source: source, Reason: fmt.Sprintf(format, args...), Err: err}
}

// ShapeError reports an input whose dimensions do not match what a stage
// expects. It signals a wiring bug between stages rather than bad user input,
// except where a caller hands in a raw tensor directly.
type ShapeError struct {
	Stage string
	Want  string
	Got   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Stage, e.Want, e.Got)
}

func (e *ShapeError) Is(target error) bool { return target == ErrShape }
