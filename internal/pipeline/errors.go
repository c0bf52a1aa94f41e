package pipeline

import (
	"fmt"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/model"
)

var (
	// ErrColumnNotFound is wrapped when a step or loader names an absent column.
	ErrColumnNotFound = errors.New("column not found")
	// ErrTypeMismatch is wrapped when a column has the wrong type for a step.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrInvalidStep is wrapped when a step is misconfigured.
	ErrInvalidStep = errors.New("invalid step")
)

// ExtractionError reports a failed Extract call.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TransformError reports a failed transform step.
type TransformError struct {
	Step   string
	Column string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("transform %s on column %q: %v", e.Step, e.Column, e.Err)
	}
	return fmt.Sprintf("transform %s: %v", e.Step, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// LoadError reports a failed Load call.
type LoadError struct {
	Sink string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Sink, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ValidationGateError is returned when ERROR-severity checks fail and the
// load stage is skipped. The report is carried for the caller.
type ValidationGateError struct {
	Report model.Report
}

func (e *ValidationGateError) Error() string {
	msg := fmt.Sprintf("validation failed: %d error(s), %d warning(s)", len(e.Report.Errors), len(e.Report.Warnings))
	if len(e.Report.Errors) > 0 {
		msg += ": " + e.Report.Errors[0].Message
	}
	return msg
}

func stepError(step, column string, err error) error {
	return &TransformError{Step: step, Column: column, Err: err}
}

func columnNotFound(step, column string) error {
	return stepError(step, column, errors.Wrapf(ErrColumnNotFound, "%q", column))
}
