package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ingestion and retrieval pipeline. Callers classify
// failures with errors.Is against these, so every layer wraps rather than
// replaces them.
var (
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrFetchFailed          = errors.New("document fetch failed")
	ErrNormalizationFailed  = errors.New("document normalization failed")
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrIndexWriteFailed     = errors.New("index write failed")
	ErrInvalidQuery         = errors.New("invalid query")
	ErrGenerationFailed     = errors.New("answer generation failed")
)

// StageError ties a failure to the pipeline stage that produced it and to
// one of the sentinel kinds above, while keeping the underlying cause.
type StageError struct {
	Stage string
	Kind  error
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Cause)
}

// Is reports whether target matches the error kind, so
// errors.Is(err, ErrFetchFailed) works through the wrapper.
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Unwrap exposes the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// Stage wraps cause as a StageError of the given kind.
func Stage(stage string, kind, cause error) error {
	return &StageError{Stage: stage, Kind: kind, Cause: cause}
}
