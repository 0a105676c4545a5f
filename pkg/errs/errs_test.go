package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStageErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("connection refused")
	err := Stage("fetch", ErrFetchFailed, cause)

	if !errors.Is(err, ErrFetchFailed) {
		t.Errorf("expected errors.Is to match ErrFetchFailed")
	}
	if errors.Is(err, ErrIndexWriteFailed) {
		t.Errorf("did not expect a match against ErrIndexWriteFailed")
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to match the wrapped cause")
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := Stage("upsert", ErrIndexWriteFailed, fmt.Errorf("milvus: timeout"))
	msg := err.Error()
	for _, want := range []string{"upsert", "index write failed", "milvus: timeout"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestStageErrorNilCause(t *testing.T) {
	err := Stage("query", ErrInvalidQuery, nil)
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected match against ErrInvalidQuery")
	}
	if msg := err.Error(); !strings.Contains(msg, "invalid query") {
		t.Errorf("unexpected message %q", msg)
	}
}
