package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ragserver/pkg/errs"
	"ragserver/pkg/resilience"
)

// fakeModel embeds each text as a one-hot-like vector derived from its
// position in a registry, so tests can recognize which vector belongs to
// which input.
type fakeModel struct {
	mu         sync.Mutex
	calls      int
	batchSizes []int
	failFor    int   // fail the first failFor calls
	failErr    error // error to return while failing
}

func (m *fakeModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.batchSizes = append(m.batchSizes, len(texts))
	m.mu.Unlock()

	if call <= m.failFor {
		return nil, m.failErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), float32(text[0])}
	}
	return out, nil
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 1.1}
}

func TestEmbedPreservesOrder(t *testing.T) {
	model := &fakeModel{}
	a, err := New(model, Config{MaxBatchSize: 2, Workers: 4, Retry: fastRetry(1)}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}
	vectors, err := a.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, text := range texts {
		if vectors[i][0] != float32(len(text)) || vectors[i][1] != float32(text[0]) {
			t.Errorf("vector %d does not correspond to input %q", i, text)
		}
	}
}

func TestEmbedRespectsBatchSize(t *testing.T) {
	model := &fakeModel{}
	a, _ := New(model, Config{MaxBatchSize: 3, Workers: 2, Retry: fastRetry(1)}, nil)

	if _, err := a.Embed(context.Background(), []string{"a", "b", "c", "d", "e", "f", "g"}); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for _, size := range model.batchSizes {
		if size > 3 {
			t.Errorf("batch of size %d exceeds configured maximum 3", size)
		}
	}
	if model.calls != 3 {
		t.Errorf("expected 3 batch calls, got %d", model.calls)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	a, _ := New(&fakeModel{}, Config{}, nil)
	vectors, err := a.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("expected no vectors, got %d", len(vectors))
	}
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	model := &fakeModel{failFor: 2, failErr: ErrTransient}
	a, _ := New(model, Config{MaxBatchSize: 10, Workers: 1, Retry: fastRetry(3)}, nil)

	vectors, err := a.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if model.calls != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", model.calls)
	}
}

func TestEmbedExhaustedRetriesReportsIndices(t *testing.T) {
	model := &fakeModel{failFor: 100, failErr: ErrTransient}
	a, _ := New(model, Config{MaxBatchSize: 2, Workers: 1, Retry: fastRetry(2)}, nil)

	_, err := a.Embed(context.Background(), []string{"a", "b", "c", "d"})
	if !errors.Is(err, errs.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected *UnavailableError, got %T", err)
	}
	if len(unavailable.Indices) != 2 {
		t.Errorf("expected 2 unresolved indices (one batch), got %v", unavailable.Indices)
	}
	for _, idx := range unavailable.Indices {
		if idx < 0 || idx > 3 {
			t.Errorf("index %d out of input range", idx)
		}
	}
}

func TestEmbedPermanentFailureNotRetried(t *testing.T) {
	model := &fakeModel{failFor: 100, failErr: fmt.Errorf("invalid input")}
	a, _ := New(model, Config{MaxBatchSize: 10, Workers: 1, Retry: fastRetry(5)}, nil)

	_, err := a.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if model.calls != 1 {
		t.Errorf("permanent failure retried: %d calls", model.calls)
	}
}

func TestEmbedCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &fakeModel{}
	a, _ := New(model, Config{MaxBatchSize: 1, Workers: 2, Retry: fastRetry(1)}, nil)

	_, err := a.Embed(ctx, []string{"a", "b", "c"})
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Errorf("nil error must not be transient")
	}
	if IsTransient(context.Canceled) {
		t.Errorf("cancellation must not be transient")
	}
	if !IsTransient(ErrTransient) {
		t.Errorf("ErrTransient must be transient")
	}
	if IsTransient(fmt.Errorf("auth failure")) {
		t.Errorf("untyped errors must be permanent")
	}
	if !IsTransient(fmt.Errorf("wrapped: %w", ErrTransient)) {
		t.Errorf("wrapped ErrTransient must be transient")
	}
}
