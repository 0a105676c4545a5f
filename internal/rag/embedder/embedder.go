package embedder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"golang.org/x/sync/errgroup"

	"ragserver/internal/rag/interfaces"
	"ragserver/pkg/errs"
	"ragserver/pkg/logger"
	"ragserver/pkg/resilience"
)

// Adapter wraps an EmbeddingModel with batching, bounded concurrency and
// retry. Embed is order- and length-preserving: results are reassembled by
// batch index, never by completion order.
type Adapter struct {
	model        interfaces.EmbeddingModel
	maxBatchSize int
	workers      int
	retry        resilience.RetryConfig
	log          *logger.Logger
}

// Config bounds the adapter. Zero values fall back to defaults.
type Config struct {
	MaxBatchSize int
	Workers      int
	Retry        resilience.RetryConfig
}

// New creates an Adapter over the given provider model.
func New(model interfaces.EmbeddingModel, cfg Config, log *logger.Logger) (*Adapter, error) {
	if model == nil {
		return nil, errs.Stage("embed", errs.ErrInvalidConfig, fmt.Errorf("embedding model is nil"))
	}
	if cfg.MaxBatchSize < 0 || cfg.Workers < 0 {
		return nil, errs.Stage("embed", errs.ErrInvalidConfig,
			fmt.Errorf("batch size %d and workers %d must not be negative", cfg.MaxBatchSize, cfg.Workers))
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 64
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	return &Adapter{
		model:        model,
		maxBatchSize: cfg.MaxBatchSize,
		workers:      cfg.Workers,
		retry:        cfg.Retry,
		log:          log,
	}, nil
}

// UnavailableError reports which input indices could not be embedded after
// the retry budget was spent.
type UnavailableError struct {
	Indices []int
	Cause   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("embedding unavailable for %d input(s) %v: %v", len(e.Indices), e.Indices, e.Cause)
}

func (e *UnavailableError) Is(target error) bool {
	return target == errs.ErrEmbeddingUnavailable
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

type batch struct {
	index int // position in the batch sequence
	start int // offset of the first text in the original input
	texts []string
}

// Embed returns one vector per input text, in input order. Batches are
// dispatched to a fixed pool of workers; any batch failing permanently, or
// transiently beyond the retry budget, fails the whole call.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embedding cancelled: %w", err)
	}

	batches := make([]batch, 0, (len(texts)+a.maxBatchSize-1)/a.maxBatchSize)
	for start := 0; start < len(texts); start += a.maxBatchSize {
		end := start + a.maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{index: len(batches), start: start, texts: texts[start:end]})
	}

	results := make([][][]float32, len(batches))
	jobs := make(chan batch)

	workers := a.workers
	if workers > len(batches) {
		workers = len(batches)
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(jobs)
		for _, b := range batches {
			select {
			case jobs <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			for b := range jobs {
				vectors, err := a.embedBatch(gctx, b)
				if err != nil {
					return err
				}
				results[b.index] = vectors
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		var unavailable *UnavailableError
		if errors.As(err, &unavailable) {
			return nil, unavailable
		}
		if ctx.Err() != nil {
			// Cancellation discards everything, including batches that had
			// already succeeded.
			return nil, fmt.Errorf("embedding cancelled: %w", ctx.Err())
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("embedding cancelled: %w", err)
	}

	out := make([][]float32, 0, len(texts))
	for _, vectors := range results {
		out = append(out, vectors...)
	}
	return out, nil
}

func (a *Adapter) embedBatch(ctx context.Context, b batch) ([][]float32, error) {
	var vectors [][]float32
	err := resilience.Retry(ctx, "embed-batch", a.retry, func() error {
		got, err := a.model.EmbedBatch(ctx, b.texts)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return resilience.Abort(err)
		}
		if len(got) != len(b.texts) {
			return resilience.Abort(fmt.Errorf("provider returned %d vectors for %d texts", len(got), len(b.texts)))
		}
		vectors = got
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		indices := make([]int, len(b.texts))
		for i := range indices {
			indices[i] = b.start + i
		}
		sort.Ints(indices)
		if a.log != nil {
			a.log.WithError(err).Warnf("embedding batch %d failed for inputs %v", b.index, indices)
		}
		return nil, &UnavailableError{Indices: indices, Cause: err}
	}
	return vectors, nil
}

// IsTransient classifies provider failures worth retrying: timeouts,
// rate limits and server-side errors. Malformed input and auth failures are
// permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusRequestTimeout:
			return true
		}
		return apiErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, ErrTransient)
}

// ErrTransient lets providers without typed errors flag a retryable failure.
var ErrTransient = errors.New("transient embedding failure")
