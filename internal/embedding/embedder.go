package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
)

// batchSize caps how many uncached texts go to the provider per sub-batch.
const batchSize = 10

var (
	// ErrEmptyInput is returned for blank or whitespace-only text. No vector
	// exists for nothing.
	ErrEmptyInput = errors.New("embedding: empty input")

	// ErrNilEmbedder is returned when no underlying embedder is configured.
	ErrNilEmbedder = errors.New("embedding: nil embedder")

	// ErrDimensionMismatch is returned when the provider produces a vector
	// whose length differs from the configured dimension. Mixed dimensions in
	// one index are a fatal configuration error.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
)

// Embedder wraps a Genkit embedder with normalization, caching and
// dimension validation. It is safe for concurrent use.
type Embedder struct {
	embedder  ai.Embedder
	cache     *Cache
	dimension int
	logger    log.Logger
}

// New creates an Embedder. The cache may be nil to disable caching;
// dimension must be positive.
func New(embedder ai.Embedder, cache *Cache, dimension int, logger log.Logger) (*Embedder, error) {
	if embedder == nil {
		return nil, ErrNilEmbedder
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dimension)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Embedder{
		embedder:  embedder,
		cache:     cache,
		dimension: dimension,
		logger:    logger,
	}, nil
}

// Dimension returns the vector length this embedder produces. Callers
// validate it against an existing index before writing.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed returns the vector for a single text, consulting the cache first.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	key := CacheKey(text)
	if e.cache != nil {
		if vector, ok := e.cache.Get(key); ok {
			return vector, nil
		}
	}

	vector, err := e.callProvider(ctx, text)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Set(key, vector, 0)
	}
	return vector, nil
}

// EmbedBatch returns one vector per input text, in input order. Cached texts
// are not re-sent to the provider; uncached texts go out in sub-batches,
// with the calls inside a sub-batch issued concurrently.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missing []int

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: text %d", ErrEmptyInput, i)
		}
		if e.cache != nil {
			if vector, ok := e.cache.Get(CacheKey(text)); ok {
				vectors[i] = vector
				continue
			}
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += batchSize {
		end := min(start+batchSize, len(missing))
		if err := e.embedSubBatch(ctx, texts, vectors, missing[start:end]); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// embedSubBatch embeds the texts at the given indices concurrently, writing
// results back into their original positions.
func (e *Embedder) embedSubBatch(ctx context.Context, texts []string, vectors [][]float32, indices []int) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, idx := range indices {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			vector, err := e.callProvider(ctx, texts[idx])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("text %d: %w", idx, err)
				}
				return
			}
			vectors[idx] = vector
			if e.cache != nil {
				e.cache.Set(CacheKey(texts[idx]), vector, 0)
			}
		}(idx)
	}

	wg.Wait()
	return firstErr
}

// callProvider performs one embedding call and validates the result's
// dimension.
func (e *Embedder) callProvider(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("embed: no embeddings returned")
	}

	vector := resp.Embeddings[0].Embedding
	if len(vector) != e.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), e.dimension)
	}
	return vector, nil
}
