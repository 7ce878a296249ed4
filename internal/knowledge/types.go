package knowledge

import "time"

// Document is a persisted chunk with its embedding.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// SearchResult is one ranked hit for a query. Ephemeral, never persisted.
type SearchResult struct {
	Document   Document
	Similarity float32 // cosine similarity, range [-1, 1]
}

// SearchOption configures Search using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	threshold float32
	topK      int32
}

// WithThreshold overrides the store's minimum-similarity threshold for one
// query. Thresholds are provider-sensitive policy, not a fixed constant.
func WithThreshold(threshold float32) SearchOption {
	return func(c *searchConfig) {
		c.threshold = threshold
	}
}

// WithTopK overrides the store's result-count cap for one query.
func WithTopK(k int32) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}
