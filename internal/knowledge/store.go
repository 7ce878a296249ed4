// Package knowledge persists document chunks with embeddings and answers
// similarity queries against PostgreSQL + pgvector.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/chunk"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/embedding"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
)

const (
	// insertBatchSize bounds memory and request size during ingestion.
	insertBatchSize = 10

	// maxListLimit caps List to prevent resource exhaustion.
	maxListLimit = 1000

	defaultListLimit = 100
)

var (
	ErrNilQuerier       = errors.New("knowledge: nil querier")
	ErrNilEmbedder      = errors.New("knowledge: nil embedder")
	ErrEmptyQuery       = errors.New("knowledge: empty query")
	ErrInvalidThreshold = errors.New("knowledge: threshold outside [-1, 1]")
	ErrInvalidTopK      = errors.New("knowledge: topK must be positive")
)

// InsertDocumentParams carries one document row for insertion.
type InsertDocumentParams struct {
	ID        string
	Content   string
	Metadata  []byte
	Embedding pgvector.Vector
}

// SearchDocumentsParams carries a ranked similarity query.
type SearchDocumentsParams struct {
	QueryEmbedding pgvector.Vector
	Threshold      float32
	ResultLimit    int32
}

// SearchDocumentsRow is one ranked row returned by a similarity query.
type SearchDocumentsRow struct {
	ID         string
	Content    string
	Metadata   []byte
	Similarity float32
	CreatedAt  time.Time
}

// DocumentRow is one stored row without similarity.
type DocumentRow struct {
	ID        string
	Content   string
	Metadata  []byte
	CreatedAt time.Time
}

// Querier is the database surface Store consumes. Defined here, on the
// consumer side, so tests can substitute an in-memory implementation.
type Querier interface {
	InsertDocument(ctx context.Context, arg InsertDocumentParams) error
	SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error)
	DeleteDocument(ctx context.Context, id string) error
	DeleteDocumentsBySource(ctx context.Context, source string) (int64, error)
	ListDocuments(ctx context.Context, limit int32) ([]DocumentRow, error)
	CountDocuments(ctx context.Context) (int64, error)
}

// Options configures a Store's default search policy.
type Options struct {
	// MatchThreshold is the minimum similarity for a search hit. Tuned per
	// embedding provider: around 0.7 for hosted Gemini embeddings, nearer
	// 0.15 for small local models.
	MatchThreshold float32

	// MatchCount is the default maximum number of search hits.
	MatchCount int32
}

// Store manages documents and vector search. Safe for concurrent use.
type Store struct {
	queries  Querier
	embedder *embedding.Embedder
	logger   log.Logger

	threshold float32
	topK      int32
}

// New creates a Store.
func New(querier Querier, embedder *embedding.Embedder, opts Options, logger log.Logger) (*Store, error) {
	if querier == nil {
		return nil, ErrNilQuerier
	}
	if embedder == nil {
		return nil, ErrNilEmbedder
	}
	if opts.MatchThreshold < -1 || opts.MatchThreshold > 1 {
		return nil, fmt.Errorf("%w: %f", ErrInvalidThreshold, opts.MatchThreshold)
	}
	if opts.MatchCount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, opts.MatchCount)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		queries:   querier,
		embedder:  embedder,
		logger:    logger,
		threshold: opts.MatchThreshold,
		topK:      opts.MatchCount,
	}, nil
}

// Add embeds and persists chunks, returning the stored documents in input
// order. Chunks go in batches; a failing batch aborts the whole call and
// surfaces the underlying error. Documents from earlier batches stay
// persisted, and retrying the same chunks is safe: ids are content
// addresses, so already-persisted chunks are upserted, not duplicated.
func (s *Store) Add(ctx context.Context, chunks []chunk.Chunk) ([]Document, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	stored := make([]Document, 0, len(chunks))
	for start := 0; start < len(chunks); start += insertBatchSize {
		end := min(start+insertBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}

		for i, c := range batch {
			metadataJSON, err := json.Marshal(c.Metadata)
			if err != nil {
				return nil, fmt.Errorf("marshal metadata: %w", err)
			}

			doc := Document{
				ID:       documentID(c),
				Content:  c.Content,
				Metadata: c.Metadata,
			}
			err = s.queries.InsertDocument(ctx, InsertDocumentParams{
				ID:        doc.ID,
				Content:   doc.Content,
				Metadata:  metadataJSON,
				Embedding: pgvector.NewVector(vectors[i]),
			})
			if err != nil {
				return nil, fmt.Errorf("insert document %q: %w", doc.ID, err)
			}
			stored = append(stored, doc)
		}
		s.logger.Debug("stored document batch", "from", start, "count", len(batch))
	}
	return stored, nil
}

// documentID derives a stable content address for a chunk: the same source,
// position, and content always map to the same id. Re-inserting a chunk
// hits the upsert path instead of creating a duplicate row.
func documentID(c chunk.Chunk) string {
	source := c.Metadata["source"]
	if source == "" {
		source = c.Metadata["file_name"]
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s", source, c.ChunkIndex, c.Content)
	return hex.EncodeToString(h.Sum(nil))
}

// Search embeds the query and returns at most topK documents with
// similarity at or above the threshold, ordered by descending similarity.
// Ties keep insertion order.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]SearchResult, error) {
	cfg := searchConfig{threshold: s.threshold, topK: s.topK}
	for _, opt := range opts {
		opt(&cfg)
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if cfg.threshold < -1 || cfg.threshold > 1 {
		return nil, fmt.Errorf("%w: %f", ErrInvalidThreshold, cfg.threshold)
	}
	if cfg.topK <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, cfg.topK)
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.queries.SearchDocuments(ctx, SearchDocumentsParams{
		QueryEmbedding: pgvector.NewVector(vector),
		Threshold:      cfg.threshold,
		ResultLimit:    cfg.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, SearchResult{
			Document:   s.rowDocument(row.ID, row.Content, row.Metadata, row.CreatedAt),
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// Delete removes a document. Deleting a non-existent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.queries.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	s.logger.Debug("deleted document", "id", id)
	return nil
}

// DeleteBySource removes every chunk ingested from one source file and
// reports how many were deleted. Matches the source or file_name metadata
// stamped at ingestion.
func (s *Store) DeleteBySource(ctx context.Context, source string) (int64, error) {
	if strings.TrimSpace(source) == "" {
		return 0, fmt.Errorf("%w: empty source", ErrEmptyQuery)
	}
	n, err := s.queries.DeleteDocumentsBySource(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("delete documents for source %q: %w", source, err)
	}
	s.logger.Debug("deleted documents by source", "source", source, "count", n)
	return n, nil
}

// List returns stored documents ordered newest first. A non-positive limit
// selects the default; limits above the cap are rejected.
func (s *Store) List(ctx context.Context, limit int32) ([]Document, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		return nil, fmt.Errorf("limit must be at most %d, got %d", maxListLimit, limit)
	}

	rows, err := s.queries.ListDocuments(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	documents := make([]Document, 0, len(rows))
	for _, row := range rows {
		documents = append(documents, s.rowDocument(row.ID, row.Content, row.Metadata, row.CreatedAt))
	}
	return documents, nil
}

// Count returns the total number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	count, err := s.queries.CountDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

func (s *Store) rowDocument(id, content string, metadataJSON []byte, createdAt time.Time) Document {
	var metadata map[string]string
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			s.logger.Warn("failed to parse metadata", "document_id", id, "error", err)
		}
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return Document{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: createdAt,
	}
}
