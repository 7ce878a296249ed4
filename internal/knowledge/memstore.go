package knowledge

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryQuerier is an in-memory Querier. It ranks by cosine similarity
// computed in process, matching the Postgres implementation's semantics.
// Useful for tests and for running without a database.
type MemoryQuerier struct {
	mu   sync.Mutex
	docs []memoryDoc
}

type memoryDoc struct {
	id        string
	content   string
	metadata  []byte
	embedding []float32
	createdAt time.Time
	seq       int
}

// NewMemoryQuerier creates an empty in-memory store.
func NewMemoryQuerier() *MemoryQuerier {
	return &MemoryQuerier{}
}

func (m *MemoryQuerier) InsertDocument(_ context.Context, arg InsertDocumentParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	metadata := append([]byte(nil), arg.Metadata...)
	embedding := append([]float32(nil), arg.Embedding.Slice()...)

	for i, doc := range m.docs {
		if doc.id == arg.ID {
			m.docs[i].content = arg.Content
			m.docs[i].metadata = metadata
			m.docs[i].embedding = embedding
			return nil
		}
	}
	m.docs = append(m.docs, memoryDoc{
		id:        arg.ID,
		content:   arg.Content,
		metadata:  metadata,
		embedding: embedding,
		createdAt: time.Now(),
		seq:       len(m.docs),
	})
	return nil
}

func (m *MemoryQuerier) SearchDocuments(_ context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := arg.QueryEmbedding.Slice()

	type hit struct {
		row SearchDocumentsRow
		seq int
	}
	var hits []hit
	for _, doc := range m.docs {
		similarity := cosineSimilarity(query, doc.embedding)
		if similarity < arg.Threshold {
			continue
		}
		hits = append(hits, hit{
			row: SearchDocumentsRow{
				ID:         doc.id,
				Content:    doc.content,
				Metadata:   append([]byte(nil), doc.metadata...),
				Similarity: similarity,
				CreatedAt:  doc.createdAt,
			},
			seq: doc.seq,
		})
	}

	// Descending similarity, insertion order on ties.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].row.Similarity != hits[j].row.Similarity {
			return hits[i].row.Similarity > hits[j].row.Similarity
		}
		return hits[i].seq < hits[j].seq
	})

	if int32(len(hits)) > arg.ResultLimit {
		hits = hits[:arg.ResultLimit]
	}
	rows := make([]SearchDocumentsRow, len(hits))
	for i, h := range hits {
		rows[i] = h.row
	}
	return rows, nil
}

func (m *MemoryQuerier) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, doc := range m.docs {
		if doc.id == id {
			m.docs = append(m.docs[:i], m.docs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryQuerier) DeleteDocumentsBySource(_ context.Context, source string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	kept := m.docs[:0]
	for _, doc := range m.docs {
		var metadata map[string]string
		_ = json.Unmarshal(doc.metadata, &metadata)
		if metadata["source"] == source || metadata["file_name"] == source {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	m.docs = kept
	return deleted, nil
}

func (m *MemoryQuerier) ListDocuments(_ context.Context, limit int32) ([]DocumentRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := append([]memoryDoc(nil), m.docs...)
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].createdAt.Equal(docs[j].createdAt) {
			return docs[i].createdAt.After(docs[j].createdAt)
		}
		return docs[i].seq < docs[j].seq
	})
	if int32(len(docs)) > limit {
		docs = docs[:limit]
	}

	rows := make([]DocumentRow, len(docs))
	for i, doc := range docs {
		rows[i] = DocumentRow{
			ID:        doc.id,
			Content:   doc.content,
			Metadata:  append([]byte(nil), doc.metadata...),
			CreatedAt: doc.createdAt,
		}
	}
	return rows, nil
}

func (m *MemoryQuerier) CountDocuments(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.docs)), nil
}

// cosineSimilarity is dot(a,b) / (||a|| * ||b||), range [-1, 1]. Zero or
// mismatched vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
