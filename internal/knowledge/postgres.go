package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQuerier implements Querier against PostgreSQL with the pgvector
// extension. The documents table stores one row per chunk with its
// embedding; similarity is cosine, computed as 1 - (embedding <=> query).
type PostgresQuerier struct {
	pool *pgxpool.Pool
}

// NewPostgresQuerier wraps a connection pool. The pool's lifecycle belongs
// to the caller.
func NewPostgresQuerier(pool *pgxpool.Pool) *PostgresQuerier {
	return &PostgresQuerier{pool: pool}
}

func (q *PostgresQuerier) InsertDocument(ctx context.Context, arg InsertDocumentParams) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO documents (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`,
		arg.ID, arg.Content, arg.Metadata, arg.Embedding)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (q *PostgresQuerier) SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error) {
	// Ordering by the distance operator keeps the pgvector index usable;
	// created_at breaks ties by insertion order.
	rows, err := q.pool.Query(ctx, `
		SELECT id, content, metadata, (1 - (embedding <=> $1))::float4 AS similarity, created_at
		FROM documents
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1, created_at, id
		LIMIT $3`,
		arg.QueryEmbedding, arg.Threshold, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var out []SearchDocumentsRow
	for rows.Next() {
		var row SearchDocumentsRow
		if err := rows.Scan(&row.ID, &row.Content, &row.Metadata, &row.Similarity, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search rows: %w", err)
	}
	return out, nil
}

func (q *PostgresQuerier) DeleteDocument(ctx context.Context, id string) error {
	if _, err := q.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (q *PostgresQuerier) DeleteDocumentsBySource(ctx context.Context, source string) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM documents
		WHERE metadata->>'source' = $1 OR metadata->>'file_name' = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("delete documents by source: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *PostgresQuerier) ListDocuments(ctx context.Context, limit int32) ([]DocumentRow, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, content, metadata, created_at
		FROM documents
		ORDER BY created_at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		var row DocumentRow
		if err := rows.Scan(&row.ID, &row.Content, &row.Metadata, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("document rows: %w", err)
	}
	return out, nil
}

func (q *PostgresQuerier) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	if err := q.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}
