package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the pgx surface PostgresQuerier needs. Both *pgxpool.Pool and
// pgx.Tx satisfy it, so the same querier serves plain and transactional
// calls.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresQuerier implements Querier against PostgreSQL.
type PostgresQuerier struct {
	db DBTX
}

// NewPostgresQuerier wraps a pool or transaction.
func NewPostgresQuerier(db DBTX) *PostgresQuerier {
	return &PostgresQuerier{db: db}
}

func (q *PostgresQuerier) CreateSession(ctx context.Context, arg CreateSessionParams) (SessionRow, error) {
	var row SessionRow
	err := q.db.QueryRow(ctx, `
		INSERT INTO sessions (id, title)
		VALUES ($1, $2)
		RETURNING id, title, message_count, created_at, updated_at`,
		arg.ID, arg.Title).
		Scan(&row.ID, &row.Title, &row.MessageCount, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return SessionRow{}, fmt.Errorf("create session: %w", err)
	}
	return row, nil
}

func (q *PostgresQuerier) GetSession(ctx context.Context, id uuid.UUID) (SessionRow, error) {
	var row SessionRow
	err := q.db.QueryRow(ctx, `
		SELECT id, title, message_count, created_at, updated_at
		FROM sessions WHERE id = $1`, id).
		Scan(&row.ID, &row.Title, &row.MessageCount, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRow{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRow{}, fmt.Errorf("get session: %w", err)
	}
	return row, nil
}

func (q *PostgresQuerier) ListSessions(ctx context.Context, limit, offset int32) ([]SessionRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, title, message_count, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var row SessionRow
		if err := rows.Scan(&row.ID, &row.Title, &row.MessageCount, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session rows: %w", err)
	}
	return out, nil
}

func (q *PostgresQuerier) DeleteSession(ctx context.Context, id uuid.UUID) error {
	// Messages cascade via the foreign key.
	if _, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (q *PostgresQuerier) TouchSession(ctx context.Context, id uuid.UUID, messageDelta int32) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE sessions
		SET message_count = message_count + $2, updated_at = now()
		WHERE id = $1`, id, messageDelta)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (q *PostgresQuerier) LockSession(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := q.db.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	return nil
}

func (q *PostgresQuerier) MaxSequenceNumber(ctx context.Context, sessionID uuid.UUID) (int32, error) {
	var maxSeq int32
	err := q.db.QueryRow(ctx, `
		SELECT coalesce(max(sequence_number), 0)
		FROM session_messages WHERE session_id = $1`, sessionID).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("max sequence number: %w", err)
	}
	return maxSeq, nil
}

func (q *PostgresQuerier) InsertMessage(ctx context.Context, arg InsertMessageParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO session_messages (id, session_id, role, content, sources, sequence_number)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		arg.ID, arg.SessionID, arg.Role, arg.Content, arg.Sources, arg.SequenceNumber)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (q *PostgresQuerier) LatestMessages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]MessageRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, session_id, role, content, sources, sequence_number, created_at
		FROM session_messages
		WHERE session_id = $1
		ORDER BY sequence_number DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var row MessageRow
		err := rows.Scan(&row.ID, &row.SessionID, &row.Role, &row.Content,
			&row.Sources, &row.SequenceNumber, &row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message rows: %w", err)
	}
	return out, nil
}

func (q *PostgresQuerier) GetMessage(ctx context.Context, id uuid.UUID) (MessageRow, error) {
	var row MessageRow
	err := q.db.QueryRow(ctx, `
		SELECT id, session_id, role, content, sources, sequence_number, created_at
		FROM session_messages WHERE id = $1`, id).
		Scan(&row.ID, &row.SessionID, &row.Role, &row.Content,
			&row.Sources, &row.SequenceNumber, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MessageRow{}, ErrMessageNotFound
	}
	if err != nil {
		return MessageRow{}, fmt.Errorf("get message: %w", err)
	}
	return row, nil
}

func (q *PostgresQuerier) UpdateMessage(ctx context.Context, arg UpdateMessageParams) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE session_messages
		SET content = $2, sources = $3
		WHERE id = $1`, arg.ID, arg.Content, arg.Sources)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}
