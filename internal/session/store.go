package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
)

// CreateSessionParams carries a new session row.
type CreateSessionParams struct {
	ID    uuid.UUID
	Title string
}

// InsertMessageParams carries a new message row.
type InsertMessageParams struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string
	Content        string
	Sources        []byte
	SequenceNumber int32
}

// UpdateMessageParams rewrites a message's content and sources in place.
type UpdateMessageParams struct {
	ID      uuid.UUID
	Content string
	Sources []byte
}

// SessionRow mirrors a sessions table row.
type SessionRow struct {
	ID           uuid.UUID
	Title        string
	MessageCount int32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MessageRow mirrors a session_messages table row.
type MessageRow struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string
	Content        string
	Sources        []byte
	SequenceNumber int32
	CreatedAt      time.Time
}

// Querier is the database surface Store consumes. Defined on the consumer
// side so tests can substitute a mock.
type Querier interface {
	CreateSession(ctx context.Context, arg CreateSessionParams) (SessionRow, error)
	GetSession(ctx context.Context, id uuid.UUID) (SessionRow, error)
	ListSessions(ctx context.Context, limit, offset int32) ([]SessionRow, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	TouchSession(ctx context.Context, id uuid.UUID, messageDelta int32) error

	// LockSession takes a row lock so concurrent appends cannot race on
	// sequence numbers.
	LockSession(ctx context.Context, id uuid.UUID) error
	MaxSequenceNumber(ctx context.Context, sessionID uuid.UUID) (int32, error)
	InsertMessage(ctx context.Context, arg InsertMessageParams) error
	LatestMessages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]MessageRow, error)
	GetMessage(ctx context.Context, id uuid.UUID) (MessageRow, error)
	UpdateMessage(ctx context.Context, arg UpdateMessageParams) error
}

// Store manages sessions and message history. Safe for concurrent use.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool // nil disables transactions (mock-backed tests)
	logger  log.Logger
}

// New creates a Store. The pool may be nil, in which case appends and
// regeneration run without a transaction.
func New(querier Querier, pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{querier: querier, pool: pool, logger: logger}
}

// Create starts a new session. The title is typically derived from the
// first user query with TitleFromQuery.
func (s *Store) Create(ctx context.Context, title string) (*Session, error) {
	row, err := s.querier.CreateSession(ctx, CreateSessionParams{
		ID:    uuid.New(),
		Title: title,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sess := rowSession(row)
	s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
	return &sess, nil
}

// Get retrieves one session.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	row, err := s.querier.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	sess := rowSession(row)
	return &sess, nil
}

// List returns sessions ordered by most recent activity.
func (s *Store) List(ctx context.Context, limit, offset int32) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.querier.ListSessions(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, rowSession(row))
	}
	return sessions, nil
}

// Delete removes a session and all its messages.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.querier.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	s.logger.Debug("deleted session", "id", id)
	return nil
}

// Touch bumps a session's updated_at without changing its messages.
func (s *Store) Touch(ctx context.Context, id uuid.UUID) error {
	if err := s.querier.TouchSession(ctx, id, 0); err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	return nil
}

// AppendMessages appends messages to a session in order, assigning
// consecutive sequence numbers. The whole append is atomic: the session row
// is locked for the duration so concurrent appends cannot interleave
// sequence numbers.
func (s *Store) AppendMessages(ctx context.Context, sessionID uuid.UUID, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	for i, msg := range messages {
		if !validRole(msg.Role) {
			return fmt.Errorf("%w: message %d role %q", ErrInvalidRole, i, msg.Role)
		}
	}

	if s.pool == nil {
		return s.appendMessages(ctx, s.querier, sessionID, messages)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	if err := s.appendMessages(ctx, NewPostgresQuerier(tx), sessionID, messages); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) appendMessages(ctx context.Context, q Querier, sessionID uuid.UUID, messages []Message) error {
	if err := q.LockSession(ctx, sessionID); err != nil {
		return fmt.Errorf("lock session %s: %w", sessionID, err)
	}

	maxSeq, err := q.MaxSequenceNumber(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("max sequence number: %w", err)
	}

	for i, msg := range messages {
		sourcesJSON, err := json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources for message %d: %w", i, err)
		}

		id := msg.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		err = q.InsertMessage(ctx, InsertMessageParams{
			ID:             id,
			SessionID:      sessionID,
			Role:           msg.Role,
			Content:        msg.Content,
			Sources:        sourcesJSON,
			SequenceNumber: maxSeq + int32(i) + 1,
		})
		if err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := q.TouchSession(ctx, sessionID, int32(len(messages))); err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}

	s.logger.Debug("appended messages", "session_id", sessionID, "count", len(messages))
	return nil
}

// History returns the most recent messages of a session, oldest first. A
// non-positive limit selects DefaultHistoryLimit.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID, limit int32) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.querier.LatestMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", sessionID, err)
	}

	// Rows arrive newest first; callers want chronological order.
	messages := make([]Message, len(rows))
	for i, row := range rows {
		msg, err := rowMessage(row)
		if err != nil {
			return nil, err
		}
		messages[len(rows)-1-i] = msg
	}
	return messages, nil
}

// Message returns one message by id.
func (s *Store) Message(ctx context.Context, id uuid.UUID) (*Message, error) {
	row, err := s.querier.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	msg, err := rowMessage(row)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Regenerate rewrites one assistant message's content and sources in place,
// then appends a system audit message referencing the original message id
// and the regeneration time. The audit trail is append-only even though the
// target message is mutated.
func (s *Store) Regenerate(ctx context.Context, messageID uuid.UUID, content string, sources []Source) error {
	if s.pool == nil {
		return s.regenerate(ctx, s.querier, messageID, content, sources)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	if err := s.regenerate(ctx, NewPostgresQuerier(tx), messageID, content, sources); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) regenerate(ctx context.Context, q Querier, messageID uuid.UUID, content string, sources []Source) error {
	target, err := q.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("get message %s: %w", messageID, err)
	}
	if target.Role != RoleAssistant {
		return fmt.Errorf("%w: %s has role %q", ErrNotAssistantMessage, messageID, target.Role)
	}

	if err := q.LockSession(ctx, target.SessionID); err != nil {
		return fmt.Errorf("lock session %s: %w", target.SessionID, err)
	}

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	err = q.UpdateMessage(ctx, UpdateMessageParams{
		ID:      messageID,
		Content: content,
		Sources: sourcesJSON,
	})
	if err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}

	maxSeq, err := q.MaxSequenceNumber(ctx, target.SessionID)
	if err != nil {
		return fmt.Errorf("max sequence number: %w", err)
	}

	audit := fmt.Sprintf("regenerated message %s at %s", messageID, time.Now().UTC().Format(time.RFC3339))
	auditSources, err := json.Marshal([]Source{{DocumentID: messageID.String()}})
	if err != nil {
		return fmt.Errorf("marshal audit sources: %w", err)
	}
	err = q.InsertMessage(ctx, InsertMessageParams{
		ID:             uuid.New(),
		SessionID:      target.SessionID,
		Role:           RoleSystem,
		Content:        audit,
		Sources:        auditSources,
		SequenceNumber: maxSeq + 1,
	})
	if err != nil {
		return fmt.Errorf("insert audit message: %w", err)
	}

	if err := q.TouchSession(ctx, target.SessionID, 1); err != nil {
		return fmt.Errorf("touch session %s: %w", target.SessionID, err)
	}

	s.logger.Debug("regenerated message", "id", messageID, "session_id", target.SessionID)
	return nil
}

func rowSession(row SessionRow) Session {
	return Session{
		ID:           row.ID,
		Title:        row.Title,
		MessageCount: row.MessageCount,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func rowMessage(row MessageRow) (Message, error) {
	var sources []Source
	if len(row.Sources) > 0 {
		if err := json.Unmarshal(row.Sources, &sources); err != nil {
			return Message{}, fmt.Errorf("unmarshal sources for %s: %w", row.ID, err)
		}
	}
	return Message{
		ID:             row.ID,
		SessionID:      row.SessionID,
		Role:           row.Role,
		Content:        row.Content,
		Sources:        sources,
		SequenceNumber: row.SequenceNumber,
		CreatedAt:      row.CreatedAt,
	}, nil
}
