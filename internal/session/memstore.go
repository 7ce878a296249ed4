package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQuerier is an in-memory Querier matching the Postgres
// implementation's semantics. Useful for tests and for running without a
// database.
type MemoryQuerier struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]SessionRow
	messages []MessageRow
}

// NewMemoryQuerier creates an empty in-memory store.
func NewMemoryQuerier() *MemoryQuerier {
	return &MemoryQuerier{sessions: make(map[uuid.UUID]SessionRow)}
}

func (m *MemoryQuerier) CreateSession(_ context.Context, arg CreateSessionParams) (SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	row := SessionRow{ID: arg.ID, Title: arg.Title, CreatedAt: now, UpdatedAt: now}
	m.sessions[arg.ID] = row
	return row, nil
}

func (m *MemoryQuerier) GetSession(_ context.Context, id uuid.UUID) (SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.sessions[id]
	if !ok {
		return SessionRow{}, ErrSessionNotFound
	}
	return row, nil
}

func (m *MemoryQuerier) ListSessions(_ context.Context, limit, offset int32) ([]SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]SessionRow, 0, len(m.sessions))
	for _, row := range m.sessions {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.After(rows[j].UpdatedAt) })
	if int(offset) < len(rows) {
		rows = rows[offset:]
	} else {
		rows = nil
	}
	if int32(len(rows)) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *MemoryQuerier) DeleteSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.SessionID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func (m *MemoryQuerier) TouchSession(_ context.Context, id uuid.UUID, messageDelta int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	row.MessageCount += messageDelta
	row.UpdatedAt = time.Now()
	m.sessions[id] = row
	return nil
}

func (m *MemoryQuerier) LockSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	return nil
}

func (m *MemoryQuerier) MaxSequenceNumber(_ context.Context, sessionID uuid.UUID) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var maxSeq int32
	for _, msg := range m.messages {
		if msg.SessionID == sessionID && msg.SequenceNumber > maxSeq {
			maxSeq = msg.SequenceNumber
		}
	}
	return maxSeq, nil
}

func (m *MemoryQuerier) InsertMessage(_ context.Context, arg InsertMessageParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, MessageRow{
		ID:             arg.ID,
		SessionID:      arg.SessionID,
		Role:           arg.Role,
		Content:        arg.Content,
		Sources:        arg.Sources,
		SequenceNumber: arg.SequenceNumber,
		CreatedAt:      time.Now(),
	})
	return nil
}

func (m *MemoryQuerier) LatestMessages(_ context.Context, sessionID uuid.UUID, limit int32) ([]MessageRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []MessageRow
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			rows = append(rows, msg)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SequenceNumber > rows[j].SequenceNumber })
	if int32(len(rows)) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *MemoryQuerier) GetMessage(_ context.Context, id uuid.UUID) (MessageRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return MessageRow{}, ErrMessageNotFound
}

func (m *MemoryQuerier) UpdateMessage(_ context.Context, arg UpdateMessageParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, msg := range m.messages {
		if msg.ID == arg.ID {
			m.messages[i].Content = arg.Content
			m.messages[i].Sources = arg.Sources
			return nil
		}
	}
	return ErrMessageNotFound
}

// MessageCount reports a session's stored message_count. Test helper.
func (m *MemoryQuerier) MessageCount(id uuid.UUID) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].MessageCount
}
