// Package session persists conversations and their turn-by-turn message
// history in PostgreSQL.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultHistoryLimit caps how many prior messages History returns, to
// bound prompt size.
const DefaultHistoryLimit int32 = 10

// maxTitleLen bounds auto-derived session titles.
const maxTitleLen = 80

// Session is one conversation.
type Session struct {
	ID           uuid.UUID
	Title        string
	MessageCount int32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Source records where an assistant answer came from. For regeneration
// audit messages it instead references the regenerated message id.
type Source struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name,omitempty"`
	Similarity float32 `json:"similarity,omitempty"`
}

// Message is one turn in a conversation. Messages are append-only except
// for explicit regeneration, which rewrites one assistant message's content
// and sources and appends an audit record.
type Message struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string
	Content        string
	Sources        []Source
	SequenceNumber int32
	CreatedAt      time.Time
}

// TitleFromQuery derives a session title from the first user query:
// whitespace collapsed, truncated to a display-friendly length.
func TitleFromQuery(query string) string {
	title := strings.Join(strings.Fields(query), " ")
	runes := []rune(title)
	if len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen-3]) + "..."
	}
	return title
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
