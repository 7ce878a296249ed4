package rag

import "github.com/sriramkolli-zennith/RAG-sub000/internal/knowledge"

// EventType discriminates streaming events.
type EventType string

const (
	// EventSources carries the retrieved documents. Always the first event,
	// so callers can render citations before the answer completes.
	EventSources EventType = "sources"

	// EventToken carries one answer fragment, in provider order.
	EventToken EventType = "token"

	// EventDone terminates a successful stream.
	EventDone EventType = "done"

	// EventError terminates a failed stream. Tokens already delivered are
	// not retracted; the answer may be incomplete.
	EventError EventType = "error"
)

// Event is one element of a streaming answer.
type Event struct {
	Type    EventType
	Sources []knowledge.SearchResult
	Token   string
	Err     error
}
