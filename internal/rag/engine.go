// Package rag orchestrates retrieval-augmented answering: retrieve context,
// load history, assemble a grounded prompt, generate, persist the turn.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/knowledge"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/session"
)

// Pipeline failure classes. Callers can distinguish "no answer possible"
// from "transient, retry safe" with errors.Is.
var (
	// ErrValidation rejects bad input before any external call.
	ErrValidation = errors.New("rag: validation")

	// ErrRetrieval wraps vector search and history load failures.
	ErrRetrieval = errors.New("rag: retrieval")

	// ErrGeneration wraps model failures, mid-completion or mid-stream.
	ErrGeneration = errors.New("rag: generation")
)

// eventBuffer absorbs bursts so the generator is not lockstepped with a
// slow consumer.
const eventBuffer = 16

// Config wires an Engine's collaborators.
type Config struct {
	Store     *knowledge.Store
	Sessions  *session.Store
	Generator Generator
	Logger    log.Logger

	// HistoryLimit caps prior turns included in the prompt. Non-positive
	// selects session.DefaultHistoryLimit.
	HistoryLimit int32

	// BackgroundCtx outlives individual requests; best-effort persistence
	// runs under it so it survives the caller returning early.
	BackgroundCtx context.Context

	// WG tracks persistence goroutines for graceful shutdown.
	WG *sync.WaitGroup
}

func (cfg Config) validate() error {
	if cfg.Store == nil {
		return errors.New("knowledge store is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	return nil
}

// AskOptions tune one request. Zero values fall back to the engine's and
// stores' defaults.
type AskOptions struct {
	// MatchThreshold overrides the store's similarity threshold.
	MatchThreshold *float32

	// MatchCount overrides the store's result cap.
	MatchCount int32

	// SkipHistory omits prior turns from the prompt.
	SkipHistory bool
}

// Response is a complete answer.
type Response struct {
	Answer    string
	Sources   []knowledge.SearchResult
	SessionID uuid.UUID
}

// Engine runs the pipeline. Stateless per request and safe for concurrent
// use.
type Engine struct {
	store        *knowledge.Store
	sessions     *session.Store
	generator    Generator
	logger       log.Logger
	historyLimit int32

	bgCtx context.Context
	wg    *sync.WaitGroup
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	wg := cfg.WG
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = session.DefaultHistoryLimit
	}

	return &Engine{
		store:        cfg.Store,
		sessions:     cfg.Sessions,
		generator:    cfg.Generator,
		logger:       logger,
		historyLimit: historyLimit,
		bgCtx:        bgCtx,
		wg:           wg,
	}, nil
}

// Wait blocks until all background persistence has finished. Called during
// shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Ask answers a query in one blocking call. A nil sessionID starts a new
// session titled after the query. The user and assistant turns are
// persisted best-effort in the background; persistence failure never fails
// the answer.
func (e *Engine) Ask(ctx context.Context, query string, sessionID uuid.UUID, opts AskOptions) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}

	sess, err := e.resolveSession(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}

	results, history, err := e.retrieve(ctx, query, sess.ID, opts)
	if err != nil {
		return nil, err
	}

	answer, err := e.generator.Complete(ctx, systemPrompt, buildMessages(history, results, query))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	e.persistTurn(sess.ID, query, answer, results)

	return &Response{Answer: answer, Sources: results, SessionID: sess.ID}, nil
}

// AskStream answers a query as a stream of events: sources first, then
// tokens in provider order, then a terminal done or error event. The
// channel closes after the terminal event. Cancelling ctx stops the stream
// promptly; a partial answer is never persisted.
func (e *Engine) AskStream(ctx context.Context, query string, sessionID uuid.UUID, opts AskOptions) (<-chan Event, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}

	sess, err := e.resolveSession(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)

		results, history, err := e.retrieve(ctx, query, sess.ID, opts)
		if err != nil {
			e.send(ctx, events, Event{Type: EventError, Err: err})
			return
		}
		if !e.send(ctx, events, Event{Type: EventSources, Sources: results}) {
			return
		}

		answer, err := e.generator.Stream(ctx, systemPrompt, buildMessages(history, results, query),
			func(tokenCtx context.Context, token string) error {
				if token == "" {
					return nil
				}
				if !e.send(tokenCtx, events, Event{Type: EventToken, Token: token}) {
					return tokenCtx.Err()
				}
				return nil
			})
		if err != nil {
			e.send(ctx, events, Event{Type: EventError, Err: fmt.Errorf("%w: %w", ErrGeneration, err)})
			return
		}

		e.persistTurn(sess.ID, query, answer, results)
		e.send(ctx, events, Event{Type: EventDone})
	}()
	return events, nil
}

// Regenerate re-answers the user turn that produced the given assistant
// message, rewrites that message in place, and appends an audit record. The
// fresh answer is generated from newly retrieved context only, without the
// surrounding conversation.
func (e *Engine) Regenerate(ctx context.Context, messageID uuid.UUID, opts AskOptions) (*Response, error) {
	target, err := e.sessions.Message(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if target.Role != session.RoleAssistant {
		return nil, fmt.Errorf("%w: %w", ErrValidation, session.ErrNotAssistantMessage)
	}

	query, err := e.precedingQuery(ctx, target)
	if err != nil {
		return nil, err
	}

	results, err := e.search(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	answer, err := e.generator.Complete(ctx, systemPrompt, buildMessages(nil, results, query))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	if err := e.sessions.Regenerate(ctx, messageID, answer, messageSources(results)); err != nil {
		return nil, fmt.Errorf("regenerate message %s: %w", messageID, err)
	}

	return &Response{Answer: answer, Sources: results, SessionID: target.SessionID}, nil
}

// resolveSession loads the session, or creates one titled after the first
// query when sessionID is nil.
func (e *Engine) resolveSession(ctx context.Context, query string, sessionID uuid.UUID) (*session.Session, error) {
	if sessionID == uuid.Nil {
		sess, err := e.sessions.Create(ctx, session.TitleFromQuery(query))
		if err != nil {
			return nil, fmt.Errorf("%w: create session: %w", ErrRetrieval, err)
		}
		return sess, nil
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return sess, nil
}

// retrieve runs vector search and history load concurrently and joins both
// before generation.
func (e *Engine) retrieve(ctx context.Context, query string, sessionID uuid.UUID, opts AskOptions) ([]knowledge.SearchResult, []session.Message, error) {
	type searchOut struct {
		results []knowledge.SearchResult
		err     error
	}
	type historyOut struct {
		messages []session.Message
		err      error
	}

	// Buffered so the goroutines never leak if the caller bails early.
	searchCh := make(chan searchOut, 1)
	historyCh := make(chan historyOut, 1)

	go func() {
		results, err := e.search(ctx, query, opts)
		searchCh <- searchOut{results, err}
	}()
	go func() {
		if opts.SkipHistory {
			historyCh <- historyOut{}
			return
		}
		messages, err := e.sessions.History(ctx, sessionID, e.historyLimit)
		historyCh <- historyOut{messages, err}
	}()

	so := <-searchCh
	ho := <-historyCh
	if so.err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRetrieval, so.err)
	}
	if ho.err != nil {
		return nil, nil, fmt.Errorf("%w: history: %w", ErrRetrieval, ho.err)
	}
	return so.results, ho.messages, nil
}

func (e *Engine) search(ctx context.Context, query string, opts AskOptions) ([]knowledge.SearchResult, error) {
	var searchOpts []knowledge.SearchOption
	if opts.MatchThreshold != nil {
		searchOpts = append(searchOpts, knowledge.WithThreshold(*opts.MatchThreshold))
	}
	if opts.MatchCount > 0 {
		searchOpts = append(searchOpts, knowledge.WithTopK(opts.MatchCount))
	}
	return e.store.Search(ctx, query, searchOpts...)
}

// persistTurn appends the user and assistant messages in one batch, in that
// order, without blocking the response. Failures are logged, never
// surfaced: the answer must reach the caller even if its history does not
// reach the database.
func (e *Engine) persistTurn(sessionID uuid.UUID, query, answer string, results []knowledge.SearchResult) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		err := e.sessions.AppendMessages(e.bgCtx, sessionID, []session.Message{
			{Role: session.RoleUser, Content: query},
			{Role: session.RoleAssistant, Content: answer, Sources: messageSources(results)},
		})
		if err != nil {
			e.logger.Warn("persisting conversation turn", "session_id", sessionID, "error", err)
		}
	}()
}

// precedingQuery finds the user turn immediately before the target
// assistant message.
func (e *Engine) precedingQuery(ctx context.Context, target *session.Message) (string, error) {
	// A wide window: the target may be far behind the prompt history limit.
	history, err := e.sessions.History(ctx, target.SessionID, 1000)
	if err != nil {
		return "", fmt.Errorf("%w: history: %w", ErrRetrieval, err)
	}

	query := ""
	for _, msg := range history {
		if msg.SequenceNumber >= target.SequenceNumber {
			break
		}
		if msg.Role == session.RoleUser {
			query = msg.Content
		}
	}
	if query == "" {
		return "", fmt.Errorf("%w: no user message precedes %s", ErrValidation, target.ID)
	}
	return query, nil
}

// send delivers an event unless ctx is cancelled. Reports whether the event
// was delivered.
func (e *Engine) send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// buildMessages assembles the conversation: prior turns oldest first, then
// the final user turn carrying the context block and the query. System
// audit records in the history are skipped; they document regeneration, not
// conversation.
func buildMessages(history []session.Message, results []knowledge.SearchResult, query string) []*ai.Message {
	messages := make([]*ai.Message, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Role {
		case session.RoleUser:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(msg.Content)))
		case session.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(msg.Content)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(userPrompt(formatContext(results), query))))
	return messages
}

// messageSources converts search results into persisted source records.
func messageSources(results []knowledge.SearchResult) []session.Source {
	if len(results) == 0 {
		return nil
	}
	sources := make([]session.Source, len(results))
	for i, r := range results {
		sources[i] = session.Source{
			DocumentID: r.Document.ID,
			FileName:   r.Document.Metadata["file_name"],
			Similarity: r.Similarity,
		}
	}
	return sources
}
