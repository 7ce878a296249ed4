package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/chunk"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/embedding"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/knowledge"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/session"
)

// constantEmbedder returns the same vector for every text, so every stored
// document matches every query with similarity 1.
type constantEmbedder struct{}

func (constantEmbedder) Name() string            { return "constant-embedder" }
func (constantEmbedder) Register(_ api.Registry) {}

func (constantEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: []float32{1, 0, 0}}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// mockGenerator records the last request and replays canned output.
type mockGenerator struct {
	mu           sync.Mutex
	answer       string
	tokens       []string
	err          error
	tokenDelay   time.Duration
	lastSystem   string
	lastMessages []*ai.Message
}

func (m *mockGenerator) record(system string, messages []*ai.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSystem = system
	m.lastMessages = messages
}

func (m *mockGenerator) finalPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lastMessages) == 0 {
		return ""
	}
	last := m.lastMessages[len(m.lastMessages)-1]
	text := ""
	for _, part := range last.Content {
		text += part.Text
	}
	return text
}

func (m *mockGenerator) Complete(_ context.Context, system string, messages []*ai.Message) (string, error) {
	m.record(system, messages)
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *mockGenerator) Stream(ctx context.Context, system string, messages []*ai.Message, onToken TokenCallback) (string, error) {
	m.record(system, messages)
	if m.err != nil {
		return "", m.err
	}
	for _, token := range m.tokens {
		if m.tokenDelay > 0 {
			select {
			case <-time.After(m.tokenDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := onToken(ctx, token); err != nil {
			return "", err
		}
	}
	return strings.Join(m.tokens, ""), nil
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	engine    *Engine
	generator *mockGenerator
	store     *knowledge.Store
	sessions  *session.Store
}

func newTestEnv(t *testing.T, generator *mockGenerator) *testEnv {
	t.Helper()

	cache := embedding.NewCache(embedding.CacheOptions{})
	t.Cleanup(cache.Close)
	embedder, err := embedding.New(constantEmbedder{}, cache, 3, log.NewNop())
	if err != nil {
		t.Fatalf("embedding.New() = %v", err)
	}

	store, err := knowledge.New(knowledge.NewMemoryQuerier(), embedder,
		knowledge.Options{MatchThreshold: 0.5, MatchCount: 5}, log.NewNop())
	if err != nil {
		t.Fatalf("knowledge.New() = %v", err)
	}

	sessions := session.New(session.NewMemoryQuerier(), nil, log.NewNop())

	engine, err := New(Config{
		Store:     store,
		Sessions:  sessions,
		Generator: generator,
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return &testEnv{engine: engine, generator: generator, store: store, sessions: sessions}
}

func (env *testEnv) seed(t *testing.T, content string) {
	t.Helper()
	_, err := env.store.Add(context.Background(), []chunk.Chunk{{
		Content:     content,
		Metadata:    map[string]string{"file_name": "facts.txt"},
		TotalChunks: 1,
	}})
	if err != nil {
		t.Fatalf("seed Add(%q) = %v", content, err)
	}
}

func TestAskRejectsEmptyQuery(t *testing.T) {
	env := newTestEnv(t, &mockGenerator{answer: "x"})
	if _, err := env.engine.Ask(context.Background(), "   ", uuid.Nil, AskOptions{}); !errors.Is(err, ErrValidation) {
		t.Errorf("Ask = %v, want ErrValidation", err)
	}
}

func TestAskRejectsUnknownSession(t *testing.T) {
	env := newTestEnv(t, &mockGenerator{answer: "x"})
	_, err := env.engine.Ask(context.Background(), "why?", uuid.New(), AskOptions{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Ask = %v, want ErrValidation", err)
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Ask = %v, want wrapped ErrSessionNotFound", err)
	}
}

func TestAskAnswersAndPersists(t *testing.T) {
	generator := &mockGenerator{answer: "Rayleigh scattering [1]."}
	env := newTestEnv(t, generator)
	env.seed(t, "The sky is blue.")

	resp, err := env.engine.Ask(context.Background(), "why is the sky blue?", uuid.Nil, AskOptions{})
	if err != nil {
		t.Fatalf("Ask() = %v", err)
	}
	if resp.Answer != "Rayleigh scattering [1]." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.SessionID == uuid.Nil {
		t.Fatal("a new session must be created")
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Document.Content != "The sky is blue." {
		t.Errorf("sources = %+v", resp.Sources)
	}

	// The prompt carries the numbered context block and the query.
	prompt := generator.finalPrompt()
	if !strings.Contains(prompt, "[1] source: facts.txt") {
		t.Errorf("prompt missing numbered context:\n%s", prompt)
	}
	if !strings.Contains(prompt, "why is the sky blue?") {
		t.Errorf("prompt missing query:\n%s", prompt)
	}
	if generator.lastSystem != systemPrompt {
		t.Error("system prompt not applied")
	}

	// Persistence is async; wait for it, then check ordering and sources.
	env.engine.Wait()
	history, err := env.sessions.History(context.Background(), resp.SessionID, 10)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Role != session.RoleUser || history[1].Role != session.RoleAssistant {
		t.Error("user turn must precede assistant turn")
	}
	if len(history[1].Sources) != 1 || history[1].Sources[0].FileName != "facts.txt" {
		t.Errorf("assistant sources = %+v", history[1].Sources)
	}

	sess, err := env.sessions.Get(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if sess.Title != "why is the sky blue?" {
		t.Errorf("session title = %q", sess.Title)
	}
}

func TestAskNoContextMarker(t *testing.T) {
	generator := &mockGenerator{answer: "I don't know."}
	env := newTestEnv(t, generator)

	if _, err := env.engine.Ask(context.Background(), "why?", uuid.Nil, AskOptions{}); err != nil {
		t.Fatalf("Ask() = %v", err)
	}
	env.engine.Wait()

	if !strings.Contains(generator.finalPrompt(), noContextMarker) {
		t.Error("empty retrieval must surface the no-context marker, not an empty block")
	}
}

func TestAskIncludesHistory(t *testing.T) {
	generator := &mockGenerator{answer: "again"}
	env := newTestEnv(t, generator)
	ctx := context.Background()

	sess, err := env.sessions.Create(ctx, "t")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	err = env.sessions.AppendMessages(ctx, sess.ID, []session.Message{
		{Role: session.RoleUser, Content: "earlier question"},
		{Role: session.RoleAssistant, Content: "earlier answer"},
	})
	if err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}

	if _, err := env.engine.Ask(ctx, "follow-up", sess.ID, AskOptions{}); err != nil {
		t.Fatalf("Ask() = %v", err)
	}
	env.engine.Wait()

	generator.mu.Lock()
	messages := generator.lastMessages
	generator.mu.Unlock()
	if len(messages) != 3 {
		t.Fatalf("len(messages) = %d, want 2 history turns + final user turn", len(messages))
	}
	if messages[0].Content[0].Text != "earlier question" {
		t.Errorf("first message = %q", messages[0].Content[0].Text)
	}

	// SkipHistory drops the prior turns.
	if _, err := env.engine.Ask(ctx, "another", sess.ID, AskOptions{SkipHistory: true}); err != nil {
		t.Fatalf("Ask() = %v", err)
	}
	env.engine.Wait()

	generator.mu.Lock()
	messages = generator.lastMessages
	generator.mu.Unlock()
	if len(messages) != 1 {
		t.Errorf("len(messages) = %d, want 1 with SkipHistory", len(messages))
	}
}

func TestAskGenerationError(t *testing.T) {
	env := newTestEnv(t, &mockGenerator{err: errors.New("model down")})
	_, err := env.engine.Ask(context.Background(), "why?", uuid.Nil, AskOptions{})
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("Ask = %v, want ErrGeneration", err)
	}
}

func TestAskStreamEventOrder(t *testing.T) {
	generator := &mockGenerator{tokens: []string{"Ray", "leigh", "."}}
	env := newTestEnv(t, generator)
	env.seed(t, "The sky is blue.")

	events, err := env.engine.AskStream(context.Background(), "why is the sky blue?", uuid.Nil, AskOptions{})
	if err != nil {
		t.Fatalf("AskStream() = %v", err)
	}

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	env.engine.Wait()

	wantTypes := []EventType{EventSources, EventToken, EventToken, EventToken, EventDone}
	if len(got) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(got), len(wantTypes))
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Errorf("event %d = %s, want %s", i, got[i].Type, want)
		}
	}
	if len(got[0].Sources) != 1 {
		t.Errorf("sources event carries %d results, want 1", len(got[0].Sources))
	}
	if got[1].Token+got[2].Token+got[3].Token != "Rayleigh." {
		t.Errorf("tokens out of order: %q %q %q", got[1].Token, got[2].Token, got[3].Token)
	}
}

func TestAskStreamGenerationError(t *testing.T) {
	env := newTestEnv(t, &mockGenerator{err: errors.New("model down")})
	events, err := env.engine.AskStream(context.Background(), "why?", uuid.Nil, AskOptions{})
	if err != nil {
		t.Fatalf("AskStream() = %v", err)
	}

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	last := got[len(got)-1]
	if last.Type != EventError || !errors.Is(last.Err, ErrGeneration) {
		t.Errorf("terminal event = %+v, want generation error", last)
	}

	// A failed stream persists nothing.
	env.engine.Wait()
	sessions, err := env.sessions.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("len(sessions) = %d, want 1", len(sessions))
	}
	history, err := env.sessions.History(context.Background(), sessions[0].ID, 10)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("failed stream persisted %d messages", len(history))
	}
}

func TestAskStreamCancellation(t *testing.T) {
	generator := &mockGenerator{
		tokens:     []string{"a", "b", "c", "d", "e", "f", "g", "h"},
		tokenDelay: 5 * time.Millisecond,
	}
	env := newTestEnv(t, generator)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := env.engine.AskStream(ctx, "why?", uuid.Nil, AskOptions{})
	if err != nil {
		t.Fatalf("AskStream() = %v", err)
	}

	sawDone := false
	count := 0
	for ev := range events {
		count++
		if ev.Type == EventDone {
			sawDone = true
		}
		if count == 2 {
			cancel()
		}
	}
	cancel()
	env.engine.Wait()

	if sawDone {
		t.Error("cancelled stream must not complete with done")
	}
	if count >= 2+len(generator.tokens) {
		t.Errorf("stream did not stop promptly: %d events", count)
	}
}

func TestRegenerateRewritesAnswer(t *testing.T) {
	generator := &mockGenerator{answer: "first answer"}
	env := newTestEnv(t, generator)
	env.seed(t, "The sky is blue.")
	ctx := context.Background()

	resp, err := env.engine.Ask(ctx, "why is the sky blue?", uuid.Nil, AskOptions{})
	if err != nil {
		t.Fatalf("Ask() = %v", err)
	}
	env.engine.Wait()

	history, err := env.sessions.History(ctx, resp.SessionID, 10)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	target := history[1]

	generator.answer = "a better answer"
	regen, err := env.engine.Regenerate(ctx, target.ID, AskOptions{})
	if err != nil {
		t.Fatalf("Regenerate() = %v", err)
	}
	if regen.Answer != "a better answer" {
		t.Errorf("answer = %q", regen.Answer)
	}
	// Regeneration re-asks the original question.
	if !strings.Contains(generator.finalPrompt(), "why is the sky blue?") {
		t.Error("regeneration must reuse the preceding user query")
	}

	history, err = env.sessions.History(ctx, resp.SessionID, 10)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(history))
	}
	if history[1].Content != "a better answer" {
		t.Errorf("target content = %q", history[1].Content)
	}
	if history[2].Role != session.RoleSystem {
		t.Errorf("audit role = %q", history[2].Role)
	}
}

func TestRegenerateRejectsUserMessage(t *testing.T) {
	env := newTestEnv(t, &mockGenerator{answer: "x"})
	ctx := context.Background()

	resp, err := env.engine.Ask(ctx, "why?", uuid.Nil, AskOptions{})
	if err != nil {
		t.Fatalf("Ask() = %v", err)
	}
	env.engine.Wait()

	history, err := env.sessions.History(ctx, resp.SessionID, 10)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if _, err := env.engine.Regenerate(ctx, history[0].ID, AskOptions{}); !errors.Is(err, ErrValidation) {
		t.Errorf("Regenerate = %v, want ErrValidation", err)
	}
}

func TestFormatContextNumbering(t *testing.T) {
	results := []knowledge.SearchResult{
		{Document: knowledge.Document{ID: "a", Content: "First.", Metadata: map[string]string{"file_name": "a.txt"}}, Similarity: 0.9},
		{Document: knowledge.Document{ID: "b", Content: "Second."}, Similarity: 0.8},
	}
	block := formatContext(results)
	if !strings.Contains(block, "[1] source: a.txt (relevance 0.90)") {
		t.Errorf("block missing first label:\n%s", block)
	}
	if !strings.Contains(block, "[2] source: b (relevance 0.80)") {
		t.Errorf("block missing id fallback label:\n%s", block)
	}
	if formatContext(nil) != noContextMarker {
		t.Error("empty results must yield the marker")
	}
}
