package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/app"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/embedding"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/knowledge"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/rag"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/session"
)

func TestCollectFilesWalksDirectories(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string) {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("content"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("notes.md")
	write("deep/readme.txt")
	write("deep/image.png")
	write(".hidden/secret.md")

	files, err := collectFiles([]string{dir})
	if err != nil {
		t.Fatalf("collectFiles() = %v", err)
	}

	var names []string
	for _, f := range files {
		rel, _ := filepath.Rel(dir, f)
		names = append(names, filepath.ToSlash(rel))
	}
	got := strings.Join(names, ",")
	if !strings.Contains(got, "notes.md") || !strings.Contains(got, "deep/readme.txt") {
		t.Errorf("indexable files missing: %v", names)
	}
	if strings.Contains(got, "image.png") {
		t.Errorf("non-indexable extension included: %v", names)
	}
	if strings.Contains(got, "secret.md") {
		t.Errorf("hidden directory walked: %v", names)
	}
}

func TestCollectFilesTakesExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte("a,b"), 0o600); err != nil {
		t.Fatal(err)
	}

	// The extension filter only applies to directory walks.
	files, err := collectFiles([]string{path})
	if err != nil {
		t.Fatalf("collectFiles() = %v", err)
	}
	if len(files) != 1 || files[0] != path {
		t.Errorf("files = %v", files)
	}
}

func TestCollectFilesMissingPath(t *testing.T) {
	if _, err := collectFiles([]string{"/does/not/exist"}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestFriendlyAskError(t *testing.T) {
	if friendlyAskError(nil) != nil {
		t.Error("nil must pass through")
	}

	err := friendlyAskError(rag.ErrValidation)
	if !errors.Is(err, rag.ErrValidation) {
		t.Errorf("wrapped error lost its class: %v", err)
	}
	if !strings.Contains(err.Error(), "invalid request") {
		t.Errorf("error = %q", err)
	}

	plain := errors.New("boom")
	if friendlyAskError(plain) != plain {
		t.Error("unclassified errors must pass through unchanged")
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Now()
	tests := []struct {
		t    time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-48 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := formatAge(tt.t); got != tt.want {
			t.Errorf("formatAge(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}

	old := now.Add(-30 * 24 * time.Hour)
	if got := formatAge(old); !strings.Contains(got, old.Format("2006")) {
		t.Errorf("old timestamps must render as dates, got %q", got)
	}
}

func TestSourceName(t *testing.T) {
	if got := sourceName(session.Source{FileName: "a.md", DocumentID: "d1"}); got != "a.md" {
		t.Errorf("sourceName = %q", got)
	}
	if got := sourceName(session.Source{DocumentID: "d1"}); got != "d1" {
		t.Errorf("sourceName fallback = %q", got)
	}
}

// downEmbedder simulates an unreachable embedding provider.
type downEmbedder struct{}

func (downEmbedder) Name() string            { return "down-embedder" }
func (downEmbedder) Register(_ api.Registry) {}

func (downEmbedder) Embed(context.Context, *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	return nil, errors.New("provider unreachable")
}

// cannedGenerator is never reached when retrieval fails.
type cannedGenerator struct{}

func (cannedGenerator) Complete(_ context.Context, _ string, _ []*ai.Message) (string, error) {
	return "answer", nil
}

func (cannedGenerator) Stream(_ context.Context, _ string, _ []*ai.Message, _ rag.TokenCallback) (string, error) {
	return "answer", nil
}

func TestStreamAnswerDiscardsSessionOnFailure(t *testing.T) {
	cache := embedding.NewCache(embedding.CacheOptions{})
	t.Cleanup(cache.Close)
	embedder, err := embedding.New(downEmbedder{}, cache, 3, log.NewNop())
	if err != nil {
		t.Fatalf("embedding.New() = %v", err)
	}
	store, err := knowledge.New(knowledge.NewMemoryQuerier(), embedder,
		knowledge.Options{MatchThreshold: 0.5, MatchCount: 5}, log.NewNop())
	if err != nil {
		t.Fatalf("knowledge.New() = %v", err)
	}
	sessions := session.New(session.NewMemoryQuerier(), nil, log.NewNop())
	engine, err := rag.New(rag.Config{
		Store:     store,
		Sessions:  sessions,
		Generator: cannedGenerator{},
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("rag.New() = %v", err)
	}
	a := &app.App{Sessions: sessions, Engine: engine}

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())

	if err := streamAnswer(cmd, a, "why?", uuid.Nil, rag.AskOptions{}); err == nil {
		t.Fatal("streamAnswer must surface the retrieval failure")
	}
	engine.Wait()

	list, err := sessions.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("failed stream left %d orphaned session(s)", len(list))
	}
}

func TestVersionCommandOutput(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	versionCmd.Run(cmd, nil)
	if !strings.Contains(out.String(), "ragsub") {
		t.Errorf("version output = %q", out.String())
	}
}
