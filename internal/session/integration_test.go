package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/session"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	store := session.New(session.NewPostgresQuerier(pool), pool, log.NewNop())
	ctx := context.Background()

	sess, err := store.Create(ctx, "sky questions")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}

	err = store.AppendMessages(ctx, sess.ID, []session.Message{
		{Role: session.RoleUser, Content: "why is the sky blue?"},
		{Role: session.RoleAssistant, Content: "Rayleigh scattering.",
			Sources: []session.Source{{DocumentID: "d1", FileName: "facts.txt", Similarity: 0.92}}},
	})
	if err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}

	history, err := store.History(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].SequenceNumber != 1 || history[1].SequenceNumber != 2 {
		t.Errorf("sequences = %d, %d", history[0].SequenceNumber, history[1].SequenceNumber)
	}
	if len(history[1].Sources) != 1 || history[1].Sources[0].FileName != "facts.txt" {
		t.Errorf("sources did not round-trip: %+v", history[1].Sources)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if got.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", got.MessageCount)
	}
}

func TestPostgresStoreRegenerate(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	store := session.New(session.NewPostgresQuerier(pool), pool, log.NewNop())
	ctx := context.Background()

	sess, err := store.Create(ctx, "t")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	err = store.AppendMessages(ctx, sess.ID, []session.Message{
		{Role: session.RoleUser, Content: "why is the sky blue?"},
		{Role: session.RoleAssistant, Content: "first answer"},
	})
	if err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}

	history, err := store.History(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	target := history[1]

	err = store.Regenerate(ctx, target.ID, "better answer", []session.Source{{DocumentID: "d2"}})
	if err != nil {
		t.Fatalf("Regenerate() = %v", err)
	}

	history, err = store.History(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want original two plus audit", len(history))
	}
	if history[1].ID != target.ID || history[1].Content != "better answer" {
		t.Errorf("target not rewritten in place: %+v", history[1])
	}
	if history[2].Role != session.RoleSystem {
		t.Errorf("audit role = %q", history[2].Role)
	}
}

func TestPostgresStoreDeleteCascades(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	store := session.New(session.NewPostgresQuerier(pool), pool, log.NewNop())
	ctx := context.Background()

	sess, err := store.Create(ctx, "t")
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	err = store.AppendMessages(ctx, sess.ID, []session.Message{{Role: session.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("AppendMessages() = %v", err)
	}
	history, err := store.History(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("History() = %v", err)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}

	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
	if _, err := store.Message(ctx, history[0].ID); !errors.Is(err, session.ErrMessageNotFound) {
		t.Errorf("message survived session delete: %v", err)
	}
}

func TestPostgresStoreUnknownSession(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	store := session.New(session.NewPostgresQuerier(pool), pool, log.NewNop())

	err := store.AppendMessages(context.Background(), uuid.New(),
		[]session.Message{{Role: session.RoleUser, Content: "hi"}})
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("AppendMessages = %v, want ErrSessionNotFound", err)
	}
}
