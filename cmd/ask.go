package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/app"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/knowledge"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/rag"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/session"
)

var (
	askSession   string
	askStream    bool
	askNoHistory bool
	askThreshold float32
	askTopK      int32
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question grounded in the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "continue an existing session (uuid)")
	askCmd.Flags().BoolVar(&askStream, "stream", true, "stream the answer as it is generated")
	askCmd.Flags().BoolVar(&askNoHistory, "no-history", false, "answer without prior conversation turns")
	askCmd.Flags().Float32Var(&askThreshold, "threshold", -1, "similarity threshold override [-1,1]")
	askCmd.Flags().Int32VarP(&askTopK, "top-k", "k", 0, "maximum retrieved passages override")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sessionID := uuid.Nil
	if askSession != "" {
		id, err := uuid.Parse(askSession)
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", askSession, err)
		}
		sessionID = id
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	opts := rag.AskOptions{
		MatchCount:  askTopK,
		SkipHistory: askNoHistory,
	}
	if cmd.Flags().Changed("threshold") {
		opts.MatchThreshold = &askThreshold
	}

	query := strings.Join(args, " ")
	if askStream {
		return friendlyAskError(streamAnswer(cmd, a, query, sessionID, opts))
	}

	resp, err := a.Engine.Ask(ctx, query, sessionID, opts)
	if err != nil {
		return friendlyAskError(err)
	}

	cmd.Println(resp.Answer)
	printSources(cmd, resp.Sources)
	printSessionHint(cmd, sessionID, resp.SessionID)
	return nil
}

func streamAnswer(cmd *cobra.Command, a *app.App, query string, sessionID uuid.UUID, opts rag.AskOptions) error {
	ctx := cmd.Context()

	// The stream only carries answer events, so a fresh session is created
	// up front to report its id afterwards.
	requested := sessionID
	created := false
	if sessionID == uuid.Nil {
		sess, err := a.Sessions.Create(ctx, session.TitleFromQuery(query))
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = sess.ID
		created = true
	}

	events, err := a.Engine.AskStream(ctx, query, sessionID, opts)
	if err != nil {
		discardSession(a, created, sessionID)
		return err
	}

	var sources []knowledge.SearchResult
	var streamErr error
	for ev := range events {
		switch ev.Type {
		case rag.EventSources:
			sources = ev.Sources
		case rag.EventToken:
			cmd.Print(ev.Token)
		case rag.EventDone:
			cmd.Println()
		case rag.EventError:
			streamErr = ev.Err
		}
	}
	if streamErr != nil {
		cmd.Println()
		discardSession(a, created, sessionID)
		return streamErr
	}

	printSources(cmd, sources)
	printSessionHint(cmd, requested, sessionID)
	return nil
}

// discardSession removes a session this command created when the stream
// produced no answer to persist into it. Best effort: the caller's context
// may already be cancelled, so the delete runs under its own deadline.
func discardSession(a *app.App, created bool, id uuid.UUID) {
	if !created {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Sessions.Delete(ctx, id)
}

func printSources(cmd *cobra.Command, sources []knowledge.SearchResult) {
	if len(sources) == 0 {
		return
	}
	cmd.Println()
	cmd.Println("Sources:")
	for i, src := range sources {
		label := src.Document.Metadata["file_name"]
		if label == "" {
			label = src.Document.ID
		}
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, label, src.Similarity)
	}
}

func printSessionHint(cmd *cobra.Command, requested, actual uuid.UUID) {
	if actual == uuid.Nil || requested == actual {
		return
	}
	cmd.Println()
	cmd.Printf("Session: %s (continue with --session %s)\n", actual, actual)
}

// friendlyAskError prefixes pipeline failure classes with actionable wording.
func friendlyAskError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rag.ErrValidation):
		return fmt.Errorf("invalid request: %w", err)
	case errors.Is(err, rag.ErrRetrieval):
		return fmt.Errorf("retrieval failed (is the database reachable?): %w", err)
	default:
		return err
	}
}
