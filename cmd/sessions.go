package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/rag"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
}

var sessionsListLimit int32

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		sessions, err := a.Sessions.List(cmd.Context(), sessionsListLimit, 0)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			cmd.Println("No sessions.")
			return nil
		}
		for _, sess := range sessions {
			cmd.Printf("%s  %s  %d message(s)  %s\n",
				sess.ID, formatAge(sess.UpdatedAt), sess.MessageCount, sess.Title)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}

		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		sess, err := a.Sessions.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		// A large limit shows the whole conversation, not just the prompt
		// window.
		history, err := a.Sessions.History(cmd.Context(), id, 1000)
		if err != nil {
			return err
		}

		cmd.Printf("Session: %s\n", sess.ID)
		cmd.Printf("Title:   %s\n", sess.Title)
		cmd.Printf("Updated: %s\n\n", formatAge(sess.UpdatedAt))
		for _, msg := range history {
			cmd.Printf("[%d] %s (%s)\n%s\n", msg.SequenceNumber, msg.Role, msg.ID, msg.Content)
			if msg.Role == session.RoleAssistant {
				for _, src := range msg.Sources {
					cmd.Printf("    source: %s (%.2f)\n", sourceName(src), src.Similarity)
				}
			}
			cmd.Println()
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}

		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if err := a.Sessions.Delete(cmd.Context(), id); err != nil {
			return err
		}
		cmd.Printf("Deleted session %s\n", id)
		return nil
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <message-id>",
	Short: "Re-answer the question behind an assistant message",
	Long: `Regenerate retrieves fresh context for the user question that produced
the given assistant message, rewrites the message in place, and records an
audit entry in the session.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", args[0], err)
		}

		a, err := setupApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		resp, err := a.Engine.Regenerate(cmd.Context(), id, rag.AskOptions{})
		if err != nil {
			return friendlyAskError(err)
		}

		cmd.Println(resp.Answer)
		printSources(cmd, resp.Sources)
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().Int32Var(&sessionsListLimit, "limit", 20, "maximum sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd, regenerateCmd)
}

func sourceName(src session.Source) string {
	if src.FileName != "" {
		return src.FileName
	}
	return src.DocumentID
}

// formatAge renders a timestamp as a relative age for recent activity and
// as a date otherwise.
func formatAge(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
