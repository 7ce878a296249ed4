// Package cmd implements the ragsub command line interface.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/app"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/config"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
)

var debugLog bool

var rootCmd = &cobra.Command{
	Use:   "ragsub",
	Short: "Retrieval-augmented question answering over your documents",
	Long: `ragsub indexes documents into PostgreSQL with pgvector and answers
questions grounded in the indexed content, with conversation history.

Index some files, then ask:

  ragsub index ./docs
  ragsub ask "how do I configure the service?"`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")
}

// Execute runs the root command. Interrupts cancel the command context so
// in-flight work shuts down cleanly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func newLogger() log.Logger {
	level := slog.LevelInfo
	if debugLog {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// setupApp loads configuration and wires the full application. Callers own
// the returned App and must Close it.
func setupApp(ctx context.Context) (*app.App, error) {
	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.Setup(ctx, cfg, logger)
}
