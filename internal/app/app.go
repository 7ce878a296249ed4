// Package app assembles the application: configuration, database, AI
// provider, embedding, stores, and the answering engine. Setup builds the
// container; Close tears it down in reverse order.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sriramkolli-zennith/RAG-sub000/internal/config"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/embedding"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/knowledge"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/rag"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/session"
)

// App is the application container. Fields are wired once by Setup and
// treated as read-only afterwards.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Cache     *embedding.Cache
	Embedding *embedding.Embedder
	Knowledge *knowledge.Store
	Sessions  *session.Store
	Engine    *rag.Engine

	// cancel stops the background context handed to the engine for
	// best-effort persistence.
	cancel context.CancelFunc
}

// Close shuts the application down. In-flight background persistence is
// drained before the pool closes so no write lands on a closed connection.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Debug("shutting down")
	}

	if a.Engine != nil {
		a.Engine.Wait()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	return nil
}
