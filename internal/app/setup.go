package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/genai"

	"github.com/sriramkolli-zennith/RAG-sub000/db"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/config"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/embedding"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/knowledge"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/log"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/rag"
	"github.com/sriramkolli-zennith/RAG-sub000/internal/session"
)

// Setup creates and initializes the application. On any error everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	provider := provideEmbedder(g, cfg)
	if provider == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = provider

	a.Cache = embedding.NewCache(embedding.CacheOptions{})
	embedder, err := embedding.New(provider, a.Cache, cfg.EmbedderDimension, logger.With("component", "embedding"))
	if err != nil {
		return nil, err
	}
	a.Embedding = embedder

	store, err := knowledge.New(
		knowledge.NewPostgresQuerier(pool),
		embedder,
		knowledge.Options{MatchThreshold: cfg.MatchThreshold, MatchCount: int32(cfg.MatchCount)},
		logger.With("component", "knowledge"),
	)
	if err != nil {
		return nil, err
	}
	a.Knowledge = store

	a.Sessions = session.New(session.NewPostgresQuerier(pool), pool, logger.With("component", "session"))

	generator, err := rag.NewGenkitGenerator(g, rag.GeneratorConfig{
		ModelName:   qualifyModelName(cfg.Provider, cfg.ModelName),
		ModelConfig: provideModelConfig(cfg),
	})
	if err != nil {
		return nil, err
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	engine, err := rag.New(rag.Config{
		Store:         store,
		Sessions:      a.Sessions,
		Generator:     generator,
		Logger:        logger.With("component", "rag"),
		HistoryLimit:  cfg.HistoryLimit,
		BackgroundCtx: bgCtx,
	})
	if err != nil {
		return nil, err
	}
	a.Engine = engine

	return a, nil
}

// ProbeEmbedder embeds a canary text and checks the returned vector length
// against the configured dimension. Run before ingesting so a provider
// returning the wrong dimensionality fails fast instead of poisoning the
// store.
func (a *App) ProbeEmbedder(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := a.Embedding.Embed(probeCtx, "embedder dimension probe")
	if err != nil {
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			return fmt.Errorf("%w (adjust embedder_dimension or embedder_model)", err)
		}
		return fmt.Errorf("probing embedder: %w", err)
	}
	return nil
}

// provideDBPool runs migrations and opens a connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models and embedders must be
		// registered explicitly.
		plugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit", "provider", cfg.Provider,
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit", "provider", cfg.Provider, "model", cfg.ModelName)
		return g, nil
	}
}

// provideEmbedder looks up the embedder registered by the provider plugin.
// The ollama embedder is keyed by server address, gemini by model name.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideModelConfig builds the provider generation config. Ollama takes its
// defaults; Gemini gets temperature and the output token cap.
func provideModelConfig(cfg *config.Config) any {
	if cfg.Provider == config.ProviderOllama {
		return nil
	}
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(cfg.Temperature),
		MaxOutputTokens: int32(cfg.MaxTokens),
	}
}

// qualifyModelName prefixes a bare model name with its Genkit provider
// namespace. Names that are already qualified pass through unchanged.
func qualifyModelName(provider, name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	switch provider {
	case config.ProviderOllama:
		return "ollama/" + name
	default:
		return "googleai/" + name
	}
}
