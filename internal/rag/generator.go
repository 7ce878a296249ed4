package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// TokenCallback receives one answer fragment. Returning an error aborts the
// generation.
type TokenCallback func(ctx context.Context, token string) error

// Generator is the generation capability the engine consumes. Implemented
// by GenkitGenerator in production and by mocks in tests.
type Generator interface {
	// Complete returns the full answer for the given conversation.
	Complete(ctx context.Context, system string, messages []*ai.Message) (string, error)

	// Stream calls onToken for each fragment in provider order and returns
	// the full answer once generation finishes.
	Stream(ctx context.Context, system string, messages []*ai.Message, onToken TokenCallback) (string, error)
}

// GeneratorConfig configures GenkitGenerator.
type GeneratorConfig struct {
	// ModelName is provider-qualified, e.g. "googleai/gemini-2.5-flash".
	ModelName string

	// ModelConfig is the provider-specific generation config passed through
	// to the model, e.g. *genai.GenerateContentConfig for Gemini. Nil means
	// provider defaults.
	ModelConfig any

	// Limiter throttles provider calls. Nil selects a conservative default.
	Limiter *rate.Limiter
}

// GenkitGenerator generates answers through a Genkit model.
type GenkitGenerator struct {
	g       *genkit.Genkit
	cfg     GeneratorConfig
	limiter *rate.Limiter
}

// NewGenkitGenerator creates a generator bound to a Genkit instance.
func NewGenkitGenerator(g *genkit.Genkit, cfg GeneratorConfig) (*GenkitGenerator, error) {
	if g == nil {
		return nil, errors.New("rag: nil genkit instance")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("rag: model name is required")
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	return &GenkitGenerator{g: g, cfg: cfg, limiter: limiter}, nil
}

func (gg *GenkitGenerator) Complete(ctx context.Context, system string, messages []*ai.Message) (string, error) {
	return gg.generate(ctx, system, messages, nil)
}

func (gg *GenkitGenerator) Stream(ctx context.Context, system string, messages []*ai.Message, onToken TokenCallback) (string, error) {
	return gg.generate(ctx, system, messages, onToken)
}

func (gg *GenkitGenerator) generate(ctx context.Context, system string, messages []*ai.Message, onToken TokenCallback) (string, error) {
	if err := gg.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(gg.cfg.ModelName),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
	}
	if gg.cfg.ModelConfig != nil {
		opts = append(opts, ai.WithConfig(gg.cfg.ModelConfig))
	}
	if onToken != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return onToken(ctx, chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, gg.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text(), nil
}
