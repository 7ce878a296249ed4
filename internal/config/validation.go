package config

import (
	"fmt"
	"strings"
)

// validSSLModes are the PostgreSQL sslmode values pgx accepts.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for consistency.
// Returns a sentinel-wrapped error for the first violation found.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: set RAGSUB_GEMINI_API_KEY or GEMINI_API_KEY", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if !strings.HasPrefix(c.OllamaHost, "http://") && !strings.HasPrefix(c.OllamaHost, "https://") {
			return fmt.Errorf("%w: ollama_host must be an http(s) URL, got %q", ErrInvalidProvider, c.OllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama)", ErrInvalidProvider, c.Provider)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be in [0, 2])", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens <= 0 || c.MaxTokens > 65536 {
		return fmt.Errorf("%w: %d (must be in (0, 65536])", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// The store schema is provisioned for a fixed dimensionality; common
	// embedder outputs are 384, 768, and 1536.
	switch c.EmbedderDimension {
	case 384, 768, 1536:
	default:
		return fmt.Errorf("%w: %d (supported: 384, 768, 1536)", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	// Cosine similarity range is [-1, 1].
	if c.MatchThreshold < -1 || c.MatchThreshold > 1 {
		return fmt.Errorf("%w: %v (must be in [-1, 1])", ErrInvalidMatchThreshold, c.MatchThreshold)
	}
	if c.MatchCount <= 0 || c.MatchCount > 100 {
		return fmt.Errorf("%w: %d (must be in [1, 100])", ErrInvalidMatchCount, c.MatchCount)
	}
	if c.ChunkSize < 100 || c.ChunkSize > 100000 {
		return fmt.Errorf("%w: %d (must be in [100, 100000])", ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.HistoryLimit < 0 || c.HistoryLimit > 1000 {
		return fmt.Errorf("%w: %d (must be in [0, 1000])", ErrInvalidHistoryLimit, c.HistoryLimit)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return nil
}
