package config

import (
	"errors"
	"testing"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		Provider:          ProviderGemini,
		ModelName:         "gemini-2.5-flash",
		Temperature:       0.2,
		MaxTokens:         2048,
		GeminiAPIKey:      "test-key",
		EmbedderModel:     DefaultGeminiEmbedderModel,
		EmbedderDimension: 768,
		MatchThreshold:    0.7,
		MatchCount:        5,
		HistoryLimit:      10,
		ChunkSize:         1500,
		PostgresHost:      "localhost",
		PostgresPort:      5432,
		PostgresUser:      "ragsub",
		PostgresPassword:  "secret",
		PostgresDBName:    "ragsub",
		PostgresSSLMode:   "disable",
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"nil threshold above range", func(c *Config) { c.MatchThreshold = 1.5 }, ErrInvalidMatchThreshold},
		{"threshold below range", func(c *Config) { c.MatchThreshold = -2 }, ErrInvalidMatchThreshold},
		{"unknown provider", func(c *Config) { c.Provider = "anthropic" }, ErrInvalidProvider},
		{"gemini without key", func(c *Config) { c.GeminiAPIKey = "" }, ErrMissingAPIKey},
		{"negative temperature", func(c *Config) { c.Temperature = -0.1 }, ErrInvalidTemperature},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"odd dimension", func(c *Config) { c.EmbedderDimension = 512 }, ErrInvalidEmbedderDimension},
		{"zero match count", func(c *Config) { c.MatchCount = 0 }, ErrInvalidMatchCount},
		{"tiny chunk size", func(c *Config) { c.ChunkSize = 10 }, ErrInvalidChunkSize},
		{"negative history limit", func(c *Config) { c.HistoryLimit = -1 }, ErrInvalidHistoryLimit},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"postgres port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"bad ssl mode", func(c *Config) { c.PostgresSSLMode = "maybe" }, ErrInvalidPostgresSSLMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want errors.Is(err, %v)", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNil(t *testing.T) {
	var cfg *Config
	if !errors.Is(cfg.Validate(), ErrConfigNil) {
		t.Error("nil config must return ErrConfigNil")
	}
}

func TestOllamaProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Provider = ProviderOllama
	cfg.GeminiAPIKey = "" // not required for ollama
	cfg.OllamaHost = "http://localhost:11434"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	cfg.OllamaHost = "localhost:11434"
	if err := cfg.Validate(); err == nil {
		t.Error("ollama host without scheme must be rejected")
	}
}
