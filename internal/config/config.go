// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (RAGSUB_ prefix, plus DATABASE_URL)
//  2. Config file (~/.ragsub/config.yaml or ./config.yaml)
//  3. Default values
//
// Validation is comprehensive and fail-fast: Load returns an error built on
// the sentinel errors below, checkable with errors.Is.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderDimension indicates the embedder dimension is unsupported.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidMatchThreshold indicates the similarity threshold is out of range.
	ErrInvalidMatchThreshold = errors.New("invalid match threshold")

	// ErrInvalidMatchCount indicates the result cap is out of range.
	ErrInvalidMatchCount = errors.New("invalid match count")

	// ErrInvalidChunkSize indicates the chunk size is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidHistoryLimit indicates the history limit is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation to 768 (Matryoshka Representation Learning). The pgvector
	// schema uses 768 dimensions; see db/migrations.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultOllamaEmbedderModel is the embedder registered with the ollama
	// provider. nomic-embed-text also outputs 768 dimensions.
	DefaultOllamaEmbedderModel = "nomic-embed-text"

	// DefaultEmbedderDimension is the vector dimensionality the store schema
	// is provisioned for. Every stored vector must have exactly this length.
	DefaultEmbedderDimension = 768

	// DefaultMatchThreshold is the minimum cosine similarity for retrieval
	// with the default Gemini embedder. Hosted embedding models concentrate
	// similarities in the 0.7-0.85 band; with the ollama provider
	// (nomic-embed-text) scores sit around 0.1-0.3, so a threshold near 0.15
	// is a better starting point there. Tune per provider.
	DefaultMatchThreshold = 0.7

	// DefaultMatchCount caps the number of retrieved passages per query.
	DefaultMatchCount = 5

	// DefaultHistoryLimit caps the number of prior messages included in the
	// prompt (bounds prompt size).
	DefaultHistoryLimit int32 = 10

	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1500
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider     string  `mapstructure:"provider"`       // "gemini" (default) or "ollama"
	ModelName    string  `mapstructure:"model_name"`     // e.g. "gemini-2.5-flash", "llama3.3"
	Temperature  float32 `mapstructure:"temperature"`    // generation temperature [0,2]
	MaxTokens    int     `mapstructure:"max_tokens"`     // generation output cap
	GeminiAPIKey string  `mapstructure:"gemini_api_key"` // SENSITIVE: never logged

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host"`

	// Embedding configuration
	EmbedderModel     string `mapstructure:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension"`

	// Retrieval configuration
	MatchThreshold float32 `mapstructure:"match_threshold"`
	MatchCount     int     `mapstructure:"match_count"`
	HistoryLimit   int32   `mapstructure:"history_limit"`
	ChunkSize      int     `mapstructure:"chunk_size"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".ragsub")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Also support current directory

	setDefaults(v)

	v.SetEnvPrefix("RAGSUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed fallback commonly set for Google AI SDKs.
	_ = v.BindEnv("gemini_api_key", "RAGSUB_GEMINI_API_KEY", "GEMINI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("temperature", 0.2)
	v.SetDefault("max_tokens", 2048)
	v.SetDefault("ollama_host", "http://localhost:11434")

	// Embedding defaults
	v.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	v.SetDefault("embedder_dimension", DefaultEmbedderDimension)

	// Retrieval defaults
	v.SetDefault("match_threshold", DefaultMatchThreshold)
	v.SetDefault("match_count", DefaultMatchCount)
	v.SetDefault("history_limit", DefaultHistoryLimit)
	v.SetDefault("chunk_size", DefaultChunkSize)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ragsub")
	v.SetDefault("postgres_password", "ragsub_dev_password")
	v.SetDefault("postgres_db_name", "ragsub")
	v.SetDefault("postgres_ssl_mode", "disable")
}
