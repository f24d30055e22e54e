// Package config provides configuration loading for mfai-query.
package config

import (
	"fmt"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	LLM       LLMConfig       `koanf:"llm"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Search    SearchConfig    `koanf:"search"`
	Rerank    RerankConfig    `koanf:"rerank"`
	NATS      NATSConfig      `koanf:"nats"`
	Retry     RetryConfig     `koanf:"retry"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig controls the HTTP boundary.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ReadTimeout     Duration `koanf:"read_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LLMConfig configures the text-generation collaborator.
type LLMConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// EmbeddingConfig configures query embedding for semantic search.
type EmbeddingConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// SearchConfig configures the repository search backend.
type SearchConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`
	// TopK bounds candidates retrieved per repository.
	TopK int `koanf:"top_k"`
	// Repositories is the full searchable corpus.
	Repositories []string      `koanf:"repositories"`
	Qdrant       QdrantConfig  `koanf:"qdrant"`
	Chromem      ChromemConfig `koanf:"chromem"`
}

// QdrantConfig configures the external Qdrant backend.
type QdrantConfig struct {
	URL        string `koanf:"url"`
	Collection string `koanf:"collection"`
}

// ChromemConfig configures the embedded chromem backend.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// RerankConfig selects the candidate re-scoring implementation.
type RerankConfig struct {
	// Provider is "overlap" (deterministic, default) or "llm".
	Provider string `koanf:"provider"`
}

// NATSConfig configures progress event publishing.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// RetryConfig tunes per-stage retry behavior.
type RetryConfig struct {
	MaxRetries int      `koanf:"max_retries"`
	BaseDelay  Duration `koanf:"base_delay"`
	Multiplier float64  `koanf:"multiplier"`
	MaxDelay   Duration `koanf:"max_delay"`
	JitterMax  Duration `koanf:"jitter_max"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Insecure       bool   `koanf:"insecure"`
}

// NewDefaultConfig returns the built-in defaults. File and environment
// values override them.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "text-embedding-3-small",
		},
		Search: SearchConfig{
			Provider: "chromem",
			TopK:     20,
			Qdrant: QdrantConfig{
				URL:        "http://localhost:6333",
				Collection: "mfai_documents",
			},
			Chromem: ChromemConfig{
				Collection: "mfai_documents",
			},
		},
		Rerank: RerankConfig{
			Provider: "overlap",
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  Duration(time.Second),
			Multiplier: 2.0,
			MaxDelay:   Duration(8 * time.Second),
			JitterMax:  Duration(time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4318",
			ServiceName:    "mfai-query",
			ServiceVersion: "0.1.0",
			Insecure:       true,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		return fmt.Errorf("llm.base_url and llm.model are required")
	}
	switch c.Search.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("search.provider must be 'chromem' or 'qdrant', got %q", c.Search.Provider)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	switch c.Rerank.Provider {
	case "overlap", "llm":
	default:
		return fmt.Errorf("rerank.provider must be 'overlap' or 'llm', got %q", c.Rerank.Provider)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %v", c.Retry.Multiplier)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}
