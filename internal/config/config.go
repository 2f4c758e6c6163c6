// Package config provides configuration loading for triaged.
//
// Configuration is loaded once at startup from an optional YAML file with
// environment variable overrides, validated, and passed explicitly to the
// components that need it. Nothing reads configuration lazily from
// ambient state: the confidence thresholds a Run snapshots are exactly
// the ones loaded here.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/triaged/internal/gate"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
)

// ErrInvalidConfig indicates configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete triaged configuration.
type Config struct {
	Server     ServerConfig    `koanf:"server"`
	Index      IndexConfig     `koanf:"index"`
	Retrieval  RetrievalConfig `koanf:"retrieval"`
	Planner    PlannerConfig   `koanf:"planner"`
	Embedding  EmbeddingConfig `koanf:"embedding"`
	Thresholds gate.Thresholds `koanf:"thresholds"`
	Audit      AuditConfig     `koanf:"audit"`
	Ingest     IngestConfig    `koanf:"ingest"`
	Notify     NotifyConfig    `koanf:"notify"`
	Logging    LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// IndexConfig holds embedding index configuration.
type IndexConfig struct {
	// Dimension is the fixed embedding dimensionality D. Every vector
	// entering the index must have exactly this length.
	Dimension int `koanf:"dimension"`
}

// RetrievalConfig holds hybrid retriever configuration.
type RetrievalConfig struct {
	// PreviewLength bounds candidate previews in runes. Previews are
	// what gets surfaced and audited, which bounds Run record size.
	PreviewLength int `koanf:"preview_length"`
}

// PlannerConfig holds plan generation configuration.
type PlannerConfig struct {
	// RetryLimit is the maximum number of generation attempts per
	// incident, corrective retries included.
	RetryLimit int           `koanf:"retry_limit"`
	Timeout    time.Duration `koanf:"timeout"`
	BaseURL    string        `koanf:"base_url"`
	Model      string        `koanf:"model"`
	APIKey     Secret        `koanf:"api_key"`
}

// EmbeddingConfig holds embedding backend configuration.
type EmbeddingConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// AuditConfig holds run store configuration.
type AuditConfig struct {
	// Path is the SQLite database file for the run store.
	Path string `koanf:"path"`
}

// IngestConfig holds startup ingestion configuration.
type IngestConfig struct {
	// TicketsPath is an optional JSONL file of historical tickets loaded
	// into the index at startup.
	TicketsPath string `koanf:"tickets_path"`

	// DocsDir optionally points at a directory of plain-text runbooks
	// loaded into the index at startup.
	DocsDir string `koanf:"docs_dir"`

	// MaxChunkChars bounds document chunk size.
	MaxChunkChars int `koanf:"max_chunk_chars"`
}

// NotifyConfig holds notification collaborator configuration.
type NotifyConfig struct {
	// WebhookURL receives run summaries. Empty disables notification.
	WebhookURL string        `koanf:"webhook_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9180,
			ShutdownTimeout: 10 * time.Second,
		},
		Index: IndexConfig{
			Dimension: 1536,
		},
		Retrieval: RetrievalConfig{
			PreviewLength: retrieval.DefaultPreviewLength,
		},
		Planner: PlannerConfig{
			RetryLimit: 2,
			Timeout:    60 * time.Second,
			Model:      "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "text-embedding-3-small",
		},
		Thresholds: gate.Thresholds{Min: 0.65, Auto: 0.80},
		Audit: AuditConfig{
			Path: "triaged.db",
		},
		Ingest: IngestConfig{
			MaxChunkChars: 1200,
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("%w: index dimension must be positive, got %d", ErrInvalidConfig, c.Index.Dimension)
	}
	if c.Retrieval.PreviewLength <= 0 {
		return fmt.Errorf("%w: preview length must be positive, got %d", ErrInvalidConfig, c.Retrieval.PreviewLength)
	}
	if c.Planner.RetryLimit <= 0 {
		return fmt.Errorf("%w: planner retry limit must be positive, got %d", ErrInvalidConfig, c.Planner.RetryLimit)
	}
	if c.Planner.Timeout <= 0 {
		return fmt.Errorf("%w: planner timeout must be positive", ErrInvalidConfig)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Audit.Path == "" {
		return fmt.Errorf("%w: audit store path required", ErrInvalidConfig)
	}
	if c.Ingest.MaxChunkChars < 0 {
		return fmt.Errorf("%w: max chunk chars must not be negative", ErrInvalidConfig)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging format must be json or console, got %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}
