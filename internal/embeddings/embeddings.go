// Package embeddings generates vector embeddings via langchaingo.
//
// It wraps an OpenAI-compatible embedding endpoint, which covers both
// the OpenAI API and local TEI (Text Embeddings Inference) servers.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrDimension indicates the provider returned vectors of an
	// unexpected dimensionality.
	ErrDimension = errors.New("unexpected embedding dimension")
)

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the base URL for the embedding API.
	BaseURL string

	// Model is the embedding model to use, e.g. text-embedding-3-small.
	Model string

	// APIKey is the API key (required for OpenAI, optional for TEI).
	APIKey string

	// Dimension, when positive, is enforced on every returned vector.
	Dimension int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Service generates embeddings for incident text and knowledge chunks.
type Service struct {
	embedder embeddings.Embedder
	config   Config
}

// NewService creates an embedding service backed by an OpenAI-compatible
// endpoint.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token, TEI ignores it
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithEmbeddingModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Service{embedder: embedder, config: config}, nil
}

// NewServiceWithEmbedder wires an existing langchaingo Embedder. Used in
// tests and anywhere the caller already holds a provider client.
func NewServiceWithEmbedder(embedder embeddings.Embedder, config Config) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &Service{embedder: embedder, config: config}, nil
}

// EmbedQuery generates a single embedding for a query or incident text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

// EmbedDocuments generates one embedding per input text.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	for i, v := range vectors {
		if err := s.checkDimension(v); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
	}
	return vectors, nil
}

func (s *Service) checkDimension(vector []float32) error {
	if s.config.Dimension > 0 && len(vector) != s.config.Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vector), s.config.Dimension)
	}
	return nil
}
