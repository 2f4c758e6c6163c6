package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vectors[i%len(s.vectors)]
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[0], nil
}

func validConfig() Config {
	return Config{
		BaseURL:   "http://localhost:8080/v1",
		Model:     "text-embedding-3-small",
		Dimension: 3,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing base url", mutate: func(c *Config) { c.BaseURL = "" }},
		{name: "missing model", mutate: func(c *Config) { c.Model = "" }},
		{name: "negative dimension", mutate: func(c *Config) { c.Dimension = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, validConfig().Validate())
}

func TestEmbedQuery(t *testing.T) {
	svc, err := NewServiceWithEmbedder(&stubEmbedder{vectors: [][]float32{{0.1, 0.2, 0.3}}}, validConfig())
	require.NoError(t, err)

	vector, err := svc.EmbedQuery(context.Background(), "disk full on api nodes")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
}

func TestEmbedQuery_EmptyText(t *testing.T) {
	svc, err := NewServiceWithEmbedder(&stubEmbedder{vectors: [][]float32{{1, 0, 0}}}, validConfig())
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedQuery_DimensionMismatch(t *testing.T) {
	svc, err := NewServiceWithEmbedder(&stubEmbedder{vectors: [][]float32{{1, 0}}}, validConfig())
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "query")
	assert.ErrorIs(t, err, ErrDimension)
}

func TestEmbedDocuments(t *testing.T) {
	svc, err := NewServiceWithEmbedder(&stubEmbedder{vectors: [][]float32{{1, 0, 0}}}, validConfig())
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
}

func TestEmbedDocuments_Empty(t *testing.T) {
	svc, err := NewServiceWithEmbedder(&stubEmbedder{vectors: [][]float32{{1, 0, 0}}}, validConfig())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocuments_ProviderError(t *testing.T) {
	svc, err := NewServiceWithEmbedder(&stubEmbedder{err: errors.New("upstream down")}, validConfig())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a"})
	assert.Error(t, err)
}
