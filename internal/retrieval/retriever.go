// Package retrieval composes vector search with metadata filtering and
// builds the bounded context window handed to the planner.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/index"
)

// ErrRetrieval indicates the underlying index failed in a way that is not
// an input-validation error. It is surfaced to the caller, never retried
// at this layer.
var ErrRetrieval = errors.New("retrieval failed")

// DefaultPreviewLength bounds candidate previews when no length is
// configured. Matches the snippet size surfaced to operators.
const DefaultPreviewLength = 180

// Candidate references a matched chunk: enough to rebuild the planning
// context later without re-querying, given that chunks are immutable.
// Candidates are ephemeral; runs persist them as lightweight references.
type Candidate struct {
	ChunkID   string  `json:"chunk_id"`
	Score     float64 `json:"score"`
	Preview   string  `json:"preview"`
	Service   string  `json:"service,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
}

// Querier is the slice of the embedding index the retriever depends on.
type Querier interface {
	Query(vector []float32, k int, filter index.Filter) ([]index.Result, error)
}

// Retriever runs filtered similarity queries and truncates matched chunk
// text into previews. For identical inputs against an unchanged index the
// output is byte-identical.
type Retriever struct {
	querier       Querier
	previewLength int
	logger        *zap.Logger
}

// New creates a retriever. previewLength <= 0 selects DefaultPreviewLength.
func New(querier Querier, previewLength int, logger *zap.Logger) (*Retriever, error) {
	if querier == nil {
		return nil, errors.New("querier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if previewLength <= 0 {
		previewLength = DefaultPreviewLength
	}
	return &Retriever{
		querier:       querier,
		previewLength: previewLength,
		logger:        logger,
	}, nil
}

// PreviewLength returns the configured truncation bound.
func (r *Retriever) PreviewLength() int {
	return r.previewLength
}

// Retrieve returns ranked candidates for the query embedding. Validation
// errors (ErrInvalidK, ErrDimensionMismatch) pass through unchanged; any
// other index failure is wrapped in ErrRetrieval.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, topK int, filter index.Filter) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results, err := r.querier.Query(vector, topK, filter)
	if err != nil {
		if errors.Is(err, index.ErrInvalidK) || errors.Is(err, index.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, res := range results {
		candidates = append(candidates, Candidate{
			ChunkID:   res.Chunk.ID,
			Score:     res.Score,
			Preview:   Truncate(res.Chunk.Text, r.previewLength),
			Service:   res.Chunk.Metadata.Service,
			ErrorCode: res.Chunk.Metadata.ErrorCode,
		})
	}

	r.logger.Debug("retrieved candidates",
		zap.Int("requested", topK),
		zap.Int("returned", len(candidates)))

	return candidates, nil
}

// Truncate bounds s to at most limit runes without splitting a rune.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
