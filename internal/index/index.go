package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// Sentinel errors for index operations.
var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the configured dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidK is returned when a query requests a non-positive number
	// of results.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyID is returned when a chunk has no identifier.
	ErrEmptyID = errors.New("chunk id required")
)

// Metadata holds the structured tags attached to a Chunk.
type Metadata struct {
	Service     string   `json:"service,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
	Environment string   `json:"environment,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// Chunk is a unit of indexed knowledge, typically a ticket excerpt or a
// manual section. Chunks are immutable once indexed; re-ingestion replaces
// them wholesale via Upsert.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"-"`
	Metadata   Metadata  `json:"metadata"`
}

// Filter is a conjunction of predicates over chunk metadata. Zero-value
// fields impose no constraint. Service, ErrorCode and Environment match by
// case-insensitive equality; Keyword matches as a case-insensitive
// substring of the chunk text or any keyword tag.
type Filter struct {
	Service     string `json:"service,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Environment string `json:"environment,omitempty"`
	Keyword     string `json:"keyword,omitempty"`
}

// IsZero reports whether the filter imposes no constraints.
func (f Filter) IsZero() bool {
	return f.Service == "" && f.ErrorCode == "" && f.Environment == "" && f.Keyword == ""
}

// Matches reports whether the chunk satisfies every set predicate.
func (f Filter) Matches(c *Chunk) bool {
	if f.Service != "" && !strings.EqualFold(f.Service, c.Metadata.Service) {
		return false
	}
	if f.ErrorCode != "" && !strings.EqualFold(f.ErrorCode, c.Metadata.ErrorCode) {
		return false
	}
	if f.Environment != "" && !strings.EqualFold(f.Environment, c.Metadata.Environment) {
		return false
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		if strings.Contains(strings.ToLower(c.Text), kw) {
			return true
		}
		for _, tag := range c.Metadata.Keywords {
			if strings.Contains(strings.ToLower(tag), kw) {
				return true
			}
		}
		return false
	}
	return true
}

// Result is a scored chunk returned by Query, ordered by descending
// similarity with ties broken by ascending chunk id.
type Result struct {
	Chunk *Chunk
	Score float64
}

// Index is an in-memory embedding index with exact cosine search.
//
// Reads proceed concurrently; upserts are serialized relative to each
// other and a concurrent query observes either the pre- or post-upsert
// chunk, never a partially written one.
type Index struct {
	dimension int

	mu     sync.RWMutex
	chunks map[string]*Chunk
}

// New creates an index for vectors of the given dimensionality.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimensionMismatch, dimension)
	}
	return &Index{
		dimension: dimension,
		chunks:    make(map[string]*Chunk),
	}, nil
}

// Dimension returns the configured vector dimensionality.
func (ix *Index) Dimension() int {
	return ix.dimension
}

// Upsert inserts or replaces a chunk by id.
func (ix *Index) Upsert(chunk Chunk) error {
	if chunk.ID == "" {
		return ErrEmptyID
	}
	if len(chunk.Vector) != ix.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(chunk.Vector), ix.dimension)
	}
	cp := chunk
	cp.Vector = append([]float32(nil), chunk.Vector...)
	cp.Metadata.Keywords = append([]string(nil), chunk.Metadata.Keywords...)

	ix.mu.Lock()
	ix.chunks[cp.ID] = &cp
	ix.mu.Unlock()
	return nil
}

// Get returns the chunk with the given id, if present.
func (ix *Index) Get(id string) (*Chunk, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	c, ok := ix.chunks[id]
	return c, ok
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Query returns the top-k chunks by cosine similarity to vector among
// those satisfying filter. An empty result is not an error: it simply
// means no chunk matched the filter.
func (ix *Index) Query(vector []float32, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if len(vector) != ix.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), ix.dimension)
	}

	ix.mu.RLock()
	scored := make([]Result, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		if !filter.Matches(c) {
			continue
		}
		scored = append(scored, Result{Chunk: c, Score: Cosine(vector, c.Vector)})
	}
	ix.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Cosine computes the cosine similarity dot(a,b)/(||a||*||b||) in the
// range [-1, 1]. A zero-norm vector yields 0 with any other vector so
// that queries stay total.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
