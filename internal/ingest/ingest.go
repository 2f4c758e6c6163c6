// Package ingest loads historical tickets and runbook documents into
// the search index.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/index"
)

var (
	// ErrIngest indicates a record could not be ingested.
	ErrIngest = errors.New("ingest failed")

	// ErrEmptyDocument indicates a document with no usable text.
	ErrEmptyDocument = errors.New("document has no text")
)

const (
	// DefaultMaxChunkChars bounds document chunk size.
	DefaultMaxChunkChars = 1200

	embedBatchSize = 64
)

// Embedder generates one vector per input text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter receives prepared chunks. Satisfied by *index.Index.
type Upserter interface {
	Upsert(chunk index.Chunk) error
}

// Ticket is one historical incident record from the tickets JSONL feed.
type Ticket struct {
	ID        string   `json:"id"`
	Service   string   `json:"service"`
	Component string   `json:"component"`
	ErrorCode string   `json:"error_code"`
	Version   string   `json:"version"`
	Env       string   `json:"env"`
	Summary   string   `json:"summary"`
	Details   string   `json:"details"`
	Keywords  []string `json:"keywords"`
}

// Body renders the ticket as a single embeddable text, front-loading
// the structured fields so they survive preview truncation.
func (t Ticket) Body() string {
	return fmt.Sprintf(
		"[service:%s] [component:%s] [error_code:%s] [version:%s] [env:%s] summary: %s details: %s",
		t.Service, t.Component, t.ErrorCode, t.Version, t.Env, t.Summary, t.Details,
	)
}

func (t Ticket) metadata() index.Metadata {
	keywords := append([]string(nil), t.Keywords...)
	if t.Component != "" {
		keywords = append(keywords, t.Component)
	}
	if t.Version != "" {
		keywords = append(keywords, t.Version)
	}
	return index.Metadata{
		Service:     t.Service,
		ErrorCode:   t.ErrorCode,
		Environment: t.Env,
		Keywords:    keywords,
	}
}

// CleanText collapses all whitespace runs to single spaces.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ChunkText cleans the text and splits it into fixed-size pieces of at
// most maxChars runes each.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	runes := []rune(CleanText(text))
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(runes)+maxChars-1)/maxChars)
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// Ingestor embeds source material and writes it to the index.
type Ingestor struct {
	embedder Embedder
	target   Upserter
	maxChars int
	logger   *zap.Logger
}

// New creates an Ingestor. maxChars of zero means DefaultMaxChunkChars.
func New(embedder Embedder, target Upserter, maxChars int, logger *zap.Logger) (*Ingestor, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrIngest)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: index required", ErrIngest)
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{embedder: embedder, target: target, maxChars: maxChars, logger: logger}, nil
}

// IngestTickets reads a JSONL stream of tickets, embedding and indexing
// one chunk per ticket. Blank lines are skipped. Returns the number of
// tickets indexed.
func (in *Ingestor) IngestTickets(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		tickets []Ticket
		bodies  []string
	)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		ticket, err := parseTicket(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: line %d: %w", ErrIngest, line, err)
		}
		tickets = append(tickets, ticket)
		bodies = append(bodies, ticket.Body())
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%w: reading tickets: %w", ErrIngest, err)
	}
	if len(tickets) == 0 {
		return 0, nil
	}

	indexed := 0
	for start := 0; start < len(tickets); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(tickets) {
			end = len(tickets)
		}
		vectors, err := in.embedder.EmbedDocuments(ctx, bodies[start:end])
		if err != nil {
			return indexed, fmt.Errorf("%w: embedding tickets: %w", ErrIngest, err)
		}
		for i, vector := range vectors {
			ticket := tickets[start+i]
			chunk := index.Chunk{
				ID:         fmt.Sprintf("ticket-%s", ticket.ID),
				DocumentID: fmt.Sprintf("ticket:%s", ticket.ID),
				Ordinal:    0,
				Text:       bodies[start+i],
				Vector:     vector,
				Metadata:   ticket.metadata(),
			}
			if err := in.target.Upsert(chunk); err != nil {
				return indexed, fmt.Errorf("%w: indexing ticket %s: %w", ErrIngest, ticket.ID, err)
			}
			indexed++
		}
	}

	in.logger.Info("tickets ingested", zap.Int("count", indexed))
	return indexed, nil
}

// IngestDocument chunks a runbook or manual and indexes every chunk
// under the given document id. Returns the number of chunks indexed.
func (in *Ingestor) IngestDocument(ctx context.Context, documentID, text string, meta index.Metadata) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("%w: document id required", ErrIngest)
	}
	chunks := ChunkText(text, in.maxChars)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyDocument, documentID)
	}

	indexed := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		vectors, err := in.embedder.EmbedDocuments(ctx, chunks[start:end])
		if err != nil {
			return indexed, fmt.Errorf("%w: embedding %s: %w", ErrIngest, documentID, err)
		}
		for i, vector := range vectors {
			ordinal := start + i
			chunk := index.Chunk{
				ID:         fmt.Sprintf("%s-%d", documentID, ordinal),
				DocumentID: documentID,
				Ordinal:    ordinal,
				Text:       chunks[ordinal],
				Vector:     vector,
				Metadata:   meta,
			}
			if err := in.target.Upsert(chunk); err != nil {
				return indexed, fmt.Errorf("%w: indexing %s chunk %d: %w", ErrIngest, documentID, ordinal, err)
			}
			indexed++
		}
	}

	in.logger.Info("document ingested",
		zap.String("document_id", documentID),
		zap.Int("chunks", indexed))
	return indexed, nil
}
