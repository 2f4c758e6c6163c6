package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/triaged/internal/index"
)

type fixedEmbedder struct {
	dimension int
	err       error
	calls     int
}

func (f *fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dimension)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

const ticketsJSONL = `{"id":"T-1","service":"auth","component":"login","error_code":"AUTH-500","version":"2.3.1","env":"prod","summary":"500s after login","details":"token cache stale","keywords":["oauth"]}

{"id":"T-2","service":"billing","error_code":"BILL-402","env":"staging","summary":"card declines","details":"gateway timeout"}
`

func newIngestor(t *testing.T, dimension int) (*Ingestor, *index.Index) {
	t.Helper()
	idx, err := index.New(dimension)
	require.NoError(t, err)
	ing, err := New(&fixedEmbedder{dimension: dimension}, idx, 0, nil)
	require.NoError(t, err)
	return ing, idx
}

func TestIngestTickets(t *testing.T) {
	ing, idx := newIngestor(t, 4)

	count, err := ing.IngestTickets(context.Background(), strings.NewReader(ticketsJSONL))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, idx.Len())

	chunk, ok := idx.Get("ticket-T-1")
	require.True(t, ok)
	assert.Equal(t, "auth", chunk.Metadata.Service)
	assert.Equal(t, "AUTH-500", chunk.Metadata.ErrorCode)
	assert.Equal(t, "prod", chunk.Metadata.Environment)
	assert.Contains(t, chunk.Metadata.Keywords, "oauth")
	assert.Contains(t, chunk.Metadata.Keywords, "login")
	assert.Contains(t, chunk.Text, "[service:auth]")
	assert.Contains(t, chunk.Text, "summary: 500s after login")
}

func TestIngestTickets_MissingID(t *testing.T) {
	ing, _ := newIngestor(t, 4)

	_, err := ing.IngestTickets(context.Background(), strings.NewReader(`{"service":"auth"}`))
	assert.ErrorIs(t, err, ErrIngest)
}

func TestIngestTickets_MalformedLine(t *testing.T) {
	ing, _ := newIngestor(t, 4)

	_, err := ing.IngestTickets(context.Background(), strings.NewReader("not json\n"))
	assert.ErrorIs(t, err, ErrIngest)
}

func TestIngestTickets_Empty(t *testing.T) {
	ing, idx := newIngestor(t, 4)

	count, err := ing.IngestTickets(context.Background(), strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, idx.Len())
}

func TestIngestTickets_EmbedderError(t *testing.T) {
	idx, err := index.New(4)
	require.NoError(t, err)
	ing, err := New(&fixedEmbedder{dimension: 4, err: errors.New("boom")}, idx, 0, nil)
	require.NoError(t, err)

	_, err = ing.IngestTickets(context.Background(), strings.NewReader(ticketsJSONL))
	assert.ErrorIs(t, err, ErrIngest)
}

func TestIngestDocument(t *testing.T) {
	ing, idx := newIngestor(t, 4)

	text := strings.Repeat("restart the gateway and check upstream health ", 60)
	count, err := ing.IngestDocument(context.Background(), "runbook-gw", text, index.Metadata{Service: "gateway"})
	require.NoError(t, err)
	assert.Greater(t, count, 1)
	assert.Equal(t, count, idx.Len())

	first, ok := idx.Get("runbook-gw-0")
	require.True(t, ok)
	assert.Equal(t, "runbook-gw", first.DocumentID)
	assert.Equal(t, 0, first.Ordinal)
	assert.Equal(t, "gateway", first.Metadata.Service)
	assert.LessOrEqual(t, len([]rune(first.Text)), DefaultMaxChunkChars)
}

func TestIngestDocument_Empty(t *testing.T) {
	ing, _ := newIngestor(t, 4)

	_, err := ing.IngestDocument(context.Background(), "runbook-empty", "   \n\t ", index.Metadata{})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestChunkText(t *testing.T) {
	t.Run("collapses whitespace", func(t *testing.T) {
		chunks := ChunkText("a\n\nb\t c", 100)
		require.Len(t, chunks, 1)
		assert.Equal(t, "a b c", chunks[0])
	})

	t.Run("splits on rune boundaries", func(t *testing.T) {
		chunks := ChunkText(strings.Repeat("é", 10), 4)
		require.Len(t, chunks, 3)
		assert.Equal(t, "éééé", chunks[0])
		assert.Equal(t, "éé", chunks[2])
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, ChunkText("", 100))
	})
}
