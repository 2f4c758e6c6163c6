package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/triaged/internal/gate"
	"github.com/fyrsmithlabs/triaged/internal/index"
	"github.com/fyrsmithlabs/triaged/internal/planner"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun() *Run {
	return &Run{
		IncidentText: "AUTH-500 after deploying auth v2",
		TopK:         5,
		Filter:       index.Filter{Service: "auth"},
		Candidates: []retrieval.Candidate{
			{ChunkID: "chunk-a", Score: 0.91, Preview: "restart the auth cache", Service: "auth", ErrorCode: "AUTH-500"},
			{ChunkID: "chunk-b", Score: 0.72, Preview: "rotate session keys", Service: "auth"},
		},
		Severity: planner.SeverityHigh,
		Plan: planner.Plan{
			Steps:      []string{"Restart the auth cache", "Verify login"},
			Risks:      []string{"Brief session loss"},
			Confidence: 0.82,
			Sources:    []string{"chunk-a"},
		},
		Decision:     gate.AutoFix,
		Thresholds:   gate.Thresholds{Min: 0.65, Auto: 0.80},
		Notification: Notification{Status: NotifyPosted},
	}
}

func TestRecord_AssignsID(t *testing.T) {
	s := newTestStore(t)
	run := sampleRun()

	require.NoError(t, s.Record(context.Background(), run))
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.CreatedAt.IsZero())
}

func TestRecord_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	run := sampleRun()
	require.NoError(t, s.Record(context.Background(), run))

	dup := sampleRun()
	dup.ID = run.ID
	err := s.Record(context.Background(), dup)
	require.ErrorIs(t, err, ErrDuplicateRun)
}

func TestGet_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	run := sampleRun()
	require.NoError(t, s.Record(context.Background(), run))

	got, err := s.Get(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.IncidentText, got.IncidentText)
	assert.Equal(t, run.TopK, got.TopK)
	assert.Equal(t, run.Filter, got.Filter)
	assert.Equal(t, run.Candidates, got.Candidates)
	assert.Equal(t, run.Severity, got.Severity)
	assert.Equal(t, run.Plan, got.Plan)
	assert.Equal(t, run.Decision, got.Decision)
	assert.Equal(t, run.Thresholds, got.Thresholds)
	assert.Equal(t, run.Notification, got.Notification)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "run_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestList_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		run := sampleRun()
		run.IncidentText = string(rune('a' + i))
		run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Record(context.Background(), run))
	}

	runs, err := s.List(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].IncidentText)
	assert.Equal(t, "b", runs[1].IncidentText)

	rest, err := s.List(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "a", rest[0].IncidentText)
}

func TestList_SubSecondOrdering(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	// Fractional seconds whose variable-width renderings would sort
	// wrong lexicographically (".5" vs ".52").
	older := sampleRun()
	older.IncidentText = "older"
	older.CreatedAt = base.Add(500 * time.Millisecond)
	require.NoError(t, s.Record(context.Background(), older))

	newer := sampleRun()
	newer.IncidentText = "newer"
	newer.CreatedAt = base.Add(520 * time.Millisecond)
	require.NoError(t, s.Record(context.Background(), newer))

	runs, err := s.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].IncidentText)
	assert.Equal(t, "older", runs[1].IncidentText)
}

func TestCount(t *testing.T) {
	s := newTestStore(t)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.Record(context.Background(), sampleRun()))
	n, err = s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecord_EmptyCandidates(t *testing.T) {
	s := newTestStore(t)
	run := sampleRun()
	run.Candidates = nil
	require.NoError(t, s.Record(context.Background(), run))

	got, err := s.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Candidates)
}
