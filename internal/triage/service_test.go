package triage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/triaged/internal/audit"
	"github.com/fyrsmithlabs/triaged/internal/gate"
	"github.com/fyrsmithlabs/triaged/internal/index"
	"github.com/fyrsmithlabs/triaged/internal/notify"
	"github.com/fyrsmithlabs/triaged/internal/planner"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return s.vector, s.err
}

type stubRetriever struct {
	candidates []retrieval.Candidate
	err        error
}

func (s *stubRetriever) Retrieve(context.Context, []float32, int, index.Filter) ([]retrieval.Candidate, error) {
	return s.candidates, s.err
}

type stubProposer struct {
	plan *planner.Plan
	err  error
}

func (s *stubProposer) Propose(context.Context, planner.Request) (*planner.Plan, error) {
	return s.plan, s.err
}

type memoryRecorder struct {
	runs []*audit.Run
	err  error
}

func (m *memoryRecorder) Record(_ context.Context, run *audit.Run) error {
	if m.err != nil {
		return m.err
	}
	if run.ID == "" {
		run.ID = fmt.Sprintf("run_%d", len(m.runs)+1)
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryRecorder) Get(_ context.Context, id string) (*audit.Run, error) {
	for _, run := range m.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, audit.ErrNotFound
}

func (m *memoryRecorder) List(context.Context, int, int) ([]*audit.Run, error) {
	return m.runs, nil
}

func (m *memoryRecorder) Count(context.Context) (int, error) {
	return len(m.runs), nil
}

type recordingNotifier struct {
	posted []string
	err    error
}

func (r *recordingNotifier) PostPlan(_ context.Context, incident string, _ planner.Plan) error {
	if r.err != nil {
		return r.err
	}
	r.posted = append(r.posted, incident)
	return nil
}

func testThresholds() gate.Thresholds {
	return gate.Thresholds{Min: 0.65, Auto: 0.80}
}

func testCandidates() []retrieval.Candidate {
	return []retrieval.Candidate{
		{ChunkID: "ticket-T-1", Score: 0.91, Preview: "auth 500s after deploy", Service: "auth", ErrorCode: "AUTH-500"},
	}
}

func testPlan(confidence float64) *planner.Plan {
	return &planner.Plan{
		Steps:      []string{"Roll back the auth deploy"},
		Risks:      []string{"Roll back drops new config"},
		Confidence: confidence,
		Sources:    []string{"ticket-T-1"},
	}
}

func newService(t *testing.T, proposer Proposer, recorder Recorder, notifier *recordingNotifier) *Service {
	t.Helper()
	var nf notify.Notifier
	if notifier != nil {
		nf = notifier
	}
	svc, err := NewService(
		Config{TopK: 5, Thresholds: testThresholds()},
		&stubEmbedder{vector: []float32{1, 0, 0}},
		&stubRetriever{candidates: testCandidates()},
		proposer,
		recorder,
		nil,
		nf,
		nil,
	)
	require.NoError(t, err)
	return svc
}

func TestRun_AutoFix(t *testing.T) {
	recorder := &memoryRecorder{}
	notifier := &recordingNotifier{}
	svc := newService(t, &stubProposer{plan: testPlan(0.9)}, recorder, notifier)

	run, err := svc.Run(context.Background(), RunRequest{Incident: "AUTH-500 after login", Notify: true})
	require.NoError(t, err)

	assert.Equal(t, gate.AutoFix, run.Decision)
	assert.Equal(t, testThresholds(), run.Thresholds)
	assert.Equal(t, audit.NotifyPosted, run.Notification.Status)
	assert.Equal(t, []string{"AUTH-500 after login"}, notifier.posted)
	require.Len(t, recorder.runs, 1)
	assert.Equal(t, run.ID, recorder.runs[0].ID)
}

func TestRun_NeedsHuman(t *testing.T) {
	recorder := &memoryRecorder{}
	svc := newService(t, &stubProposer{plan: testPlan(0.7)}, recorder, &recordingNotifier{})

	run, err := svc.Run(context.Background(), RunRequest{Incident: "billing timeouts"})
	require.NoError(t, err)
	assert.Equal(t, gate.NeedsHuman, run.Decision)
	assert.Equal(t, audit.NotifySkipped, run.Notification.Status)
}

func TestRun_DiscardNeverNotifies(t *testing.T) {
	recorder := &memoryRecorder{}
	notifier := &recordingNotifier{}
	svc := newService(t, &stubProposer{plan: testPlan(0.2)}, recorder, notifier)

	run, err := svc.Run(context.Background(), RunRequest{Incident: "flaky test", Notify: true})
	require.NoError(t, err)

	assert.Equal(t, gate.Discard, run.Decision)
	assert.Equal(t, audit.NotifySkipped, run.Notification.Status)
	assert.Empty(t, notifier.posted)
	assert.Len(t, recorder.runs, 1)
}

func TestRun_NotifyFailureStillRecords(t *testing.T) {
	recorder := &memoryRecorder{}
	notifier := &recordingNotifier{err: errors.New("webhook down")}
	svc := newService(t, &stubProposer{plan: testPlan(0.9)}, recorder, notifier)

	run, err := svc.Run(context.Background(), RunRequest{Incident: "AUTH-500", Notify: true})
	require.NoError(t, err)

	assert.Equal(t, audit.NotifyFailed, run.Notification.Status)
	assert.Contains(t, run.Notification.Detail, "webhook down")
	assert.Len(t, recorder.runs, 1)
}

func TestRun_PlanFailureRecordsNothing(t *testing.T) {
	recorder := &memoryRecorder{}
	svc := newService(t, &stubProposer{err: fmt.Errorf("%w after 2 attempts", planner.ErrPlanGeneration)}, recorder, nil)

	_, err := svc.Run(context.Background(), RunRequest{Incident: "unknown alert"})
	assert.ErrorIs(t, err, planner.ErrPlanGeneration)
	assert.Empty(t, recorder.runs)
}

func TestRun_ContextErrorRecordsNothing(t *testing.T) {
	recorder := &memoryRecorder{}
	svc := newService(t, &stubProposer{err: context.DeadlineExceeded}, recorder, nil)

	_, err := svc.Run(context.Background(), RunRequest{Incident: "slow llm"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, planner.ErrPlanGeneration)
	assert.Empty(t, recorder.runs)
}

func TestRun_RetrievalErrorPropagates(t *testing.T) {
	recorder := &memoryRecorder{}
	svc, err := NewService(
		Config{Thresholds: testThresholds()},
		&stubEmbedder{vector: []float32{1, 0, 0}},
		&stubRetriever{err: fmt.Errorf("%w: index offline", retrieval.ErrRetrieval)},
		&stubProposer{plan: testPlan(0.9)},
		recorder,
		nil, nil, nil,
	)
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), RunRequest{Incident: "incident"})
	assert.ErrorIs(t, err, retrieval.ErrRetrieval)
	assert.Empty(t, recorder.runs)
}

func TestRun_EmptyIncident(t *testing.T) {
	svc := newService(t, &stubProposer{plan: testPlan(0.9)}, &memoryRecorder{}, nil)

	_, err := svc.Run(context.Background(), RunRequest{})
	assert.ErrorIs(t, err, ErrEmptyIncident)
}

func TestSearch(t *testing.T) {
	svc := newService(t, &stubProposer{plan: testPlan(0.9)}, &memoryRecorder{}, nil)

	candidates, err := svc.Search(context.Background(), "auth errors", 0, index.Filter{Service: "auth"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "ticket-T-1", candidates[0].ChunkID)
}

func TestListRuns(t *testing.T) {
	recorder := &memoryRecorder{}
	svc := newService(t, &stubProposer{plan: testPlan(0.9)}, recorder, nil)

	_, err := svc.Run(context.Background(), RunRequest{Incident: "first"})
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), RunRequest{Incident: "second"})
	require.NoError(t, err)

	runs, total, err := svc.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, 2, total)
}

func TestNewService_Validation(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1}}
	retriever := &stubRetriever{}
	proposer := &stubProposer{plan: testPlan(0.9)}
	recorder := &memoryRecorder{}
	cfg := Config{Thresholds: testThresholds()}

	_, err := NewService(cfg, nil, retriever, proposer, recorder, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewService(cfg, embedder, nil, proposer, recorder, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewService(cfg, embedder, retriever, nil, recorder, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewService(cfg, embedder, retriever, proposer, nil, nil, nil, nil)
	assert.Error(t, err)

	bad := Config{Thresholds: gate.Thresholds{Min: 0.9, Auto: 0.5}}
	_, err = NewService(bad, embedder, retriever, proposer, recorder, nil, nil, nil)
	assert.Error(t, err)
}
