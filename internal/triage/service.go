// Package triage orchestrates the incident pipeline: embed the incident,
// retrieve similar material, propose a plan, gate it on confidence,
// notify, and record an auditable run.
package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/audit"
	"github.com/fyrsmithlabs/triaged/internal/gate"
	"github.com/fyrsmithlabs/triaged/internal/index"
	"github.com/fyrsmithlabs/triaged/internal/notify"
	"github.com/fyrsmithlabs/triaged/internal/planner"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/triage"

// ErrEmptyIncident indicates a run request with no incident text.
var ErrEmptyIncident = errors.New("incident text is empty")

// DefaultTopK is the retrieval depth when a request leaves it unset.
const DefaultTopK = 5

// Embedder turns incident text into a query vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds context candidates for a query vector.
type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, topK int, filter index.Filter) ([]retrieval.Candidate, error)
}

// Proposer generates a validated plan from an incident and its context.
type Proposer interface {
	Propose(ctx context.Context, req planner.Request) (*planner.Plan, error)
}

// Recorder persists and retrieves completed runs.
type Recorder interface {
	Record(ctx context.Context, run *audit.Run) error
	Get(ctx context.Context, id string) (*audit.Run, error)
	List(ctx context.Context, limit, offset int) ([]*audit.Run, error)
	Count(ctx context.Context) (int, error)
}

// Replayer re-executes a recorded run against the current index state.
type Replayer interface {
	Replay(ctx context.Context, runID string) (*audit.ReplayResult, error)
}

// Config holds pipeline-level settings.
type Config struct {
	// TopK is the default retrieval depth.
	TopK int

	// Thresholds gate plan confidence into a decision. They are
	// snapshotted onto every recorded run.
	Thresholds gate.Thresholds
}

// RunRequest is one incident submitted for triage.
type RunRequest struct {
	Incident string
	TopK     int
	Filter   index.Filter

	// Notify requests webhook delivery for non-discarded plans.
	Notify bool
}

// Service wires the pipeline stages together.
type Service struct {
	config    Config
	embedder  Embedder
	retriever Retriever
	proposer  Proposer
	recorder  Recorder
	replayer  Replayer
	notifier  notify.Notifier
	logger    *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	runCounter  metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewService creates the triage pipeline. The replayer and notifier are
// optional; everything else is required.
func NewService(cfg Config, embedder Embedder, retriever Retriever, proposer Proposer, recorder Recorder, replayer Replayer, notifier notify.Notifier, logger *zap.Logger) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if proposer == nil {
		return nil, errors.New("proposer is required")
	}
	if recorder == nil {
		return nil, errors.New("recorder is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("validating thresholds: %w", err)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		config:    cfg,
		embedder:  embedder,
		retriever: retriever,
		proposer:  proposer,
		recorder:  recorder,
		replayer:  replayer,
		notifier:  notifier,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.runCounter, err = s.meter.Int64Counter(
		"triaged.runs_total",
		metric.WithDescription("Total number of triage runs by decision"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn("failed to create run counter", zap.Error(err))
	}

	s.runDuration, err = s.meter.Float64Histogram(
		"triaged.run_duration_seconds",
		metric.WithDescription("End-to-end triage run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		s.logger.Warn("failed to create run duration histogram", zap.Error(err))
	}
}

// Search embeds the text and returns retrieval candidates without
// planning or recording anything.
func (s *Service) Search(ctx context.Context, text string, topK int, filter index.Filter) ([]retrieval.Candidate, error) {
	ctx, span := s.tracer.Start(ctx, "triage.search")
	defer span.End()

	if text == "" {
		return nil, ErrEmptyIncident
	}
	if topK <= 0 {
		topK = s.config.TopK
	}
	span.SetAttributes(attribute.Int("top_k", topK))

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	candidates, err := s.retriever.Retrieve(ctx, vector, topK, filter)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return candidates, nil
}

// Run executes the full pipeline for one incident. A run is recorded
// only once a terminal decision exists; plan generation failures and
// context errors propagate without touching the audit store.
func (s *Service) Run(ctx context.Context, req RunRequest) (*audit.Run, error) {
	ctx, span := s.tracer.Start(ctx, "triage.run")
	defer span.End()
	start := time.Now()

	if req.Incident == "" {
		return nil, ErrEmptyIncident
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.config.TopK
	}
	span.SetAttributes(attribute.Int("top_k", topK))

	vector, err := s.embedder.EmbedQuery(ctx, req.Incident)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding incident: %w", err)
	}

	candidates, err := s.retriever.Retrieve(ctx, vector, topK, req.Filter)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	severity := planner.ClassifySeverity(req.Incident, candidates)
	span.SetAttributes(attribute.String("severity", string(severity)))

	plan, err := s.proposer.Propose(ctx, planner.Request{
		Incident:   req.Incident,
		Candidates: candidates,
		Severity:   severity,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	decision := gate.Decide(plan.Confidence, s.config.Thresholds)
	span.SetAttributes(
		attribute.String("decision", string(decision)),
		attribute.Float64("confidence", plan.Confidence),
	)

	run := &audit.Run{
		IncidentText: req.Incident,
		TopK:         topK,
		Filter:       req.Filter,
		Candidates:   candidates,
		Severity:     severity,
		Plan:         *plan,
		Decision:     decision,
		Thresholds:   s.config.Thresholds,
		Notification: s.deliver(ctx, req, *plan, decision),
	}

	// The record must land even if the client goes away mid-request.
	if err := s.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("recording run: %w", err)
	}

	if s.runCounter != nil {
		s.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(decision))))
	}
	if s.runDuration != nil {
		s.runDuration.Record(ctx, time.Since(start).Seconds())
	}

	s.logger.Info("run completed",
		zap.String("run_id", run.ID),
		zap.String("decision", string(decision)),
		zap.Float64("confidence", plan.Confidence),
		zap.Int("candidates", len(candidates)))

	return run, nil
}

// deliver posts the plan when requested and the decision merits a human
// or automated follow-up. Discarded plans are never posted.
func (s *Service) deliver(ctx context.Context, req RunRequest, plan planner.Plan, decision gate.Decision) audit.Notification {
	if !req.Notify || decision == gate.Discard {
		return audit.Notification{Status: audit.NotifySkipped}
	}
	if err := s.notifier.PostPlan(ctx, req.Incident, plan); err != nil {
		s.logger.Warn("notification failed", zap.Error(err))
		return audit.Notification{Status: audit.NotifyFailed, Detail: err.Error()}
	}
	return audit.Notification{Status: audit.NotifyPosted}
}

// GetRun fetches a recorded run by id.
func (s *Service) GetRun(ctx context.Context, id string) (*audit.Run, error) {
	return s.recorder.Get(ctx, id)
}

// ListRuns returns recorded runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]*audit.Run, int, error) {
	runs, err := s.recorder.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.recorder.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// Replay re-executes a recorded run.
func (s *Service) Replay(ctx context.Context, runID string) (*audit.ReplayResult, error) {
	if s.replayer == nil {
		return nil, errors.New("replay is not configured")
	}
	ctx, span := s.tracer.Start(ctx, "triage.replay")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	result, err := s.replayer.Replay(ctx, runID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}
