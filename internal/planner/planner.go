package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/retrieval"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/planner"

// Sentinel errors for plan generation.
var (
	// ErrPlanGeneration is returned when no valid plan was produced
	// within the attempt bound.
	ErrPlanGeneration = errors.New("plan generation failed")

	// ErrInvalidPlan marks a candidate plan that violates the contract.
	// It is retried internally and only surfaces wrapped in
	// ErrPlanGeneration.
	ErrInvalidPlan = errors.New("invalid plan")
)

// Plan is the validated structured output of reasoning.
//
// Invariants, enforced before a Plan leaves this package: Confidence is in
// [0, 1], Steps is non-empty, and every id in Sources references a chunk
// from the retrieval pass that produced the planning context.
type Plan struct {
	Steps      []string `json:"steps"`
	Risks      []string `json:"risks"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
}

// Generator is the opaque external reasoning capability. It may be slow,
// unreliable, or return malformed text; all of that is handled here.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config controls the plan contract service.
type Config struct {
	// MaxAttempts bounds generation calls per incident. The first
	// invalid-output retry carries a corrective instruction; once the
	// bound is reached the service fails with ErrPlanGeneration even if
	// a further call would have succeeded.
	MaxAttempts int

	// AttemptTimeout bounds a single generation call. Zero disables the
	// per-attempt deadline (the generator's own timeout still applies).
	AttemptTimeout time.Duration
}

// DefaultConfig returns the service defaults: two attempts, 60s each.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    2,
		AttemptTimeout: 60 * time.Second,
	}
}

// Service drives the generate-parse-validate loop.
type Service struct {
	gen    Generator
	config Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewService creates a plan contract service.
func NewService(gen Generator, cfg Config, logger *zap.Logger) (*Service, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gen:    gen,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Request carries the planning inputs.
type Request struct {
	Incident   string
	Candidates []retrieval.Candidate
	Severity   Severity
}

// Propose generates a validated plan for the incident.
//
// Invalid output (malformed JSON, contract violations) is retried with a
// corrective instruction appended to the prompt, up to the configured
// attempt bound. Context cancellation and deadline expiry abort
// immediately and propagate unchanged so the caller can distinguish a
// timeout from exhausted retries.
func (s *Service) Propose(ctx context.Context, req Request) (*Plan, error) {
	ctx, span := s.tracer.Start(ctx, "planner.propose")
	defer span.End()
	span.SetAttributes(
		attribute.Int("candidates", len(req.Candidates)),
		attribute.String("severity", string(req.Severity)),
	)

	prompt := BuildPrompt(req)
	var lastErr error

	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		raw, err := s.generate(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			s.logger.Warn("generation call failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		plan, err := ParsePlan(raw)
		if err == nil {
			err = Validate(plan, req.Candidates)
		}
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return plan, nil
		}

		lastErr = err
		s.logger.Warn("plan rejected",
			zap.Int("attempt", attempt),
			zap.Error(err))
		prompt = BuildPrompt(req) + correctiveInstruction(err)
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrPlanGeneration, s.config.MaxAttempts, lastErr)
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	if s.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.AttemptTimeout)
		defer cancel()
	}
	return s.gen.Generate(ctx, prompt)
}

// systemInstruction pins the wire shape the generator must produce.
const systemInstruction = "You are an incident fixer. Output ONLY compact JSON with keys: " +
	"plan.steps[] as strings, plan.risks[] as strings, confidence float 0-1, sources[] chunk ids. " +
	"Keep steps actionable. Cite only the provided chunk ids. No prose, no markdown, only JSON."

// BuildPrompt renders the planning prompt from the incident, the retrieved
// context window and the severity hint. The context lines use the already
// truncated candidate previews, which bounds prompt size.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\nIncident (severity ")
	b.WriteString(string(req.Severity))
	b.WriteString("):\n")
	b.WriteString(req.Incident)
	b.WriteString("\n\nContext (top hits):\n")
	for _, c := range req.Candidates {
		fmt.Fprintf(&b, "[id:%s] [svc:%s] [code:%s] %s\n", c.ChunkID, c.Service, c.ErrorCode, c.Preview)
	}
	b.WriteString("\nReturn JSON only.")
	return b.String()
}

func correctiveInstruction(err error) string {
	return fmt.Sprintf("\n\nYour previous response was rejected: %v. "+
		"Respond again with ONLY the JSON object described above.", err)
}

// planEnvelope is the expected wire shape of the generator's response.
type planEnvelope struct {
	Plan struct {
		Steps []string `json:"steps"`
		Risks []string `json:"risks"`
	} `json:"plan"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
}

// ParsePlan parses raw generator output into a candidate plan. Markdown
// code fences are tolerated since models wrap JSON in them; anything else
// that fails to decode is an ErrInvalidPlan.
func ParsePlan(raw string) (*Plan, error) {
	content := strings.TrimSpace(raw)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var env planEnvelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON: %v", ErrInvalidPlan, err)
	}

	return &Plan{
		Steps:      env.Plan.Steps,
		Risks:      env.Plan.Risks,
		Confidence: env.Confidence,
		Sources:    env.Sources,
	}, nil
}

// Validate checks the plan contract against the candidates that produced
// the planning context. Cited ids outside that set are hallucinated
// sources and rejected.
func Validate(plan *Plan, candidates []retrieval.Candidate) error {
	if plan.Confidence < 0 || plan.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrInvalidPlan, plan.Confidence)
	}
	if len(plan.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidPlan)
	}
	for _, step := range plan.Steps {
		if strings.TrimSpace(step) == "" {
			return fmt.Errorf("%w: blank step", ErrInvalidPlan)
		}
	}

	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		known[c.ChunkID] = struct{}{}
	}
	for _, id := range plan.Sources {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: cited source %q was not retrieved", ErrInvalidPlan, id)
		}
	}
	return nil
}
