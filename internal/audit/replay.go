package audit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/gate"
	"github.com/fyrsmithlabs/triaged/internal/index"
	"github.com/fyrsmithlabs/triaged/internal/planner"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
)

// unavailablePreview marks a candidate whose source chunk is gone. The
// replay still completes; the gap is surfaced as a divergence note.
const unavailablePreview = "unavailable"

// ChunkSource resolves chunk ids to their current contents. The embedding
// index satisfies this; replay never re-invokes its ranking.
type ChunkSource interface {
	Get(id string) (*index.Chunk, bool)
}

// Proposer re-runs plan generation during replay.
type Proposer interface {
	Propose(ctx context.Context, req planner.Request) (*planner.Plan, error)
}

// Replayer reconstructs past runs from stored candidate references.
type Replayer struct {
	store         *Store
	chunks        ChunkSource
	proposer      Proposer
	previewLength int
	logger        *zap.Logger
}

// NewReplayer creates a replayer. previewLength must match the retriever
// configuration so reconstructed previews line up with the originals.
func NewReplayer(store *Store, chunks ChunkSource, proposer Proposer, previewLength int, logger *zap.Logger) (*Replayer, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if chunks == nil {
		return nil, errors.New("chunk source is required")
	}
	if proposer == nil {
		return nil, errors.New("proposer is required")
	}
	if previewLength <= 0 {
		previewLength = retrieval.DefaultPreviewLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{
		store:         store,
		chunks:        chunks,
		proposer:      proposer,
		previewLength: previewLength,
		logger:        logger,
	}, nil
}

// Replay reconstructs the retrieval context of a stored run, re-runs the
// plan contract and the confidence gate with the thresholds snapshotted on
// the run, and reports any divergence from the original index state.
//
// Missing chunks do not fail the replay: their previews are marked
// unavailable. Index drift is never hidden; every difference between the
// stored context and the current one lands in ReplayResult.Divergence.
func (r *Replayer) Replay(ctx context.Context, runID string) (*ReplayResult, error) {
	run, err := r.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	candidates, divergence := r.reconstruct(run)

	plan, err := r.proposer.Propose(ctx, planner.Request{
		Incident:   run.IncidentText,
		Candidates: candidates,
		Severity:   planner.ClassifySeverity(run.IncidentText, candidates),
	})
	if err != nil {
		return nil, fmt.Errorf("replaying run %s: %w", runID, err)
	}

	decision := gate.Decide(plan.Confidence, run.Thresholds)

	result := &ReplayResult{
		RunID:      run.ID,
		ReplayedAt: time.Now().UTC(),
		Candidates: candidates,
		Plan:       *plan,
		Decision:   decision,
		Divergence: divergence,
		Reproduced: decision == run.Decision && reflect.DeepEqual(*plan, run.Plan),
	}

	if len(divergence) > 0 {
		r.logger.Warn("replay diverged from original index state",
			zap.String("run_id", run.ID),
			zap.Strings("divergence", divergence))
	}

	return result, nil
}

// reconstruct rebuilds the context window from stored candidate refs,
// re-fetching current chunk text by id. Ranking is taken from the stored
// order, never recomputed.
func (r *Replayer) reconstruct(run *Run) ([]retrieval.Candidate, []string) {
	candidates := make([]retrieval.Candidate, 0, len(run.Candidates))
	var divergence []string

	for _, ref := range run.Candidates {
		cand := ref
		chunk, ok := r.chunks.Get(ref.ChunkID)
		if !ok {
			cand.Preview = unavailablePreview
			divergence = append(divergence, fmt.Sprintf("chunk %s no longer indexed", ref.ChunkID))
		} else {
			cand.Preview = retrieval.Truncate(chunk.Text, r.previewLength)
			cand.Service = chunk.Metadata.Service
			cand.ErrorCode = chunk.Metadata.ErrorCode
			if cand.Preview != ref.Preview {
				divergence = append(divergence, fmt.Sprintf("chunk %s text changed since run", ref.ChunkID))
			}
		}
		candidates = append(candidates, cand)
	}
	return candidates, divergence
}
