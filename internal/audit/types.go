package audit

import (
	"time"

	"github.com/fyrsmithlabs/triaged/internal/gate"
	"github.com/fyrsmithlabs/triaged/internal/index"
	"github.com/fyrsmithlabs/triaged/internal/planner"
	"github.com/fyrsmithlabs/triaged/internal/retrieval"
)

// NotifyStatus describes the outcome of the external notification attempt.
type NotifyStatus string

const (
	// NotifySkipped means no notification was attempted for this run.
	NotifySkipped NotifyStatus = "skipped"
	// NotifyPosted means the notification was delivered.
	NotifyPosted NotifyStatus = "posted"
	// NotifyFailed means delivery was attempted and failed. The failure
	// is recorded but never reverses the gate decision.
	NotifyFailed NotifyStatus = "failed"
)

// Notification records what happened when the run's summary was pushed to
// the notification collaborator.
type Notification struct {
	Status NotifyStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// Run is the audit unit of work: one record per incoming incident,
// append-only once the terminal decision is recorded.
//
// A Run owns a copy of its Plan and lightweight candidate references (id,
// score, preview), never live links into the index. Chunks may be
// re-indexed independently of any Run that referenced them; replay
// surfaces such drift as divergence notes.
type Run struct {
	ID           string                `json:"id"`
	IncidentText string                `json:"incident_text"`
	CreatedAt    time.Time             `json:"created_at"`
	TopK         int                   `json:"top_k"`
	Filter       index.Filter          `json:"filter"`
	Candidates   []retrieval.Candidate `json:"candidates"`
	Severity     planner.Severity      `json:"severity"`
	Plan         planner.Plan          `json:"plan"`
	Decision     gate.Decision         `json:"decision"`
	Thresholds   gate.Thresholds       `json:"thresholds"`
	Notification Notification          `json:"notification"`
}

// ReplayResult is the outcome of reconstructing a past run.
type ReplayResult struct {
	RunID      string                `json:"run_id"`
	ReplayedAt time.Time             `json:"replayed_at"`
	Candidates []retrieval.Candidate `json:"candidates"`
	Plan       planner.Plan          `json:"plan"`
	Decision   gate.Decision         `json:"decision"`

	// Divergence lists differences between the stored retrieval context
	// and the current index: missing chunks, changed text. Empty means
	// the context was reconstructed exactly.
	Divergence []string `json:"divergence,omitempty"`

	// Reproduced reports whether the replayed plan and decision match
	// the originals exactly.
	Reproduced bool `json:"reproduced"`
}
