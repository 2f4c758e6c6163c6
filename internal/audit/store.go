package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/triaged/internal/gate"
	"github.com/fyrsmithlabs/triaged/internal/planner"
)

// Sentinel errors for store operations.
var (
	// ErrDuplicateRun is returned when a run id already exists. Ids are
	// generated by the store itself, so this indicates caller misuse.
	ErrDuplicateRun = errors.New("duplicate run id")

	// ErrNotFound is returned when no run exists for the given id.
	ErrNotFound = errors.New("run not found")
)

// timestampLayout is fixed-width so that lexicographic order on the TEXT
// column matches chronological order. RFC3339Nano trims trailing zeros,
// which breaks ORDER BY for runs recorded within the same second.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	created_at     TEXT NOT NULL,
	incident       TEXT NOT NULL,
	top_k          INTEGER NOT NULL,
	filter         TEXT NOT NULL,
	candidates     TEXT NOT NULL,
	severity       TEXT NOT NULL,
	plan           TEXT NOT NULL,
	decision       TEXT NOT NULL,
	threshold_min  REAL NOT NULL,
	threshold_auto REAL NOT NULL,
	notification   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// Store is the append-only run store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the run store at path. Use ":memory:" for an
// ephemeral store in tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path required")
	}

	// WAL keeps concurrent readers unblocked by the single writer.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing run store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a run. If the run has no id the store assigns one; a
// pre-set id that already exists fails with ErrDuplicateRun. The insert
// is a single statement, so the run becomes visible atomically.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.ID == "" {
		run.ID = "run_" + uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	filterJSON, err := json.Marshal(run.Filter)
	if err != nil {
		return fmt.Errorf("encoding filter: %w", err)
	}
	candJSON, err := json.Marshal(run.Candidates)
	if err != nil {
		return fmt.Errorf("encoding candidates: %w", err)
	}
	planJSON, err := json.Marshal(run.Plan)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	notifyJSON, err := json.Marshal(run.Notification)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, incident, top_k, filter, candidates,
			severity, plan, decision, threshold_min, threshold_auto, notification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.CreatedAt.UTC().Format(timestampLayout),
		run.IncidentText,
		run.TopK,
		string(filterJSON),
		string(candJSON),
		string(run.Severity),
		string(planJSON),
		string(run.Decision),
		run.Thresholds.Min,
		run.Thresholds.Auto,
		string(notifyJSON),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
		}
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, incident, top_k, filter, candidates,
			severity, plan, decision, threshold_min, threshold_auto, notification
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	return run, nil
}

// List returns up to limit runs, most recent first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, incident, top_k, filter, candidates,
			severity, plan, decision, threshold_min, threshold_auto, notification
		FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// Count returns the total number of recorded runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		createdAt  string
		filterJSON string
		candJSON   string
		severity   string
		planJSON   string
		decision   string
		notifyJSON string
	)
	err := row.Scan(&run.ID, &createdAt, &run.IncidentText, &run.TopK,
		&filterJSON, &candJSON, &severity, &planJSON, &decision,
		&run.Thresholds.Min, &run.Thresholds.Auto, &notifyJSON)
	if err != nil {
		return nil, err
	}

	run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(filterJSON), &run.Filter); err != nil {
		return nil, fmt.Errorf("decoding filter: %w", err)
	}
	if candJSON != "null" {
		if err := json.Unmarshal([]byte(candJSON), &run.Candidates); err != nil {
			return nil, fmt.Errorf("decoding candidates: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(planJSON), &run.Plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	if err := json.Unmarshal([]byte(notifyJSON), &run.Notification); err != nil {
		return nil, fmt.Errorf("decoding notification: %w", err)
	}
	run.Severity = planner.Severity(severity)
	run.Decision = gate.Decision(decision)
	return &run, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
