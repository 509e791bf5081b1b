package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/QTest-hq/qsearch/internal/ga"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned when a run does not exist
var ErrRunNotFound = errors.New("run not found")

// Run is the persisted summary of one search
type Run struct {
	ID          uuid.UUID        `json:"id"`
	Algorithm   string           `json:"algorithm"`
	Scope       string           `json:"scope"`
	Criteria    []string         `json:"criteria"`
	Seed        int64            `json:"seed"`
	Status      string           `json:"status"`
	Config      json.RawMessage  `json:"config"`
	Iterations  int              `json:"iterations"`
	Executions  int              `json:"executions"`
	Covered     int              `json:"covered_goals"`
	Total       int              `json:"total_goals"`
	Coverage    float64          `json:"coverage"`
	Fitness     float64          `json:"fitness"`
	Report      *json.RawMessage `json:"report,omitempty"`
	Error       *string          `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Result is what a finished search contributes to its run row
type Result struct {
	Status     string
	Iterations int
	Executions int
	Covered    int
	Total      int
	Coverage   float64
	Fitness    float64
	Report     json.RawMessage
	Err        error
}

// ResultFromStatus builds a result from the final status of a search
func ResultFromStatus(s ga.Status, err error, cancelled bool) Result {
	r := Result{
		Status:     StatusCompleted,
		Iterations: s.Iteration,
		Executions: s.Executions,
		Covered:    s.Covered,
		Total:      s.Total,
		Coverage:   s.Coverage,
		Fitness:    s.Fitness,
		Err:        err,
	}
	switch {
	case err != nil:
		r.Status = StatusFailed
	case cancelled:
		r.Status = StatusCancelled
	}
	return r
}

// RunStore records search runs
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new run store
func NewRunStore(db *DB) *RunStore {
	return &RunStore{pool: db.Pool()}
}

// CreateRun inserts a run in the running state
func (s *RunStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = StatusRunning
	run.StartedAt = time.Now()
	if run.Config == nil {
		run.Config = json.RawMessage(`{}`)
	}
	if run.Criteria == nil {
		run.Criteria = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO search_runs (id, algorithm, scope, criteria, seed, status, config, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.Algorithm, run.Scope, run.Criteria, run.Seed, run.Status, run.Config, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// CompleteRun stores the outcome of a run
func (s *RunStore) CompleteRun(ctx context.Context, id uuid.UUID, result Result) error {
	var errMsg *string
	if result.Err != nil {
		msg := result.Err.Error()
		errMsg = &msg
	}

	var report any
	if len(result.Report) > 0 {
		report = result.Report
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE search_runs
		SET status = $2, iterations = $3, executions = $4, covered_goals = $5, total_goals = $6,
			coverage = $7, fitness = $8, report = $9, error_message = $10, completed_at = $11
		WHERE id = $1
	`, id, result.Status, result.Iterations, result.Executions, result.Covered, result.Total,
		result.Coverage, result.Fitness, report, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}

	return nil
}

const runColumns = `id, algorithm, scope, criteria, seed, status, config, iterations, executions,
	covered_goals, total_goals, coverage, fitness, report, error_message, started_at, completed_at`

// GetRun gets a run by ID
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM search_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs, newest first
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM search_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	err := row.Scan(&run.ID, &run.Algorithm, &run.Scope, &run.Criteria, &run.Seed, &run.Status, &run.Config,
		&run.Iterations, &run.Executions, &run.Covered, &run.Total, &run.Coverage, &run.Fitness,
		&run.Report, &run.Error, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}
