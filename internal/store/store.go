// Package store persists runs and their results to Postgres: the run
// header, the per-trip records, and optional mid-run snapshots.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/trips"
)

// ErrNotFound reports a missing run or snapshot.
var ErrNotFound = errors.New("store: not found")

// RunStatus is the lifecycle of a persisted run.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunFinished  RunStatus = "FINISHED"
	RunFailed    RunStatus = "FAILED"
	RunTruncated RunStatus = "TRUNCATED"
)

// Run is the persisted header of one simulation run.
type Run struct {
	ID          uuid.UUID      `json:"id"`
	Scenario    string         `json:"scenario"`
	Network     string         `json:"network"`
	Seed        int64          `json:"seed"`
	Status      RunStatus      `json:"status"`
	TraceDigest string         `json:"trace_digest,omitempty"`
	EndedAt     models.SimTime `json:"ended_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Store wraps the connection pool with the run queries.
type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables if they do not exist. Idempotent, run
// at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sim_run (
			id UUID PRIMARY KEY,
			scenario TEXT NOT NULL,
			network TEXT NOT NULL,
			seed BIGINT NOT NULL,
			status TEXT NOT NULL,
			trace_digest TEXT,
			ended_at DOUBLE PRECISION,
			error TEXT,
			report JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sim_trip_record (
			run_id UUID NOT NULL REFERENCES sim_run(id) ON DELETE CASCADE,
			trip_id BIGINT NOT NULL,
			mode TEXT NOT NULL,
			departure DOUBLE PRECISION NOT NULL,
			completed DOUBLE PRECISION NOT NULL,
			duration DOUBLE PRECISION NOT NULL,
			delay DOUBLE PRECISION NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT,
			PRIMARY KEY (run_id, trip_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sim_snapshot (
			run_id UUID NOT NULL REFERENCES sim_run(id) ON DELETE CASCADE,
			sim_time DOUBLE PRECISION NOT NULL,
			state JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (run_id, sim_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sim_run_created ON sim_run(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a new run header in PENDING state and returns its id.
func (s *Store) CreateRun(ctx context.Context, scenario, network string, seed int64) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO sim_run (id, scenario, network, seed, status) VALUES ($1, $2, $3, $4, $5)`,
		id, scenario, network, seed, RunPending)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: create run: %w", err)
	}
	return id, nil
}

// MarkRunning transitions a run to RUNNING.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, RunRunning, "")
}

// MarkFailed records an aborted run with its error.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.setStatus(ctx, id, RunFailed, msg)
}

func (s *Store) setStatus(ctx context.Context, id uuid.UUID, status RunStatus, errMsg string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sim_run SET status = $2, error = NULLIF($3, '') WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		return fmt.Errorf("store: update run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishRun records the final state of a completed run: digest, end time,
// summary report, and the per-trip records, atomically.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, digest string, endedAt models.SimTime, report trips.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("store: marshal report: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE sim_run SET status = $2, trace_digest = $3, ended_at = $4, report = $5 WHERE id = $1`,
		id, status, digest, endedAt.Seconds(), reportJSON)
	if err != nil {
		return fmt.Errorf("store: finish run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	for _, r := range report.Records {
		_, err := tx.Exec(ctx,
			`INSERT INTO sim_trip_record (run_id, trip_id, mode, departure, completed, duration, delay, outcome, reason)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
			 ON CONFLICT (run_id, trip_id) DO NOTHING`,
			id, r.TripID, r.Mode,
			r.Departure.Seconds(), r.Completed.Seconds(), r.Duration.Seconds(), r.Delay.Seconds(),
			r.Outcome, string(r.Reason))
		if err != nil {
			return fmt.Errorf("store: insert trip record %d: %w", r.TripID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetRun loads one run header with its report.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*Run, *trips.Report, error) {
	var (
		run        Run
		digest     *string
		endedAt    *float64
		runErr     *string
		reportJSON []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, scenario, network, seed, status, trace_digest, ended_at, error, report, created_at
		 FROM sim_run WHERE id = $1`, id).
		Scan(&run.ID, &run.Scenario, &run.Network, &run.Seed, &run.Status,
			&digest, &endedAt, &runErr, &reportJSON, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("store: get run %s: %w", id, err)
	}
	if digest != nil {
		run.TraceDigest = *digest
	}
	if endedAt != nil {
		run.EndedAt = models.FromSeconds(*endedAt)
	}
	if runErr != nil {
		run.Error = *runErr
	}

	var report *trips.Report
	if len(reportJSON) > 0 {
		report = &trips.Report{}
		if err := json.Unmarshal(reportJSON, report); err != nil {
			return nil, nil, fmt.Errorf("store: decode report for %s: %w", id, err)
		}
	}
	return &run, report, nil
}

// ListRuns returns the most recent run headers, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, scenario, network, seed, status, trace_digest, ended_at, error, created_at
		 FROM sim_run ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			digest  *string
			endedAt *float64
			runErr  *string
		)
		if err := rows.Scan(&run.ID, &run.Scenario, &run.Network, &run.Seed, &run.Status,
			&digest, &endedAt, &runErr, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		if digest != nil {
			run.TraceDigest = *digest
		}
		if endedAt != nil {
			run.EndedAt = models.FromSeconds(*endedAt)
		}
		if runErr != nil {
			run.Error = *runErr
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveSnapshot stores one mid-run snapshot keyed by simulation time.
func (s *Store) SaveSnapshot(ctx context.Context, id uuid.UUID, at models.SimTime, state any) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO sim_snapshot (run_id, sim_time, state) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, sim_time) DO UPDATE SET state = EXCLUDED.state`,
		id, at.Seconds(), stateJSON)
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads the snapshot at or before the requested time.
func (s *Store) GetSnapshot(ctx context.Context, id uuid.UUID, at models.SimTime) ([]byte, models.SimTime, error) {
	var (
		state   []byte
		simTime float64
	)
	err := s.db.QueryRow(ctx,
		`SELECT state, sim_time FROM sim_snapshot
		 WHERE run_id = $1 AND sim_time <= $2
		 ORDER BY sim_time DESC LIMIT 1`,
		id, at.Seconds()).Scan(&state, &simTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("store: get snapshot: %w", err)
	}
	return state, models.FromSeconds(simTime), nil
}
