package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/i0mja/dell-infra-sync-sub004/internal/jobs"
)

// ErrBadTransition is returned when a status update would move a job
// backwards or out of a terminal state.
var ErrBadTransition = errors.New("illegal status transition")

// ErrEmpty is returned by ClaimNext when no pending job is eligible.
var ErrEmpty = errors.New("no pending jobs")

// Store is the sqlite-backed job table plus the structured safety result
// table. The console side only creates and reads rows; every mutation of
// status, result and error goes through the executor methods so ownership
// stays with the executor process.
type Store struct {
	log zerolog.Logger
	db  *sql.DB
	mu  sync.Mutex
}

// Open opens (creating if needed) the job database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("job store dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("job store pragma: %w", err)
		}
	}

	s := &Store{
		log: log.With().Str("component", "jobstore").Logger(),
		db:  db,
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			scope TEXT NOT NULL,
			details TEXT,
			result TEXT,
			error TEXT NOT NULL DEFAULT '',
			requested_by TEXT NOT NULL DEFAULT '',
			schedule_at INTEGER,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS safety_results (
			job_id TEXT PRIMARY KEY REFERENCES jobs(id),
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, schema := range schemas {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("job store schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new pending row. The record must already be validated.
func (s *Store) Create(ctx context.Context, rec *jobs.Record) error {
	if rec.ID == "" || !rec.Type.Valid() || !rec.Status.Valid() {
		return jobs.ErrRejected
	}
	scope, err := json.Marshal(rec.Scope)
	if err != nil {
		return err
	}
	var scheduleAt *int64
	if rec.ScheduleAt != nil {
		v := rec.ScheduleAt.Unix()
		scheduleAt = &v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, scope, details, result, error, requested_by, schedule_at, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, '', ?, ?, ?)`,
		rec.ID, string(rec.Type), string(rec.Status), string(scope),
		nullableJSON(rec.Details), rec.RequestedBy, scheduleAt, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns the job row or jobs.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*jobs.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, scope, details, result, error, requested_by, schedule_at, created_at, started_at, completed_at
		FROM jobs WHERE id = ?`, id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrNotFound
	}
	return rec, err
}

// Recent returns up to limit jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*jobs.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, scope, details, result, error, requested_by, schedule_at, created_at, started_at, completed_at
		FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*jobs.Record
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ClaimNext atomically hands the oldest eligible pending job to the executor,
// marking it running. Jobs scheduled for the future are not eligible.
func (s *Store) ClaimNext(ctx context.Context) (*jobs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE status = ? AND (schedule_at IS NULL OR schedule_at <= ?)
		ORDER BY created_at, id LIMIT 1`,
		string(jobs.StatusPending), now.Unix())
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		string(jobs.StatusRunning), now.Unix(), id); err != nil {
		return nil, err
	}
	rec, err := scanJob(tx.QueryRowContext(ctx, `
		SELECT id, type, status, scope, details, result, error, requested_by, schedule_at, created_at, started_at, completed_at
		FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.log.Info().Str("event", "job.claimed").Str("job_id", id).Str("type", string(rec.Type)).Msg("job claimed")
	return rec, nil
}

// UpdateStatus applies an executor-reported transition. Moves that violate
// the forward-only lifecycle return ErrBadTransition. Terminal transitions
// stamp completed_at and freeze the row.
func (s *Store) UpdateStatus(ctx context.Context, id string, next jobs.Status, errMsg string, result json.RawMessage) error {
	if !next.Valid() {
		return ErrBadTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.ErrNotFound
		}
		return err
	}
	if !jobs.Status(current).CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, current, next)
	}

	now := time.Now().UTC().Unix()
	if next.Terminal() {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, error = ?, result = COALESCE(?, result), completed_at = ?,
				started_at = COALESCE(started_at, ?)
			WHERE id = ?`,
			string(next), errMsg, nullableJSON(result), now, now, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			string(next), now, id)
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info().Str("event", "job.status").Str("job_id", id).Str("status", string(next)).Msg("job status updated")
	return nil
}

// PutSafetyResult stores the structured result row for a job, replacing any
// previous one.
func (s *Store) PutSafetyResult(ctx context.Context, jobID string, payload json.RawMessage) error {
	if len(payload) == 0 {
		return errors.New("empty safety result payload")
	}
	var exists string
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE id = ?`, jobID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.ErrNotFound
		}
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO safety_results (job_id, payload, created_at) VALUES (?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		jobID, string(payload), time.Now().UTC().Unix())
	return err
}

// SafetyResult returns the structured result row for a job, or nil when none
// has been written.
func (s *Store) SafetyResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM safety_results WHERE job_id = ?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Record, error) {
	var (
		rec        jobs.Record
		typ, stat  string
		scope      string
		details    sql.NullString
		result     sql.NullString
		scheduleAt sql.NullInt64
		createdAt  int64
		startedAt  sql.NullInt64
		doneAt     sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &typ, &stat, &scope, &details, &result, &rec.Error,
		&rec.RequestedBy, &scheduleAt, &createdAt, &startedAt, &doneAt); err != nil {
		return nil, err
	}
	rec.Type = jobs.Type(typ)
	rec.Status = jobs.Status(stat)
	if err := json.Unmarshal([]byte(scope), &rec.Scope); err != nil {
		return nil, fmt.Errorf("corrupt scope on job %s: %w", rec.ID, err)
	}
	if details.Valid && details.String != "" {
		rec.Details = json.RawMessage(details.String)
	}
	if result.Valid && result.String != "" {
		rec.Result = json.RawMessage(result.String)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	if scheduleAt.Valid {
		t := time.Unix(scheduleAt.Int64, 0).UTC()
		rec.ScheduleAt = &t
	}
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		rec.StartedAt = &t
	}
	if doneAt.Valid {
		t := time.Unix(doneAt.Int64, 0).UTC()
		rec.CompletedAt = &t
	}
	return &rec, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
