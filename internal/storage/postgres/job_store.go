// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

func newPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// JobStore persists ingestion jobs in Postgres.
type JobStore struct {
	pool dbPool
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `
	id, job_type, source_identifier, original_file_name, status, priority,
	attempts, last_attempt_at, next_attempt_at, progress, error_info,
	failed_stage, job_specific_data, related_object_id,
	created_at, updated_at, completed_at`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job knowledge.IngestionJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	progressJSON, err := marshalNullable(job.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	errorJSON, err := marshalNullable(job.ErrorInfo)
	if err != nil {
		return fmt.Errorf("marshal error info: %w", err)
	}
	dataJSON, err := json.Marshal(job.JobSpecificData)
	if err != nil {
		return fmt.Errorf("marshal job data: %w", err)
	}
	query := `
INSERT INTO ingestion_jobs (` + jobColumns + `
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
)`
	args := []any{
		job.ID,
		job.JobType,
		job.SourceIdentifier,
		job.OriginalFileName,
		job.Status,
		job.Priority,
		job.Attempts,
		job.LastAttemptAt,
		job.NextAttemptAt,
		progressJSON,
		errorJSON,
		job.FailedStage,
		dataJSON,
		job.RelatedObjectID,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (knowledge.IngestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return knowledge.IngestionJob{}, ErrNotFound
		}
		return knowledge.IngestionJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateStatus moves a job to the given status. Terminal statuses also stamp
// completed_at if not already set.
func (s *JobStore) UpdateStatus(ctx context.Context, jobID string, status knowledge.JobStatus) error {
	var query string
	if status.IsTerminal() {
		query = `
UPDATE ingestion_jobs
SET status = $1, updated_at = now(), completed_at = COALESCE(completed_at, now())
WHERE id = $2`
	} else {
		query = `
UPDATE ingestion_jobs
SET status = $1, updated_at = now()
WHERE id = $2`
	}
	tag, err := s.pool.Exec(ctx, query, status, jobID)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProgress writes the progress record for a job.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, p knowledge.Progress) error {
	progressJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	query := `
UPDATE ingestion_jobs
SET progress = $1, updated_at = now()
WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, progressJSON, jobID)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFailure increments the attempt count, stores the error payload, and
// moves the job to status. nextAttemptAt is set only for retry_pending.
func (s *JobStore) RecordFailure(ctx context.Context, jobID string, info knowledge.ErrorInfo, failedStage string, status knowledge.JobStatus, nextAttemptAt *time.Time) error {
	errorJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal error info: %w", err)
	}
	var query string
	if status.IsTerminal() {
		query = `
UPDATE ingestion_jobs
SET attempts = attempts + 1, error_info = $1, failed_stage = $2, status = $3,
    next_attempt_at = $4, last_attempt_at = now(), updated_at = now(),
    completed_at = COALESCE(completed_at, now())
WHERE id = $5`
	} else {
		query = `
UPDATE ingestion_jobs
SET attempts = attempts + 1, error_info = $1, failed_stage = $2, status = $3,
    next_attempt_at = $4, last_attempt_at = now(), updated_at = now()
WHERE id = $5`
	}
	tag, err := s.pool.Exec(ctx, query, errorJSON, failedStage, status, nextAttemptAt, jobID)
	if err != nil {
		return fmt.Errorf("record job failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRelatedObject links the job to the persisted object it produced.
func (s *JobStore) SetRelatedObject(ctx context.Context, jobID string, objectID string) error {
	query := `
UPDATE ingestion_jobs
SET related_object_id = $1, updated_at = now()
WHERE id = $2`
	tag, err := s.pool.Exec(ctx, query, objectID, jobID)
	if err != nil {
		return fmt.Errorf("set related object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DueJobs returns up to limit jobs ready to run, ordered by priority then
// creation time.
func (s *JobStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]knowledge.IngestionJob, error) {
	query := `SELECT ` + jobColumns + `
FROM ingestion_jobs
WHERE status = 'queued'
   OR (status = 'retry_pending' AND next_attempt_at <= $1)
ORDER BY priority DESC, created_at ASC
LIMIT $2`
	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []knowledge.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (knowledge.IngestionJob, error) {
	var (
		job          knowledge.IngestionJob
		progressJSON []byte
		errorJSON    []byte
		dataJSON     []byte
	)
	err := row.Scan(
		&job.ID,
		&job.JobType,
		&job.SourceIdentifier,
		&job.OriginalFileName,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.LastAttemptAt,
		&job.NextAttemptAt,
		&progressJSON,
		&errorJSON,
		&job.FailedStage,
		&dataJSON,
		&job.RelatedObjectID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return knowledge.IngestionJob{}, err
	}
	if len(progressJSON) > 0 {
		if err := json.Unmarshal(progressJSON, &job.Progress); err != nil {
			return knowledge.IngestionJob{}, fmt.Errorf("unmarshal progress: %w", err)
		}
	}
	if len(errorJSON) > 0 {
		if err := json.Unmarshal(errorJSON, &job.ErrorInfo); err != nil {
			return knowledge.IngestionJob{}, fmt.Errorf("unmarshal error info: %w", err)
		}
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &job.JobSpecificData); err != nil {
			return knowledge.IngestionJob{}, fmt.Errorf("unmarshal job data: %w", err)
		}
	}
	return job, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *knowledge.Progress:
		if val == nil {
			return nil, nil
		}
	case *knowledge.ErrorInfo:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
