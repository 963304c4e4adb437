package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	job := knowledge.IngestionJob{
		ID:               "job-1",
		JobType:          knowledge.JobTypePageFetch,
		SourceIdentifier: "https://example.com",
		Status:           knowledge.StatusQueued,
		Priority:         1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	dataJSON, err := json.Marshal(job.JobSpecificData)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO ingestion_jobs").
		WithArgs(
			job.ID,
			job.JobType,
			job.SourceIdentifier,
			job.OriginalFileName,
			job.Status,
			job.Priority,
			job.Attempts,
			job.LastAttemptAt,
			job.NextAttemptAt,
			[]byte(nil),
			[]byte(nil),
			job.FailedStage,
			dataJSON,
			job.RelatedObjectID,
			job.CreatedAt,
			job.UpdatedAt,
			job.CompletedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusTerminalStampsCompletedAt(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE ingestion_jobs(?s).*completed_at = COALESCE`).
		WithArgs(knowledge.StatusCompleted, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateStatus(context.Background(), "job-1", knowledge.StatusCompleted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusUnknownJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE ingestion_jobs").
		WithArgs(knowledge.StatusProcessing, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateStatus(context.Background(), "missing", knowledge.StatusProcessing)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	next := time.Unix(1700000300, 0).UTC()
	info := knowledge.ErrorInfo{Kind: "NetworkError", Message: "connection refused", Category: "network"}

	mock.ExpectExec(`UPDATE ingestion_jobs(?s).*attempts = attempts \+ 1`).
		WithArgs(pgxmock.AnyArg(), "fetching", knowledge.StatusRetryPending, &next, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.RecordFailure(context.Background(), "job-1", info, "fetching", knowledge.StatusRetryPending, &next)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDueJobsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	progressJSON, err := json.Marshal(knowledge.Progress{Stage: "fetching", Percent: 10})
	require.NoError(t, err)

	cols := []string{
		"id", "job_type", "source_identifier", "original_file_name", "status",
		"priority", "attempts", "last_attempt_at", "next_attempt_at",
		"progress", "error_info", "failed_stage", "job_specific_data",
		"related_object_id", "created_at", "updated_at", "completed_at",
	}
	rows := pgxmock.NewRows(cols).AddRow(
		"job-1", knowledge.JobTypePageFetch, "https://example.com", "",
		knowledge.StatusQueued, 1, 0, (*time.Time)(nil), (*time.Time)(nil),
		progressJSON, []byte(nil), "", []byte(nil), "", now, now, (*time.Time)(nil),
	)

	mock.ExpectQuery(`FROM ingestion_jobs(?s).*retry_pending`).
		WithArgs(now, 5).
		WillReturnRows(rows)

	jobs, err := store.DueJobs(context.Background(), now, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-1", jobs[0].ID)
	require.Equal(t, knowledge.StatusQueued, jobs[0].Status)
	require.NotNil(t, jobs[0].Progress)
	require.Equal(t, "fetching", jobs[0].Progress.Stage)
	require.NoError(t, mock.ExpectationsWereMet())
}
