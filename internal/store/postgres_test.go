package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateExecution(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO executions`).
		WithArgs("exec-1", "doc-1", "pathology-report", "s3://inbox/report.pdf", "submitted", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.CreateExecution(context.Background(), model.Execution{
		ExecutionID: "exec-1",
		DocumentID:  "doc-1",
		BlueprintID: "pathology-report",
		SourceURI:   "s3://inbox/report.pdf",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateExecution_DuplicateIsNoop(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// ON CONFLICT DO NOTHING reports zero rows; that is still success.
	mock.ExpectExec(`INSERT INTO executions`).
		WithArgs("exec-1", "doc-1", "pathology-report", "s3://inbox/report.pdf", "submitted", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.CreateExecution(context.Background(), model.Execution{
		ExecutionID: "exec-1",
		DocumentID:  "doc-1",
		BlueprintID: "pathology-report",
		SourceURI:   "s3://inbox/report.pdf",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateExecutionState(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE executions SET state`).
		WithArgs("failed", "TimeoutExceeded", pgxmock.AnyArg(), "exec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateExecutionState(context.Background(), "exec-1", model.StateFailed, "TimeoutExceeded")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateExecutionState_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE executions SET state`).
		WithArgs("completed", "", pgxmock.AnyArg(), "no-such-exec").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateExecutionState(context.Background(), "no-such-exec", model.StateCompleted, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetExecution(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT execution_id, document_id, blueprint_id, source_uri, state, failure_cause, created_at, updated_at FROM executions`).
		WithArgs("exec-1").
		WillReturnRows(pgxmock.
			NewRows([]string{"execution_id", "document_id", "blueprint_id", "source_uri", "state", "failure_cause", "created_at", "updated_at"}).
			AddRow("exec-1", "doc-1", "pathology-report", "s3://inbox/report.pdf", "reviewing", "", now, now))

	got, err := s.GetExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateReviewing, got.State)
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetExecution_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT execution_id, document_id, blueprint_id`).
		WithArgs("no-such-exec").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetExecution(context.Background(), "no-such-exec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPendingReviewTask_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT task_id, document_id, execution_id, flagged_paths, status, created_at FROM review_tasks`).
		WithArgs("doc-1", "exec-1", "pending").
		WillReturnError(pgx.ErrNoRows)

	task, err := s.GetPendingReviewTask(context.Background(), "doc-1", "exec-1")
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPendingReviewTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT task_id, document_id, execution_id, flagged_paths, status, created_at FROM review_tasks`).
		WithArgs("doc-1", "exec-1", "pending").
		WillReturnRows(pgxmock.
			NewRows([]string{"task_id", "document_id", "execution_id", "flagged_paths", "status", "created_at"}).
			AddRow("task-1", "doc-1", "exec-1", []byte(`["dob","notes"]`), "pending", now))

	task, err := s.GetPendingReviewTask(context.Background(), "doc-1", "exec-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, []string{"dob", "notes"}, task.FlaggedPaths)
	assert.Equal(t, model.ReviewPending, task.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExpireReviewTasks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cutoff := time.Now().UTC().Add(-time.Hour)
	mock.ExpectExec(`UPDATE review_tasks SET status`).
		WithArgs("expired", "pending", cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.ExpireReviewTasks(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutIfAbsent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO objects`).
		WithArgs("aggregated/exec-1/result.json", []byte(`{}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := s.PutIfAbsent(context.Background(), "aggregated/exec-1/result.json", []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutIfAbsent_SecondWriterLoses(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO objects`).
		WithArgs("aggregated/exec-1/result.json", []byte(`{"late":true}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := s.PutIfAbsent(context.Background(), "aggregated/exec-1/result.json", []byte(`{"late":true}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetObject_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT body FROM objects`).
		WithArgs("extraction/nope/tree.json").
		WillReturnError(pgx.ErrNoRows)

	body, err := s.Get(context.Background(), "extraction/nope/tree.json")
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListExecutions_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT execution_id, .* FROM executions WHERE 1=1 AND document_id = \$1 AND state = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("doc-1", "completed", 10).
		WillReturnRows(pgxmock.
			NewRows([]string{"execution_id", "document_id", "blueprint_id", "source_uri", "state", "failure_cause", "created_at", "updated_at"}).
			AddRow("exec-1", "doc-1", "pathology-report", "s3://inbox/report.pdf", "completed", "", now, now))

	execs, err := s.ListExecutions(context.Background(), ExecutionFilter{
		DocumentID: "doc-1",
		State:      model.StateCompleted,
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, model.StateCompleted, execs[0].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}
