package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleExecution(id string) model.Execution {
	return model.Execution{
		ExecutionID: id,
		DocumentID:  "doc-1",
		BlueprintID: "pathology-report",
		SourceURI:   "s3://inbox/report.pdf",
		State:       model.StateSubmitted,
	}
}

// --- Executions ---

func TestSQLite_CreateAndGetExecution(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateExecution(ctx, sampleExecution("exec-1")))

	got, err := st.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.DocumentID)
	assert.Equal(t, model.StateSubmitted, got.State)
	assert.Empty(t, got.FailureCause)
}

func TestSQLite_CreateExecutionIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateExecution(ctx, sampleExecution("exec-1")))
	require.NoError(t, st.UpdateExecutionState(ctx, "exec-1", model.StateEvaluating, ""))

	// A replayed arrival insert must not reset state.
	require.NoError(t, st.CreateExecution(ctx, sampleExecution("exec-1")))

	got, err := st.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateEvaluating, got.State)
}

func TestSQLite_UpdateExecutionState(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateExecution(ctx, sampleExecution("exec-1")))
	require.NoError(t, st.UpdateExecutionState(ctx, "exec-1", model.StateFailed, "TimeoutExceeded"))

	got, err := st.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, got.State)
	assert.Equal(t, "TimeoutExceeded", got.FailureCause)
}

func TestSQLite_UpdateExecutionStateMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateExecutionState(context.Background(), "no-such-exec", model.StateCompleted, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_GetExecutionMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetExecution(context.Background(), "no-such-exec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_ListExecutions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"exec-1", "exec-2", "exec-3"} {
		require.NoError(t, st.CreateExecution(ctx, sampleExecution(id)))
	}
	other := sampleExecution("exec-4")
	other.DocumentID = "doc-2"
	require.NoError(t, st.CreateExecution(ctx, other))
	require.NoError(t, st.UpdateExecutionState(ctx, "exec-2", model.StateCompleted, ""))

	all, err := st.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byDoc, err := st.ListExecutions(ctx, ExecutionFilter{DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Len(t, byDoc, 3)

	byState, err := st.ListExecutions(ctx, ExecutionFilter{State: model.StateCompleted})
	require.NoError(t, err)
	require.Len(t, byState, 1)
	assert.Equal(t, "exec-2", byState[0].ExecutionID)

	limited, err := st.ListExecutions(ctx, ExecutionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := st.ListExecutions(ctx, ExecutionFilter{CreatedAfter: time.Now().UTC().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Review tasks ---

func TestSQLite_ReviewTaskLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateExecution(ctx, sampleExecution("exec-1")))
	require.NoError(t, st.CreateReviewTask(ctx, model.ReviewTask{
		TaskID:       "task-1",
		DocumentID:   "doc-1",
		ExecutionID:  "exec-1",
		FlaggedPaths: []string{"dob", "diagnosis.immunostains[0].result"},
		Status:       model.ReviewPending,
	}))

	pending, err := st.GetPendingReviewTask(ctx, "doc-1", "exec-1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "task-1", pending.TaskID)
	assert.Equal(t, []string{"dob", "diagnosis.immunostains[0].result"}, pending.FlaggedPaths)

	require.NoError(t, st.CompleteReviewTask(ctx, "task-1", model.ReviewCompleted))

	pending, err = st.GetPendingReviewTask(ctx, "doc-1", "exec-1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestSQLite_GetPendingReviewTaskNone(t *testing.T) {
	st := newTestSQLiteStore(t)

	pending, err := st.GetPendingReviewTask(context.Background(), "doc-1", "exec-1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestSQLite_ExpireReviewTasks(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateExecution(ctx, sampleExecution("exec-1")))
	require.NoError(t, st.CreateExecution(ctx, sampleExecution("exec-2")))
	require.NoError(t, st.CreateReviewTask(ctx, model.ReviewTask{
		TaskID:       "task-old",
		DocumentID:   "doc-1",
		ExecutionID:  "exec-1",
		FlaggedPaths: []string{"dob"},
		Status:       model.ReviewPending,
		CreatedAt:    time.Now().UTC().Add(-2 * time.Hour),
	}))
	require.NoError(t, st.CreateReviewTask(ctx, model.ReviewTask{
		TaskID:       "task-fresh",
		DocumentID:   "doc-1",
		ExecutionID:  "exec-2",
		FlaggedPaths: []string{"dob"},
		Status:       model.ReviewPending,
	}))

	n, err := st.ExpireReviewTasks(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The stale task is no longer pending; the fresh one still is.
	stale, err := st.GetPendingReviewTask(ctx, "doc-1", "exec-1")
	require.NoError(t, err)
	assert.Nil(t, stale)

	fresh, err := st.GetPendingReviewTask(ctx, "doc-1", "exec-2")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, "task-fresh", fresh.TaskID)

	// A second sweep finds nothing left to expire.
	n, err = st.ExpireReviewTasks(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_CompleteReviewTaskMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.CompleteReviewTask(context.Background(), "no-such-task", model.ReviewExpired)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// --- Objects ---

func TestSQLite_PutIfAbsentFirstWriterWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	path := AggregatedResultPath("exec-1")

	created, err := st.PutIfAbsent(ctx, path, []byte(`{"winner": 1}`))
	require.NoError(t, err)
	assert.True(t, created)

	// The second writer loses and the stored body is unchanged.
	created, err = st.PutIfAbsent(ctx, path, []byte(`{"winner": 2}`))
	require.NoError(t, err)
	assert.False(t, created)

	body, err := st.Get(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"winner": 1}`, string(body))
}

func TestSQLite_GetMissingObject(t *testing.T) {
	st := newTestSQLiteStore(t)

	body, err := st.Get(context.Background(), "extraction/nope/tree.json")
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestSQLite_ExistsAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.PutIfAbsent(ctx, ExtractionTreePath("exec-1"), []byte(`{}`))
	require.NoError(t, err)
	_, err = st.PutIfAbsent(ctx, ExtractionTreePath("exec-2"), []byte(`{}`))
	require.NoError(t, err)
	_, err = st.PutIfAbsent(ctx, AggregatedResultPath("exec-1"), []byte(`{}`))
	require.NoError(t, err)

	ok, err := st.Exists(ctx, ExtractionTreePath("exec-1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.Exists(ctx, ExtractionTreePath("exec-9"))
	require.NoError(t, err)
	assert.False(t, ok)

	paths, err := st.List(ctx, "extraction/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"extraction/exec-1/tree.json",
		"extraction/exec-2/tree.json",
	}, paths)
}
