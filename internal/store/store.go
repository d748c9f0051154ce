// Package store persists pipeline execution state, review task identity, and
// the path-addressed JSON objects (extraction trees, corrections, aggregated
// results) the pipeline stages exchange.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/docflow/internal/model"
)

// ExecutionFilter narrows ListExecutions results.
type ExecutionFilter struct {
	DocumentID   string
	State        model.ExecutionState
	CreatedAfter time.Time
	Limit        int
}

// ExecutionStore persists pipeline state transitions and review task records.
type ExecutionStore interface {
	// Executions
	CreateExecution(ctx context.Context, exec model.Execution) error
	UpdateExecutionState(ctx context.Context, executionID string, state model.ExecutionState, cause string) error
	GetExecution(ctx context.Context, executionID string) (*model.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.Execution, error)

	// Review tasks
	CreateReviewTask(ctx context.Context, task model.ReviewTask) error
	GetPendingReviewTask(ctx context.Context, documentID, executionID string) (*model.ReviewTask, error)
	CompleteReviewTask(ctx context.Context, taskID string, status model.ReviewTaskStatus) error
	// ExpireReviewTasks marks pending tasks created before cutoff as
	// expired and returns how many it touched.
	ExpireReviewTasks(ctx context.Context, cutoff time.Time) (int, error)
}

// ObjectStore is path-addressed blob storage with first-writer-wins writes.
// Writes are always keyed by (executionID, stage), so concurrent writers from
// retries or duplicate deliveries converge on the same key without locking.
type ObjectStore interface {
	// PutIfAbsent writes the blob unless the path already holds one.
	// Returns false when an earlier writer won.
	PutIfAbsent(ctx context.Context, path string, body []byte) (created bool, err error)
	// Get returns the blob at path, or nil if nothing is stored there.
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Store is the combined persistence surface backed by one database.
type Store interface {
	ExecutionStore
	ObjectStore

	Migrate(ctx context.Context) error
	Close() error
}

// Logical object paths. Every stage writes to a key derived from the
// execution so replays land on the same object.

// ExtractionTreePath is where the raw extraction tree for an execution lives.
func ExtractionTreePath(executionID string) string {
	return fmt.Sprintf("extraction/%s/tree.json", executionID)
}

// CorrectionsPath is where one review loop's human corrections live.
func CorrectionsPath(executionID, reviewLoopID string) string {
	return fmt.Sprintf("review-output/%s/%s/corrections.json", executionID, reviewLoopID)
}

// AggregatedResultPath is where the final result for an execution lives.
func AggregatedResultPath(executionID string) string {
	return fmt.Sprintf("aggregated/%s/result.json", executionID)
}
