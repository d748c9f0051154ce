package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/store"
	"github.com/sells-group/docflow/pkg/review"
)

// Orchestrator submits flagged fields to the review service and records the
// resulting task. Submission is idempotent per execution: a redelivered
// trigger finds the pending task and returns it instead of opening another.
type Orchestrator struct {
	store       store.ExecutionStore
	client      review.Client
	callbackURL string
}

// NewOrchestrator creates a review orchestrator.
func NewOrchestrator(st store.ExecutionStore, client review.Client, callbackURL string) *Orchestrator {
	return &Orchestrator{store: st, client: client, callbackURL: callbackURL}
}

// SubmitForReview opens a review task carrying only the flagged fields,
// grouped by page with their geometry and page images. Any failure to create
// or persist the task is reported as a ReviewSubmissionError so the caller
// can retry the whole submission.
func (o *Orchestrator) SubmitForReview(ctx context.Context, tree *model.ExtractionTree, flagged []model.FieldPath, pageImages map[int]string) (*model.ReviewTask, error) {
	existing, err := o.store.GetPendingReviewTask(ctx, tree.DocumentID, tree.ExecutionID)
	if err != nil {
		return nil, &model.ReviewSubmissionError{Err: err}
	}
	if existing != nil {
		zap.L().Info("review task already pending, skipping submission",
			zap.String("document_id", tree.DocumentID),
			zap.String("execution_id", tree.ExecutionID),
			zap.String("task_id", existing.TaskID))
		return existing, nil
	}

	payload := BuildReviewPayload(tree, flagged, pageImages)

	taskID, err := o.client.CreateTask(ctx, review.CreateTaskRequest{
		Name:        "doc-review-" + uuid.NewString(),
		Title:       fmt.Sprintf("Review %d flagged fields for document %s", payload.TotalFields(), tree.DocumentID),
		Input:       payload,
		CallbackURL: o.callbackURL,
	})
	if err != nil {
		return nil, &model.ReviewSubmissionError{Err: err}
	}

	task := model.ReviewTask{
		TaskID:       taskID,
		DocumentID:   tree.DocumentID,
		ExecutionID:  tree.ExecutionID,
		FlaggedPaths: PathStrings(flagged),
		Status:       model.ReviewPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.store.CreateReviewTask(ctx, task); err != nil {
		return nil, &model.ReviewSubmissionError{Err: err}
	}

	zap.L().Info("review task created",
		zap.String("document_id", tree.DocumentID),
		zap.String("execution_id", tree.ExecutionID),
		zap.String("task_id", taskID),
		zap.Int("flagged_fields", len(flagged)))
	return &task, nil
}
