package coordinator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/pipeline"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/internal/store"
	"github.com/sells-group/docflow/pkg/extraction"
)

// Activities holds the side-effecting operations the pipeline workflow
// schedules. Every activity is idempotent so at-least-once execution is safe.
type Activities struct {
	Store        store.Store
	Extraction   extraction.Client
	Orchestrator *pipeline.Orchestrator
	CallbackURL  string
}

// RecordStateInput persists one state machine transition.
type RecordStateInput struct {
	ExecutionID string               `json:"execution_id"`
	State       model.ExecutionState `json:"state"`
	Cause       string               `json:"cause,omitempty"`
}

// RecordState writes a state transition to the execution store. Re-recording
// the same state is a no-op at the caller's level of concern.
func (a *Activities) RecordState(ctx context.Context, in RecordStateInput) error {
	if err := a.Store.UpdateExecutionState(ctx, in.ExecutionID, in.State, in.Cause); err != nil {
		return eris.Wrapf(err, "coordinator: record state %s", in.State)
	}
	zap.L().Info("execution state recorded",
		zap.String("execution_id", in.ExecutionID),
		zap.String("state", string(in.State)),
	)
	return nil
}

// StartExtractionInput submits one document for extraction.
type StartExtractionInput struct {
	SourceURI   string `json:"source_uri"`
	BlueprintID string `json:"blueprint_id"`
}

// StartExtraction submits the document to the extraction service and returns
// the job handle. Client 4xx responses are permanent; everything else is left
// retryable under the workflow's retry policy.
func (a *Activities) StartExtraction(ctx context.Context, in StartExtractionInput) (string, error) {
	handle, err := a.Extraction.Submit(ctx, extraction.SubmitRequest{
		SourceURI:   in.SourceURI,
		BlueprintID: in.BlueprintID,
		CallbackURL: a.CallbackURL,
	})
	if err != nil {
		return "", classifyExtractionError(err)
	}
	return handle, nil
}

// EvaluateInput fetches, persists, and evaluates one extraction result.
type EvaluateInput struct {
	DocumentID  string  `json:"document_id"`
	ExecutionID string  `json:"execution_id"`
	BlueprintID string  `json:"blueprint_id"`
	JobHandle   string  `json:"job_handle"`
	Threshold   float64 `json:"threshold"`
}

// EvaluateResult carries the partition back to the workflow. Only path
// strings cross the activity boundary; trees stay in the object store.
type EvaluateResult struct {
	AcceptedPaths []string       `json:"accepted_paths"`
	FlaggedPaths  []string       `json:"flagged_paths"`
	PageImages    map[int]string `json:"page_images,omitempty"`
}

// EvaluateTree fetches the finished extraction output, parses it into the
// canonical tree, stores the tree, and partitions its scalars against the
// confidence threshold. The tree write is first-writer-wins so a retried
// activity never overwrites what an earlier attempt stored.
func (a *Activities) EvaluateTree(ctx context.Context, in EvaluateInput) (*EvaluateResult, error) {
	result, err := a.Extraction.FetchResult(ctx, in.JobHandle)
	if err != nil {
		return nil, classifyExtractionError(err)
	}
	if result.Status != extraction.JobStatusSuccess {
		return nil, temporal.NewNonRetryableApplicationError(
			"extraction job did not succeed", model.ErrTypeExtractionPermanent,
			&model.ExtractionPermanentError{Reason: result.Status})
	}

	tree, err := pipeline.ParseExtractionOutput(result.Output, in.DocumentID, in.ExecutionID, in.BlueprintID)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"extraction output unparseable", model.ErrTypeExtractionPermanent, err)
	}

	blob, err := json.Marshal(tree)
	if err != nil {
		return nil, eris.Wrap(err, "coordinator: marshal tree")
	}
	if _, err := a.Store.PutIfAbsent(ctx, store.ExtractionTreePath(in.ExecutionID), blob); err != nil {
		return nil, eris.Wrap(err, "coordinator: store tree")
	}

	accepted, flagged := pipeline.Evaluate(tree, in.Threshold)
	return &EvaluateResult{
		AcceptedPaths: pipeline.PathStrings(accepted),
		FlaggedPaths:  pipeline.PathStrings(flagged),
		PageImages:    result.PageImages,
	}, nil
}

// SubmitReviewInput opens a review task for the flagged subset.
type SubmitReviewInput struct {
	ExecutionID  string         `json:"execution_id"`
	FlaggedPaths []string       `json:"flagged_paths"`
	PageImages   map[int]string `json:"page_images,omitempty"`
}

// SubmitReview loads the stored tree and asks the orchestrator to open a
// review task for the flagged paths. The orchestrator skips submission when
// a pending task already exists, so retries never fan out duplicate tasks.
func (a *Activities) SubmitReview(ctx context.Context, in SubmitReviewInput) (string, error) {
	tree, err := a.loadTree(ctx, in.ExecutionID)
	if err != nil {
		return "", err
	}
	flagged, err := parsePaths(in.FlaggedPaths)
	if err != nil {
		return "", temporal.NewNonRetryableApplicationError(
			"bad flagged path", model.ErrTypeUnknownCorrectionPath, err)
	}

	task, err := a.Orchestrator.SubmitForReview(ctx, tree, flagged, in.PageImages)
	if err != nil {
		return "", temporal.NewApplicationErrorWithCause(
			"review submission failed", model.ErrTypeReviewSubmission, err)
	}
	return task.TaskID, nil
}

// ReconcileInput merges corrections and persists the final result.
type ReconcileInput struct {
	ExecutionID  string             `json:"execution_id"`
	TaskID       string             `json:"task_id,omitempty"`
	Corrections  []model.Correction `json:"corrections"`
	FlaggedPaths []string           `json:"flagged_paths"`
}

// ReconcileOutput reports where the final result lives and whether this
// attempt was the one that wrote it.
type ReconcileOutput struct {
	Path           string `json:"path"`
	Created        bool   `json:"created"`
	CorrectedCount int    `json:"corrected_count"`
}

// ReconcileAndPersist merges corrections into the stored tree and writes the
// aggregated result. The write is first-writer-wins keyed by execution, so a
// duplicate completion trigger finds the result already present and changes
// nothing.
func (a *Activities) ReconcileAndPersist(ctx context.Context, in ReconcileInput) (*ReconcileOutput, error) {
	tree, err := a.loadTree(ctx, in.ExecutionID)
	if err != nil {
		return nil, err
	}

	if len(in.Corrections) > 0 {
		corrBlob, err := json.Marshal(in.Corrections)
		if err != nil {
			return nil, eris.Wrap(err, "coordinator: marshal corrections")
		}
		if _, err := a.Store.PutIfAbsent(ctx, store.CorrectionsPath(in.ExecutionID, in.TaskID), corrBlob); err != nil {
			return nil, eris.Wrap(err, "coordinator: store corrections")
		}
	}

	result, err := pipeline.Reconcile(tree, in.Corrections, in.FlaggedPaths)
	if err != nil {
		var pathErr *model.UnknownCorrectionPathError
		if errors.As(err, &pathErr) {
			return nil, temporal.NewNonRetryableApplicationError(
				pathErr.Error(), model.ErrTypeUnknownCorrectionPath, err)
		}
		return nil, err
	}

	blob, err := json.Marshal(result)
	if err != nil {
		return nil, eris.Wrap(err, "coordinator: marshal aggregated result")
	}

	path := store.AggregatedResultPath(in.ExecutionID)
	created, err := a.Store.PutIfAbsent(ctx, path, blob)
	if err != nil {
		return nil, eris.Wrap(err, "coordinator: store aggregated result")
	}
	if !created {
		zap.L().Info("aggregated result already present, keeping first write",
			zap.String("execution_id", in.ExecutionID),
			zap.String("path", path),
		)
	}

	if in.TaskID != "" {
		if err := a.Store.CompleteReviewTask(ctx, in.TaskID, model.ReviewCompleted); err != nil {
			return nil, eris.Wrap(err, "coordinator: complete review task")
		}
	}

	return &ReconcileOutput{Path: path, Created: created, CorrectedCount: result.CorrectedCount}, nil
}

func (a *Activities) loadTree(ctx context.Context, executionID string) (*model.ExtractionTree, error) {
	blob, err := a.Store.Get(ctx, store.ExtractionTreePath(executionID))
	if err != nil {
		return nil, eris.Wrap(err, "coordinator: load tree")
	}
	if blob == nil {
		return nil, eris.Errorf("coordinator: no stored tree for execution %s", executionID)
	}
	var tree model.ExtractionTree
	if err := json.Unmarshal(blob, &tree); err != nil {
		return nil, eris.Wrap(err, "coordinator: decode stored tree")
	}
	return &tree, nil
}

func parsePaths(raw []string) ([]model.FieldPath, error) {
	paths := make([]model.FieldPath, 0, len(raw))
	for _, s := range raw {
		p, err := model.ParsePath(s)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// classifyExtractionError maps extraction client failures onto the workflow
// retry policy: 4xx responses are permanent, transient statuses and network
// failures stay retryable.
func classifyExtractionError(err error) error {
	var apiErr *extraction.APIError
	if errors.As(err, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return temporal.NewApplicationErrorWithCause(
				apiErr.Error(), model.ErrTypeExtractionTransient,
				resilience.NewTransientError(apiErr, apiErr.StatusCode))
		}
		return temporal.NewNonRetryableApplicationError(
			apiErr.Error(), model.ErrTypeExtractionPermanent,
			&model.ExtractionPermanentError{Reason: apiErr.Body})
	}
	return temporal.NewApplicationErrorWithCause(
		err.Error(), model.ErrTypeExtractionTransient, err)
}
