// Package coordinator drives the pipeline state machine as a Temporal
// workflow: one workflow execution per (document, execution) pair, with
// activities for every side effect and signals for external completions.
package coordinator

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/pkg/extraction"
)

// TaskQueue is the Temporal task queue workers poll.
const TaskQueue = "docflow-pipeline"

// PipelineTimeout is the default wall-clock budget for one execution end to
// end, human review included. An execution that exceeds its budget is
// recorded as failed with a timeout cause.
const PipelineTimeout = 30 * time.Minute

// FailureCauseTimeout is recorded when the wall-clock budget runs out.
const FailureCauseTimeout = "TimeoutExceeded"

// PipelineInput starts one pipeline execution. The scheduling fields come
// from pipeline config via the client; zero values fall back to the package
// defaults so replayed histories from older starters stay valid.
type PipelineInput struct {
	DocumentID  string  `json:"document_id"`
	ExecutionID string  `json:"execution_id"`
	BlueprintID string  `json:"blueprint_id"`
	SourceURI   string  `json:"source_uri"`
	Threshold   float64 `json:"threshold"`

	MaxAttempts       int           `json:"max_attempts,omitempty"`
	BackoffBase       time.Duration `json:"backoff_base,omitempty"`
	BackoffMultiplier float64       `json:"backoff_multiplier,omitempty"`
	Timeout           time.Duration `json:"timeout,omitempty"`
}

// WorkflowID derives the deterministic workflow identity for one execution.
func WorkflowID(documentID, executionID string) string {
	return fmt.Sprintf("docflow-%s-%s", documentID, executionID)
}

// DocumentPipeline runs one document through extraction, evaluation,
// optional human review, and reconciliation. External completions arrive as
// signals; duplicate signals after a stage has passed are ignored.
func DocumentPipeline(ctx workflow.Context, input PipelineInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("pipeline started",
		"document_id", input.DocumentID,
		"execution_id", input.ExecutionID,
		"blueprint_id", input.BlueprintID,
	)

	maxAttempts := input.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	backoffBase := input.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	backoffMultiplier := input.BackoffMultiplier
	if backoffMultiplier <= 0 {
		backoffMultiplier = 2.0
	}
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = PipelineTimeout
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    backoffBase,
			BackoffCoefficient: backoffMultiplier,
			MaximumAttempts:    int32(maxAttempts),
			NonRetryableErrorTypes: []string{
				model.ErrTypeExtractionPermanent,
				model.ErrTypeUnknownCorrectionPath,
			},
		},
	})

	deadline := workflow.NewTimer(ctx, timeout)

	err := runPipeline(ctx, input, deadline)
	if err != nil {
		recordFailure(ctx, input.ExecutionID, err)
		return err
	}
	return nil
}

func runPipeline(ctx workflow.Context, input PipelineInput, deadline workflow.Future) error {
	var a *Activities

	if err := record(ctx, input.ExecutionID, model.StateExtracting, ""); err != nil {
		return err
	}

	var jobHandle string
	err := workflow.ExecuteActivity(ctx, a.StartExtraction, StartExtractionInput{
		SourceURI:   input.SourceURI,
		BlueprintID: input.BlueprintID,
	}).Get(ctx, &jobHandle)
	if err != nil {
		return err
	}

	extSignal, timedOut := awaitExtraction(ctx, deadline)
	if timedOut {
		return temporal.NewNonRetryableApplicationError(
			"pipeline exceeded wall-clock budget", FailureCauseTimeout, nil)
	}
	if extSignal.Status == extraction.JobStatusError {
		return temporal.NewNonRetryableApplicationError(
			"extraction failed", model.ErrTypeExtractionPermanent,
			&model.ExtractionPermanentError{Reason: extSignal.Reason})
	}
	if extSignal.JobHandle != "" {
		jobHandle = extSignal.JobHandle
	}

	if err := record(ctx, input.ExecutionID, model.StateEvaluating, ""); err != nil {
		return err
	}

	var eval EvaluateResult
	err = workflow.ExecuteActivity(ctx, a.EvaluateTree, EvaluateInput{
		DocumentID:  input.DocumentID,
		ExecutionID: input.ExecutionID,
		BlueprintID: input.BlueprintID,
		JobHandle:   jobHandle,
		Threshold:   input.Threshold,
	}).Get(ctx, &eval)
	if err != nil {
		return err
	}

	reconcile := ReconcileInput{
		ExecutionID:  input.ExecutionID,
		FlaggedPaths: eval.FlaggedPaths,
	}

	if len(eval.FlaggedPaths) == 0 {
		// Nothing needs a human: go straight to finalization.
		if err := record(ctx, input.ExecutionID, model.StateFinalizing, ""); err != nil {
			return err
		}
	} else {
		if err := record(ctx, input.ExecutionID, model.StateReviewing, ""); err != nil {
			return err
		}

		var taskID string
		err = workflow.ExecuteActivity(ctx, a.SubmitReview, SubmitReviewInput{
			ExecutionID:  input.ExecutionID,
			FlaggedPaths: eval.FlaggedPaths,
			PageImages:   eval.PageImages,
		}).Get(ctx, &taskID)
		if err != nil {
			return err
		}

		revSignal, timedOut := awaitReview(ctx, taskID, deadline)
		if timedOut {
			return temporal.NewNonRetryableApplicationError(
				"pipeline exceeded wall-clock budget", FailureCauseTimeout, nil)
		}
		reconcile.TaskID = taskID
		reconcile.Corrections = revSignal.Corrections
	}

	if err := record(ctx, input.ExecutionID, model.StateAggregating, ""); err != nil {
		return err
	}

	var out ReconcileOutput
	if err := workflow.ExecuteActivity(ctx, a.ReconcileAndPersist, reconcile).Get(ctx, &out); err != nil {
		return err
	}

	workflow.GetLogger(ctx).Info("pipeline completed",
		"execution_id", input.ExecutionID,
		"result_path", out.Path,
		"first_writer", out.Created,
		"corrected_fields", out.CorrectedCount,
	)
	return record(ctx, input.ExecutionID, model.StateCompleted, "")
}

// awaitExtraction blocks until the extraction completion signal or the
// pipeline deadline, whichever comes first.
func awaitExtraction(ctx workflow.Context, deadline workflow.Future) (ExtractionSignal, bool) {
	var sig ExtractionSignal
	var timedOut bool
	ch := workflow.GetSignalChannel(ctx, SignalExtractionCompleted)
	workflow.NewSelector(ctx).
		AddReceive(ch, func(c workflow.ReceiveChannel, _ bool) {
			c.Receive(ctx, &sig)
		}).
		AddFuture(deadline, func(workflow.Future) {
			timedOut = true
		}).
		Select(ctx)
	return sig, timedOut
}

// awaitReview blocks until corrections for the given review task arrive or
// the pipeline deadline fires. Completions carrying a different task id are
// stale (a prior task for the same document, or a misrouted event) and are
// discarded without resolving the wait.
func awaitReview(ctx workflow.Context, taskID string, deadline workflow.Future) (ReviewSignal, bool) {
	ch := workflow.GetSignalChannel(ctx, SignalReviewCompleted)
	for {
		var sig ReviewSignal
		var timedOut bool
		workflow.NewSelector(ctx).
			AddReceive(ch, func(c workflow.ReceiveChannel, _ bool) {
				c.Receive(ctx, &sig)
			}).
			AddFuture(deadline, func(workflow.Future) {
				timedOut = true
			}).
			Select(ctx)
		if timedOut {
			return ReviewSignal{}, true
		}
		if sig.TaskID != taskID {
			workflow.GetLogger(ctx).Warn("discarding review completion for a different task",
				"expected_task", taskID, "received_task", sig.TaskID)
			continue
		}
		return sig, false
	}
}

func record(ctx workflow.Context, executionID string, state model.ExecutionState, cause string) error {
	var a *Activities
	return workflow.ExecuteActivity(ctx, a.RecordState, RecordStateInput{
		ExecutionID: executionID,
		State:       state,
		Cause:       cause,
	}).Get(ctx, nil)
}

// recordFailure persists the failed state on a disconnected context so the
// write still happens when the workflow context is already cancelled.
func recordFailure(ctx workflow.Context, executionID string, cause error) {
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	var appErr *temporal.ApplicationError
	causeName := "PipelineError"
	if errors.As(cause, &appErr) {
		causeName = appErr.Type()
	}
	if err := record(dctx, executionID, model.StateFailed, causeName); err != nil {
		workflow.GetLogger(ctx).Error("failed to record failure state",
			"execution_id", executionID, "error", err)
	}
}
