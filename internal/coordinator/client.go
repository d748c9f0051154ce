package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/registry"
	"github.com/sells-group/docflow/internal/store"
)

// ErrUnknownBlueprint rejects arrivals referencing a blueprint the catalog
// does not carry. Redelivering such an event can never succeed.
var ErrUnknownBlueprint = errors.New("unknown blueprint")

// Settings carries the pipeline config a new execution starts with. The
// confidence threshold is the pipeline-wide cutoff; blueprints may override
// it in the catalog. The remaining fields shape the workflow's activity
// retry policy and wall-clock budget.
type Settings struct {
	ConfidenceThreshold float64
	MaxAttempts         int
	BackoffBase         time.Duration
	BackoffMultiplier   float64
	Timeout             time.Duration
}

// PipelineClient starts pipeline executions and routes external completion
// events into running workflows. All methods tolerate duplicate delivery.
type PipelineClient struct {
	temporal client.Client
	store    store.ExecutionStore
	registry *registry.Registry
	settings Settings
}

// NewPipelineClient creates a pipeline client.
func NewPipelineClient(tc client.Client, st store.ExecutionStore, reg *registry.Registry, settings Settings) *PipelineClient {
	return &PipelineClient{temporal: tc, store: st, registry: reg, settings: settings}
}

// StartExecution records a new execution and starts its workflow. A replayed
// arrival event carries the same execution identity, hits the existing
// record and workflow, and changes nothing.
func (c *PipelineClient) StartExecution(ctx context.Context, doc model.Document) error {
	if _, ok := c.registry.Get(doc.BlueprintID); !ok {
		return eris.Wrapf(ErrUnknownBlueprint, "coordinator: blueprint %q", doc.BlueprintID)
	}

	now := time.Now().UTC()
	err := c.store.CreateExecution(ctx, model.Execution{
		ExecutionID: doc.ExecutionID,
		DocumentID:  doc.DocumentID,
		BlueprintID: doc.BlueprintID,
		SourceURI:   doc.SourceURI,
		State:       model.StateSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return eris.Wrap(err, "coordinator: create execution")
	}

	_, err = c.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(doc.DocumentID, doc.ExecutionID),
		TaskQueue: TaskQueue,
	}, DocumentPipeline, PipelineInput{
		DocumentID:  doc.DocumentID,
		ExecutionID: doc.ExecutionID,
		BlueprintID: doc.BlueprintID,
		SourceURI:   doc.SourceURI,
		Threshold:   c.registry.ThresholdFor(doc.BlueprintID, c.settings.ConfidenceThreshold),

		MaxAttempts:       c.settings.MaxAttempts,
		BackoffBase:       c.settings.BackoffBase,
		BackoffMultiplier: c.settings.BackoffMultiplier,
		Timeout:           c.settings.Timeout,
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			zap.L().Info("workflow already running, duplicate arrival ignored",
				zap.String("execution_id", doc.ExecutionID))
			return nil
		}
		return eris.Wrap(err, "coordinator: start workflow")
	}

	zap.L().Info("pipeline execution started",
		zap.String("document_id", doc.DocumentID),
		zap.String("execution_id", doc.ExecutionID),
		zap.String("blueprint_id", doc.BlueprintID),
	)
	return nil
}

// SignalExtractionCompleted delivers an extraction outcome to the workflow.
func (c *PipelineClient) SignalExtractionCompleted(ctx context.Context, documentID, executionID string, sig ExtractionSignal) error {
	return c.signal(ctx, documentID, executionID, SignalExtractionCompleted, sig)
}

// SignalReviewCompleted delivers reviewer corrections to the workflow.
func (c *PipelineClient) SignalReviewCompleted(ctx context.Context, documentID, executionID string, sig ReviewSignal) error {
	return c.signal(ctx, documentID, executionID, SignalReviewCompleted, sig)
}

// signal delivers a completion event. A workflow that already finished is a
// duplicate delivery, not an error.
func (c *PipelineClient) signal(ctx context.Context, documentID, executionID, name string, payload any) error {
	err := c.temporal.SignalWorkflow(ctx, WorkflowID(documentID, executionID), "", name, payload)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			zap.L().Info("workflow gone, duplicate completion ignored",
				zap.String("execution_id", executionID),
				zap.String("signal", name))
			return nil
		}
		return eris.Wrapf(err, "coordinator: signal %s", name)
	}
	return nil
}
