package coordinator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/bus"
	"github.com/sells-group/docflow/internal/model"
)

// executionNamespace seeds deterministic execution identities so a
// redelivered arrival event maps to the same execution.
var executionNamespace = uuid.MustParse("7f1c6f8e-3a52-4d6b-9b0e-2f4a8c9d1e5b")

// Consumer bridges bus events into the pipeline client.
type Consumer struct {
	bus  *bus.Bus
	pipe *PipelineClient
}

// NewConsumer creates a consumer over the given bus and pipeline client.
func NewConsumer(b *bus.Bus, pipe *PipelineClient) *Consumer {
	return &Consumer{bus: b, pipe: pipe}
}

// Start subscribes the three pipeline trigger subjects with durable
// consumers. The returned stop function halts delivery.
func (c *Consumer) Start(ctx context.Context) (func(), error) {
	var stops []func()
	stopAll := func() {
		for _, stop := range stops {
			stop()
		}
	}

	subs := []struct {
		durable string
		subject string
		handler bus.Handler
	}{
		{"docflow-arrivals", bus.SubjectDocumentArrived, c.handleDocumentArrived},
		{"docflow-extractions", bus.SubjectExtractionCompleted, c.handleExtractionCompleted},
		{"docflow-reviews", bus.SubjectReviewCompleted, c.handleReviewCompleted},
	}
	for _, s := range subs {
		stop, err := c.bus.Subscribe(ctx, s.durable, s.subject, s.handler)
		if err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, stop)
	}
	return stopAll, nil
}

// handleDocumentArrived starts a fresh execution for a document arrival.
// The execution identity is derived from the event content, so a redelivered
// event starts nothing new while a genuine re-upload (new ReceivedAt) does.
func (c *Consumer) handleDocumentArrived(ctx context.Context, data []byte) error {
	var evt bus.DocumentArrived
	if err := json.Unmarshal(data, &evt); err != nil {
		return eris.Wrap(err, "coordinator: decode arrival event")
	}
	if evt.SourceURI == "" || evt.BlueprintID == "" {
		return eris.New("coordinator: arrival event missing source_uri or blueprint_id")
	}

	documentID := model.DocumentIDFromSource(evt.SourceURI)
	executionID := uuid.NewSHA1(executionNamespace, []byte(evt.SourceURI+"|"+evt.ReceivedAt)).String()

	err := c.pipe.StartExecution(ctx, model.Document{
		DocumentID:  documentID,
		ExecutionID: executionID,
		BlueprintID: evt.BlueprintID,
		SourceURI:   evt.SourceURI,
	})
	if errors.Is(err, ErrUnknownBlueprint) {
		// Redelivery can never fix a bad blueprint reference; drop the event.
		zap.L().Warn("dropping arrival with unknown blueprint",
			zap.String("blueprint_id", evt.BlueprintID),
			zap.String("source_uri", evt.SourceURI))
		return nil
	}
	return err
}

func (c *Consumer) handleExtractionCompleted(ctx context.Context, data []byte) error {
	var evt bus.ExtractionCompleted
	if err := json.Unmarshal(data, &evt); err != nil {
		return eris.Wrap(err, "coordinator: decode extraction event")
	}
	return c.pipe.SignalExtractionCompleted(ctx, evt.DocumentID, evt.ExecutionID, ExtractionSignal{
		JobHandle: evt.JobHandle,
		Status:    evt.Status,
		Reason:    evt.Reason,
	})
}

func (c *Consumer) handleReviewCompleted(ctx context.Context, data []byte) error {
	var evt bus.ReviewCompleted
	if err := json.Unmarshal(data, &evt); err != nil {
		return eris.Wrap(err, "coordinator: decode review event")
	}
	corrections := make([]model.Correction, 0, len(evt.Corrections))
	for _, rc := range evt.Corrections {
		corrections = append(corrections, model.Correction{
			Path:           rc.Path,
			CorrectedValue: rc.Value,
			ReviewerID:     rc.ReviewerID,
		})
	}
	return c.pipe.SignalReviewCompleted(ctx, evt.DocumentID, evt.ExecutionID, ReviewSignal{
		TaskID:      evt.TaskID,
		Corrections: corrections,
	})
}
