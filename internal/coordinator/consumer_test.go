package coordinator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/sells-group/docflow/internal/bus"
	"github.com/sells-group/docflow/internal/store"
	"github.com/sells-group/docflow/pkg/review"
)

func arrivalEvent(t *testing.T, blueprintID string) []byte {
	t.Helper()
	data, err := json.Marshal(bus.DocumentArrived{
		SourceURI:   "s3://inbox/report.pdf",
		BlueprintID: blueprintID,
		ReceivedAt:  "2026-08-29T10:00:00Z",
	})
	require.NoError(t, err)
	return data
}

func TestConsumerDuplicateArrival(t *testing.T) {
	pipe, mc, st := newClientFixture(t, Settings{ConfidenceThreshold: 0.70})
	c := NewConsumer(nil, pipe)

	var ids []string
	capture := func(args mock.Arguments) {
		opts := args.Get(1).(client.StartWorkflowOptions)
		ids = append(ids, opts.ID)
	}
	mc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(capture).Return(nil, nil).Once()
	mc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(capture).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("workflow execution already started", "", ""))

	evt := arrivalEvent(t, "pathology-report")
	require.NoError(t, c.handleDocumentArrived(context.Background(), evt))
	require.NoError(t, c.handleDocumentArrived(context.Background(), evt))

	// Both deliveries derive the same execution identity, so the redelivery
	// targets the workflow already running and nothing new starts.
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])

	execs, err := st.ListExecutions(context.Background(), store.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

func TestConsumerDistinctArrivalsStartDistinctExecutions(t *testing.T) {
	pipe, mc, st := newClientFixture(t, Settings{ConfidenceThreshold: 0.70})
	c := NewConsumer(nil, pipe)

	var ids []string
	mc.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			opts := args.Get(1).(client.StartWorkflowOptions)
			ids = append(ids, opts.ID)
		}).
		Return(nil, nil)

	first := arrivalEvent(t, "pathology-report")
	second, err := json.Marshal(bus.DocumentArrived{
		SourceURI:   "s3://inbox/report.pdf",
		BlueprintID: "pathology-report",
		ReceivedAt:  "2026-08-29T11:30:00Z",
	})
	require.NoError(t, err)

	require.NoError(t, c.handleDocumentArrived(context.Background(), first))
	require.NoError(t, c.handleDocumentArrived(context.Background(), second))

	// A genuine re-upload carries a new ReceivedAt and gets its own execution.
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	execs, err := st.ListExecutions(context.Background(), store.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}

func TestConsumerDropsUnknownBlueprintArrival(t *testing.T) {
	pipe, mc, _ := newClientFixture(t, Settings{ConfidenceThreshold: 0.70})
	c := NewConsumer(nil, pipe)

	// Returning nil acks the event; redelivery could never succeed.
	err := c.handleDocumentArrived(context.Background(), arrivalEvent(t, "no-such-blueprint"))
	require.NoError(t, err)
	mc.AssertNumberOfCalls(t, "ExecuteWorkflow", 0)
}

func TestConsumerRejectsMalformedArrival(t *testing.T) {
	pipe, _, _ := newClientFixture(t, Settings{ConfidenceThreshold: 0.70})
	c := NewConsumer(nil, pipe)

	require.Error(t, c.handleDocumentArrived(context.Background(), []byte("{")))

	missing, err := json.Marshal(bus.DocumentArrived{ReceivedAt: "2026-08-29T10:00:00Z"})
	require.NoError(t, err)
	require.Error(t, c.handleDocumentArrived(context.Background(), missing))
}

func TestConsumerMapsReviewCompleted(t *testing.T) {
	pipe, mc, _ := newClientFixture(t, Settings{ConfidenceThreshold: 0.70})
	c := NewConsumer(nil, pipe)

	var sig ReviewSignal
	mc.On("SignalWorkflow", mock.Anything, WorkflowID("doc-1", "exec-1"), "", SignalReviewCompleted, mock.Anything).
		Run(func(args mock.Arguments) {
			sig = args.Get(4).(ReviewSignal)
		}).
		Return(nil)

	evt, err := json.Marshal(bus.ReviewCompleted{
		DocumentID:  "doc-1",
		ExecutionID: "exec-1",
		TaskID:      "task-1",
		Corrections: []review.Correction{
			{Path: "dob", Value: "1962-03-14", ReviewerID: "rev-42"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, c.handleReviewCompleted(context.Background(), evt))

	assert.Equal(t, "task-1", sig.TaskID)
	require.Len(t, sig.Corrections, 1)
	assert.Equal(t, "dob", sig.Corrections[0].Path)
	assert.Equal(t, "1962-03-14", sig.Corrections[0].CorrectedValue)
	assert.Equal(t, "rev-42", sig.Corrections[0].ReviewerID)
}
