package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document identifies one unit of work entering the pipeline.
type Document struct {
	DocumentID  string `json:"document_id"`
	ExecutionID string `json:"execution_id"`
	BlueprintID string `json:"blueprint_id"`
	SourceURI   string `json:"source_uri"`
}

// DocumentIDFromSource derives a stable document identity from the source
// location, so re-uploads of the same object map to the same document.
func DocumentIDFromSource(sourceURI string) string {
	sum := sha256.Sum256([]byte(sourceURI))
	return hex.EncodeToString(sum[:16])
}

// ExecutionState is one stage of the pipeline state machine.
type ExecutionState string

const (
	StateSubmitted   ExecutionState = "submitted"
	StateExtracting  ExecutionState = "extracting"
	StateEvaluating  ExecutionState = "evaluating"
	StateReviewing   ExecutionState = "reviewing"
	StateFinalizing  ExecutionState = "finalizing"
	StateAggregating ExecutionState = "aggregating"
	StateCompleted   ExecutionState = "completed"
	StateFailed      ExecutionState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s ExecutionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Execution is the persisted record of one pipeline run for one document.
type Execution struct {
	ExecutionID  string         `json:"execution_id"`
	DocumentID   string         `json:"document_id"`
	BlueprintID  string         `json:"blueprint_id"`
	SourceURI    string         `json:"source_uri"`
	State        ExecutionState `json:"state"`
	FailureCause string         `json:"failure_cause,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ReviewTaskStatus is the lifecycle of an external review task.
type ReviewTaskStatus string

const (
	ReviewPending   ReviewTaskStatus = "pending"
	ReviewCompleted ReviewTaskStatus = "completed"
	ReviewExpired   ReviewTaskStatus = "expired"
)

// ReviewTask records the identity of a human-review task created for the
// flagged subset of one execution.
type ReviewTask struct {
	TaskID       string           `json:"task_id"`
	DocumentID   string           `json:"document_id"`
	ExecutionID  string           `json:"execution_id"`
	FlaggedPaths []string         `json:"flagged_paths"`
	Status       ReviewTaskStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Correction is one human-reviewed value for a flagged field.
type Correction struct {
	Path           string `json:"path"`
	CorrectedValue any    `json:"corrected_value"`
	ReviewerID     string `json:"reviewer_id,omitempty"`
}
