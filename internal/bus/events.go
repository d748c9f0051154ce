// Package bus publishes and consumes pipeline trigger events over NATS
// JetStream. Delivery is at-least-once; every handler downstream must
// tolerate duplicates.
package bus

import "github.com/sells-group/docflow/pkg/review"

// Stream and subject names for pipeline events.
const (
	StreamName = "DOCFLOW"

	SubjectDocumentArrived     = "docs.arrived"
	SubjectExtractionCompleted = "extraction.completed"
	SubjectReviewCompleted     = "review.completed"
)

// DocumentArrived announces a new document in the intake location. Each
// arrival starts a fresh pipeline execution, even for a previously seen
// document.
type DocumentArrived struct {
	SourceURI   string `json:"source_uri"`
	BlueprintID string `json:"blueprint_id"`
	ReceivedAt  string `json:"received_at"`
}

// ExtractionCompleted reports that the extraction service finished a job,
// successfully or not.
type ExtractionCompleted struct {
	DocumentID  string `json:"document_id"`
	ExecutionID string `json:"execution_id"`
	JobHandle   string `json:"job_handle"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// ReviewCompleted reports that a human reviewer submitted corrections for a
// review task.
type ReviewCompleted struct {
	DocumentID  string              `json:"document_id"`
	ExecutionID string              `json:"execution_id"`
	TaskID      string              `json:"task_id"`
	Corrections []review.Correction `json:"corrections"`
}
