package coordinator

import "github.com/sells-group/docflow/internal/model"

// Signal names delivered to a running pipeline workflow.
const (
	SignalExtractionCompleted = "extraction-completed"
	SignalReviewCompleted     = "review-completed"
)

// ExtractionSignal reports the outcome of an extraction job.
type ExtractionSignal struct {
	JobHandle string `json:"job_handle"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// ReviewSignal delivers reviewer corrections for a completed review task.
type ReviewSignal struct {
	TaskID      string             `json:"task_id"`
	Corrections []model.Correction `json:"corrections"`
}
