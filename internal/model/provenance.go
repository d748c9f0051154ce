package model

import "time"

// Provenance tags where a final field value came from.
type Provenance string

const (
	ProvenanceAutomated      Provenance = "automated"
	ProvenanceHumanCorrected Provenance = "human-corrected"
)

// AggregatedResult is the final, immutable result for one execution: the
// original tree shape with every scalar leaf carrying a provenance tag
// and corrected values substituted in place.
type AggregatedResult struct {
	DocumentID     string          `json:"document_id"`
	ExecutionID    string          `json:"execution_id"`
	BlueprintID    string          `json:"blueprint_id"`
	Tree           *ExtractionTree `json:"tree"`
	CorrectedCount int             `json:"corrected_count"`
	CreatedAt      time.Time       `json:"created_at"`
}
