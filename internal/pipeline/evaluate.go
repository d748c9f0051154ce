// Package pipeline implements the stages of the extraction reconciliation
// pipeline: confidence evaluation, review orchestration, and path-based
// reconciliation of human corrections into the canonical tree.
package pipeline

import (
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/model"
)

// DefaultConfidenceThreshold matches the extraction service's recommended
// review cutoff.
const DefaultConfidenceThreshold = 0.70

// Evaluate partitions the scalar fields of a tree into accepted and flagged
// sets. A scalar is flagged iff its confidence is strictly below the threshold
// or absent; confidence exactly at the threshold is accepted. Object and array
// nodes are structural and never classified. Evaluation is pure: same tree and
// threshold always produce the same partition.
func Evaluate(tree *model.ExtractionTree, threshold float64) (accepted, flagged []model.FieldPath) {
	tree.Walk(func(path model.FieldPath, f *model.ExtractionField) {
		if f.Kind != model.KindScalar {
			return
		}
		if f.Confidence == nil || *f.Confidence < threshold {
			flagged = append(flagged, path)
			return
		}
		accepted = append(accepted, path)
	})

	zap.L().Debug("evaluate: partitioned scalar fields",
		zap.String("document_id", tree.DocumentID),
		zap.String("execution_id", tree.ExecutionID),
		zap.Float64("threshold", threshold),
		zap.Int("accepted", len(accepted)),
		zap.Int("flagged", len(flagged)),
	)
	return accepted, flagged
}

// PathStrings renders a path slice into its string form, preserving order.
func PathStrings(paths []model.FieldPath) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}
