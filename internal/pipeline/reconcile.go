package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/model"
)

// Reconcile merges human corrections into a copy of the original tree by
// field path. The original is never mutated. Every scalar leaf in the result
// carries a provenance tag: human-corrected where a correction applied,
// automated everywhere else. The result's path set is identical to the
// original's: corrections change values, never shape.
//
// A correction whose path does not exist in the tree, is not a scalar, or was
// not among the flagged paths for this execution fails the whole merge with
// UnknownCorrectionPathError; nothing is partially applied.
func Reconcile(tree *model.ExtractionTree, corrections []model.Correction, flaggedPaths []string) (*model.AggregatedResult, error) {
	flagged := make(map[string]bool, len(flaggedPaths))
	for _, p := range flaggedPaths {
		flagged[p] = true
	}

	byPath := make(map[string]model.Correction, len(corrections))
	for _, c := range corrections {
		if !flagged[c.Path] {
			return nil, &model.UnknownCorrectionPathError{Path: c.Path}
		}
		byPath[c.Path] = c
	}

	merged := tree.Clone()
	var correctedCount int
	var badPath string
	merged.Walk(func(path model.FieldPath, f *model.ExtractionField) {
		if f.Kind != model.KindScalar {
			return
		}
		key := path.String()
		if c, ok := byPath[key]; ok {
			f.Value = c.CorrectedValue
			f.Provenance = model.ProvenanceHumanCorrected
			correctedCount++
			delete(byPath, key)
			return
		}
		f.Provenance = model.ProvenanceAutomated
	})

	// Anything left in the lookup pointed at a path the tree does not have.
	for p := range byPath {
		badPath = p
		break
	}
	if badPath != "" {
		return nil, &model.UnknownCorrectionPathError{Path: badPath}
	}

	zap.L().Info("reconcile: merged corrections",
		zap.String("document_id", tree.DocumentID),
		zap.String("execution_id", tree.ExecutionID),
		zap.Int("corrections", correctedCount),
	)

	return &model.AggregatedResult{
		DocumentID:     tree.DocumentID,
		ExecutionID:    tree.ExecutionID,
		BlueprintID:    tree.BlueprintID,
		Tree:           merged,
		CorrectedCount: correctedCount,
		CreatedAt:      time.Now().UTC(),
	}, nil
}
