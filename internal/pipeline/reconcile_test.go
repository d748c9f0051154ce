package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/model"
)

func TestReconcileMergesCorrections(t *testing.T) {
	tree := testTree()
	_, flagged := Evaluate(tree, DefaultConfidenceThreshold)

	corrections := []model.Correction{
		{Path: "dob", CorrectedValue: "1962-03-14", ReviewerID: "rev-42"},
		{Path: "diagnosis.immunostains[0].result", CorrectedValue: "negative", ReviewerID: "rev-42"},
	}

	result, err := Reconcile(tree, corrections, PathStrings(flagged))
	require.NoError(t, err)
	assert.Equal(t, 2, result.CorrectedCount)

	dob := result.Tree.FieldAt(model.FieldPath{{Key: "dob"}})
	require.NotNil(t, dob)
	assert.Equal(t, "1962-03-14", dob.Value)
	assert.Equal(t, model.ProvenanceHumanCorrected, dob.Provenance)

	// The flagged field that received no correction keeps its extracted value.
	notes := result.Tree.FieldAt(model.FieldPath{{Key: "notes"}})
	require.NotNil(t, notes)
	assert.Equal(t, "follow up in 3 months", notes.Value)
	assert.Equal(t, model.ProvenanceAutomated, notes.Provenance)

	// Accepted fields are untouched and tagged automated.
	name := result.Tree.FieldAt(model.FieldPath{{Key: "name"}})
	require.NotNil(t, name)
	assert.Equal(t, "Jane Doe", name.Value)
	assert.Equal(t, model.ProvenanceAutomated, name.Provenance)
}

func TestReconcilePreservesPathSet(t *testing.T) {
	tree := testTree()
	_, flagged := Evaluate(tree, DefaultConfidenceThreshold)

	result, err := Reconcile(tree, []model.Correction{
		{Path: "dob", CorrectedValue: "1962-03-14"},
	}, PathStrings(flagged))
	require.NoError(t, err)

	assert.Equal(t, PathStrings(tree.ScalarPaths()), PathStrings(result.Tree.ScalarPaths()))
}

func TestReconcileDoesNotMutateOriginal(t *testing.T) {
	tree := testTree()
	_, flagged := Evaluate(tree, DefaultConfidenceThreshold)

	_, err := Reconcile(tree, []model.Correction{
		{Path: "dob", CorrectedValue: "1962-03-14"},
	}, PathStrings(flagged))
	require.NoError(t, err)

	dob := tree.FieldAt(model.FieldPath{{Key: "dob"}})
	assert.Equal(t, "1960-01-01", dob.Value)
}

func TestReconcileIdempotent(t *testing.T) {
	tree := testTree()
	_, flagged := Evaluate(tree, DefaultConfidenceThreshold)
	corrections := []model.Correction{
		{Path: "dob", CorrectedValue: "1962-03-14"},
	}

	r1, err := Reconcile(tree, corrections, PathStrings(flagged))
	require.NoError(t, err)
	r2, err := Reconcile(tree, corrections, PathStrings(flagged))
	require.NoError(t, err)

	assert.Equal(t, r1.Tree, r2.Tree)
	assert.Equal(t, r1.CorrectedCount, r2.CorrectedCount)
}

func TestReconcileNoCorrections(t *testing.T) {
	tree := testTree()
	_, flagged := Evaluate(tree, DefaultConfidenceThreshold)

	result, err := Reconcile(tree, nil, PathStrings(flagged))
	require.NoError(t, err)
	assert.Equal(t, 0, result.CorrectedCount)

	// Every scalar in the merged tree is tagged automated.
	result.Tree.Walk(func(_ model.FieldPath, f *model.ExtractionField) {
		if f.Kind == model.KindScalar {
			assert.Equal(t, model.ProvenanceAutomated, f.Provenance)
		}
	})
}

func TestReconcileRejectsUnflaggedPath(t *testing.T) {
	tree := testTree()
	_, flagged := Evaluate(tree, DefaultConfidenceThreshold)

	// "name" exists but was accepted, not flagged.
	_, err := Reconcile(tree, []model.Correction{
		{Path: "name", CorrectedValue: "John Doe"},
	}, PathStrings(flagged))

	var pathErr *model.UnknownCorrectionPathError
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, "name", pathErr.Path)
}

func TestReconcileRejectsNonexistentPath(t *testing.T) {
	tree := testTree()
	flagged := []string{"dob", "no.such.field"}

	_, err := Reconcile(tree, []model.Correction{
		{Path: "no.such.field", CorrectedValue: "x"},
	}, flagged)

	var pathErr *model.UnknownCorrectionPathError
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, "no.such.field", pathErr.Path)
}
