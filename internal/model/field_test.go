package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conf(v float64) *float64 { return &v }

// sampleTree builds a two-level tree with an object, a nested array, and
// scalar leaves at several depths.
func sampleTree() *ExtractionTree {
	return &ExtractionTree{
		DocumentID:  "doc-1",
		ExecutionID: "exec-1",
		BlueprintID: "pathology-report",
		Root: &ExtractionField{
			Kind: KindObject,
			Children: []*ExtractionField{
				{Key: "name", Kind: KindScalar, Value: "Jane Doe", Confidence: conf(0.95)},
				{Key: "dob", Kind: KindScalar, Value: "1990-01-01", Confidence: conf(0.40)},
				{
					Key:  "diagnosis",
					Kind: KindObject,
					Children: []*ExtractionField{
						{Key: "tumor_size", Kind: KindScalar, Value: "2.1cm", Confidence: conf(0.80)},
						{
							Key:  "immunostains",
							Kind: KindArray,
							Children: []*ExtractionField{
								{Kind: KindScalar, Value: "ER+", Confidence: conf(0.90)},
								{Kind: KindScalar, Value: "PR-", Confidence: nil},
							},
						},
					},
				},
			},
		},
	}
}

func TestFieldPath_String(t *testing.T) {
	p := FieldPath{}.Child("diagnosis").Child("immunostains").At(2).Child("result")
	assert.Equal(t, "diagnosis.immunostains[2].result", p.String())
}

func TestParsePath_RoundTrip(t *testing.T) {
	for _, s := range []string{
		"name",
		"diagnosis.tumor_size",
		"diagnosis.immunostains[0]",
		"diagnosis.immunostains[12].result",
		"endorsements[3]",
	} {
		p, err := ParsePath(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, p.String())
	}
}

func TestParsePath_Malformed(t *testing.T) {
	for _, s := range []string{"", "a..b", "a[", "a[x]", "a[-1]"} {
		_, err := ParsePath(s)
		assert.Error(t, err, s)
	}
}

func TestScalarPaths_CoversAllLeaves(t *testing.T) {
	tree := sampleTree()
	paths := tree.ScalarPaths()

	got := make([]string, len(paths))
	for i, p := range paths {
		got[i] = p.String()
	}
	assert.Equal(t, []string{
		"name",
		"dob",
		"diagnosis.tumor_size",
		"diagnosis.immunostains[0]",
		"diagnosis.immunostains[1]",
	}, got)
}

func TestFieldAt(t *testing.T) {
	tree := sampleTree()

	p, err := ParsePath("diagnosis.immunostains[1]")
	require.NoError(t, err)
	f := tree.FieldAt(p)
	require.NotNil(t, f)
	assert.Equal(t, "PR-", f.Value)
	assert.Nil(t, f.Confidence)

	missing, err := ParsePath("diagnosis.immunostains[9]")
	require.NoError(t, err)
	assert.Nil(t, tree.FieldAt(missing))

	wrongKey, err := ParsePath("diagnosis.grade")
	require.NoError(t, err)
	assert.Nil(t, tree.FieldAt(wrongKey))
}

func TestClone_Independent(t *testing.T) {
	tree := sampleTree()
	cp := tree.Clone()

	p, err := ParsePath("name")
	require.NoError(t, err)
	cp.FieldAt(p).Value = "changed"
	cp.FieldAt(p).Provenance = ProvenanceHumanCorrected
	*cp.FieldAt(FieldPath{}.Child("dob")).Confidence = 0.99

	assert.Equal(t, "Jane Doe", tree.FieldAt(p).Value)
	assert.Equal(t, Provenance(""), tree.FieldAt(p).Provenance)
	assert.Equal(t, 0.40, *tree.FieldAt(FieldPath{}.Child("dob")).Confidence)
}

func TestClone_PreservesPathSet(t *testing.T) {
	tree := sampleTree()
	cp := tree.Clone()

	orig := tree.ScalarPaths()
	cloned := cp.ScalarPaths()
	require.Len(t, cloned, len(orig))
	for i := range orig {
		assert.Equal(t, orig[i].String(), cloned[i].String())
	}
}

func TestDocumentIDFromSource_Stable(t *testing.T) {
	a := DocumentIDFromSource("s3://inbox/claims/1234.pdf")
	b := DocumentIDFromSource("s3://inbox/claims/1234.pdf")
	c := DocumentIDFromSource("s3://inbox/claims/5678.pdf")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestExecutionState_Terminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateReviewing.Terminal())
	assert.False(t, StateSubmitted.Terminal())
}
