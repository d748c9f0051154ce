package pipeline

import (
	"github.com/sells-group/docflow/internal/model"
)

func confPtr(c float64) *float64 { return &c }

func scalarField(key string, value any, conf *float64, page int) *model.ExtractionField {
	f := &model.ExtractionField{
		Key:        key,
		Kind:       model.KindScalar,
		Value:      value,
		ValueType:  "string",
		Confidence: conf,
		Provenance: model.ProvenanceAutomated,
	}
	if page > 0 {
		f.Geometry = []model.Geometry{{Page: page, Left: 0.1, Top: 0.2, Width: 0.3, Height: 0.05}}
	}
	return f
}

// testTree builds a small pathology-style tree with a mix of confident,
// low-confidence, and confidence-less scalars across two pages.
func testTree() *model.ExtractionTree {
	return &model.ExtractionTree{
		DocumentID:  "doc-1",
		ExecutionID: "exec-1",
		BlueprintID: "pathology-report",
		Root: &model.ExtractionField{
			Kind: model.KindObject,
			Children: []*model.ExtractionField{
				scalarField("dob", "1960-01-01", confPtr(0.40), 1),
				{
					Key:  "diagnosis",
					Kind: model.KindObject,
					Children: []*model.ExtractionField{
						{
							Key:  "immunostains",
							Kind: model.KindArray,
							Children: []*model.ExtractionField{
								{
									Kind: model.KindObject,
									Children: []*model.ExtractionField{
										scalarField("marker", "ER", confPtr(0.90), 2),
										scalarField("result", "positive", confPtr(0.65), 2),
									},
								},
							},
						},
						scalarField("tumor_size", "2.3cm", confPtr(0.80), 2),
					},
				},
				scalarField("name", "Jane Doe", confPtr(0.95), 1),
				scalarField("notes", "follow up in 3 months", nil, 0),
			},
		},
	}
}
