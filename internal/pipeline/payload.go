package pipeline

import (
	"github.com/sells-group/docflow/internal/model"
)

// ReviewField is one flagged field in a review payload: the current value,
// its confidence, and enough page context for a reviewer to locate it.
type ReviewField struct {
	Path       string           `json:"path"`
	Value      any              `json:"value"`
	ValueType  string           `json:"value_type,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
	Geometry   []model.Geometry `json:"geometry,omitempty"`
}

// ReviewPayload is the minimal subset sent to the review service: only the
// flagged fields grouped by page, never the full tree.
type ReviewPayload struct {
	DocumentID   string                `json:"document_id"`
	ExecutionID  string                `json:"execution_id"`
	BlueprintID  string                `json:"blueprint_id"`
	FieldsByPage map[int][]ReviewField `json:"fields_by_page"`
	PageImages   map[int]string        `json:"page_images,omitempty"`
}

// TotalFields returns the number of flagged fields across all pages.
func (p *ReviewPayload) TotalFields() int {
	var n int
	for _, fields := range p.FieldsByPage {
		n += len(fields)
	}
	return n
}

// BuildReviewPayload assembles the review subset for the flagged paths.
// Fields with no geometry land on page 0 so nothing flagged is ever dropped.
// pageImages maps page number to an image reference the review UI can render.
func BuildReviewPayload(tree *model.ExtractionTree, flagged []model.FieldPath, pageImages map[int]string) *ReviewPayload {
	payload := &ReviewPayload{
		DocumentID:   tree.DocumentID,
		ExecutionID:  tree.ExecutionID,
		BlueprintID:  tree.BlueprintID,
		FieldsByPage: make(map[int][]ReviewField),
		PageImages:   pageImages,
	}

	for _, path := range flagged {
		f := tree.FieldAt(path)
		if f == nil || f.Kind != model.KindScalar {
			continue
		}
		page := 0
		if len(f.Geometry) > 0 {
			page = f.Geometry[0].Page
		}
		payload.FieldsByPage[page] = append(payload.FieldsByPage[page], ReviewField{
			Path:       path.String(),
			Value:      f.Value,
			ValueType:  f.ValueType,
			Confidence: f.Confidence,
			Geometry:   f.Geometry,
		})
	}
	return payload
}
