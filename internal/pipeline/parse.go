package pipeline

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/model"
)

// ParseExtractionOutput converts the raw nested output of the extraction
// service into a typed tree. A JSON object carrying both "value" and
// "confidence" keys is a scalar leaf; every other object is a structural
// node. Object children are ordered by key so repeated parses of the same
// output walk in the same order.
func ParseExtractionOutput(raw json.RawMessage, documentID, executionID, blueprintID string) (*model.ExtractionTree, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, eris.Wrap(err, "pipeline: decode extraction output")
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, eris.New("pipeline: extraction output root must be an object")
	}

	root, err := parseNode("", obj)
	if err != nil {
		return nil, err
	}
	return &model.ExtractionTree{
		DocumentID:  documentID,
		ExecutionID: executionID,
		BlueprintID: blueprintID,
		Root:        root,
	}, nil
}

func parseNode(key string, v any) (*model.ExtractionField, error) {
	switch node := v.(type) {
	case map[string]any:
		if isLeaf(node) {
			return parseLeaf(key, node)
		}
		f := &model.ExtractionField{Key: key, Kind: model.KindObject}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := parseNode(k, node[k])
			if err != nil {
				return nil, err
			}
			f.Children = append(f.Children, child)
		}
		return f, nil
	case []any:
		f := &model.ExtractionField{Key: key, Kind: model.KindArray}
		for _, item := range node {
			child, err := parseNode("", item)
			if err != nil {
				return nil, err
			}
			f.Children = append(f.Children, child)
		}
		return f, nil
	default:
		return nil, eris.Errorf("pipeline: bare value at key %q, expected value/confidence object", key)
	}
}

// isLeaf reports whether a JSON object is a scalar leaf rather than a
// structural node.
func isLeaf(node map[string]any) bool {
	_, hasValue := node["value"]
	_, hasConfidence := node["confidence"]
	return hasValue || hasConfidence
}

func parseLeaf(key string, node map[string]any) (*model.ExtractionField, error) {
	f := &model.ExtractionField{
		Key:        key,
		Kind:       model.KindScalar,
		Value:      node["value"],
		Provenance: model.ProvenanceAutomated,
	}
	f.ValueType = valueType(f.Value)

	if raw, ok := node["confidence"]; ok && raw != nil {
		c, ok := raw.(float64)
		if !ok {
			return nil, eris.Errorf("pipeline: non-numeric confidence at key %q", key)
		}
		f.Confidence = &c
	}

	if raw, ok := node["geometry"]; ok {
		geoms, err := parseGeometry(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: geometry at key %q", key)
		}
		f.Geometry = geoms
	}
	return f, nil
}

func parseGeometry(raw any) ([]model.Geometry, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, eris.New("geometry must be a list")
	}
	geoms := make([]model.Geometry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, eris.New("geometry entry must be an object")
		}
		var g model.Geometry
		if page, ok := m["page"].(float64); ok {
			g.Page = int(page)
		}
		if bb, ok := m["bounding_box"].(map[string]any); ok {
			m = bb
		}
		g.Left, _ = m["left"].(float64)
		g.Top, _ = m["top"].(float64)
		g.Width, _ = m["width"].(float64)
		g.Height, _ = m["height"].(float64)
		geoms = append(geoms, g)
	}
	return geoms, nil
}

func valueType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
