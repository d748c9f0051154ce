package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// FieldKind distinguishes the three node shapes an extraction tree can contain.
type FieldKind string

const (
	KindScalar FieldKind = "scalar"
	KindObject FieldKind = "object"
	KindArray  FieldKind = "array"
)

// PathSegment is one step in a field path: either an object key or an array index.
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool
}

// FieldPath is the unique address of a node within an extraction tree,
// ordered from the root down.
type FieldPath []PathSegment

// Child extends the path with an object key segment.
func (p FieldPath) Child(key string) FieldPath {
	out := make(FieldPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, PathSegment{Key: key})
}

// At extends the path with an array index segment.
func (p FieldPath) At(i int) FieldPath {
	out := make(FieldPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, PathSegment{Index: i, IsIndex: true})
}

// String renders the path in dotted form with bracketed indices,
// e.g. "diagnosis.immunostains[2].result".
func (p FieldPath) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}

// ParsePath parses the dotted string form back into a FieldPath.
func ParsePath(s string) (FieldPath, error) {
	if s == "" {
		return nil, eris.New("model: empty field path")
	}
	var path FieldPath
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return nil, eris.Errorf("model: malformed field path %q", s)
		}
		for {
			open := strings.IndexByte(part, '[')
			if open == -1 {
				if part != "" {
					path = append(path, PathSegment{Key: part})
				}
				break
			}
			if open > 0 {
				path = append(path, PathSegment{Key: part[:open]})
			}
			closing := strings.IndexByte(part[open:], ']')
			if closing == -1 {
				return nil, eris.Errorf("model: unterminated index in field path %q", s)
			}
			idx, err := strconv.Atoi(part[open+1 : open+closing])
			if err != nil || idx < 0 {
				return nil, eris.Errorf("model: bad array index in field path %q", s)
			}
			path = append(path, PathSegment{Index: idx, IsIndex: true})
			part = part[open+closing+1:]
		}
	}
	if len(path) == 0 {
		return nil, eris.Errorf("model: malformed field path %q", s)
	}
	return path, nil
}

// Geometry locates a field on a source page so a reviewer can find it.
// Coordinates are normalized to [0,1] relative to the page.
type Geometry struct {
	Page   int     `json:"page"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ExtractionField is one node in a document's extraction tree. Scalar nodes
// carry a value and confidence; object and array nodes carry only children.
type ExtractionField struct {
	Key        string     `json:"key,omitempty"`
	Kind       FieldKind  `json:"kind"`
	Value      any        `json:"value,omitempty"`
	ValueType  string     `json:"value_type,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	Geometry   []Geometry `json:"geometry,omitempty"`
	Provenance Provenance `json:"provenance,omitempty"`

	// Children are keyed for objects and ordered for arrays.
	Children []*ExtractionField `json:"children,omitempty"`
}

// ExtractionTree is the rooted field collection for one document. It is
// created once by the extraction stage and read-only afterwards.
type ExtractionTree struct {
	DocumentID  string           `json:"document_id"`
	ExecutionID string           `json:"execution_id"`
	BlueprintID string           `json:"blueprint_id"`
	Root        *ExtractionField `json:"root"`
}

// Walk visits every node depth-first, passing each node's path. Children of
// objects contribute key segments, children of arrays index segments.
func (t *ExtractionTree) Walk(fn func(path FieldPath, f *ExtractionField)) {
	if t == nil || t.Root == nil {
		return
	}
	walkField(nil, t.Root, fn)
}

func walkField(path FieldPath, f *ExtractionField, fn func(FieldPath, *ExtractionField)) {
	fn(path, f)
	for i, child := range f.Children {
		switch f.Kind {
		case KindArray:
			walkField(path.At(i), child, fn)
		default:
			walkField(path.Child(child.Key), child, fn)
		}
	}
}

// ScalarPaths returns the paths of all scalar leaves in traversal order.
func (t *ExtractionTree) ScalarPaths() []FieldPath {
	var paths []FieldPath
	t.Walk(func(path FieldPath, f *ExtractionField) {
		if f.Kind == KindScalar {
			paths = append(paths, path)
		}
	})
	return paths
}

// FieldAt returns the node at the given path, or nil if no such node exists.
func (t *ExtractionTree) FieldAt(path FieldPath) *ExtractionField {
	if t == nil || t.Root == nil {
		return nil
	}
	cur := t.Root
	for _, seg := range path {
		var next *ExtractionField
		if seg.IsIndex {
			if cur.Kind == KindArray && seg.Index < len(cur.Children) {
				next = cur.Children[seg.Index]
			}
		} else if cur.Kind == KindObject {
			for _, child := range cur.Children {
				if child.Key == seg.Key {
					next = child
					break
				}
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// Clone returns a structural deep copy of the tree. Scalar values are copied
// by assignment; they are treated as immutable after extraction.
func (t *ExtractionTree) Clone() *ExtractionTree {
	if t == nil {
		return nil
	}
	return &ExtractionTree{
		DocumentID:  t.DocumentID,
		ExecutionID: t.ExecutionID,
		BlueprintID: t.BlueprintID,
		Root:        cloneField(t.Root),
	}
}

func cloneField(f *ExtractionField) *ExtractionField {
	if f == nil {
		return nil
	}
	out := &ExtractionField{
		Key:        f.Key,
		Kind:       f.Kind,
		Value:      f.Value,
		ValueType:  f.ValueType,
		Provenance: f.Provenance,
	}
	if f.Confidence != nil {
		c := *f.Confidence
		out.Confidence = &c
	}
	if len(f.Geometry) > 0 {
		out.Geometry = make([]Geometry, len(f.Geometry))
		copy(out.Geometry, f.Geometry)
	}
	if len(f.Children) > 0 {
		out.Children = make([]*ExtractionField, len(f.Children))
		for i, child := range f.Children {
			out.Children[i] = cloneField(child)
		}
	}
	return out
}
