// Package registry loads the blueprint catalog: the extraction schemas a
// document can be processed against.
package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Blueprint describes one extraction schema the pipeline accepts.
type Blueprint struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Threshold overrides the pipeline-wide confidence threshold for
	// documents processed against this blueprint. Zero means no override.
	Threshold float64 `yaml:"threshold,omitempty"`
}

// Registry is an immutable blueprint catalog loaded at startup.
type Registry struct {
	byID  map[string]Blueprint
	order []string
}

type catalogFile struct {
	Blueprints []Blueprint `yaml:"blueprints"`
}

// Load reads the blueprint catalog from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read catalog")
	}
	return Parse(data)
}

// Parse builds a registry from raw catalog YAML.
func Parse(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "registry: parse catalog")
	}
	if len(file.Blueprints) == 0 {
		return nil, eris.New("registry: catalog contains no blueprints")
	}

	r := &Registry{byID: make(map[string]Blueprint, len(file.Blueprints))}
	for _, bp := range file.Blueprints {
		if bp.ID == "" {
			return nil, eris.New("registry: blueprint missing id")
		}
		if _, dup := r.byID[bp.ID]; dup {
			return nil, eris.Errorf("registry: duplicate blueprint id %q", bp.ID)
		}
		if bp.Threshold < 0 || bp.Threshold > 1 {
			return nil, eris.Errorf("registry: blueprint %q threshold out of range", bp.ID)
		}
		r.byID[bp.ID] = bp
		r.order = append(r.order, bp.ID)
	}
	return r, nil
}

// Get returns the blueprint for an id.
func (r *Registry) Get(id string) (Blueprint, bool) {
	bp, ok := r.byID[id]
	return bp, ok
}

// IDs returns blueprint ids in catalog order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ThresholdFor returns the effective confidence threshold for a blueprint,
// falling back to the given default when the blueprint has no override.
func (r *Registry) ThresholdFor(id string, fallback float64) float64 {
	if bp, ok := r.byID[id]; ok && bp.Threshold > 0 {
		return bp.Threshold
	}
	return fallback
}
