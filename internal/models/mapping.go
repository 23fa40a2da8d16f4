package models

import (
	"fmt"
)

// Transform names a pure projection applied to a source value during mapping.
// Unknown transforms are rejected when a mapping is loaded, not when applied.
type Transform string

const (
	TransformIdentity        Transform = "identity"
	TransformCleanText       Transform = "clean_text"
	TransformExtractKeywords Transform = "extract_keywords"
	TransformExtractIDs      Transform = "extract_ids"
	TransformExtractURLs     Transform = "extract_urls"
	TransformToISODate       Transform = "to_iso_date"
)

// ValidTransform reports whether t is a member of the transform enum
func ValidTransform(t Transform) bool {
	switch t {
	case TransformIdentity, TransformCleanText, TransformExtractKeywords,
		TransformExtractIDs, TransformExtractURLs, TransformToISODate:
		return true
	}
	return false
}

// FieldBinding binds one target field to source data. Exactly one of the
// three forms is used: a single path, an ordered candidate list with
// first-non-empty semantics, or a path plus transform.
type FieldBinding struct {
	Path       string    `yaml:"path,omitempty" json:"path,omitempty"`
	Candidates []string  `yaml:"candidates,omitempty" json:"candidates,omitempty"`
	Transform  Transform `yaml:"transform,omitempty" json:"transform,omitempty"`
	Required   bool      `yaml:"required,omitempty" json:"required,omitempty"`
}

// Mapping declares how a source record projects onto a NormalizedItem
type Mapping struct {
	Name     string                  `yaml:"name" json:"name"`
	ItemType string                  `yaml:"item_type" json:"item_type"` // metadata.type for produced items
	ID       FieldBinding            `yaml:"id" json:"id"`
	Title    FieldBinding            `yaml:"title" json:"title"`
	Content  map[string]FieldBinding `yaml:"content" json:"content"`
	Created  FieldBinding            `yaml:"created" json:"created"`
	Author   FieldBinding            `yaml:"author" json:"author"`
}

// Validate rejects mappings with unknown transforms or missing identity bindings
func (m *Mapping) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("mapping has no name")
	}
	if m.ID.Path == "" && len(m.ID.Candidates) == 0 {
		return fmt.Errorf("mapping %q: id binding is required", m.Name)
	}
	bindings := map[string]FieldBinding{"id": m.ID, "title": m.Title, "created": m.Created, "author": m.Author}
	for name, b := range m.Content {
		bindings["content."+name] = b
	}
	for name, b := range bindings {
		if b.Transform != "" && !ValidTransform(b.Transform) {
			return fmt.Errorf("mapping %q: field %q uses unknown transform %q", m.Name, name, b.Transform)
		}
	}
	return nil
}
