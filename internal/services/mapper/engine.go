package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
	"gopkg.in/yaml.v3"
)

// Engine applies declarative mappings to source records, producing exactly
// one NormalizedItem or a typed error per record.
type Engine struct {
	mappings map[SourceTemplate]*models.Mapping
	logger   arbor.ILogger
}

// NewEngine creates a mapper engine preloaded with the built-in mappings
func NewEngine(logger arbor.ILogger) *Engine {
	e := &Engine{
		mappings: make(map[SourceTemplate]*models.Mapping),
		logger:   logger,
	}
	for template, m := range builtinMappings() {
		e.mappings[template] = m
	}
	return e
}

// LoadMapping registers a YAML mapping override for a template. Unknown
// transforms are rejected here, before any record is processed.
func (e *Engine) LoadMapping(template SourceTemplate, yamlData []byte) error {
	var m models.Mapping
	if err := yaml.Unmarshal(yamlData, &m); err != nil {
		return fmt.Errorf("failed to parse mapping: %w", err)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	e.mappings[template] = &m
	e.logger.Info().Str("template", string(template)).Str("mapping", m.Name).Msg("Mapping loaded")
	return nil
}

// MappingFor returns the mapping registered for template
func (e *Engine) MappingFor(template SourceTemplate) *models.Mapping {
	if m, ok := e.mappings[template]; ok {
		return m
	}
	return e.mappings[TemplateGeneric]
}

// Apply projects a raw record onto a NormalizedItem using the template's
// mapping. sourceFile is recorded in the item metadata.
func (e *Engine) Apply(template SourceTemplate, raw json.RawMessage, sourceFile string) (*models.NormalizedItem, error) {
	mapping := e.MappingFor(template)

	var rec map[string]interface{}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransformFailed, "map",
			"record is not a JSON object", err)
	}

	id, err := resolveBinding(rec, mapping.ID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, models.NewPipelineError(models.ErrKindMissingField, "map",
			fmt.Sprintf("mapping %q: no value for required field id", mapping.Name), nil)
	}

	title, err := resolveBinding(rec, mapping.Title)
	if err != nil {
		return nil, err
	}
	if title == "" && mapping.Title.Required {
		return nil, models.NewPipelineError(models.ErrKindMissingField, "map",
			fmt.Sprintf("mapping %q: no value for required field title", mapping.Name), nil)
	}

	content := make(map[string]string, len(mapping.Content))
	for name, binding := range mapping.Content {
		value, err := resolveBinding(rec, binding)
		if err != nil {
			return nil, err
		}
		if value == "" && binding.Required {
			return nil, models.NewPipelineError(models.ErrKindMissingField, "map",
				fmt.Sprintf("mapping %q: no value for required field content.%s", mapping.Name, name), nil)
		}
		if value != "" {
			content[name] = value
		}
	}

	created, err := resolveBinding(rec, mapping.Created)
	if err != nil {
		return nil, err
	}
	author, err := resolveBinding(rec, mapping.Author)
	if err != nil {
		return nil, err
	}

	return &models.NormalizedItem{
		ID:      id,
		Title:   title,
		Content: content,
		Metadata: models.ItemMetadata{
			CreatedAt:  created,
			Author:     author,
			Type:       mapping.ItemType,
			SourceFile: sourceFile,
		},
	}, nil
}

// resolveBinding evaluates one field binding: single path, first-non-empty
// candidate list, or path plus transform.
func resolveBinding(rec map[string]interface{}, b models.FieldBinding) (string, error) {
	var raw string
	if b.Path != "" {
		if v, ok := LookupPath(rec, b.Path); ok {
			raw = Stringify(v)
		}
	} else {
		for _, candidate := range b.Candidates {
			if v, ok := LookupPath(rec, candidate); ok {
				if s := Stringify(v); s != "" {
					raw = s
					break
				}
			}
		}
	}

	if b.Transform == "" {
		return raw, nil
	}
	return ApplyTransform(b.Transform, raw)
}

// LookupPath navigates a dotted path through nested maps. Array elements
// are addressed implicitly: a path segment applied to an array looks into
// its first element, which matches how tracker exports nest single values.
func LookupPath(rec map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = rec
	for _, segment := range strings.Split(path, ".") {
		for {
			if arr, ok := current.([]interface{}); ok {
				if len(arr) == 0 {
					return nil, false
				}
				current = arr[0]
				continue
			}
			break
		}
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a looked-up value as text. Maps render their "value",
// "name" or "displayName" member when present (tracker export convention);
// lists join their stringified elements with newlines.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	case map[string]interface{}:
		for _, key := range []string{"value", "name", "displayName", "title"} {
			if inner, ok := t[key]; ok {
				return Stringify(inner)
			}
		}
		b, _ := json.Marshal(t)
		return string(b)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, el := range t {
			if s := Stringify(el); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// builtinMappings returns the mappings shipped for each template
func builtinMappings() map[SourceTemplate]*models.Mapping {
	return map[SourceTemplate]*models.Mapping{
		TemplateJira: {
			Name:     "jira-export",
			ItemType: "ticket",
			ID:       models.FieldBinding{Candidates: []string{"key", "id"}, Required: true},
			Title:    models.FieldBinding{Candidates: []string{"fields.summary", "summary", "title"}},
			Content: map[string]models.FieldBinding{
				"description": {Candidates: []string{"fields.description", "description"}, Transform: models.TransformCleanText},
				"comments":    {Candidates: []string{"fields.comment.comments", "comments"}, Transform: models.TransformCleanText},
				"status":      {Candidates: []string{"fields.status.name", "status"}},
				"issue_type":  {Candidates: []string{"fields.issuetype.name", "issue_type"}},
				"priority":    {Candidates: []string{"fields.priority.name", "priority"}},
				"labels":      {Candidates: []string{"fields.labels", "labels"}},
			},
			Created: models.FieldBinding{Candidates: []string{"fields.created", "created", "created_at"}, Transform: models.TransformToISODate},
			Author:  models.FieldBinding{Candidates: []string{"fields.reporter.displayName", "fields.reporter.name", "reporter", "author"}},
		},
		TemplateConfluence: {
			Name:     "confluence-export",
			ItemType: "page",
			ID:       models.FieldBinding{Candidates: []string{"id", "page_id"}, Required: true},
			Title:    models.FieldBinding{Candidates: []string{"title"}},
			Content: map[string]models.FieldBinding{
				"body":   {Candidates: []string{"body.storage.value", "body.view.value", "body", "content"}, Transform: models.TransformCleanText},
				"space":  {Candidates: []string{"space.key", "space_key", "space"}},
				"labels": {Candidates: []string{"metadata.labels.results", "labels"}},
			},
			Created: models.FieldBinding{Candidates: []string{"history.createdDate", "created_date", "createdAt"}, Transform: models.TransformToISODate},
			Author:  models.FieldBinding{Candidates: []string{"history.createdBy.displayName", "author", "creator"}},
		},
		TemplateGeneric: {
			Name:     "generic-collection",
			ItemType: "record",
			ID:       models.FieldBinding{Candidates: []string{"id", "key", "uid", "_id", "name"}, Required: true},
			Title:    models.FieldBinding{Candidates: []string{"title", "name", "summary", "subject"}},
			Content: map[string]models.FieldBinding{
				"body": {Candidates: []string{"body", "content", "text", "description"}, Transform: models.TransformCleanText},
			},
			Created: models.FieldBinding{Candidates: []string{"created_at", "created", "date", "timestamp"}, Transform: models.TransformToISODate},
			Author:  models.FieldBinding{Candidates: []string{"author", "creator", "user", "owner"}},
		},
	}
}
