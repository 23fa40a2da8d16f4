package mapper

import (
	"encoding/json"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/services/reader"
)

// SourceTemplate identifies a recognised export shape
type SourceTemplate string

const (
	TemplateJira       SourceTemplate = "jira"
	TemplateConfluence SourceTemplate = "confluence"
	TemplateGeneric    SourceTemplate = "generic"
)

// fingerprint describes a template's identifying fields. Required fields
// must all be present on a record for the template to match; optional
// fields break ties toward the higher-coverage template.
type fingerprint struct {
	template SourceTemplate
	required []string
	optional []string
}

// Fingerprints are evaluated in declaration order; the first template whose
// required fields all match wins.
var fingerprints = []fingerprint{
	{
		template: TemplateJira,
		required: []string{"key", "fields.summary"},
		optional: []string{"fields.status.name", "fields.issuetype.name", "fields.assignee", "fields.created", "fields.description"},
	},
	{
		template: TemplateJira,
		required: []string{"key", "summary"},
		optional: []string{"status", "issue_type", "assignee", "created", "description"},
	},
	{
		template: TemplateConfluence,
		required: []string{"id", "title", "body"},
		optional: []string{"space", "version", "history.createdBy", "body.storage.value", "type"},
	},
	{
		template: TemplateConfluence,
		required: []string{"page_id", "title"},
		optional: []string{"space_key", "author", "content", "created_date"},
	},
}

// Detector classifies an input's shape from a sample of its items
type Detector struct {
	sampleSize int
	logger     arbor.ILogger
}

// NewDetector creates a structure detector inspecting up to sampleSize items
func NewDetector(sampleSize int, logger arbor.ILogger) *Detector {
	if sampleSize <= 0 {
		sampleSize = 64
	}
	return &Detector{sampleSize: sampleSize, logger: logger}
}

// Detect scores the first items against the built-in fingerprints. A
// template matches when every required field is present on a majority of
// sampled records; ties go to the template covering more optional fields.
func (d *Detector) Detect(items []reader.Item) SourceTemplate {
	sample := items
	if len(sample) > d.sampleSize {
		sample = sample[:d.sampleSize]
	}
	if len(sample) == 0 {
		return TemplateGeneric
	}

	records := make([]map[string]interface{}, 0, len(sample))
	for _, item := range sample {
		var rec map[string]interface{}
		if err := json.Unmarshal(item.Value, &rec); err == nil {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return TemplateGeneric
	}

	best := TemplateGeneric
	bestCoverage := -1.0
	for _, fp := range fingerprints {
		matched := 0
		coverage := 0.0
		for _, rec := range records {
			if hasAll(rec, fp.required) {
				matched++
				coverage += optionalCoverage(rec, fp.optional)
			}
		}
		// Majority of the sample must carry the required fingerprint
		if matched*2 <= len(records) {
			continue
		}
		// Earlier fingerprints win; a later one only displaces the winner
		// with strictly higher optional-field coverage
		avgCoverage := coverage / float64(matched)
		if avgCoverage > bestCoverage {
			best = fp.template
			bestCoverage = avgCoverage
		}
	}

	d.logger.Debug().
		Str("template", string(best)).
		Int("sample_size", len(records)).
		Msg("Structure detected")
	return best
}

func hasAll(rec map[string]interface{}, paths []string) bool {
	for _, p := range paths {
		if _, ok := LookupPath(rec, p); !ok {
			return false
		}
	}
	return true
}

func optionalCoverage(rec map[string]interface{}, paths []string) float64 {
	if len(paths) == 0 {
		return 0
	}
	found := 0
	for _, p := range paths {
		if _, ok := LookupPath(rec, p); ok {
			found++
		}
	}
	return float64(found) / float64(len(paths))
}
