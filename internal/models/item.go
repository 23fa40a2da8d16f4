package models

// NormalizedItem is the canonical per-record shape produced by the unified
// pipeline. IDs are stable under re-runs for the same input; content fields
// are UTF-8 text keyed by field name.
type NormalizedItem struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Content       map[string]string `json:"content"`
	Metadata      ItemMetadata      `json:"metadata"`
	Analysis      *ItemAnalysis     `json:"analysis,omitempty"`
	Relationships *Relationships    `json:"relationships,omitempty"`
}

// ItemMetadata carries provenance for a normalized item
type ItemMetadata struct {
	CreatedAt  string `json:"created_at"` // ISO 8601, empty when the source had no date
	Author     string `json:"author"`
	Type       string `json:"type"` // e.g. "ticket", "page"
	SourceFile string `json:"source_file"`
}

// ItemAnalysis holds LLM enrichment output. The block is all-or-nothing:
// a failed enrichment leaves Analysis nil rather than partially populated.
type ItemAnalysis struct {
	Summary   string       `json:"llm_summary"`
	Keywords  []string     `json:"llm_keywords"`
	Entities  ItemEntities `json:"llm_entities"`
	Sentiment string       `json:"llm_sentiment"` // positive | neutral | negative
}

// ItemEntities groups named entities extracted during enrichment
type ItemEntities struct {
	People         []string `json:"people"`
	Organizations  []string `json:"organizations"`
	TechnicalTerms []string `json:"technical_terms"`
}

// Relationships lists cross-source links discovered by the matching engine
type Relationships struct {
	Inbound  []Relationship `json:"inbound"`
	Outbound []Relationship `json:"outbound"`
}

// Relationship is one directed edge of a match
type Relationship struct {
	TargetID string  `json:"target_id"`
	Score    float64 `json:"score"` // [0,1]
	Reason   string  `json:"reason"`
}

// Complete reports whether the analysis block satisfies the all-or-nothing
// invariant (all four sub-fields populated, lists possibly empty but non-nil).
func (a *ItemAnalysis) Complete() bool {
	if a == nil {
		return false
	}
	return a.Keywords != nil &&
		a.Entities.People != nil &&
		a.Entities.Organizations != nil &&
		a.Entities.TechnicalTerms != nil &&
		a.Sentiment != ""
}
