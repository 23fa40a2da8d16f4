package unified

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/sync/errgroup"
)

// analysisSchema constrains enrichment output. Enum members are ordered so
// the degraded-mode stub lands on "neutral".
func analysisSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"llm_summary": map[string]interface{}{"type": "string", "maxLength": 500},
			"llm_keywords": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"llm_entities": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"people":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"organizations":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"technical_terms": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
				"required": []string{"people", "organizations", "technical_terms"},
			},
			"llm_sentiment": map[string]interface{}{
				"type": "string",
				"enum": []string{"neutral", "positive", "negative"},
			},
		},
		"required": []string{"llm_summary", "llm_keywords", "llm_entities", "llm_sentiment"},
	}
}

// enrichmentPrompt is a pure function of the item content, which keeps
// enrichment reproducible for identical inputs.
func enrichmentPrompt(item *models.NormalizedItem) string {
	var sb strings.Builder
	sb.WriteString("Analyse the following document for a retrieval corpus. ")
	sb.WriteString("Produce a concise summary, searchable keywords, the named entities it mentions, and its overall sentiment.\n\n")
	sb.WriteString("Title: ")
	sb.WriteString(item.Title)
	sb.WriteByte('\n')

	keys := make([]string, 0, len(item.Content))
	for k := range item.Content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(item.Content[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}

// enrichItems attaches analysis blocks to items with bounded concurrency.
// Each item's analysis is all-or-nothing: any per-item failure leaves that
// item's Analysis nil and the run continues. Returns the enriched count.
func (p *Pipeline) enrichItems(ctx context.Context, items []*models.NormalizedItem, report interfaces.ProgressFunc) int {
	limit := p.config.EnrichmentConcurrency
	if limit <= 0 {
		limit = 8
	}

	var enriched atomic.Int64
	var done atomic.Int64
	total := len(items)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, item := range items {
		item := item
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			raw, err := p.gateway.GenerateStructured(gctx, enrichmentPrompt(item), analysisSchema(), interfaces.GenerateOptions{})
			n := done.Add(1)
			report(models.PhaseEnrich, fmt.Sprintf("item %d/%d", n, total), float64(n)/float64(total))
			if err != nil {
				p.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Enrichment failed for item")
				return nil
			}

			var analysis models.ItemAnalysis
			if err := json.Unmarshal(raw, &analysis); err != nil {
				p.logger.Warn().Err(err).Str("item_id", item.ID).Msg("Enrichment output not decodable")
				return nil
			}
			if !analysis.Complete() {
				p.logger.Warn().Str("item_id", item.ID).Msg("Incomplete analysis discarded")
				return nil
			}

			item.Analysis = &analysis
			enriched.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Warn().Err(err).Msg("Enrichment cancelled")
	}
	return int(enriched.Load())
}
