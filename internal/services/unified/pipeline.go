package unified

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/mapper"
	"github.com/ternarybob/colligo/internal/services/match"
	"github.com/ternarybob/colligo/internal/services/reader"
	"github.com/ternarybob/colligo/internal/services/scrub"
)

// sourceResult is the outcome of parsing and normalising one input blob
type sourceResult struct {
	Template   mapper.SourceTemplate
	SourceFile string
	Items      []*models.NormalizedItem
	Skipped    int
	Repairs    []string
	LLMRepairs int
	Partial    bool
}

// Pipeline runs the unified JSON processing flow: robust parsing, structure
// detection, normalisation, scrubbing, optional enrichment, cross-source
// matching, and output emission under the job's result prefix.
type Pipeline struct {
	store    interfaces.BlobStore
	reader   *reader.Service
	detector *mapper.Detector
	mapper   *mapper.Engine
	scrubber *scrub.Scrubber
	gateway  interfaces.LLMGateway
	matcher  *match.Engine
	config   *common.PipelineConfig
	logger   arbor.ILogger
}

// NewPipeline wires the unified pipeline from its stages
func NewPipeline(store interfaces.BlobStore, rdr *reader.Service, detector *mapper.Detector, eng *mapper.Engine, scrubber *scrub.Scrubber, gateway interfaces.LLMGateway, matcher *match.Engine, config *common.PipelineConfig, logger arbor.ILogger) *Pipeline {
	return &Pipeline{
		store:    store,
		reader:   rdr,
		detector: detector,
		mapper:   eng,
		scrubber: scrubber,
		gateway:  gateway,
		matcher:  matcher,
		config:   config,
		logger:   logger,
	}
}

// RunUnified processes every input of a json-unified job and returns the
// output keys written under <jobID>/result/.
func (p *Pipeline) RunUnified(ctx context.Context, job *models.Job, report interfaces.ProgressFunc) ([]string, error) {
	if report == nil {
		report = func(models.ProgressPhase, string, float64) {}
	}

	sources, err := p.parseInputs(ctx, job, report)
	if err != nil {
		return nil, err
	}

	byTemplate := groupByTemplate(sources)

	enrich := p.config.LLMEnrichment
	if job.Options.LLMEnrichment != nil {
		enrich = *job.Options.LLMEnrichment
	}
	enrichedCount := 0
	enrichFailed := 0
	if enrich {
		all := allItems(byTemplate)
		enrichedCount = p.enrichItems(ctx, all, report)
		enrichFailed = len(all) - enrichedCount
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	report(models.PhaseMatch, "matching items across sources", 0)
	matchReport := p.runMatching(job, byTemplate)

	report(models.PhaseUpload, "writing outputs", 0)
	var outputs []string

	templates := sortedTemplates(byTemplate)
	for _, tpl := range templates {
		key := fmt.Sprintf("%s/result/%s/%s_enriched.json", job.ID, tpl, tpl)
		if err := p.putJSON(ctx, key, byTemplate[tpl]); err != nil {
			return nil, err
		}
		outputs = append(outputs, key)
	}

	matchKey := fmt.Sprintf("%s/result/matches/matches.json", job.ID)
	if err := p.putJSON(ctx, matchKey, matchReport); err != nil {
		return nil, err
	}
	outputs = append(outputs, matchKey)

	corpusKey := fmt.Sprintf("%s/result/llm_ready/enriched_corpus.json", job.ID)
	if err := p.putJSON(ctx, corpusKey, buildCorpus(byTemplate)); err != nil {
		return nil, err
	}
	outputs = append(outputs, corpusKey)

	reportKey := fmt.Sprintf("%s/result/report.md", job.ID)
	reportMD := renderReport(job, sources, enrich, enrichedCount, enrichFailed, matchReport)
	if _, err := p.store.Put(ctx, reportKey, []byte(reportMD), "text/markdown"); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	outputs = append(outputs, reportKey)

	return outputs, nil
}

// RunSingle processes a json-single job: one input, no cross-source matching
func (p *Pipeline) RunSingle(ctx context.Context, job *models.Job, report interfaces.ProgressFunc) ([]string, error) {
	if report == nil {
		report = func(models.ProgressPhase, string, float64) {}
	}

	sources, err := p.parseInputs(ctx, job, report)
	if err != nil {
		return nil, err
	}
	byTemplate := groupByTemplate(sources)

	enrich := p.config.LLMEnrichment
	if job.Options.LLMEnrichment != nil {
		enrich = *job.Options.LLMEnrichment
	}
	enrichedCount := 0
	enrichFailed := 0
	if enrich {
		all := allItems(byTemplate)
		enrichedCount = p.enrichItems(ctx, all, report)
		enrichFailed = len(all) - enrichedCount
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	report(models.PhaseUpload, "writing outputs", 0)
	var outputs []string
	for _, tpl := range sortedTemplates(byTemplate) {
		key := fmt.Sprintf("%s/result/%s/%s_enriched.json", job.ID, tpl, tpl)
		if err := p.putJSON(ctx, key, byTemplate[tpl]); err != nil {
			return nil, err
		}
		outputs = append(outputs, key)
	}

	reportKey := fmt.Sprintf("%s/result/report.md", job.ID)
	reportMD := renderReport(job, sources, enrich, enrichedCount, enrichFailed, nil)
	if _, err := p.store.Put(ctx, reportKey, []byte(reportMD), "text/markdown"); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	outputs = append(outputs, reportKey)

	return outputs, nil
}

// RunSplit chunks each input's top-level items into fixed-size JSON arrays
func (p *Pipeline) RunSplit(ctx context.Context, job *models.Job, report interfaces.ProgressFunc) ([]string, error) {
	if report == nil {
		report = func(models.ProgressPhase, string, float64) {}
	}
	chunkSize := job.Options.ItemsPerChunk
	if chunkSize <= 0 {
		chunkSize = 100
	}

	var outputs []string
	chunkNum := 0
	for _, input := range job.Inputs {
		data, _, err := p.store.Get(ctx, input.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", input.Name, err)
		}
		report(models.PhaseParse, fmt.Sprintf("parsing %s", input.Name), 0)

		items, _, err := p.reader.ReadAll(ctx, bytes.NewReader(data), true)
		if err != nil {
			return nil, err
		}

		for start := 0; start < len(items); start += chunkSize {
			end := start + chunkSize
			if end > len(items) {
				end = len(items)
			}
			chunk := make([]json.RawMessage, 0, end-start)
			for _, it := range items[start:end] {
				chunk = append(chunk, it.Value)
			}
			chunkNum++
			key := fmt.Sprintf("%s/result/chunks/chunk_%04d.json", job.ID, chunkNum)
			if err := p.putJSON(ctx, key, chunk); err != nil {
				return nil, err
			}
			outputs = append(outputs, key)
		}
	}
	return outputs, nil
}

// RunClean scrubs each input document and writes the cleaned copy. Unless
// preserve_source is set, the input blob itself is rewritten with the
// cleaned content as well.
func (p *Pipeline) RunClean(ctx context.Context, job *models.Job, report interfaces.ProgressFunc) ([]string, error) {
	if report == nil {
		report = func(models.ProgressPhase, string, float64) {}
	}

	var outputs []string
	for i, input := range job.Inputs {
		report(models.PhaseClean, fmt.Sprintf("cleaning %s", input.Name), float64(i)/float64(len(job.Inputs)))

		data, _, err := p.store.Get(ctx, input.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", input.Name, err)
		}

		repaired, fixes := reader.Repair(data)
		cleaned, err := p.scrubber.ScrubJSON(repaired)
		if err != nil {
			return nil, models.NewPipelineError(models.ErrKindMalformedJSON, "clean",
				fmt.Sprintf("input %s is not valid JSON after repair", input.Name), err)
		}
		if len(fixes) > 0 {
			p.logger.Debug().Str("input", input.Name).Strs("repairs", fixes).Msg("Mechanical repairs applied before cleaning")
		}

		key := fmt.Sprintf("%s/result/cleaned/%s", job.ID, input.Name)
		if _, err := p.store.Put(ctx, key, cleaned, "application/json"); err != nil {
			return nil, fmt.Errorf("failed to write cleaned output: %w", err)
		}
		outputs = append(outputs, key)

		if !job.Options.PreserveSource {
			if _, err := p.store.Put(ctx, input.Key, cleaned, "application/json"); err != nil {
				return nil, fmt.Errorf("failed to rewrite input %s: %w", input.Name, err)
			}
		}
	}
	return outputs, nil
}

// parseInputs reads, repairs, detects and normalises every input blob
func (p *Pipeline) parseInputs(ctx context.Context, job *models.Job, report interfaces.ProgressFunc) ([]*sourceResult, error) {
	var sources []*sourceResult
	for i, input := range job.Inputs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report(models.PhaseParse, fmt.Sprintf("parsing %s", input.Name), float64(i)/float64(len(job.Inputs)))

		data, _, err := p.store.Get(ctx, input.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", input.Name, err)
		}

		items, readResult, err := p.reader.ReadAll(ctx, bytes.NewReader(data), true)
		if err != nil {
			return nil, err
		}

		report(models.PhaseMap, fmt.Sprintf("mapping %s", input.Name), float64(i)/float64(len(job.Inputs)))
		template := p.detector.Detect(items)

		src := &sourceResult{
			Template:   template,
			SourceFile: input.Name,
			Repairs:    readResult.Repairs,
			LLMRepairs: readResult.LLMRepairs,
			Partial:    readResult.Partial,
		}
		for _, it := range items {
			item, err := p.mapper.Apply(template, it.Value, input.Name)
			if err != nil {
				p.logger.Warn().Err(err).Int("index", it.Index).Str("input", input.Name).Msg("Item skipped during mapping")
				src.Skipped++
				continue
			}
			p.scrubItem(item)
			src.Items = append(src.Items, item)
		}

		p.logger.Info().
			Str("input", input.Name).
			Str("template", string(template)).
			Int("items", len(src.Items)).
			Int("skipped", src.Skipped).
			Bool("partial", src.Partial).
			Msg("Input normalised")

		sources = append(sources, src)
	}
	return sources, nil
}

// scrubItem redacts secrets in every text field of an item
func (p *Pipeline) scrubItem(item *models.NormalizedItem) {
	item.Title = p.scrubber.ScrubString(item.Title)
	for k, v := range item.Content {
		item.Content[k] = p.scrubber.ScrubString(v)
	}
	item.Metadata.Author = p.scrubber.ScrubString(item.Metadata.Author)
}

// runMatching picks the source/target pair and applies relationships.
// Jira items reference pages far more often than the reverse, so jira is the
// source side whenever both shapes are present.
func (p *Pipeline) runMatching(job *models.Job, byTemplate map[mapper.SourceTemplate][]*models.NormalizedItem) *models.MatchReport {
	var srcTpl, tgtTpl mapper.SourceTemplate
	switch {
	case len(byTemplate[mapper.TemplateJira]) > 0 && len(byTemplate[mapper.TemplateConfluence]) > 0:
		srcTpl, tgtTpl = mapper.TemplateJira, mapper.TemplateConfluence
	default:
		templates := sortedTemplates(byTemplate)
		if len(templates) >= 2 {
			srcTpl, tgtTpl = templates[0], templates[1]
		}
	}

	// The job option overrides the configured minimum; absent both, the
	// engine falls back to its own default
	run := func(srcKind string, sources []*models.NormalizedItem, tgtKind string, targets []*models.NormalizedItem) *models.MatchReport {
		if job.Options.MinMatchScore != nil {
			return p.matcher.MatchWithMinScore(*job.Options.MinMatchScore, srcKind, sources, tgtKind, targets)
		}
		return p.matcher.Match(srcKind, sources, tgtKind, targets)
	}

	if srcTpl == "" || tgtTpl == "" {
		return run("", nil, "", nil)
	}

	report := run(string(srcTpl), byTemplate[srcTpl], string(tgtTpl), byTemplate[tgtTpl])
	p.matcher.ApplyRelationships(report, byTemplate[srcTpl], byTemplate[tgtTpl])
	return report
}

// putJSON writes v as indented JSON under key
func (p *Pipeline) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if _, err := p.store.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func groupByTemplate(sources []*sourceResult) map[mapper.SourceTemplate][]*models.NormalizedItem {
	byTemplate := make(map[mapper.SourceTemplate][]*models.NormalizedItem)
	for _, src := range sources {
		byTemplate[src.Template] = append(byTemplate[src.Template], src.Items...)
	}
	return byTemplate
}

func allItems(byTemplate map[mapper.SourceTemplate][]*models.NormalizedItem) []*models.NormalizedItem {
	var all []*models.NormalizedItem
	for _, tpl := range sortedTemplates(byTemplate) {
		all = append(all, byTemplate[tpl]...)
	}
	return all
}

func sortedTemplates(byTemplate map[mapper.SourceTemplate][]*models.NormalizedItem) []mapper.SourceTemplate {
	templates := make([]mapper.SourceTemplate, 0, len(byTemplate))
	for tpl := range byTemplate {
		if len(byTemplate[tpl]) > 0 {
			templates = append(templates, tpl)
		}
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i] < templates[j] })
	return templates
}

// corpusDoc is the flattened retrieval-ready shape of one item
type corpusDoc struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	Keywords []string `json:"keywords,omitempty"`
}

// buildCorpus flattens every item into retrieval documents
func buildCorpus(byTemplate map[mapper.SourceTemplate][]*models.NormalizedItem) []corpusDoc {
	docs := []corpusDoc{}
	for _, tpl := range sortedTemplates(byTemplate) {
		for _, item := range byTemplate[tpl] {
			var text strings.Builder
			keys := make([]string, 0, len(item.Content))
			for k := range item.Content {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if text.Len() > 0 {
					text.WriteString("\n\n")
				}
				text.WriteString(item.Content[k])
			}
			doc := corpusDoc{
				ID:     item.ID,
				Source: string(tpl),
				Title:  item.Title,
				Text:   text.String(),
			}
			if item.Analysis != nil {
				doc.Keywords = item.Analysis.Keywords
				if item.Analysis.Summary != "" {
					doc.Text = item.Analysis.Summary + "\n\n" + doc.Text
				}
			}
			docs = append(docs, doc)
		}
	}
	return docs
}

// renderReport builds the human-readable run summary
func renderReport(job *models.Job, sources []*sourceResult, enrich bool, enrichedCount, enrichFailed int, matchReport *models.MatchReport) string {
	var sb strings.Builder
	sb.WriteString("# Processing Report\n\n")
	fmt.Fprintf(&sb, "- Job: `%s`\n", job.ID)
	fmt.Fprintf(&sb, "- Kind: %s\n", job.Kind)
	fmt.Fprintf(&sb, "- Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	sb.WriteString("## Sources\n\n")
	sb.WriteString("| Input | Template | Items | Skipped | Repairs | Partial |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	totalItems := 0
	for _, src := range sources {
		totalItems += len(src.Items)
		fmt.Fprintf(&sb, "| %s | %s | %d | %d | %d | %v |\n",
			src.SourceFile, src.Template, len(src.Items), src.Skipped, len(src.Repairs)+src.LLMRepairs, src.Partial)
	}

	sb.WriteString("\n## Enrichment\n\n")
	if enrich {
		fmt.Fprintf(&sb, "%d of %d items enriched.\n", enrichedCount, totalItems)
		fmt.Fprintf(&sb, "enrichment_failed: %d\n", enrichFailed)
	} else {
		sb.WriteString("Disabled for this run.\n")
	}

	if matchReport != nil {
		sb.WriteString("\n## Matching\n\n")
		fmt.Fprintf(&sb, "%d matches at or above score %.2f (%d source items, %d target items).\n",
			len(matchReport.Matches), matchReport.MinScore, matchReport.SourceSize, matchReport.TargetSize)
	}

	return sb.String()
}
