package match

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// Score weights. An explicit identifier reference dominates; the remaining
// signals refine ranking among candidates.
const (
	weightIDReference = 0.6
	weightURL         = 0.2
	weightTitle       = 0.15
	weightEntities    = 0.05
)

var (
	idRefRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)
	urlRe   = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)
	wordRe  = regexp.MustCompile(`[a-z0-9]+`)
)

// Engine discovers cross-source links between two normalized item sets.
// Candidate generation goes through inverted indexes over identifiers, URLs
// and title shingles, so only plausible pairs are ever scored.
type Engine struct {
	config *common.MatchingConfig
	logger arbor.ILogger
}

// NewEngine creates a matching engine
func NewEngine(config *common.MatchingConfig, logger arbor.ILogger) *Engine {
	return &Engine{config: config, logger: logger}
}

// targetIndex holds the inverted indexes over the target set
type targetIndex struct {
	byID      map[string][]int // target item ID -> target positions
	byMention map[string][]int // id referenced in target text -> target positions
	byURL     map[string][]int // normalized URL -> target positions
	byShingle map[string][]int // title token shingle -> target positions
	byEntity  map[string][]int // lowercased entity -> target positions
	titleToks [][]string       // per-target title token sets
	mentions  []map[string]bool
	urls      []map[string]bool
	entities  []map[string]bool
}

// Match scores every plausible source/target pair and returns the matches at
// or above the configured minimum, ordered by score descending then by IDs.
// Either side being empty yields an empty report.
func (e *Engine) Match(sourceKind string, sources []*models.NormalizedItem, targetKind string, targets []*models.NormalizedItem) *models.MatchReport {
	return e.MatchWithMinScore(e.config.MinScore, sourceKind, sources, targetKind, targets)
}

// MatchWithMinScore is Match with a per-run minimum score override
func (e *Engine) MatchWithMinScore(minScore float64, sourceKind string, sources []*models.NormalizedItem, targetKind string, targets []*models.NormalizedItem) *models.MatchReport {
	if minScore <= 0 {
		minScore = 0.5
	}
	report := &models.MatchReport{
		MinScore:   minScore,
		SourceSize: len(sources),
		TargetSize: len(targets),
		Matches:    []models.Match{},
	}
	if len(sources) == 0 || len(targets) == 0 {
		return report
	}

	idx := e.buildIndex(targets)

	for _, src := range sources {
		text := itemText(src)
		srcIDs := idRefRe.FindAllString(text, -1)
		srcURLs := normalizeURLs(urlRe.FindAllString(text, -1))
		srcTitleToks := titleTokens(src.Title)
		srcEntities := entitySet(src)

		candidates := e.collectCandidates(idx, src.ID, srcIDs, srcURLs, srcTitleToks, srcEntities)

		for pos := range candidates {
			tgt := targets[pos]
			if tgt.ID == src.ID {
				continue
			}
			score, evidence := e.scorePair(src, tgt, idx, pos, srcIDs, srcURLs, srcTitleToks, srcEntities)
			if score < minScore {
				continue
			}
			if score > 1 {
				score = 1
			}
			report.Matches = append(report.Matches, models.Match{
				SourceKind: sourceKind,
				SourceID:   src.ID,
				TargetKind: targetKind,
				TargetID:   tgt.ID,
				Score:      score,
				Evidence:   evidence,
			})
		}
	}

	sort.SliceStable(report.Matches, func(i, j int) bool {
		a, b := report.Matches[i], report.Matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.TargetID < b.TargetID
	})

	e.logger.Info().
		Int("sources", len(sources)).
		Int("targets", len(targets)).
		Int("matches", len(report.Matches)).
		Msg("Matching run complete")

	return report
}

// ApplyRelationships writes the symmetric relationship edges from a report
// back onto the items: outbound on sources, inbound on targets.
func (e *Engine) ApplyRelationships(report *models.MatchReport, sources, targets []*models.NormalizedItem) {
	srcByID := make(map[string]*models.NormalizedItem, len(sources))
	for _, it := range sources {
		srcByID[it.ID] = it
	}
	tgtByID := make(map[string]*models.NormalizedItem, len(targets))
	for _, it := range targets {
		tgtByID[it.ID] = it
	}

	for _, m := range report.Matches {
		reason := strings.Join(m.Evidence, ", ")
		if src, ok := srcByID[m.SourceID]; ok {
			if src.Relationships == nil {
				src.Relationships = &models.Relationships{}
			}
			src.Relationships.Outbound = append(src.Relationships.Outbound, models.Relationship{
				TargetID: m.TargetID,
				Score:    m.Score,
				Reason:   reason,
			})
		}
		if tgt, ok := tgtByID[m.TargetID]; ok {
			if tgt.Relationships == nil {
				tgt.Relationships = &models.Relationships{}
			}
			tgt.Relationships.Inbound = append(tgt.Relationships.Inbound, models.Relationship{
				TargetID: m.SourceID,
				Score:    m.Score,
				Reason:   reason,
			})
		}
	}
}

func (e *Engine) buildIndex(targets []*models.NormalizedItem) *targetIndex {
	shingleLen := e.config.ShingleLength
	if shingleLen <= 0 {
		shingleLen = 3
	}

	idx := &targetIndex{
		byID:      make(map[string][]int),
		byMention: make(map[string][]int),
		byURL:     make(map[string][]int),
		byShingle: make(map[string][]int),
		byEntity:  make(map[string][]int),
		titleToks: make([][]string, len(targets)),
		mentions:  make([]map[string]bool, len(targets)),
		urls:      make([]map[string]bool, len(targets)),
		entities:  make([]map[string]bool, len(targets)),
	}

	for pos, tgt := range targets {
		idx.byID[tgt.ID] = append(idx.byID[tgt.ID], pos)

		text := itemText(tgt)
		mentionSet := make(map[string]bool)
		for _, id := range idRefRe.FindAllString(text, -1) {
			if !mentionSet[id] {
				mentionSet[id] = true
				idx.byMention[id] = append(idx.byMention[id], pos)
			}
		}
		idx.mentions[pos] = mentionSet

		urlSet := make(map[string]bool)
		for _, u := range normalizeURLs(urlRe.FindAllString(text, -1)) {
			if !urlSet[u] {
				urlSet[u] = true
				idx.byURL[u] = append(idx.byURL[u], pos)
			}
		}
		idx.urls[pos] = urlSet

		toks := titleTokens(tgt.Title)
		idx.titleToks[pos] = toks
		for _, sh := range shingles(toks, shingleLen) {
			idx.byShingle[sh] = append(idx.byShingle[sh], pos)
		}

		entSet := entitySet(tgt)
		idx.entities[pos] = entSet
		for ent := range entSet {
			idx.byEntity[ent] = append(idx.byEntity[ent], pos)
		}
	}
	return idx
}

// collectCandidates gathers every target position reachable through any index
func (e *Engine) collectCandidates(idx *targetIndex, srcID string, srcIDs, srcURLs, srcTitleToks []string, srcEntities map[string]bool) map[int]bool {
	shingleLen := e.config.ShingleLength
	if shingleLen <= 0 {
		shingleLen = 3
	}

	candidates := make(map[int]bool)
	for _, id := range srcIDs {
		for _, pos := range idx.byID[id] {
			candidates[pos] = true
		}
	}
	for _, pos := range idx.byMention[srcID] {
		candidates[pos] = true
	}
	for _, u := range srcURLs {
		for _, pos := range idx.byURL[u] {
			candidates[pos] = true
		}
	}
	for _, sh := range shingles(srcTitleToks, shingleLen) {
		for _, pos := range idx.byShingle[sh] {
			candidates[pos] = true
		}
	}
	for ent := range srcEntities {
		for _, pos := range idx.byEntity[ent] {
			candidates[pos] = true
		}
	}
	return candidates
}

// scorePair computes the weighted score and its evidence for one candidate
func (e *Engine) scorePair(src, tgt *models.NormalizedItem, idx *targetIndex, pos int, srcIDs, srcURLs, srcTitleToks []string, srcEntities map[string]bool) (float64, []string) {
	jaccardFloor := e.config.TitleJaccard
	if jaccardFloor <= 0 {
		jaccardFloor = 0.4
	}

	score := 0.0
	var evidence []string

	// An identifier reference in either direction counts once: the source
	// text naming the target's id, or the target text naming the source's
	idReferenced := false
	for _, id := range srcIDs {
		if id == tgt.ID {
			idReferenced = true
			evidence = append(evidence, "id-reference:"+id)
			break
		}
	}
	if !idReferenced && idx.mentions[pos][src.ID] {
		idReferenced = true
		evidence = append(evidence, "id-reference:"+src.ID)
	}
	if idReferenced {
		score += weightIDReference
	}

	for _, u := range srcURLs {
		if idx.urls[pos][u] {
			score += weightURL
			evidence = append(evidence, "shared-url:"+u)
			break
		}
	}

	if j := jaccard(srcTitleToks, idx.titleToks[pos]); j > jaccardFloor {
		score += weightTitle
		evidence = append(evidence, fmt.Sprintf("title-similarity:%.2f", j))
	}

	shared := 0
	for ent := range srcEntities {
		if idx.entities[pos][ent] {
			shared++
		}
	}
	if shared > 0 {
		score += weightEntities
		evidence = append(evidence, fmt.Sprintf("shared-entities:%d", shared))
	}

	return score, evidence
}

// itemText concatenates the searchable text of an item
func itemText(item *models.NormalizedItem) string {
	var sb strings.Builder
	sb.WriteString(item.Title)
	keys := make([]string, 0, len(item.Content))
	for k := range item.Content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte('\n')
		sb.WriteString(item.Content[k])
	}
	return sb.String()
}

// normalizeURLs canonicalizes extracted URLs for exact-match indexing:
// trailing punctuation and slashes are trimmed, the scheme and host are
// lowercased, and duplicates are dropped in first-occurrence order.
func normalizeURLs(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, u := range raw {
		u = strings.TrimRight(u, ".,;:")
		u = strings.TrimSuffix(u, "/")
		if idx := strings.Index(u, "://"); idx >= 0 {
			rest := u[idx+3:]
			host := rest
			if slash := strings.IndexByte(rest, '/'); slash >= 0 {
				host = rest[:slash]
				rest = rest[slash:]
			} else {
				rest = ""
			}
			u = strings.ToLower(u[:idx+3]+host) + rest
		}
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// titleTokens lowercases and tokenizes a title, dropping duplicates
func titleTokens(title string) []string {
	raw := wordRe.FindAllString(strings.ToLower(title), -1)
	seen := make(map[string]bool, len(raw))
	var toks []string
	for _, t := range raw {
		if !seen[t] {
			seen[t] = true
			toks = append(toks, t)
		}
	}
	return toks
}

// shingles returns the k-token shingles of a token list; shorter titles
// contribute a single shingle of everything they have.
func shingles(toks []string, k int) []string {
	if len(toks) == 0 {
		return nil
	}
	if len(toks) <= k {
		return []string{strings.Join(toks, " ")}
	}
	out := make([]string, 0, len(toks)-k+1)
	for i := 0; i+k <= len(toks); i++ {
		out = append(out, strings.Join(toks[i:i+k], " "))
	}
	return out
}

// jaccard computes set similarity between two token lists
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	inter := 0
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		if !setB[t] {
			setB[t] = true
			if setA[t] {
				inter++
			}
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// entitySet gathers the lowercased enrichment entities of an item
func entitySet(item *models.NormalizedItem) map[string]bool {
	set := make(map[string]bool)
	if item.Analysis == nil {
		return set
	}
	for _, group := range [][]string{
		item.Analysis.Entities.People,
		item.Analysis.Entities.Organizations,
		item.Analysis.Entities.TechnicalTerms,
	} {
		for _, ent := range group {
			ent = strings.ToLower(strings.TrimSpace(ent))
			if ent != "" {
				set[ent] = true
			}
		}
	}
	return set
}
