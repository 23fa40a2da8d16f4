package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &common.MatchingConfig{MinScore: 0.5, TitleJaccard: 0.4, ShingleLength: 3}
	return NewEngine(cfg, arbor.NewLogger())
}

func ticket(id, title string, content map[string]string) *models.NormalizedItem {
	return &models.NormalizedItem{ID: id, Title: title, Content: content}
}

func TestMatchOnIDReference(t *testing.T) {
	e := newTestEngine(t)

	pages := []*models.NormalizedItem{
		ticket("2001", "Incident review", map[string]string{
			"body": "Root cause tracked in NEXUS-7, follow-up in NEXUS-9.",
		}),
	}
	tickets := []*models.NormalizedItem{
		ticket("NEXUS-7", "Payment gateway timeout", nil),
		ticket("NEXUS-8", "Unrelated cleanup", nil),
	}

	report := e.Match("confluence", pages, "jira", tickets)
	require.Len(t, report.Matches, 1)
	m := report.Matches[0]
	assert.Equal(t, "2001", m.SourceID)
	assert.Equal(t, "NEXUS-7", m.TargetID)
	assert.GreaterOrEqual(t, m.Score, 0.6)
	assert.Contains(t, m.Evidence, "id-reference:NEXUS-7")
}

func TestMatchOnIDReferenceInTargetText(t *testing.T) {
	e := newTestEngine(t)

	// The reference lives on the target side: the page names the ticket,
	// the ticket never names the page
	tickets := []*models.NormalizedItem{
		ticket("NEXUS-123", "Connection pool exhaustion", map[string]string{
			"description": "Pool saturates under sustained load.",
		}),
	}
	pages := []*models.NormalizedItem{
		ticket("9001", "Incident log March", map[string]string{
			"body": "Incident tracked as NEXUS-123, mitigation pending.",
		}),
		ticket("9002", "Team onboarding", map[string]string{"body": "Welcome aboard."}),
	}

	report := e.Match("jira", tickets, "confluence", pages)
	require.Len(t, report.Matches, 1)
	m := report.Matches[0]
	assert.Equal(t, "NEXUS-123", m.SourceID)
	assert.Equal(t, "9001", m.TargetID)
	assert.GreaterOrEqual(t, m.Score, 0.6)
	assert.Contains(t, m.Evidence, "id-reference:NEXUS-123")
}

func TestMatchMutualIDReferenceScoredOnce(t *testing.T) {
	e := newTestEngine(t)

	tickets := []*models.NormalizedItem{
		ticket("NEXUS-5", "Fix login flow", map[string]string{
			"description": "Runbook lives at OPS-9.",
		}),
	}
	pages := []*models.NormalizedItem{
		ticket("OPS-9", "Runbook index entry", map[string]string{
			"body": "Covers NEXUS-5 remediation.",
		}),
	}

	report := e.Match("jira", tickets, "confluence", pages)
	require.Len(t, report.Matches, 1)
	m := report.Matches[0]
	assert.InDelta(t, 0.6, m.Score, 0.001)
	assert.Equal(t, []string{"id-reference:OPS-9"}, m.Evidence)
}

func TestMatchBelowMinScoreExcluded(t *testing.T) {
	e := newTestEngine(t)

	// Shared URL alone scores 0.2, below the 0.5 floor
	pages := []*models.NormalizedItem{
		ticket("2001", "Notes", map[string]string{"body": "See https://example.com/runbook"}),
	}
	tickets := []*models.NormalizedItem{
		ticket("NEXUS-1", "Alert", map[string]string{"description": "runbook at https://example.com/runbook"}),
	}

	report := e.Match("confluence", pages, "jira", tickets)
	assert.Empty(t, report.Matches)

	// The same pair clears a lowered floor
	report = e.MatchWithMinScore(0.1, "confluence", pages, "jira", tickets)
	require.Len(t, report.Matches, 1)
	assert.Contains(t, report.Matches[0].Evidence[0], "shared-url:")
}

func TestMatchCombinesSignals(t *testing.T) {
	e := newTestEngine(t)

	analysis := &models.ItemAnalysis{
		Keywords:  []string{},
		Entities:  models.ItemEntities{People: []string{}, Organizations: []string{"Stripe"}, TechnicalTerms: []string{}},
		Sentiment: "neutral",
	}

	pages := []*models.NormalizedItem{
		{
			ID:       "3001",
			Title:    "Payment gateway timeout investigation",
			Content:  map[string]string{"body": "Covers NEXUS-7 in detail."},
			Analysis: analysis,
		},
	}
	tickets := []*models.NormalizedItem{
		{
			ID:       "NEXUS-7",
			Title:    "Payment gateway timeout errors",
			Analysis: analysis,
		},
	}

	report := e.Match("confluence", pages, "jira", tickets)
	require.Len(t, report.Matches, 1)
	m := report.Matches[0]
	// id-reference + title similarity + shared entity
	assert.InDelta(t, 0.8, m.Score, 0.001)
	assert.Len(t, m.Evidence, 3)
}

func TestMatchScoreNeverExceedsOne(t *testing.T) {
	e := newTestEngine(t)

	for _, m := range e.MatchWithMinScore(0.1, "a", []*models.NormalizedItem{
		ticket("AB-1", "shared title words here", map[string]string{
			"body": "AB-2 https://example.com/a https://example.com/b",
		}),
	}, "b", []*models.NormalizedItem{
		ticket("AB-2", "shared title words here", map[string]string{
			"body": "https://example.com/a https://example.com/b",
		}),
	}).Matches {
		assert.LessOrEqual(t, m.Score, 1.0)
	}
}

func TestMatchEmptySideYieldsEmptyReport(t *testing.T) {
	e := newTestEngine(t)

	report := e.Match("a", nil, "b", []*models.NormalizedItem{ticket("X-1", "t", nil)})
	assert.NotNil(t, report.Matches)
	assert.Empty(t, report.Matches)
	assert.Equal(t, 0, report.SourceSize)
	assert.Equal(t, 1, report.TargetSize)
}

func TestMatchOrderingDeterministic(t *testing.T) {
	e := newTestEngine(t)

	pages := []*models.NormalizedItem{
		ticket("B-PAGE", "notes", map[string]string{"body": "NEXUS-1"}),
		ticket("A-PAGE", "notes", map[string]string{"body": "NEXUS-1 NEXUS-2"}),
	}
	tickets := []*models.NormalizedItem{
		ticket("NEXUS-2", "two", nil),
		ticket("NEXUS-1", "one", nil),
	}

	report := e.Match("confluence", pages, "jira", tickets)
	require.Len(t, report.Matches, 3)
	// Equal scores order by source ID then target ID
	assert.Equal(t, "A-PAGE", report.Matches[0].SourceID)
	assert.Equal(t, "NEXUS-1", report.Matches[0].TargetID)
	assert.Equal(t, "A-PAGE", report.Matches[1].SourceID)
	assert.Equal(t, "NEXUS-2", report.Matches[1].TargetID)
	assert.Equal(t, "B-PAGE", report.Matches[2].SourceID)
}

func TestApplyRelationshipsSymmetric(t *testing.T) {
	e := newTestEngine(t)

	pages := []*models.NormalizedItem{
		ticket("2001", "review", map[string]string{"body": "see NEXUS-7"}),
	}
	tickets := []*models.NormalizedItem{
		ticket("NEXUS-7", "timeout", nil),
	}

	report := e.Match("confluence", pages, "jira", tickets)
	require.Len(t, report.Matches, 1)

	e.ApplyRelationships(report, pages, tickets)

	require.NotNil(t, pages[0].Relationships)
	require.Len(t, pages[0].Relationships.Outbound, 1)
	out := pages[0].Relationships.Outbound[0]
	assert.Equal(t, "NEXUS-7", out.TargetID)

	require.NotNil(t, tickets[0].Relationships)
	require.Len(t, tickets[0].Relationships.Inbound, 1)
	in := tickets[0].Relationships.Inbound[0]
	assert.Equal(t, "2001", in.TargetID)
	assert.Equal(t, out.Score, in.Score)
	assert.Equal(t, out.Reason, in.Reason)
}

func TestNormalizeURLs(t *testing.T) {
	out := normalizeURLs([]string{
		"https://Example.COM/Docs/",
		"https://example.com/Docs",
		"http://example.com/a.",
	})
	assert.Equal(t, []string{"https://example.com/Docs", "http://example.com/a"}, out)
}

func TestShinglesShortTitles(t *testing.T) {
	assert.Equal(t, []string{"a b"}, shingles([]string{"a", "b"}, 3))
	assert.Equal(t, []string{"a b c", "b c d"}, shingles([]string{"a", "b", "c", "d"}, 3))
	assert.Nil(t, shingles(nil, 3))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard([]string{"a", "b"}, []string{"b", "a"}))
	assert.Equal(t, 0.0, jaccard([]string{"a"}, []string{"b"}))
	assert.InDelta(t, 0.6, jaccard(
		[]string{"payment", "gateway", "timeout", "errors"},
		[]string{"payment", "gateway", "timeout", "investigation"}), 0.001)
}
