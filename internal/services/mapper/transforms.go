package mapper

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/colligo/internal/models"
)

var (
	issueIDRe    = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)
	urlRe        = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	htmlTagRe    = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	wordRe       = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_\-]{3,}`)
	whitespaceRe = regexp.MustCompile(`[ \t]+`)
)

// stopwords excluded from keyword extraction
var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "been": true, "were": true, "when": true, "then": true,
	"than": true, "them": true, "they": true, "their": true, "there": true,
	"which": true, "would": true, "could": true, "should": true, "about": true,
	"after": true, "before": true, "into": true, "over": true, "under": true,
}

// dateLayouts tried in order by to_iso_date
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/Jan/06 3:04 PM",
	time.RFC1123Z,
	time.RFC1123,
}

var htmlConverter = md.NewConverter("", true, nil)

// ApplyTransform runs the named transform over value. Transforms are pure:
// empty input yields the identity for string transforms and an empty list
// for list-producing ones (joined with newlines for the string result).
func ApplyTransform(t models.Transform, value string) (string, error) {
	switch t {
	case models.TransformIdentity, "":
		return value, nil
	case models.TransformCleanText:
		return CleanText(value), nil
	case models.TransformExtractKeywords:
		return strings.Join(ExtractKeywords(value, 20), "\n"), nil
	case models.TransformExtractIDs:
		return strings.Join(ExtractIDs(value), "\n"), nil
	case models.TransformExtractURLs:
		return strings.Join(ExtractURLs(value), "\n"), nil
	case models.TransformToISODate:
		return ToISODate(value)
	default:
		return "", models.NewPipelineError(models.ErrKindTransformFailed, "map",
			fmt.Sprintf("unknown transform %q", t), nil)
	}
}

// CleanText normalises free text. HTML content (as found in wiki page
// bodies) is converted to markdown first; whitespace is collapsed.
func CleanText(value string) string {
	if value == "" {
		return ""
	}
	if htmlTagRe.MatchString(value) {
		if converted, err := htmlConverter.ConvertString(value); err == nil {
			value = converted
		} else {
			value = htmlTagRe.ReplaceAllString(value, " ")
		}
	}
	lines := strings.Split(value, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(whitespaceRe.ReplaceAllString(line, " "), " ")
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

// ExtractKeywords returns up to limit frequent non-stopword tokens,
// ordered by frequency then alphabetically for determinism.
func ExtractKeywords(value string, limit int) []string {
	if value == "" {
		return []string{}
	}
	counts := make(map[string]int)
	for _, w := range wordRe.FindAllString(strings.ToLower(value), -1) {
		if !stopwords[w] {
			counts[w]++
		}
	}
	keywords := make([]string, 0, len(counts))
	for w := range counts {
		keywords = append(keywords, w)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

// ExtractIDs returns issue-tracker style identifiers (e.g. NEXUS-123)
// in first-occurrence order, deduplicated.
func ExtractIDs(value string) []string {
	if value == "" {
		return []string{}
	}
	seen := make(map[string]bool)
	var ids []string
	for _, id := range issueIDRe.FindAllString(value, -1) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if ids == nil {
		return []string{}
	}
	return ids
}

// ExtractURLs returns http(s) URLs in first-occurrence order, deduplicated.
// HTML input yields anchor hrefs first, then any URLs in the remaining text.
func ExtractURLs(value string) []string {
	if value == "" {
		return []string{}
	}
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		u = strings.TrimRight(u, ".,;")
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	if htmlTagRe.MatchString(value) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(value)); err == nil {
			doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
				if href, ok := sel.Attr("href"); ok && strings.HasPrefix(href, "http") {
					add(href)
				}
			})
		}
	}
	for _, u := range urlRe.FindAllString(value, -1) {
		add(u)
	}
	if urls == nil {
		return []string{}
	}
	return urls
}

// ToISODate parses common date formats and renders RFC 3339 UTC.
// Empty input is identity; unparseable input is a transform failure.
func ToISODate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", models.NewPipelineError(models.ErrKindTransformFailed, "map",
		fmt.Sprintf("unparseable date %q", value), nil)
}
