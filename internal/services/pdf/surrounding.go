package pdf

import (
	"math"
	"sort"
	"strings"

	"github.com/ternarybob/colligo/internal/models"
)

// surroundingText gathers page text near an image, closest first, until the
// character cap is reached. Distance is Euclidean between the image centre
// and the text run's anchor point.
func surroundingText(image models.BBox, runs []TextRun, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 500
	}

	cx, cy := image.CenterX(), image.CenterY()

	type scored struct {
		dist float64
		text string
	}
	candidates := make([]scored, 0, len(runs))
	for _, run := range runs {
		text := strings.TrimSpace(run.Text)
		if text == "" {
			continue
		}
		dx := run.X + run.Width/2 - cx
		dy := run.Y - cy
		candidates = append(candidates, scored{
			dist: math.Sqrt(dx*dx + dy*dy),
			text: text,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].dist < candidates[j].dist
	})

	var sb strings.Builder
	for _, c := range candidates {
		if sb.Len() >= maxChars {
			break
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(c.text)
	}

	result := sb.String()
	if len(result) > maxChars {
		result = result[:maxChars]
	}
	return result
}
