package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage/localfs"
)

// stubVision records calls and returns a fixed caption
type stubVision struct {
	calls   int
	summary string
}

var _ interfaces.VisionDescriber = (*stubVision)(nil)

func (s *stubVision) Describe(ctx context.Context, image []byte, surrounding, language string) *models.ImageDescription {
	s.calls++
	return &models.ImageDescription{Summary: s.summary, Type: "diagram", Entities: []string{}}
}

func (s *stubVision) Model() string { return "stub-vision" }

func newTestExtractor(t *testing.T) (*Extractor, *stubVision, interfaces.BlobStore) {
	t.Helper()
	logger := arbor.NewLogger()
	store, err := localfs.NewStore(t.TempDir(), logger)
	require.NoError(t, err)

	vision := &stubVision{summary: "a rendered page"}
	cfg := &common.PDFConfig{
		MaxImages:       10,
		RasterDPI:       72,
		RasterThreshold: 0.6,
		SurroundingText: 500,
		Language:        "en",
	}
	return NewExtractor(store, vision, cfg, logger), vision, store
}

func textPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, text := range pages {
		doc.AddPage()
		doc.Text(72, 100, text)
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func TestExtractTextDocument(t *testing.T) {
	e, _, _ := newTestExtractor(t)
	data := textPDF(t, "Invoice summary for Q3", "Appendix with totals")

	artifact, err := e.Extract(context.Background(), "job_pdf1", "invoice.pdf", data, models.JobOptions{}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, artifact.Stats.PageCount)
	require.Len(t, artifact.Pages, 2)
	assert.Equal(t, 1, artifact.Pages[0].PageNumber)
	assert.Equal(t, 2, artifact.Pages[1].PageNumber)

	assert.Equal(t, "invoice.pdf", artifact.Meta.Filename)
	assert.Equal(t, "en", artifact.Meta.Language)
	assert.Equal(t, "stub-vision", artifact.Meta.VisionModel)
	assert.False(t, artifact.Meta.CreatedAt.IsZero())

	// A text-only document yields no image candidates in auto mode
	assert.Zero(t, artifact.Stats.ImagesDetected)
	assert.Zero(t, artifact.Stats.ImagesAnalysed)
	assert.Empty(t, artifact.Stats.RasterPages)
}

func TestExtractManualRasterCaptionsPage(t *testing.T) {
	e, vision, store := newTestExtractor(t)
	data := textPDF(t, "Network diagram overview")

	opts := models.JobOptions{RasterMode: "manual", RasterPages: []int{1}}
	artifact, err := e.Extract(context.Background(), "job_pdf2", "diagram.pdf", data, opts, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, artifact.Stats.ImagesDetected)
	assert.Equal(t, 1, artifact.Stats.ImagesAnalysed)
	assert.Equal(t, []int{1}, artifact.Stats.RasterPages)
	assert.Equal(t, 1, vision.calls)

	var img *models.ImageElement
	for _, el := range artifact.Pages[0].Elements {
		if el.Image != nil {
			img = el.Image
		}
	}
	require.NotNil(t, img)
	assert.Equal(t, "job_pdf2/result/images/diagram_p1_raster.png", img.BlobKey)
	assert.Equal(t, "a rendered page", img.Description)

	blob, contentType, err := store.Get(context.Background(), img.BlobKey)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.NotEmpty(t, blob)
}

func TestExtractMaxImagesOverride(t *testing.T) {
	e, vision, _ := newTestExtractor(t)
	data := textPDF(t, "first", "second")

	zero := 0
	opts := models.JobOptions{RasterMode: "manual", RasterPages: []int{1, 2}, MaxImages: &zero}
	artifact, err := e.Extract(context.Background(), "job_pdf3", "doc.pdf", data, opts, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, artifact.Stats.ImagesDetected)
	assert.Zero(t, artifact.Stats.ImagesAnalysed)
	assert.Zero(t, vision.calls)
}

func TestExtractEmptySummaryLeavesElementBare(t *testing.T) {
	e, vision, _ := newTestExtractor(t)
	vision.summary = ""
	data := textPDF(t, "schematic")

	opts := models.JobOptions{RasterMode: "manual", RasterPages: []int{1}}
	artifact, err := e.Extract(context.Background(), "job_pdf4", "doc.pdf", data, opts, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, artifact.Stats.ImagesAnalysed)
	for _, el := range artifact.Pages[0].Elements {
		if el.Image != nil {
			assert.Empty(t, el.Image.Description)
			assert.Empty(t, el.Image.SurroundingText)
		}
	}
}

func TestExtractConcurrentJobs(t *testing.T) {
	e, _, _ := newTestExtractor(t)
	data := textPDF(t, "Shared worker pool document")

	type outcome struct {
		artifact *models.PDFArtifact
		err      error
	}
	jobIDs := []string{"job_pdfc1", "job_pdfc2", "job_pdfc3", "job_pdfc4"}
	results := make(chan outcome, len(jobIDs))
	for _, jobID := range jobIDs {
		go func(id string) {
			artifact, err := e.Extract(context.Background(), id, "doc.pdf", data, models.JobOptions{RasterMode: "off"}, nil)
			results <- outcome{artifact: artifact, err: err}
		}(jobID)
	}

	// Concurrent extractions must not sweep each other's scratch files
	for range jobIDs {
		res := <-results
		require.NoError(t, res.err)
		require.NotNil(t, res.artifact)
		assert.Equal(t, 1, res.artifact.Stats.PageCount)
	}
}

func TestExtractLanguageOverride(t *testing.T) {
	e, _, _ := newTestExtractor(t)
	data := textPDF(t, "bonjour")

	artifact, err := e.Extract(context.Background(), "job_pdf5", "doc.pdf", data, models.JobOptions{Language: "fr"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fr", artifact.Meta.Language)
}

func TestExtractRejectsGarbageBytes(t *testing.T) {
	e, _, _ := newTestExtractor(t)

	_, err := e.Extract(context.Background(), "job_pdf6", "doc.pdf", []byte("this is not a pdf"), models.JobOptions{}, nil)
	require.Error(t, err)
	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrKindPDFUnreadable, perr.Kind)
}

func TestExtractRejectsEncryptedDocument(t *testing.T) {
	e, _, _ := newTestExtractor(t)

	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetProtection(fpdf.CnProtectPrint, "secret", "owner-secret")
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Text(72, 100, "classified")
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))

	_, err := e.Extract(context.Background(), "job_pdf7", "doc.pdf", buf.Bytes(), models.JobOptions{}, nil)
	require.Error(t, err)
	var perr *models.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, models.ErrKindPDFUnreadable, perr.Kind)
}

func TestSortReadingOrder(t *testing.T) {
	elements := []models.PDFElement{
		{Text: &models.TextElement{BBox: models.BBox{X1: 300, Y1: 700, Y2: 712}, Content: "top right"}},
		{Text: &models.TextElement{BBox: models.BBox{X1: 72, Y1: 400, Y2: 412}, Content: "middle"}},
		{Text: &models.TextElement{BBox: models.BBox{X1: 72, Y1: 700, Y2: 712}, Content: "top left"}},
		{Image: &models.ImageElement{BBox: models.BBox{X1: 72, Y1: 100, Y2: 300}}},
	}

	sortReadingOrder(elements)
	assert.Equal(t, "top left", elements[0].Text.Content)
	assert.Equal(t, "top right", elements[1].Text.Content)
	assert.Equal(t, "middle", elements[2].Text.Content)
	assert.NotNil(t, elements[3].Image)

	assert.Equal(t, "top left\ntop right\nmiddle", joinPageText(elements))
}

func TestSanitizeStem(t *testing.T) {
	assert.Equal(t, "quarterly_report", sanitizeStem("quarterly report.pdf"))
	assert.Equal(t, "r_sum_", sanitizeStem("résumé.PDF"))
	assert.Equal(t, "document", sanitizeStem(".pdf"))
	assert.Equal(t, "plan-v2", sanitizeStem("/tmp/uploads/plan-v2.pdf"))
}
