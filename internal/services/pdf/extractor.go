package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// extractedImage is an embedded image recovered from the document before it
// is matched to a page placement.
type extractedImage struct {
	page int
	name string
	data []byte
}

// Extractor implements the PDF pipeline using pdfcpu: validation, per-page
// text with positions, embedded image recovery, optional page rasterisation
// and vision captioning within the image budget.
type Extractor struct {
	store   interfaces.BlobStore
	vision  interfaces.VisionDescriber
	config  *common.PDFConfig
	logger  arbor.ILogger
	tempDir string
}

// Compile-time interface assertion
var _ interfaces.PDFExtractor = (*Extractor)(nil)

// NewExtractor creates a new PDF extractor service
func NewExtractor(store interfaces.BlobStore, vision interfaces.VisionDescriber, config *common.PDFConfig, logger arbor.ILogger) *Extractor {
	tempDir := filepath.Join(os.TempDir(), "colligo-pdf")
	os.MkdirAll(tempDir, 0755)

	return &Extractor{
		store:   store,
		vision:  vision,
		config:  config,
		logger:  logger,
		tempDir: tempDir,
	}
}

// imageFileRe matches pdfcpu's extracted image filenames:
// <basename>_<pageNr>_<resourceName>.<ext>
var imageFileRe = regexp.MustCompile(`_(\d+)_([A-Za-z0-9]+)\.(png|jpg|jpeg|tiff?)$`)

// Extract runs the full pipeline over one document. Image persistence and
// vision calls happen in submission order so results are reproducible.
func (e *Extractor) Extract(ctx context.Context, jobID, filename string, data []byte, opts models.JobOptions, report interfaces.ProgressFunc) (*models.PDFArtifact, error) {
	if report == nil {
		report = func(models.ProgressPhase, string, float64) {}
	}
	report(models.PhaseExtract, "validating document", 0)

	tempFile := filepath.Join(e.tempDir, fmt.Sprintf("%s.pdf", jobID))
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	defer os.Remove(tempFile)

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindPDFUnreadable, "pdf",
			"document is not a readable PDF", err)
	}
	if pdfCtx.Encrypt != nil {
		return nil, models.NewPipelineError(models.ErrKindPDFUnreadable, "pdf",
			"document is encrypted", nil)
	}

	pageCount := pdfCtx.PageCount
	pageW, pageH := e.pageDims(pdfCtx)

	contents, err := e.extractPageContents(tempFile, pageCount)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindPDFUnreadable, "pdf",
			"content stream extraction failed", err)
	}

	embedded := e.extractEmbeddedImages(tempFile, jobID)

	language := opts.Language
	if language == "" {
		language = e.config.Language
	}

	artifact := &models.PDFArtifact{
		Meta: models.PDFMeta{
			Filename:    filename,
			CreatedAt:   time.Now().UTC(),
			Language:    language,
			VisionModel: e.vision.Model(),
		},
		Stats: models.PDFStats{PageCount: pageCount},
	}

	stem := sanitizeStem(filename)

	// Candidate images in submission order: embedded images page by page,
	// then rasterised pages
	type candidate struct {
		page    int
		element *models.ImageElement
		data    []byte
	}
	var candidates []candidate

	rasterSet := e.rasterPages(opts, contents, pageCount)

	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		content := contents[pageNum]
		if content == nil {
			content = &PageContent{}
		}
		report(models.PhaseExtract, fmt.Sprintf("page %d/%d", pageNum, pageCount),
			float64(pageNum)/float64(pageCount))

		page := models.PDFPage{PageNumber: pageNum}

		for _, run := range content.TextRuns {
			if strings.TrimSpace(run.Text) == "" {
				continue
			}
			page.Elements = append(page.Elements, models.PDFElement{
				Text: &models.TextElement{
					BBox: models.BBox{
						X1: run.X,
						Y1: run.Y - run.FontSize*0.2,
						X2: run.X + run.Width,
						Y2: run.Y + run.FontSize,
					},
					Content: run.Text,
				},
			})
		}

		imageIdx := 0
		for _, img := range embedded {
			if img.page != pageNum {
				continue
			}
			bbox := e.placementBBox(content, imageIdx, pageW, pageH)
			element := &models.ImageElement{
				BBox:    bbox,
				BlobKey: fmt.Sprintf("%s/result/images/%s_p%d_i%d.png", jobID, stem, pageNum, imageIdx+1),
			}
			page.Elements = append(page.Elements, models.PDFElement{Image: element})
			candidates = append(candidates, candidate{page: pageNum, element: element, data: img.data})
			artifact.Stats.ImagesDetected++
			imageIdx++
		}

		if rasterSet[pageNum] {
			report(models.PhaseRaster, fmt.Sprintf("rasterising page %d", pageNum), 0)
			rendered, w, h, rerr := rasterisePage(content, pageW, pageH, e.config.RasterDPI)
			if rerr != nil {
				e.logger.Warn().Err(rerr).Int("page", pageNum).Msg("Page rasterisation failed")
			} else {
				element := &models.ImageElement{
					BBox:    models.BBox{X2: pageW, Y2: pageH},
					Width:   w,
					Height:  h,
					BlobKey: fmt.Sprintf("%s/result/images/%s_p%d_raster.png", jobID, stem, pageNum),
				}
				page.Elements = append(page.Elements, models.PDFElement{Image: element})
				candidates = append(candidates, candidate{page: pageNum, element: element, data: rendered})
				artifact.Stats.ImagesDetected++
				artifact.Stats.RasterPages = append(artifact.Stats.RasterPages, pageNum)
			}
		}

		sortReadingOrder(page.Elements)
		page.RawText = joinPageText(page.Elements)
		artifact.Pages = append(artifact.Pages, page)
	}

	// Persist every candidate image, then caption up to the budget
	for _, c := range candidates {
		if _, err := e.store.Put(ctx, c.element.BlobKey, c.data, "image/png"); err != nil {
			e.logger.Warn().Err(err).Str("key", c.element.BlobKey).Msg("Failed to persist image blob")
		}
	}

	maxImages := e.config.MaxImages
	if opts.MaxImages != nil {
		maxImages = *opts.MaxImages
	}

	analysed := 0
	for i, c := range candidates {
		if analysed >= maxImages {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report(models.PhaseDescribe, fmt.Sprintf("image %d/%d", analysed+1, minI(len(candidates), maxImages)),
			float64(i)/float64(len(candidates)))

		content := contents[c.page]
		if content == nil {
			content = &PageContent{}
		}
		surrounding := surroundingText(c.element.BBox, content.TextRuns, e.config.SurroundingText)

		desc := e.vision.Describe(ctx, c.data, surrounding, language)
		if desc != nil && desc.Summary != "" {
			c.element.Description = desc.Summary
			c.element.SurroundingText = surrounding
		}
		analysed++
	}
	artifact.Stats.ImagesAnalysed = analysed

	e.logger.Info().
		Str("job_id", jobID).
		Int("pages", artifact.Stats.PageCount).
		Int("images_detected", artifact.Stats.ImagesDetected).
		Int("images_analysed", artifact.Stats.ImagesAnalysed).
		Int("raster_pages", len(artifact.Stats.RasterPages)).
		Msg("PDF extraction complete")

	return artifact, nil
}

// pageDims returns the first page's media box size, falling back to A4
func (e *Extractor) pageDims(pdfCtx *model.Context) (float64, float64) {
	dims, err := pdfCtx.PageDims()
	if err == nil && len(dims) > 0 && dims[0].Width > 0 && dims[0].Height > 0 {
		return dims[0].Width, dims[0].Height
	}
	return 595.0, 842.0
}

// extractPageContents extracts raw content streams and interprets them.
// The scratch directory is unique per call: several workers extract
// concurrently and must not sweep each other's files.
func (e *Extractor) extractPageContents(tempFile string, pageCount int) (map[int]*PageContent, error) {
	outDir, err := os.MkdirTemp(e.tempDir, "content-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		return nil, err
	}

	contents := make(map[int]*PageContent, pageCount)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		raw, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		contents[pageNum] = interpretContent(raw)
	}
	return contents, nil
}

// extractEmbeddedImages pulls embedded raster images out of the document.
// Extraction failures are non-fatal: text-only processing continues.
func (e *Extractor) extractEmbeddedImages(tempFile, jobID string) []extractedImage {
	outDir := filepath.Join(e.tempDir, fmt.Sprintf("images_%s", jobID))
	os.MkdirAll(outDir, 0755)
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractImagesFile(tempFile, outDir, nil, conf); err != nil {
		e.logger.Warn().Err(err).Msg("Embedded image extraction failed, continuing without images")
		return nil
	}

	var images []extractedImage
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		m := imageFileRe.FindStringSubmatch(file.Name())
		if m == nil {
			continue
		}
		pageNum, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		images = append(images, extractedImage{page: pageNum, name: m[2], data: data})
	}

	sort.SliceStable(images, func(i, j int) bool {
		if images[i].page != images[j].page {
			return images[i].page < images[j].page
		}
		return images[i].name < images[j].name
	})
	return images
}

// placementBBox returns the idx-th image placement on the page, or the full
// page when the content stream carried no matching placement.
func (e *Extractor) placementBBox(content *PageContent, idx int, pageW, pageH float64) models.BBox {
	if idx < len(content.Placements) {
		pl := content.Placements[idx]
		return models.BBox{X1: pl.X, Y1: pl.Y, X2: pl.X + pl.W, Y2: pl.Y + pl.H}
	}
	return models.BBox{X2: pageW, Y2: pageH}
}

// rasterPages decides which pages to rasterise for the given mode
func (e *Extractor) rasterPages(opts models.JobOptions, contents map[int]*PageContent, pageCount int) map[int]bool {
	selected := make(map[int]bool)
	mode := models.RasterMode(opts.RasterMode)
	if mode == "" {
		mode = models.RasterModeAuto
	}

	switch mode {
	case models.RasterModeOff:
	case models.RasterModeManual:
		for _, p := range opts.RasterPages {
			if p >= 1 && p <= pageCount {
				selected[p] = true
			}
		}
	case models.RasterModeAuto:
		threshold := e.config.RasterThreshold
		if threshold <= 0 {
			threshold = 0.6
		}
		for pageNum := 1; pageNum <= pageCount; pageNum++ {
			content := contents[pageNum]
			if content == nil {
				continue
			}
			if score := rasterScore(content); score >= threshold {
				e.logger.Debug().
					Int("page", pageNum).
					Float64("score", score).
					Msg("Page selected for auto-rasterisation")
				selected[pageNum] = true
			}
		}
	}
	return selected
}

// sortReadingOrder orders elements top-to-bottom, then left-to-right.
// Page coordinates have their origin bottom-left, so top means larger Y.
func sortReadingOrder(elements []models.PDFElement) {
	top := func(el models.PDFElement) (float64, float64) {
		if el.Text != nil {
			return el.Text.BBox.Y2, el.Text.BBox.X1
		}
		return el.Image.BBox.Y2, el.Image.BBox.X1
	}
	sort.SliceStable(elements, func(i, j int) bool {
		yi, xi := top(elements[i])
		yj, xj := top(elements[j])
		if yi != yj {
			return yi > yj
		}
		return xi < xj
	})
}

// joinPageText concatenates text elements in reading order
func joinPageText(elements []models.PDFElement) string {
	var sb strings.Builder
	for _, el := range elements {
		if el.Text == nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(el.Text.Content)
	}
	return sb.String()
}

// sanitizeStem derives a blob-key-safe stem from the input filename
func sanitizeStem(filename string) string {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if stem == "" || stem == "." {
		return "document"
	}
	var sb strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func minI(a, b int) int {
	if a < b {
		return a
	}
	return b
}
