package models

import (
	"time"
)

// RasterMode selects when pages are rendered to bitmaps
type RasterMode string

const (
	RasterModeAuto   RasterMode = "auto"
	RasterModeManual RasterMode = "manual"
	RasterModeOff    RasterMode = "off"
)

// BBox is a rectangle in page coordinates (points, origin bottom-left)
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// CenterX returns the horizontal centre of the box
func (b BBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// CenterY returns the vertical centre of the box
func (b BBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// PDFArtifact is the unified structured output of the PDF pipeline
type PDFArtifact struct {
	Meta  PDFMeta   `json:"meta"`
	Pages []PDFPage `json:"pages"`
	Stats PDFStats  `json:"stats"`
}

// PDFMeta describes the extraction run
type PDFMeta struct {
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"created_at"`
	Language    string    `json:"language"`
	VisionModel string    `json:"vision_model"`
}

// PDFPage holds one page's text and elements in reading order
type PDFPage struct {
	PageNumber int          `json:"page_number"`
	RawText    string       `json:"raw_text"`
	Elements   []PDFElement `json:"elements"`
}

// PDFElement is a tagged union: exactly one of Text or Image is set
type PDFElement struct {
	Text  *TextElement  `json:"text,omitempty"`
	Image *ImageElement `json:"image,omitempty"`
}

// TextElement is a positioned block of page text
type TextElement struct {
	BBox    BBox   `json:"bbox"`
	Content string `json:"content"`
}

// ImageElement is an embedded or rasterised image. Description and
// SurroundingText are set together or not at all.
type ImageElement struct {
	BBox            BBox   `json:"bbox"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	BlobKey         string `json:"blob_key"`
	Description     string `json:"description,omitempty"`
	SurroundingText string `json:"surrounding_text,omitempty"`
}

// PDFStats summarises an extraction run.
// ImagesAnalysed never exceeds ImagesDetected.
type PDFStats struct {
	PageCount      int   `json:"pages_count"`
	ImagesDetected int   `json:"images_detected"`
	ImagesAnalysed int   `json:"images_analysed"`
	RasterPages    []int `json:"raster_pages"`
}

// ImageDescription is the schema-constrained output of the vision describer
type ImageDescription struct {
	Summary  string   `json:"summary"` // <= 500 chars
	Type     string   `json:"type"`    // diagram | chart | photograph | schematic | table | other
	Entities []string `json:"entities"`
}
