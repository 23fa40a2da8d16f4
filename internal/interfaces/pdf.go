package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// ProgressFunc receives stage progress while a pipeline runs. Implementations
// must be safe to call from the worker goroutine owning the job.
type ProgressFunc func(phase models.ProgressPhase, step string, progress float64)

// PDFExtractor turns PDF bytes into a structured artefact: per-page text and
// image elements in reading order, with vision descriptions attached up to
// the configured image budget.
type PDFExtractor interface {
	Extract(ctx context.Context, jobID, filename string, data []byte, opts models.JobOptions, report ProgressFunc) (*models.PDFArtifact, error)
}

// VisionDescriber captions a single image. It never returns an error: on any
// failure it degrades to a minimal valid description.
type VisionDescriber interface {
	Describe(ctx context.Context, image []byte, surrounding, language string) *models.ImageDescription
	Model() string
}
