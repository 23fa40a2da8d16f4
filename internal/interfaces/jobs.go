package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// SubmitInput is one uploaded file of a submission
type SubmitInput struct {
	Name string
	Data []byte
}

// JobManager is the orchestrator surface. Every job is owned by exactly one
// worker at a time; callers only ever see cloned job records.
type JobManager interface {
	// Submit validates and enqueues a new job. A full queue or an oversized
	// input rejects the submission with a typed error.
	Submit(ctx context.Context, kind models.JobKind, inputs []SubmitInput, opts models.JobOptions) (*models.Job, error)

	// Get returns a copy of the job record
	Get(jobID string) (*models.Job, error)

	// List returns copies of all known jobs
	List() []*models.Job

	// Cancel stops a running or pending job; it lands in paused
	Cancel(jobID string) error

	// Resume re-enqueues a paused job
	Resume(jobID string) error

	// Start reloads persisted jobs and launches the worker pools
	Start(ctx context.Context) error

	// Stop drains workers within the configured shutdown deadline
	Stop() error
}
