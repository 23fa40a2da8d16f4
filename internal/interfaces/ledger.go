package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// ProgressLedger records per-job progress durably: an append-only history
// plus a latest snapshot. Writers are serialised per job by the
// orchestrator's single-owner discipline; the ledger itself performs no
// locking across jobs.
type ProgressLedger interface {
	// Record appends event to the job's history and replaces its snapshot.
	// The history write lands before the snapshot, so a crash may leave the
	// snapshot behind the history but never ahead of it.
	Record(ctx context.Context, event models.ProgressEvent) error

	// Snapshot returns the latest snapshot for jobID
	Snapshot(ctx context.Context, jobID string) (*models.ProgressSnapshot, error)

	// History returns the full ordered event history for jobID
	History(ctx context.Context, jobID string) ([]models.ProgressEvent, error)

	// Purge removes all ledger objects under the job's prefix
	Purge(ctx context.Context, jobID string) error
}
