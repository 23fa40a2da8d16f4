package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	snapshotName = "progress/latest.json"
	historyName  = "progress/history.jsonl"
)

// Ledger persists per-job progress through the blob store: an append-only
// JSONL history plus a latest snapshot. The orchestrator's single-owner
// discipline serialises writers per job, so no CAS is needed here.
type Ledger struct {
	store  interfaces.BlobStore
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.ProgressLedger = (*Ledger)(nil)

// NewLedger creates a ledger over the given blob store
func NewLedger(store interfaces.BlobStore, logger arbor.ILogger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// SnapshotKey returns the blob key of a job's snapshot
func SnapshotKey(jobID string) string { return jobID + "/" + snapshotName }

// HistoryKey returns the blob key of a job's history log
func HistoryKey(jobID string) string { return jobID + "/" + historyName }

// Record appends event to the history, then replaces the snapshot. The
// ordering means a crash can leave the snapshot behind the history but a
// reader never sees a snapshot ahead of the history.
func (l *Ledger) Record(ctx context.Context, event models.ProgressEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	historyKey := HistoryKey(event.JobID)
	existing, _, err := l.store.Get(ctx, historyKey)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to read history: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(existing)
	buf.Write(line)
	buf.WriteByte('\n')
	if _, err := l.store.Put(ctx, historyKey, buf.Bytes(), "application/x-ndjson"); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	snapshot := models.ProgressSnapshot{
		JobID:     event.JobID,
		Sequence:  event.Sequence,
		Status:    event.Status,
		Phase:     event.Phase,
		Step:      event.Step,
		Progress:  event.Progress,
		UpdatedAt: event.Timestamp,
		LastError: event.Metadata["error"],
	}
	snapBytes, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if _, err := l.store.Put(ctx, SnapshotKey(event.JobID), snapBytes, "application/json"); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	l.logger.Trace().
		Str("job_id", event.JobID).
		Int64("sequence", event.Sequence).
		Str("phase", string(event.Phase)).
		Float64("progress", event.Progress).
		Msg("Progress recorded")
	return nil
}

// Snapshot returns the latest snapshot for jobID
func (l *Ledger) Snapshot(ctx context.Context, jobID string) (*models.ProgressSnapshot, error) {
	data, _, err := l.store.Get(ctx, SnapshotKey(jobID))
	if err != nil {
		return nil, err
	}
	var snapshot models.ProgressSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", jobID, err)
	}
	return &snapshot, nil
}

// History returns the full ordered event history for jobID
func (l *Ledger) History(ctx context.Context, jobID string) ([]models.ProgressEvent, error) {
	data, _, err := l.store.Get(ctx, HistoryKey(jobID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var events []models.ProgressEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event models.ProgressEvent
		if err := json.Unmarshal(line, &event); err != nil {
			// A torn final line is possible after a crash; stop there
			l.logger.Warn().Err(err).Str("job_id", jobID).Msg("Skipping malformed trailing history line")
			break
		}
		events = append(events, event)
	}
	return events, nil
}

// Purge removes every blob under the job's prefix
func (l *Ledger) Purge(ctx context.Context, jobID string) error {
	keys, err := l.store.List(ctx, jobID+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := l.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
