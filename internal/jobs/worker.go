package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second

	// progressDelta is the minimum percentage movement between recorded
	// events within a phase; phase changes always record.
	progressDelta = 5.0
)

// workerLoop consumes job IDs from one pool's queue until shutdown
func (m *Manager) workerLoop(class poolClass) {
	defer m.wg.Done()
	queue := m.queues[class]
	for {
		select {
		case <-m.rootCtx.Done():
			return
		case jobID := <-queue:
			m.runJob(jobID)
		}
	}
}

// runJob executes one job end to end and settles its final state
func (m *Manager) runJob(jobID string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != models.JobStatusPending {
		// Cancelled or purged between enqueue and dispatch
		m.mu.Unlock()
		return
	}
	job.Status = models.JobStatusRunning
	job.UpdatedAt = time.Now().UTC()
	jobCtx, cancel := context.WithCancel(m.rootCtx)
	m.cancels[jobID] = cancel
	m.mu.Unlock()

	bg := context.Background()
	m.persist(bg, job)
	m.record(bg, job, models.PhaseInit, "dispatched", 0, nil)

	m.logger.Info().Str("job_id", jobID).Str("kind", string(job.Kind)).Msg("Job started")

	outputs, err := m.dispatch(jobCtx, job)

	m.mu.Lock()
	delete(m.cancels, jobID)
	m.mu.Unlock()
	cancel()

	switch {
	case err == nil:
		m.finishSuccess(bg, job, outputs)
	case jobCtx.Err() != nil:
		m.finishPaused(bg, job)
	default:
		m.finishError(bg, job, err)
	}
}

// dispatch routes a job to its pipeline
func (m *Manager) dispatch(ctx context.Context, job *models.Job) ([]string, error) {
	report := m.reporter(job)
	switch job.Kind {
	case models.JobKindPDF:
		return m.runPDF(ctx, job, report)
	case models.JobKindJSONUnified:
		return m.pipeline.RunUnified(ctx, job, report)
	case models.JobKindJSONSingle:
		return m.pipeline.RunSingle(ctx, job, report)
	case models.JobKindSplit:
		return m.pipeline.RunSplit(ctx, job, report)
	case models.JobKindClean:
		return m.pipeline.RunClean(ctx, job, report)
	case models.JobKindCompress:
		return m.runCompress(ctx, job, report)
	default:
		return nil, models.NewPipelineError(models.ErrKindSubmissionRejected, "dispatch",
			fmt.Sprintf("no pipeline for kind %q", job.Kind), nil)
	}
}

// runPDF extracts every PDF input and writes the structured artefacts
func (m *Manager) runPDF(ctx context.Context, job *models.Job, report interfaces.ProgressFunc) ([]string, error) {
	var outputs []string
	for _, input := range job.Inputs {
		data, _, err := m.store.Get(ctx, input.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", input.Name, err)
		}

		artifact, err := m.pdf.Extract(ctx, job.ID, input.Name, data, job.Options, report)
		if err != nil {
			return nil, err
		}

		stem := strings.TrimSuffix(filepath.Base(input.Name), filepath.Ext(input.Name))
		if stem == "" || stem == "." {
			stem = "document"
		}
		artifactKey := fmt.Sprintf("%s/result/%s_unified.json", job.ID, stem)
		encoded, err := json.MarshalIndent(artifact, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode artefact for %s: %w", input.Name, err)
		}
		if _, err := m.store.Put(ctx, artifactKey, encoded, "application/json"); err != nil {
			return nil, fmt.Errorf("failed to write artefact: %w", err)
		}
		outputs = append(outputs, artifactKey)

		for _, page := range artifact.Pages {
			for _, el := range page.Elements {
				if el.Image != nil && el.Image.BlobKey != "" {
					outputs = append(outputs, el.Image.BlobKey)
				}
			}
		}
	}

	bundleKey, err := m.compressor.BundleZip(ctx, job.ID, job.ID+"/result/")
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Result bundle assembly failed")
	} else {
		outputs = append(outputs, bundleKey)
	}
	return outputs, nil
}

// runCompress compresses the job's uploaded inputs. The originals are
// removed after a successful run unless preserve_source keeps them.
func (m *Manager) runCompress(ctx context.Context, job *models.Job, report interfaces.ProgressFunc) ([]string, error) {
	if _, err := m.compressor.CompressPrefix(ctx, job.ID, job.ID+"/input", job.Options.CompressionLevel, report); err != nil {
		return nil, err
	}
	if !job.Options.PreserveSource {
		for _, input := range job.Inputs {
			if err := m.store.Delete(ctx, input.Key); err != nil {
				m.logger.Warn().Err(err).Str("key", input.Key).Msg("Failed to remove compressed input")
			}
		}
	}
	outputs, err := m.store.List(ctx, job.ID+"/result/compressed/")
	if err != nil {
		return nil, err
	}
	return append(outputs, fmt.Sprintf("%s/result/compression.json", job.ID)), nil
}

// reporter builds the per-job progress callback. Events are throttled to
// phase changes and five-percent movements so long loops do not flood the
// ledger.
func (m *Manager) reporter(job *models.Job) interfaces.ProgressFunc {
	var lastPhase models.ProgressPhase
	var lastPct float64 = -progressDelta
	return func(phase models.ProgressPhase, step string, progress float64) {
		pct := progress * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}

		m.mu.Lock()
		job.Progress = pct
		job.UpdatedAt = time.Now().UTC()
		m.mu.Unlock()

		if phase == lastPhase && pct-lastPct < progressDelta {
			return
		}
		lastPhase = phase
		lastPct = pct
		m.record(context.Background(), job, phase, step, pct, nil)
	}
}

// finishSuccess settles a completed job
func (m *Manager) finishSuccess(ctx context.Context, job *models.Job, outputs []string) {
	manifestKey := fmt.Sprintf("%s/result/manifest.json", job.ID)

	m.mu.Lock()
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.UpdatedAt = time.Now().UTC()
	job.LastError = ""
	job.Result = &models.ResultDescriptor{
		ManifestKey: manifestKey,
		OutputKeys:  outputs,
	}
	m.mu.Unlock()

	m.writeManifest(ctx, job, outputs)
	m.persist(ctx, job)
	m.record(ctx, job, models.PhaseSuccess, "completed", 100, nil)

	m.logger.Info().
		Str("job_id", job.ID).
		Int("outputs", len(outputs)).
		Msg("Job completed")
}

// finishPaused settles a cancelled job. Cancellation is not failure: retry
// budget is untouched and the job can be resumed.
func (m *Manager) finishPaused(ctx context.Context, job *models.Job) {
	m.mu.Lock()
	job.Status = models.JobStatusPaused
	job.UpdatedAt = time.Now().UTC()
	progress := job.Progress
	m.mu.Unlock()

	m.persist(ctx, job)
	m.record(ctx, job, models.PhaseCancelled, "cancelled", progress, nil)

	m.logger.Info().Str("job_id", job.ID).Msg("Job paused after cancellation")
}

// finishError retries transient failures within the budget, otherwise fails
// the job and writes its error report.
func (m *Manager) finishError(ctx context.Context, job *models.Job, jobErr error) {
	m.mu.Lock()
	job.LastError = jobErr.Error()
	job.UpdatedAt = time.Now().UTC()
	canRetry := models.IsRetryable(jobErr) && job.RetryCount < job.MaxRetries
	if canRetry {
		job.RetryCount++
		job.Status = models.JobStatusPending
	} else {
		job.Status = models.JobStatusFailed
	}
	retryCount := job.RetryCount
	m.mu.Unlock()

	m.persist(ctx, job)

	if canRetry {
		delay := retryBackoff(retryCount)
		m.record(ctx, job, models.PhaseInit, fmt.Sprintf("retry %d/%d in %s", retryCount, job.MaxRetries, delay.Round(time.Millisecond)),
			job.Progress, map[string]string{"error": jobErr.Error()})
		m.logger.Warn().
			Err(jobErr).
			Str("job_id", job.ID).
			Int("retry", retryCount).
			Dur("delay", delay).
			Msg("Job failed transiently, retry scheduled")

		time.AfterFunc(delay, func() { m.requeue(job) })
		return
	}

	m.writeErrorReport(ctx, job, jobErr)
	m.writeManifest(ctx, job, nil)
	m.record(ctx, job, models.PhaseFailed, "failed", job.Progress,
		map[string]string{"error": jobErr.Error()})

	m.logger.Error().Err(jobErr).Str("job_id", job.ID).Msg("Job failed")
}

// requeue puts a retrying job back on its queue
func (m *Manager) requeue(job *models.Job) {
	if m.rootCtx.Err() != nil {
		return
	}
	m.mu.Lock()
	current, ok := m.jobs[job.ID]
	if !ok || current.Status != models.JobStatusPending {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	select {
	case m.queues[classOf(job.Kind)] <- job.ID:
	case <-m.rootCtx.Done():
	}
}

// writeManifest records the job's outputs under its result prefix
func (m *Manager) writeManifest(ctx context.Context, job *models.Job, outputs []string) {
	m.mu.Lock()
	manifest := models.Manifest{
		JobID:       job.ID,
		Kind:        job.Kind,
		Status:      job.Status,
		CompletedAt: time.Now().UTC(),
		Outputs:     outputs,
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to encode manifest")
		return
	}
	key := fmt.Sprintf("%s/result/manifest.json", job.ID)
	if _, err := m.store.Put(ctx, key, data, "application/json"); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to write manifest")
	}
}

// writeErrorReport records the failure under the job's result prefix
func (m *Manager) writeErrorReport(ctx context.Context, job *models.Job, jobErr error) {
	report := models.ErrorReport{
		Kind:      string(models.KindOf(jobErr)),
		Message:   jobErr.Error(),
		Retryable: models.IsRetryable(jobErr),
	}
	var perr *models.PipelineError
	if errors.As(jobErr, &perr) {
		report.Stage = perr.Stage
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s/result/error.json", job.ID)
	if _, err := m.store.Put(ctx, key, data, "application/json"); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to write error report")
	}
}

// retryBackoff returns the jittered delay before retry n (1-based)
func retryBackoff(n int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			delay = retryMaxDelay
			break
		}
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(delay) * jitter)
}
