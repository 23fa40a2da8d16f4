package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/ledger"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/compress"
	"github.com/ternarybob/colligo/internal/services/llm"
	"github.com/ternarybob/colligo/internal/services/mapper"
	"github.com/ternarybob/colligo/internal/services/match"
	"github.com/ternarybob/colligo/internal/services/reader"
	"github.com/ternarybob/colligo/internal/services/scrub"
	"github.com/ternarybob/colligo/internal/services/unified"
	"github.com/ternarybob/colligo/internal/storage/localfs"
)

type managerFixture struct {
	manager *Manager
	store   *localfs.Store
}

func newFixture(t *testing.T, jobsCfg *common.JobsConfig) *managerFixture {
	t.Helper()
	logger := arbor.NewLogger()

	store, err := localfs.NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	llmCfg := &common.LLMConfig{Mode: llm.ModeDisabled}
	factory := llm.NewProviderFactory(&common.GeminiConfig{}, &common.ClaudeConfig{}, llmCfg, logger)
	gateway := llm.NewGateway(factory, llmCfg, logger)

	pipeline := unified.NewPipeline(
		store,
		reader.NewService(gateway, false, logger),
		mapper.NewDetector(64, logger),
		mapper.NewEngine(logger),
		scrub.NewScrubber(logger),
		gateway,
		match.NewEngine(&common.MatchingConfig{MinScore: 0.5, TitleJaccard: 0.4, ShingleLength: 3}, logger),
		&common.PipelineConfig{EnrichmentConcurrency: 2, LLMEnrichment: false, DetectionSample: 64},
		logger,
	)
	compressor := compress.NewCompressor(store, &common.CompressionConfig{Level: "fast"}, logger)

	if jobsCfg == nil {
		jobsCfg = &common.JobsConfig{}
	}
	m := NewManager(jobsCfg, store, ledger.NewLedger(store, logger), nil, pipeline, compressor, logger)
	return &managerFixture{manager: m, store: store}
}

func (f *managerFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Start(context.Background()))
	t.Cleanup(func() { f.manager.Stop() })
}

// awaitStatus polls until the job reaches one of the wanted states
func awaitStatus(t *testing.T, m *Manager, jobID string, want ...models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(jobID)
		require.NoError(t, err)
		for _, s := range want {
			if job.Status == s {
				return job
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	job, _ := m.Get(jobID)
	t.Fatalf("job %s did not reach %v, last status %s (%s)", jobID, want, job.Status, job.LastError)
	return nil
}

func TestSubmitCleanJobCompletes(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, models.JobKindClean, []interfaces.SubmitInput{
		{Name: "doc.json", Data: []byte(`{"owner":"dana@example.com"}`)},
	}, models.JobOptions{})
	require.NoError(t, err)

	done := awaitStatus(t, f.manager, job.ID, models.JobStatusCompleted, models.JobStatusFailed)
	require.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 100.0, done.Progress)
	require.NotNil(t, done.Result)
	assert.Contains(t, done.Result.OutputKeys, job.ID+"/result/cleaned/doc.json")

	// Cleaned output and manifest exist under the job prefix
	cleaned, _, err := f.store.Get(ctx, job.ID+"/result/cleaned/doc.json")
	require.NoError(t, err)
	assert.Contains(t, string(cleaned), "[REDACTED:email]")

	manifestData, _, err := f.store.Get(ctx, done.Result.ManifestKey)
	require.NoError(t, err)
	var manifest models.Manifest
	require.NoError(t, json.Unmarshal(manifestData, &manifest))
	assert.Equal(t, models.JobStatusCompleted, manifest.Status)
	assert.Equal(t, done.Result.OutputKeys, manifest.Outputs)
}

func TestSubmitSplitJobCompletes(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, models.JobKindSplit, []interfaces.SubmitInput{
		{Name: "big.json", Data: []byte(`[{"id":1},{"id":2},{"id":3}]`)},
	}, models.JobOptions{ItemsPerChunk: 2})
	require.NoError(t, err)

	done := awaitStatus(t, f.manager, job.ID, models.JobStatusCompleted, models.JobStatusFailed)
	require.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Len(t, done.Result.OutputKeys, 2)
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.Submit(context.Background(), models.JobKind("mystery"), []interfaces.SubmitInput{
		{Name: "x", Data: []byte("{}")},
	}, models.JobOptions{})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindSubmissionRejected, models.KindOf(err))
}

func TestSubmitRejectsEmptyInputs(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.Submit(context.Background(), models.JobKindClean, nil, models.JobOptions{})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindSubmissionRejected, models.KindOf(err))
}

func TestSubmitRejectsOversizedInput(t *testing.T) {
	f := newFixture(t, &common.JobsConfig{MaxInputSize: 16})

	_, err := f.manager.Submit(context.Background(), models.JobKindClean, []interfaces.SubmitInput{
		{Name: "big.json", Data: []byte(`{"data":"0123456789abcdef"}`)},
	}, models.JobOptions{})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindSubmissionRejected, models.KindOf(err))
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	// Manager never started: nothing drains the depth-1 queue
	f := newFixture(t, &common.JobsConfig{QueueDepth: 1})
	ctx := context.Background()

	_, err := f.manager.Submit(ctx, models.JobKindClean, []interfaces.SubmitInput{
		{Name: "a.json", Data: []byte("{}")},
	}, models.JobOptions{})
	require.NoError(t, err)

	rejected, err := f.manager.Submit(ctx, models.JobKindClean, []interfaces.SubmitInput{
		{Name: "b.json", Data: []byte("{}")},
	}, models.JobOptions{})
	require.Error(t, err)
	assert.Nil(t, rejected)
	assert.Equal(t, models.ErrKindSubmissionRejected, models.KindOf(err))

	// The rejected submission leaves no job record behind
	assert.Len(t, f.manager.List(), 1)
}

func TestCancelPendingJobPausesAndResumes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Not started: the job stays pending in its queue
	job, err := f.manager.Submit(ctx, models.JobKindClean, []interfaces.SubmitInput{
		{Name: "doc.json", Data: []byte(`{"k":"v"}`)},
	}, models.JobOptions{})
	require.NoError(t, err)

	require.NoError(t, f.manager.Cancel(job.ID))
	paused, err := f.manager.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, paused.Status)

	require.NoError(t, f.manager.Resume(job.ID))
	pending, err := f.manager.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, pending.Status)

	f.start(t)
	done := awaitStatus(t, f.manager, job.ID, models.JobStatusCompleted, models.JobStatusFailed)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
}

func TestResumeRejectsPendingJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, models.JobKindClean, []interfaces.SubmitInput{
		{Name: "doc.json", Data: []byte(`{"k":"v"}`)},
	}, models.JobOptions{})
	require.NoError(t, err)

	err = f.manager.Resume(job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only paused or failed jobs resume")
}

func TestResumeRetriesFailedJob(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, models.JobKindClean, []interfaces.SubmitInput{
		{Name: "doc.json", Data: []byte("\x00\x01 not json at all")},
	}, models.JobOptions{})
	require.NoError(t, err)

	failed := awaitStatus(t, f.manager, job.ID, models.JobStatusFailed, models.JobStatusCompleted)
	require.Equal(t, models.JobStatusFailed, failed.Status)

	// Fix the input in place, then retry the failed job
	_, err = f.store.Put(ctx, job.ID+"/input/doc.json", []byte(`{"owner":"dana@example.com"}`), "application/json")
	require.NoError(t, err)

	require.NoError(t, f.manager.Resume(job.ID))
	done := awaitStatus(t, f.manager, job.ID, models.JobStatusCompleted, models.JobStatusFailed)
	require.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.RetryCount)

	cleaned, _, err := f.store.Get(ctx, job.ID+"/result/cleaned/doc.json")
	require.NoError(t, err)
	assert.Contains(t, string(cleaned), "[REDACTED:email]")
}

func TestFailedJobWritesErrorReport(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	// Unrepairable input drives the clean pipeline into a permanent failure
	job, err := f.manager.Submit(ctx, models.JobKindClean, []interfaces.SubmitInput{
		{Name: "junk.bin", Data: []byte("\x00\x01 not json at all")},
	}, models.JobOptions{})
	require.NoError(t, err)

	done := awaitStatus(t, f.manager, job.ID, models.JobStatusFailed, models.JobStatusCompleted)
	require.Equal(t, models.JobStatusFailed, done.Status)
	assert.NotEmpty(t, done.LastError)

	data, _, err := f.store.Get(ctx, job.ID+"/result/error.json")
	require.NoError(t, err)
	var report models.ErrorReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "malformed-beyond-repair", report.Kind)
	assert.False(t, report.Retryable)
	assert.Equal(t, "clean", report.Stage)
}

func TestReloadRestoresPersistedJobs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Submit without starting, then mimic a crashed process by rebuilding
	// the manager over the same store
	job, err := f.manager.Submit(ctx, models.JobKindClean, []interfaces.SubmitInput{
		{Name: "doc.json", Data: []byte(`{"owner":"dana@example.com"}`)},
	}, models.JobOptions{})
	require.NoError(t, err)

	logger := arbor.NewLogger()
	llmCfg := &common.LLMConfig{Mode: llm.ModeDisabled}
	factory := llm.NewProviderFactory(&common.GeminiConfig{}, &common.ClaudeConfig{}, llmCfg, logger)
	gateway := llm.NewGateway(factory, llmCfg, logger)
	pipeline := unified.NewPipeline(
		f.store,
		reader.NewService(gateway, false, logger),
		mapper.NewDetector(64, logger),
		mapper.NewEngine(logger),
		scrub.NewScrubber(logger),
		gateway,
		match.NewEngine(&common.MatchingConfig{MinScore: 0.5}, logger),
		&common.PipelineConfig{},
		logger,
	)
	compressor := compress.NewCompressor(f.store, &common.CompressionConfig{}, logger)
	restarted := NewManager(&common.JobsConfig{}, f.store, ledger.NewLedger(f.store, logger), nil, pipeline, compressor, logger)

	require.NoError(t, restarted.Start(ctx))
	t.Cleanup(func() { restarted.Stop() })

	done := awaitStatus(t, restarted, job.ID, models.JobStatusCompleted, models.JobStatusFailed)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
}

func TestCompressJobCompletes(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	payload := make([]byte, 0, 2048)
	for i := 0; i < 64; i++ {
		payload = append(payload, []byte(fmt.Sprintf(`{"row":%d,"text":"repetitive filler text"}`, i))...)
	}
	job, err := f.manager.Submit(ctx, models.JobKindCompress, []interfaces.SubmitInput{
		{Name: "data.json", Data: payload},
	}, models.JobOptions{CompressionLevel: "fast"})
	require.NoError(t, err)

	done := awaitStatus(t, f.manager, job.ID, models.JobStatusCompleted, models.JobStatusFailed)
	require.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Contains(t, done.Result.OutputKeys, job.ID+"/result/compressed/data.json.lz4")
	assert.Contains(t, done.Result.OutputKeys, job.ID+"/result/compression.json")

	// Compressed copies replace the uploaded originals by default
	_, _, err = f.store.Get(ctx, job.ID+"/input/data.json")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompressJobPreservesSourceOnRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	ctx := context.Background()

	payload := []byte(`{"text":"keep me around"}`)
	job, err := f.manager.Submit(ctx, models.JobKindCompress, []interfaces.SubmitInput{
		{Name: "data.json", Data: payload},
	}, models.JobOptions{CompressionLevel: "fast", PreserveSource: true})
	require.NoError(t, err)

	done := awaitStatus(t, f.manager, job.ID, models.JobStatusCompleted, models.JobStatusFailed)
	require.Equal(t, models.JobStatusCompleted, done.Status)

	original, _, err := f.store.Get(ctx, job.ID+"/input/data.json")
	require.NoError(t, err)
	assert.Equal(t, payload, original)
}

func TestGetUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.manager.Get("job_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCollectGarbagePurgesExpiredTerminalJobs(t *testing.T) {
	f := newFixture(t, &common.JobsConfig{TerminalTTL: "1h"})
	f.start(t)
	ctx := context.Background()

	job, err := f.manager.Submit(ctx, models.JobKindClean, []interfaces.SubmitInput{
		{Name: "doc.json", Data: []byte(`{"k":"v"}`)},
	}, models.JobOptions{})
	require.NoError(t, err)
	awaitStatus(t, f.manager, job.ID, models.JobStatusCompleted, models.JobStatusFailed)

	// Age the record past the retention window
	f.manager.mu.Lock()
	f.manager.jobs[job.ID].UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	f.manager.mu.Unlock()

	f.manager.collectGarbage()

	_, err = f.manager.Get(job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	keys, err := f.store.List(ctx, job.ID+"/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
