package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/compress"
	"github.com/ternarybob/colligo/internal/services/unified"
)

// poolClass groups job kinds onto worker pools. PDF and unified jobs are
// resource-heavy and get dedicated pools; everything else shares one.
type poolClass string

const (
	poolPDF     poolClass = "pdf"
	poolUnified poolClass = "unified"
	poolOther   poolClass = "other"
)

func classOf(kind models.JobKind) poolClass {
	switch kind {
	case models.JobKindPDF:
		return poolPDF
	case models.JobKindJSONUnified:
		return poolUnified
	default:
		return poolOther
	}
}

var knownKinds = map[models.JobKind]bool{
	models.JobKindPDF:         true,
	models.JobKindJSONUnified: true,
	models.JobKindJSONSingle:  true,
	models.JobKindCompress:    true,
	models.JobKindClean:       true,
	models.JobKindSplit:       true,
}

// Manager is the job orchestrator. It owns the job table exclusively: all
// mutations go through its mutex, workers receive job IDs over bounded
// queues, and every state change is persisted so a restart resumes where it
// left off.
type Manager struct {
	config     *common.JobsConfig
	store      interfaces.BlobStore
	ledger     interfaces.ProgressLedger
	pdf        interfaces.PDFExtractor
	pipeline   *unified.Pipeline
	compressor *compress.Compressor
	logger     arbor.ILogger

	mu      sync.Mutex
	jobs    map[string]*models.Job
	cancels map[string]context.CancelFunc
	seqs    map[string]int64

	queues     map[poolClass]chan string
	wg         sync.WaitGroup
	rootCtx    context.Context
	rootCancel context.CancelFunc
	cron       *cron.Cron
	started    bool
}

// Compile-time interface assertion
var _ interfaces.JobManager = (*Manager)(nil)

// NewManager creates the orchestrator
func NewManager(config *common.JobsConfig, store interfaces.BlobStore, ledger interfaces.ProgressLedger, pdf interfaces.PDFExtractor, pipeline *unified.Pipeline, compressor *compress.Compressor, logger arbor.ILogger) *Manager {
	queueDepth := config.QueueDepth
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Manager{
		config:     config,
		store:      store,
		ledger:     ledger,
		pdf:        pdf,
		pipeline:   pipeline,
		compressor: compressor,
		logger:     logger,
		jobs:       make(map[string]*models.Job),
		cancels:    make(map[string]context.CancelFunc),
		seqs:       make(map[string]int64),
		queues: map[poolClass]chan string{
			poolPDF:     make(chan string, queueDepth),
			poolUnified: make(chan string, queueDepth),
			poolOther:   make(chan string, queueDepth),
		},
		cron: cron.New(),
	}
}

// Start reloads persisted jobs, launches the worker pools and schedules
// terminal-job garbage collection.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("job manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.rootCtx, m.rootCancel = context.WithCancel(context.Background())

	if err := m.reload(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to reload persisted jobs")
	}

	pools := map[poolClass]int{
		poolPDF:     defaultPos(m.config.PDFWorkers, 4),
		poolUnified: defaultPos(m.config.UnifiedWorkers, 2),
		poolOther:   defaultPos(m.config.OtherWorkers, 4),
	}
	for class, count := range pools {
		for i := 0; i < count; i++ {
			m.wg.Add(1)
			go m.workerLoop(class)
		}
		m.logger.Info().Str("pool", string(class)).Int("workers", count).Msg("Worker pool started")
	}

	schedule := m.config.GCSchedule
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := m.cron.AddFunc(schedule, m.collectGarbage); err != nil {
		return fmt.Errorf("failed to schedule job garbage collection: %w", err)
	}
	m.cron.Start()

	return nil
}

// Stop cancels in-flight work and waits for workers up to the shutdown
// deadline. Running jobs land in paused and resume after the next Start.
func (m *Manager) Stop() error {
	m.cron.Stop()
	if m.rootCancel != nil {
		m.rootCancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	deadline := common.ParseDuration(m.config.ShutdownDeadline, 30*time.Second)
	select {
	case <-done:
		m.logger.Info().Msg("Job manager stopped")
		return nil
	case <-time.After(deadline):
		m.logger.Warn().Msg("Shutdown deadline exceeded, abandoning workers")
		return fmt.Errorf("job manager shutdown timed out after %s", deadline)
	}
}

// Submit validates, persists and enqueues a new job
func (m *Manager) Submit(ctx context.Context, kind models.JobKind, inputs []interfaces.SubmitInput, opts models.JobOptions) (*models.Job, error) {
	if !knownKinds[kind] {
		return nil, models.NewPipelineError(models.ErrKindSubmissionRejected, "submit",
			fmt.Sprintf("unknown job kind %q", kind), nil)
	}
	if len(inputs) == 0 {
		return nil, models.NewPipelineError(models.ErrKindSubmissionRejected, "submit",
			"submission carries no inputs", nil)
	}
	maxSize := m.config.MaxInputSize
	for _, in := range inputs {
		if maxSize > 0 && int64(len(in.Data)) > maxSize {
			return nil, models.NewPipelineError(models.ErrKindSubmissionRejected, "submit",
				fmt.Sprintf("input %s exceeds the %d byte limit", in.Name, maxSize), nil)
		}
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:          common.NewJobID(),
		Kind:        kind,
		Status:      models.JobStatusPending,
		SubmittedAt: now,
		UpdatedAt:   now,
		MaxRetries:  defaultPos(m.config.MaxRetries, 3),
		Options:     opts,
	}

	for _, in := range inputs {
		key := fmt.Sprintf("%s/input/%s", job.ID, in.Name)
		if _, err := m.store.Put(ctx, key, in.Data, "application/octet-stream"); err != nil {
			return nil, fmt.Errorf("failed to store input %s: %w", in.Name, err)
		}
		job.Inputs = append(job.Inputs, models.InputDescriptor{
			Name: in.Name,
			Key:  key,
			Size: int64(len(in.Data)),
		})
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if err := m.persist(ctx, job); err != nil {
		return nil, err
	}
	m.record(ctx, job, models.PhaseInit, "job accepted", 0, nil)

	select {
	case m.queues[classOf(kind)] <- job.ID:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		m.unpersist(ctx, job.ID)
		return nil, models.NewPipelineError(models.ErrKindSubmissionRejected, "submit",
			fmt.Sprintf("queue for %s jobs is full", classOf(kind)), nil)
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(kind)).
		Int("inputs", len(job.Inputs)).
		Msg("Job submitted")

	return job.Clone(), nil
}

// Get returns a copy of one job record
func (m *Manager) Get(jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return job.Clone(), nil
}

// List returns copies of all known jobs, newest first
func (m *Manager) List() []*models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Clone())
	}
	return out
}

// Cancel requests cancellation. Pending jobs pause immediately; running jobs
// pause when their worker observes the cancelled context.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return models.ErrNotFound
	}
	if job.Status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}

	if cancel, running := m.cancels[jobID]; running {
		m.mu.Unlock()
		cancel()
		return nil
	}

	job.Status = models.JobStatusPaused
	job.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	ctx := context.Background()
	m.persist(ctx, job)
	m.record(ctx, job, models.PhaseCancelled, "cancelled before dispatch", job.Progress, nil)
	return nil
}

// Resume re-enqueues a paused or failed job. Resuming a failed job is a
// retry: the retry counter increments and the last error stands until the
// next attempt settles.
func (m *Manager) Resume(jobID string) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return models.ErrNotFound
	}
	prev := job.Status
	if prev != models.JobStatusPaused && prev != models.JobStatusFailed {
		m.mu.Unlock()
		return fmt.Errorf("job %s is %s, only paused or failed jobs resume", jobID, prev)
	}
	if prev == models.JobStatusFailed {
		job.RetryCount++
	}
	job.Status = models.JobStatusPending
	job.UpdatedAt = time.Now().UTC()
	kind := job.Kind
	m.mu.Unlock()

	m.persist(context.Background(), job)

	select {
	case m.queues[classOf(kind)] <- jobID:
		return nil
	default:
		m.mu.Lock()
		job.Status = prev
		if prev == models.JobStatusFailed {
			job.RetryCount--
		}
		m.mu.Unlock()
		return models.NewPipelineError(models.ErrKindSubmissionRejected, "resume",
			fmt.Sprintf("queue for %s jobs is full", classOf(kind)), nil)
	}
}

// reload restores persisted jobs after a restart. Jobs that were running
// when the process died go back to pending and re-enter their queue.
func (m *Manager) reload(ctx context.Context) error {
	prefix := m.statePrefix()
	keys, err := m.store.List(ctx, prefix)
	if err != nil {
		return err
	}

	restored := 0
	for _, key := range keys {
		data, _, err := m.store.Get(ctx, key)
		if err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Skipping unreadable job record")
			continue
		}
		var job models.Job
		if err := json.Unmarshal(data, &job); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Skipping undecodable job record")
			continue
		}

		if job.Status == models.JobStatusRunning {
			job.Status = models.JobStatusPending
		}

		m.mu.Lock()
		m.jobs[job.ID] = &job
		m.mu.Unlock()

		if job.Status == models.JobStatusPending {
			select {
			case m.queues[classOf(job.Kind)] <- job.ID:
			default:
				m.logger.Warn().Str("job_id", job.ID).Msg("Queue full during reload, job stays pending")
			}
		}
		restored++
	}

	if restored > 0 {
		m.logger.Info().Int("jobs", restored).Msg("Restored persisted jobs")
	}
	return nil
}

// collectGarbage purges terminal jobs older than the retention window
func (m *Manager) collectGarbage() {
	ttl := common.ParseDuration(m.config.TerminalTTL, 168*time.Hour)
	cutoff := time.Now().UTC().Add(-ttl)

	m.mu.Lock()
	var expired []string
	for id, job := range m.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	ctx := context.Background()
	for _, id := range expired {
		if err := m.ledger.Purge(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to purge expired job artefacts")
			continue
		}
		m.unpersist(ctx, id)
		m.mu.Lock()
		delete(m.jobs, id)
		delete(m.seqs, id)
		m.mu.Unlock()
		m.logger.Info().Str("job_id", id).Msg("Expired terminal job purged")
	}
}

func (m *Manager) statePrefix() string {
	prefix := m.config.StatePrefix
	if prefix == "" {
		prefix = "jobs/pending"
	}
	return strings.TrimSuffix(prefix, "/")
}

// persist writes the durable job record
func (m *Manager) persist(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	data, err := json.Marshal(job)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	key := fmt.Sprintf("%s/%s.json", m.statePrefix(), job.ID)
	if _, err := m.store.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", job.ID, err)
	}
	return nil
}

// unpersist removes the durable record of a job
func (m *Manager) unpersist(ctx context.Context, jobID string) {
	key := fmt.Sprintf("%s/%s.json", m.statePrefix(), jobID)
	if err := m.store.Delete(ctx, key); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to remove job record")
	}
}

// record emits one progress event with the job's next sequence number
func (m *Manager) record(ctx context.Context, job *models.Job, phase models.ProgressPhase, step string, progress float64, metadata map[string]string) {
	m.mu.Lock()
	m.seqs[job.ID]++
	seq := m.seqs[job.ID]
	status := job.Status
	m.mu.Unlock()

	event := models.ProgressEvent{
		Sequence:  seq,
		JobID:     job.ID,
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Step:      step,
		Progress:  progress,
		Status:    status,
		Metadata:  metadata,
	}
	if err := m.ledger.Record(ctx, event); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record progress event")
	}
}

func defaultPos(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
