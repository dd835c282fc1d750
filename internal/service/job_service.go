package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"curator/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// Job Service: repeatable ingestion from sources
// ─────────────────────────────────────────────────────────────

// JobStore is the persistence the job service needs.
type JobStore interface {
	CreateJob(job *etl.IngestJob) error
	GetJob(id string) (*etl.IngestJob, error)
	UpdateJob(job *etl.IngestJob) error
	UpdateJobStatus(id, status, errMsg string) error
	DeleteJob(id string) error
	ListJobs() ([]etl.IngestJob, error)
	ListEnabledTriggeredJobs() ([]etl.IngestJob, error)
	CreateRunLog(l *etl.RunLog) error
	ListRunLogs(jobID string, limit int) ([]etl.RunLog, error)
}

var (
	// ErrInvalidInput wraps validation failures of job and connection input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrJobRunning is returned when a job is started while a run is in progress.
	ErrJobRunning = errors.New("job is already running")
)

const (
	jobRunTimeout     = 5 * time.Minute
	previewTimeout    = 30 * time.Second
	fileWatchDebounce = 500 * time.Millisecond
	previewRows       = 10
)

// JobService manages ingest jobs, scheduling, and file watching.
// Successful runs load their dataset into the destination (the session).
type JobService struct {
	store       JobStore
	pipeline    *etl.Pipeline
	emitter     EventEmitter
	runningJobs jobGuard

	// watcher / cron lifecycle
	mu          sync.Mutex
	runCtx      context.Context // parent of triggered runs
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewJobService creates a JobService ready for use.
func NewJobService(store JobStore, dest etl.Destination, engine *etl.Engine, emitter EventEmitter) *JobService {
	if emitter == nil {
		emitter = LogEmitter{}
	}
	return &JobService{
		store:    store,
		pipeline: &etl.Pipeline{Dest: dest, Engine: engine},
		emitter:  emitter,
		runCtx:   context.Background(),
	}
}

// ── Job CRUD ───────────────────────────────────────────────

type CreateJobInput struct {
	Name          string                `json:"name"`
	SourceType    string                `json:"sourceType"`
	SourceConfig  map[string]any        `json:"sourceConfig"`
	Transforms    []string              `json:"transforms"`
	Steps         []etl.TransformConfig `json:"steps"`
	ExportDir     string                `json:"exportDir"`
	TriggerType   string                `json:"triggerType"`
	TriggerConfig string                `json:"triggerConfig"`
	Enabled       *bool                 `json:"enabled"`
}

func (in CreateJobInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := etl.GetSource(in.SourceType); err != nil {
		return err
	}
	for _, name := range in.Transforms {
		if _, err := etl.GetTransform(name); err != nil {
			return err
		}
	}
	if _, err := etl.BuildTransforms(in.Steps); err != nil {
		return err
	}
	switch in.TriggerType {
	case "", etl.TriggerManual:
	case etl.TriggerSchedule:
		if _, err := cron.ParseStandard(in.TriggerConfig); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", in.TriggerConfig, err)
		}
	case etl.TriggerFileWatch:
		if in.TriggerConfig == "" {
			return fmt.Errorf("file_watch trigger needs a path")
		}
	default:
		return fmt.Errorf("unknown trigger type: %q", in.TriggerType)
	}
	return nil
}

func (in CreateJobInput) apply(job *etl.IngestJob) {
	job.Name = in.Name
	job.SourceType = in.SourceType
	job.SourceCfg = in.SourceConfig
	job.Transforms = in.Transforms
	job.Steps = in.Steps
	job.ExportDir = in.ExportDir
	job.TriggerType = in.TriggerType
	job.TriggerConfig = in.TriggerConfig
	if job.TriggerType == "" {
		job.TriggerType = etl.TriggerManual
	}
	if in.Enabled != nil {
		job.Enabled = *in.Enabled
	}
}

func (s *JobService) CreateJob(ctx context.Context, input CreateJobInput) (*etl.IngestJob, error) {
	if err := input.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	job := &etl.IngestJob{Enabled: true}
	input.apply(job)

	if err := s.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create ingest job: %w", err)
	}
	s.RestartWatchers()
	return job, nil
}

func (s *JobService) GetJob(id string) (*etl.IngestJob, error) {
	return s.store.GetJob(id)
}

func (s *JobService) ListJobs() ([]etl.IngestJob, error) {
	return s.store.ListJobs()
}

func (s *JobService) UpdateJob(ctx context.Context, id string, input CreateJobInput) (*etl.IngestJob, error) {
	if err := input.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	input.apply(job)

	if err := s.store.UpdateJob(job); err != nil {
		return nil, err
	}
	s.RestartWatchers()
	return job, nil
}

func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	err := s.store.DeleteJob(id)
	if err == nil {
		s.RestartWatchers()
	}
	return err
}

// ── Run ────────────────────────────────────────────────────

// RunJob executes a single ingest job synchronously.
func (s *JobService) RunJob(ctx context.Context, id string) (*etl.RunResult, error) {
	// Prevent concurrent execution of the same job.
	if !s.runningJobs.TryLock(id) {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	defer s.runningJobs.Unlock(id)

	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateJobStatus(id, etl.RunRunning, ""); err != nil {
		log.Printf("jobs: mark %s running: %v", id, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, jobRunTimeout)
	defer cancel()

	start := time.Now()
	result, runErr := s.pipeline.Run(runCtx, job)

	runLog := &etl.RunLog{
		JobID:         id,
		StartedAt:     start,
		FinishedAt:    time.Now(),
		Status:        result.Status,
		RecordsLoaded: result.RecordsLoaded,
		RecordsFailed: result.RecordsFailed,
		Error:         result.Error,
	}
	if err := s.store.CreateRunLog(runLog); err != nil {
		log.Printf("jobs: write run log for %s: %v", id, err)
	}
	if err := s.store.UpdateJobStatus(id, result.Status, result.Error); err != nil {
		log.Printf("jobs: update status of %s: %v", id, err)
	}

	s.emitter.Emit(ctx, EventJobCompleted, result)
	return result, runErr
}

// ListSources returns the available source descriptors.
func (s *JobService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ListRunLogs returns the last 50 run logs for a job.
func (s *JobService) ListRunLogs(jobID string) ([]etl.RunLog, error) {
	return s.store.ListRunLogs(jobID, 50)
}

// ── Preview ────────────────────────────────────────────────

// PreviewResult is the response from PreviewSource.
type PreviewResult struct {
	Keys    etl.KeyStats `json:"keys"`
	Records []etl.Record `json:"records"`
}

// PreviewSource fetches and ingests a source without touching the session.
func (s *JobService) PreviewSource(ctx context.Context, sourceType string, cfg etl.SourceConfig) (*PreviewResult, error) {
	previewCtx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	ds, err := s.pipeline.Preview(previewCtx, sourceType, cfg, previewRows)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Keys: ds.Keys, Records: ds.Records}, nil
}

// PreviewSourceJSON is PreviewSource with the config given as JSON text.
func (s *JobService) PreviewSourceJSON(ctx context.Context, sourceType, cfgJSON string) (*PreviewResult, error) {
	cfg := etl.SourceConfig{}
	if cfgJSON != "" {
		if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
			return nil, fmt.Errorf("parse source config: %w", err)
		}
	}
	return s.PreviewSource(ctx, sourceType, cfg)
}

// ── Watchers (cron + file_watch) ──────────────────────────

// Start makes ctx the parent of scheduled and file-triggered runs and starts
// the watchers. Request contexts must not be passed here.
func (s *JobService) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()
	s.RestartWatchers()
}

// RestartWatchers tears down the current watcher/cron and rebuilds them from scratch.
func (s *JobService) RestartWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()
	ctx := s.runCtx

	jobs, err := s.store.ListEnabledTriggeredJobs()
	if err != nil {
		log.Printf("jobs watcher: failed to list jobs: %v", err)
		return
	}

	s.startCronLocked(ctx, jobs)
	s.startFileWatchLocked(ctx, jobs)
}

func (s *JobService) startCronLocked(ctx context.Context, jobs []etl.IngestJob) {
	c := cron.New()
	scheduled := 0
	for _, j := range jobs {
		if j.TriggerType != etl.TriggerSchedule || j.TriggerConfig == "" {
			continue
		}
		jid := j.ID
		if _, err := c.AddFunc(j.TriggerConfig, func() {
			log.Printf("jobs cron: running job %s", jid)
			if _, err := s.RunJob(ctx, jid); err != nil {
				log.Printf("jobs cron: job %s failed: %v", jid, err)
			}
		}); err != nil {
			log.Printf("jobs cron: invalid expression %q for job %s: %v", j.TriggerConfig, jid, err)
			continue
		}
		scheduled++
	}
	if scheduled == 0 {
		return
	}
	c.Start()
	s.cronSched = c
	log.Printf("jobs cron: scheduled %d job(s)", scheduled)
}

func (s *JobService) startFileWatchLocked(ctx context.Context, jobs []etl.IngestJob) {
	pathToJob := make(map[string]string)
	for _, j := range jobs {
		if j.TriggerType != etl.TriggerFileWatch || j.TriggerConfig == "" {
			continue
		}
		absPath, err := filepath.Abs(j.TriggerConfig)
		if err != nil {
			log.Printf("jobs watcher: bad path %q: %v", j.TriggerConfig, err)
			continue
		}
		pathToJob[absPath] = j.ID
	}
	if len(pathToJob) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("jobs watcher: failed to create watcher: %v", err)
		return
	}
	s.watcher = watcher

	// Watch directories: editors often replace files instead of writing in place.
	watchedDirs := make(map[string]bool)
	for absPath := range pathToJob {
		dir := filepath.Dir(absPath)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			log.Printf("jobs watcher: failed to watch dir %q: %v", dir, err)
			continue
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel

	go s.watchLoop(ctx, watchCtx, watcher, pathToJob)
	log.Printf("jobs watcher: watching %d file(s)", len(pathToJob))
}

func (s *JobService) watchLoop(runCtx, watchCtx context.Context, watcher *fsnotify.Watcher, pathToJob map[string]string) {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for {
		select {
		case <-watchCtx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			absPath, _ := filepath.Abs(event.Name)
			jobID, ok := pathToJob[absPath]
			if !ok {
				continue
			}
			if t, exists := timers[jobID]; exists {
				t.Stop()
			}
			timers[jobID] = time.AfterFunc(fileWatchDebounce, func() {
				log.Printf("jobs watcher: file changed %q, running job %s", absPath, jobID)
				if _, err := s.RunJob(runCtx, jobID); err != nil {
					log.Printf("jobs watcher: run failed for job %s: %v", jobID, err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("jobs watcher: error: %v", err)
		}
	}
}

// WaitRunning blocks until all running jobs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *JobService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *JobService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()
}

func (s *JobService) stopWatchersLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
