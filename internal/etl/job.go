package etl

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"
)

// ── IngestJob ──────────────────────────────────────────────
// Orchestrates: source.Fetch → Ingest → transform chain → destination.Load.

// Trigger types for ingest jobs.
const (
	TriggerManual    = "manual"
	TriggerSchedule  = "schedule"
	TriggerFileWatch = "file_watch"
)

// Run statuses.
const (
	RunSuccess = "success"
	RunError   = "error"
	RunRunning = "running"
)

// IngestJob holds the configuration for a repeatable ingestion.
type IngestJob struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	SourceType    string            `json:"sourceType"`
	SourceCfg     SourceConfig      `json:"sourceConfig"`
	Transforms    []string          `json:"transforms,omitempty"` // applied in order to the full set
	Steps         []TransformConfig `json:"steps,omitempty"`      // applied after Transforms
	ExportDir     string            `json:"exportDir,omitempty"`  // also write an export file here
	TriggerType   string            `json:"triggerType"`          // "manual" | "schedule" | "file_watch"
	TriggerConfig string            `json:"triggerConfig"`        // cron expression or watch path
	Enabled       bool              `json:"enabled"`
	LastRunAt     time.Time         `json:"lastRunAt"`
	LastStatus    string            `json:"lastStatus"` // "success" | "error" | "running" | ""
	LastError     string            `json:"lastError"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// RunResult is the outcome of running an ingest job.
type RunResult struct {
	JobID         string        `json:"jobId"`
	Status        string        `json:"status"`
	BytesRead     int           `json:"bytesRead"`
	RecordsLoaded int           `json:"recordsLoaded"`
	RecordsFailed int           `json:"recordsFailed"`
	ExportFile    string        `json:"exportFile,omitempty"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// RunLog is a historical record of a job run.
type RunLog struct {
	ID            string    `json:"id"`
	JobID         string    `json:"jobId"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Status        string    `json:"status"`
	RecordsLoaded int       `json:"recordsLoaded"`
	RecordsFailed int       `json:"recordsFailed"`
	Error         string    `json:"error,omitempty"`
}

// ── Pipeline ───────────────────────────────────────────────

// Pipeline runs ingest jobs against the registered sources.
type Pipeline struct {
	Dest   Destination
	Engine *Engine
}

// Run executes a job end-to-end. The destination is only loaded when every
// step before it succeeded, so a failed run leaves it untouched.
func (p *Pipeline) Run(ctx context.Context, job *IngestJob) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{JobID: job.ID}
	fail := func(err error) (*RunResult, error) {
		result.Status = RunError
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, err
	}

	// 1. Validate the transform chain before touching the source.
	for _, name := range job.Transforms {
		if _, err := GetTransform(name); err != nil {
			return fail(err)
		}
	}
	steps, err := BuildTransforms(job.Steps)
	if err != nil {
		return fail(err)
	}

	// 2. Fetch + ingest.
	ds, n, err := fetchDataset(ctx, job.SourceType, job.SourceCfg)
	result.BytesRead = n
	if err != nil {
		return fail(err)
	}

	// 3. Apply transforms to the full set, in order.
	for _, name := range job.Transforms {
		out, err := Transform(ds.Records, Selection{}, name, p.Engine)
		if err != nil {
			return fail(fmt.Errorf("transform %s: %w", name, err))
		}
		ds.Records = out.Records
		result.RecordsFailed += out.Failed
	}
	for _, step := range steps {
		out := TransformWith(ds.Records, Selection{}, step, p.Engine)
		ds.Records = out.Records
		result.RecordsFailed += out.Failed
	}
	if len(job.Transforms) > 0 || len(steps) > 0 {
		ds.Keys = ComputeKeyStats(ds.Records)
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// 4. Load.
	if p.Dest != nil {
		if err := p.Dest.Load(ctx, ds); err != nil {
			return fail(fmt.Errorf("load: %w", err))
		}
	}
	if job.ExportDir != "" {
		fd := &FileDestination{Dir: job.ExportDir}
		if err := fd.Load(ctx, ds); err != nil {
			return fail(fmt.Errorf("export: %w", err))
		}
		result.ExportFile = fd.LastPath()
	}

	result.Status = RunSuccess
	result.RecordsLoaded = len(ds.Records)
	result.Duration = time.Since(start)
	log.Printf("pipeline: job %s loaded %d records from %s in %s",
		job.ID, result.RecordsLoaded, humanize.Bytes(uint64(n)), result.Duration.Round(time.Millisecond))
	return result, nil
}

// Preview fetches and ingests a source without loading it anywhere, and
// returns at most maxRows records alongside the full key statistics.
func (p *Pipeline) Preview(ctx context.Context, sourceType string, cfg SourceConfig, maxRows int) (*Dataset, error) {
	ds, _, err := fetchDataset(ctx, sourceType, cfg)
	if err != nil {
		return nil, err
	}
	if maxRows > 0 && len(ds.Records) > maxRows {
		ds.Records = ds.Records[:maxRows]
	}
	return ds, nil
}

func fetchDataset(ctx context.Context, sourceType string, cfg SourceConfig) (*Dataset, int, error) {
	source, err := GetSource(sourceType)
	if err != nil {
		return nil, 0, err
	}
	data, err := source.Fetch(ctx, cfg)
	if err != nil {
		return nil, len(data), fmt.Errorf("fetch: %w", err)
	}
	ds, err := Ingest(data)
	if err != nil {
		return nil, len(data), fmt.Errorf("ingest: %w", err)
	}
	return ds, len(data), nil
}
