package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"curator/internal/domain"
	"curator/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// Dataset Service: the session's working set
// ─────────────────────────────────────────────────────────────

// DefaultListLimit is the page size of List when none is given.
const DefaultListLimit = 10

// DatasetService owns the in-memory working set and its key statistics.
// Every mutation computes a new set and swaps it in one step under the
// write lock, so readers see either the old set or the new one.
type DatasetService struct {
	engine  *etl.Engine
	runs    domain.TransformRunStore
	emitter EventEmitter

	// opMu serializes mutations: a transform must merge into the set it
	// read, not into one an ingest swapped in meanwhile.
	opMu sync.Mutex

	mu      sync.RWMutex
	records []etl.Record
	keys    etl.KeyStats
}

// NewDatasetService creates an empty session. runs may be nil.
func NewDatasetService(engine *etl.Engine, runs domain.TransformRunStore, emitter EventEmitter) *DatasetService {
	if engine == nil {
		engine = etl.NewEngine(0)
	}
	if emitter == nil {
		emitter = LogEmitter{}
	}
	return &DatasetService{
		engine:  engine,
		runs:    runs,
		emitter: emitter,
		records: []etl.Record{},
		keys:    etl.KeyStats{Density: map[string]int{}, Order: []string{}},
	}
}

// IngestSummary describes a completed ingestion.
type IngestSummary struct {
	Count int          `json:"count"`
	Keys  etl.KeyStats `json:"keys"`
}

// ListResult is one page of the working set.
type ListResult struct {
	Data  []etl.Record `json:"data"`
	Total int          `json:"total"`
}

// ── Ingestion ──────────────────────────────────────────────

// Ingest replaces the working set with the records found in data.
// On any error the current working set is kept.
func (s *DatasetService) Ingest(ctx context.Context, data []byte) (*IngestSummary, error) {
	ds, err := etl.Ingest(data)
	if err != nil {
		return nil, err
	}
	log.Printf("dataset: parsed %s into %d records", humanize.Bytes(uint64(len(data))), len(ds.Records))
	return s.replace(ctx, ds), nil
}

// IngestValue is Ingest for an already parsed document.
func (s *DatasetService) IngestValue(ctx context.Context, v etl.Value) (*IngestSummary, error) {
	ds, err := etl.IngestValue(v)
	if err != nil {
		return nil, err
	}
	return s.replace(ctx, ds), nil
}

// Load implements etl.Destination so ingest jobs can feed the session.
func (s *DatasetService) Load(ctx context.Context, ds *etl.Dataset) error {
	if ds == nil {
		return fmt.Errorf("load: nil dataset")
	}
	s.replace(ctx, ds)
	return nil
}

func (s *DatasetService) replace(ctx context.Context, ds *etl.Dataset) *IngestSummary {
	records := ds.Records
	if records == nil {
		records = []etl.Record{}
	}

	s.opMu.Lock()
	s.mu.Lock()
	s.records = records
	s.keys = ds.Keys
	s.mu.Unlock()
	s.opMu.Unlock()

	summary := &IngestSummary{Count: len(records), Keys: ds.Keys}
	s.emitter.Emit(ctx, EventDatasetIngested, map[string]any{"count": summary.Count})
	return summary
}

// ── Transformation ─────────────────────────────────────────

// Transform applies the named transform to the selected records (all records
// for an empty selection) and swaps in the merged working set. An unknown
// name returns etl.ErrUnknownTransform and changes nothing. Key statistics
// keep describing the set as ingested.
func (s *DatasetService) Transform(ctx context.Context, sel etl.Selection, name string) (*etl.TransformOutcome, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ws := s.snapshot()
	start := time.Now()
	out, err := etl.Transform(ws, sel, name, s.engine)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records = out.Records
	s.mu.Unlock()

	scope := domain.ScopeSelection
	if out.Full {
		scope = domain.ScopeAll
	}
	s.audit(ctx, name, scope, len(out.Results), out, time.Since(start))
	return out, nil
}

// TransformBatch runs a transform over caller-supplied records without
// touching the working set.
func (s *DatasetService) TransformBatch(ctx context.Context, records []etl.Record, name string) (*etl.TransformOutcome, error) {
	start := time.Now()
	out, err := etl.Transform(records, etl.Selection{}, name, s.engine)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, name, domain.ScopeBatch, len(records), out, time.Since(start))
	return out, nil
}

func (s *DatasetService) audit(ctx context.Context, name, scope string, batch int, out *etl.TransformOutcome, took time.Duration) {
	run := &domain.TransformRun{
		Transform:  name,
		Scope:      scope,
		BatchSize:  batch,
		Applied:    out.Applied,
		Failed:     out.Failed,
		DurationMs: took.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if s.runs != nil {
		if err := s.runs.CreateTransformRun(run); err != nil {
			log.Printf("dataset: record transform run: %v", err)
		}
	}
	log.Printf("dataset: %s over %d records (%s): %d applied, %d failed in %s",
		name, batch, scope, out.Applied, out.Failed, took.Round(time.Millisecond))
	s.emitter.Emit(ctx, EventDatasetTransformed, run)
}

// TransformHistory returns the most recent transform runs, newest first.
// Without an audit store it returns an empty list.
func (s *DatasetService) TransformHistory(limit int) ([]domain.TransformRun, error) {
	if s.runs == nil {
		return []domain.TransformRun{}, nil
	}
	runs, err := s.runs.ListTransformRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("list transform runs: %w", err)
	}
	return runs, nil
}

// ── Reads ──────────────────────────────────────────────────

func (s *DatasetService) snapshot() []etl.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records
}

// Snapshot returns the current working set. Callers must not modify it.
func (s *DatasetService) Snapshot() []etl.Record {
	return s.snapshot()
}

// Keys returns the key statistics of the last ingestion.
func (s *DatasetService) Keys() etl.KeyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys
}

// Len returns the size of the working set.
func (s *DatasetService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// List returns up to limit records whose displayed status equals status
// (every record when status is empty). Total counts all matches. A negative
// limit means DefaultListLimit; zero returns only the total.
func (s *DatasetService) List(limit int, status string) ListResult {
	if limit < 0 {
		limit = DefaultListLimit
	}
	matched := make([]etl.Record, 0, min(limit, s.Len()))
	total := 0
	for _, r := range s.snapshot() {
		if status != "" && r.Status() != status {
			continue
		}
		total++
		if len(matched) < limit {
			matched = append(matched, r)
		}
	}
	return ListResult{Data: matched, Total: total}
}

// Export returns the records to export for sel.
func (s *DatasetService) Export(sel etl.Selection) []etl.Record {
	return etl.Export(s.snapshot(), sel)
}

// ExportFile renders the export for sel as a downloadable file.
func (s *DatasetService) ExportFile(sel etl.Selection, now time.Time) ([]byte, string, error) {
	records := s.Export(sel)
	content, name, err := etl.ExportFile(records, now)
	if err != nil {
		return nil, "", err
	}
	log.Printf("dataset: exported %d records (%s) as %s", len(records), humanize.Bytes(uint64(len(content))), name)
	return content, name, nil
}
