package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"curator/internal/etl"
)

// JobStore implements persistence for ingest jobs and their run logs.
type JobStore struct {
	db *DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, name, source_type, source_config, transforms, steps, export_dir,
	trigger_type, trigger_config, enabled, last_run_at, last_status, last_error,
	created_at, updated_at`

// ── IngestJob CRUD ─────────────────────────────────────────

func (s *JobStore) CreateJob(job *etl.IngestJob) error {
	now := time.Now()
	job.ID = uuid.New().String()
	job.CreatedAt = now
	job.UpdatedAt = now

	enc, err := encodeJobConfig(job)
	if err != nil {
		return err
	}

	_, err = s.db.conn.Exec(
		`INSERT INTO ingest_jobs (id, name, source_type, source_config, transforms, steps, export_dir,
		 trigger_type, trigger_config, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.SourceType, enc.source, enc.transforms, enc.steps, job.ExportDir,
		job.TriggerType, job.TriggerConfig, job.Enabled,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (s *JobStore) GetJob(id string) (*etl.IngestJob, error) {
	job, err := scanJob(s.db.conn.QueryRow(`SELECT `+jobColumns+` FROM ingest_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ingest job %s: %w", id, ErrNotFound)
	}
	return job, err
}

func (s *JobStore) UpdateJob(job *etl.IngestJob) error {
	job.UpdatedAt = time.Now()
	enc, err := encodeJobConfig(job)
	if err != nil {
		return err
	}

	res, err := s.db.conn.Exec(
		`UPDATE ingest_jobs SET name=?, source_type=?, source_config=?, transforms=?, steps=?, export_dir=?,
		 trigger_type=?, trigger_config=?, enabled=?, updated_at=? WHERE id=?`,
		job.Name, job.SourceType, enc.source, enc.transforms, enc.steps, job.ExportDir,
		job.TriggerType, job.TriggerConfig, job.Enabled,
		job.UpdatedAt, job.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "ingest job", job.ID)
}

func (s *JobStore) UpdateJobStatus(id, status, errMsg string) error {
	now := time.Now()
	_, err := s.db.conn.Exec(
		`UPDATE ingest_jobs SET last_run_at=?, last_status=?, last_error=?, updated_at=? WHERE id=?`,
		now, status, errMsg, now, id,
	)
	return err
}

func (s *JobStore) DeleteJob(id string) error {
	// Delete run logs first.
	if _, err := s.db.conn.Exec(`DELETE FROM ingest_run_logs WHERE job_id = ?`, id); err != nil {
		return err
	}
	res, err := s.db.conn.Exec(`DELETE FROM ingest_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, "ingest job", id)
}

func (s *JobStore) ListJobs() ([]etl.IngestJob, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM ingest_jobs ORDER BY created_at ASC`)
}

// ListEnabledTriggeredJobs returns enabled jobs with a schedule or file_watch trigger.
func (s *JobStore) ListEnabledTriggeredJobs() ([]etl.IngestJob, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM ingest_jobs
		WHERE enabled = 1 AND trigger_type IN ('schedule', 'file_watch')
		ORDER BY created_at ASC`)
}

func (s *JobStore) queryJobs(query string, args ...any) ([]etl.IngestJob, error) {
	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []etl.IngestJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*etl.IngestJob, error) {
	job := &etl.IngestJob{}
	var srcCfg, transforms, steps string
	var lastRun sql.NullTime
	if err := row.Scan(
		&job.ID, &job.Name, &job.SourceType, &srcCfg, &transforms, &steps, &job.ExportDir,
		&job.TriggerType, &job.TriggerConfig, &job.Enabled,
		&lastRun, &job.LastStatus, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		job.LastRunAt = lastRun.Time
	}
	if err := json.Unmarshal([]byte(srcCfg), &job.SourceCfg); err != nil {
		return nil, fmt.Errorf("decode source config of job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(transforms), &job.Transforms); err != nil {
		return nil, fmt.Errorf("decode transforms of job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(steps), &job.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of job %s: %w", job.ID, err)
	}
	return job, nil
}

// encodedJob holds the JSON columns of an ingest job.
type encodedJob struct {
	source, transforms, steps string
}

func encodeJobConfig(job *etl.IngestJob) (encodedJob, error) {
	cfg := job.SourceCfg
	if cfg == nil {
		cfg = etl.SourceConfig{}
	}
	names := job.Transforms
	if names == nil {
		names = []string{}
	}
	steps := job.Steps
	if steps == nil {
		steps = []etl.TransformConfig{}
	}

	var enc encodedJob
	for _, col := range []struct {
		dst  *string
		what string
		v    any
	}{
		{&enc.source, "source config", cfg},
		{&enc.transforms, "transforms", names},
		{&enc.steps, "steps", steps},
	} {
		b, err := json.Marshal(col.v)
		if err != nil {
			return encodedJob{}, fmt.Errorf("encode %s: %w", col.what, err)
		}
		*col.dst = string(b)
	}
	return enc, nil
}

func expectRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// ── Run Logs ───────────────────────────────────────────────

func (s *JobStore) CreateRunLog(l *etl.RunLog) error {
	l.ID = uuid.New().String()
	_, err := s.db.conn.Exec(
		`INSERT INTO ingest_run_logs (id, job_id, started_at, finished_at, status, records_loaded, records_failed, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.JobID, l.StartedAt, l.FinishedAt, l.Status, l.RecordsLoaded, l.RecordsFailed, l.Error,
	)
	return err
}

func (s *JobStore) ListRunLogs(jobID string, limit int) ([]etl.RunLog, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, job_id, started_at, finished_at, status, records_loaded, records_failed, error
		 FROM ingest_run_logs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []etl.RunLog{}
	for rows.Next() {
		var l etl.RunLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.StartedAt, &l.FinishedAt, &l.Status, &l.RecordsLoaded, &l.RecordsFailed, &l.Error); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
