package storage

import (
	"time"

	"github.com/google/uuid"

	"curator/internal/domain"
)

// TransformRunStore records every transform batch applied through the service.
type TransformRunStore struct {
	db *DB
}

func NewTransformRunStore(db *DB) *TransformRunStore {
	return &TransformRunStore{db: db}
}

func (s *TransformRunStore) CreateTransformRun(r *domain.TransformRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO transform_runs (id, transform, scope, batch_size, applied, failed, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Transform, r.Scope, r.BatchSize, r.Applied, r.Failed, r.DurationMs, r.CreatedAt,
	)
	return err
}

// ListTransformRuns returns the most recent runs first.
func (s *TransformRunStore) ListTransformRuns(limit int) ([]domain.TransformRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.Query(
		`SELECT id, transform, scope, batch_size, applied, failed, duration_ms, created_at
		 FROM transform_runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.TransformRun{}
	for rows.Next() {
		var r domain.TransformRun
		if err := rows.Scan(&r.ID, &r.Transform, &r.Scope, &r.BatchSize, &r.Applied, &r.Failed, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
