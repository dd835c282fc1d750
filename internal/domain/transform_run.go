package domain

import "time"

// TransformRun is the audit entry of one transform batch applied to the
// working set (or to a stateless batch).
type TransformRun struct {
	ID         string    `json:"id"`
	Transform  string    `json:"transform"`
	Scope      string    `json:"scope"` // "all" | "selection" | "batch"
	BatchSize  int       `json:"batchSize"`
	Applied    int       `json:"applied"`
	Failed     int       `json:"failed"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Transform scopes.
const (
	ScopeAll       = "all"
	ScopeSelection = "selection"
	ScopeBatch     = "batch"
)

// TransformRunStore persists transform audit entries.
type TransformRunStore interface {
	CreateTransformRun(r *TransformRun) error
	ListTransformRuns(limit int) ([]TransformRun, error)
}
