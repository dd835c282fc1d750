package etl

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ── Transformer ────────────────────────────────────────────
// A transformer is a named, per-record function. It receives one flat record
// and returns either a new record or a failure reason. Failures never abort
// the batch; they are folded into the record that produced them.

// ErrUnknownTransform is returned when no transformer is registered under a name.
var ErrUnknownTransform = errors.New("unknown transform")

// Transformer processes a single record. Implementations must not mutate
// their input and must keep the record's identity.
type Transformer interface {
	Name() string
	Description() string
	Apply(Record) Result
}

// TransformSpec describes a registered transformer for listings.
type TransformSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ── Result ─────────────────────────────────────────────────

// Result is the outcome of applying a transformer to one record.
type Result struct {
	record Record
	reason string
	failed bool
}

// Ok wraps a successfully transformed record.
func Ok(r Record) Result { return Result{record: r} }

// Failed keeps the untouched input together with the failure reason.
func Failed(r Record, reason string) Result {
	return Result{record: r, reason: reason, failed: true}
}

func (res Result) OK() bool { return !res.failed }
func (res Result) Reason() string { return res.reason }
func (res Result) ID() ID { return res.record.ID() }

// Record returns the record to merge back. A failure becomes the original
// record with status "error" and the reason under transform_error.
func (res Result) Record() Record {
	if !res.failed {
		return res.record
	}
	fields := res.record.CloneFields()
	fields.Set(FieldStatus, String(StatusError))
	fields.Set(FieldTransformError, String(res.reason))
	return NewRecord(res.record.ID(), fields)
}

// ── Transform Registry ─────────────────────────────────────
// Compile-time registration via init(), like the source registry.

var (
	transformMu sync.RWMutex
	transforms  = map[string]Transformer{}
)

// RegisterTransform registers t under its name, replacing any previous one.
func RegisterTransform(t Transformer) {
	transformMu.Lock()
	defer transformMu.Unlock()
	transforms[t.Name()] = t
}

// GetTransform returns the transformer registered under name.
func GetTransform(name string) (Transformer, error) {
	transformMu.RLock()
	defer transformMu.RUnlock()
	t, ok := transforms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, name)
	}
	return t, nil
}

// ListTransforms returns the registered transformers sorted by name.
func ListTransforms() []TransformSpec {
	transformMu.RLock()
	defer transformMu.RUnlock()
	specs := make([]TransformSpec, 0, len(transforms))
	for _, t := range transforms {
		specs = append(specs, TransformSpec{Name: t.Name(), Description: t.Description()})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ── Engine ─────────────────────────────────────────────────

// Engine maps a transformer over a batch in parallel. Output order matches
// input order and every output keeps its input's id.
type Engine struct {
	// Workers bounds concurrent Apply calls. Zero means runtime.NumCPU().
	Workers int
}

// NewEngine returns an engine with the given worker bound.
func NewEngine(workers int) *Engine {
	return &Engine{Workers: workers}
}

// Apply resolves name and runs it over records.
func (e *Engine) Apply(records []Record, name string) ([]Result, error) {
	t, err := GetTransform(name)
	if err != nil {
		return nil, err
	}
	return e.Run(records, t), nil
}

// Run applies t to every record. A batch always runs to completion.
func (e *Engine) Run(records []Record, t Transformer) []Result {
	results := make([]Result, len(records))
	if len(records) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.workers())
	for i, rec := range records {
		g.Go(func() error {
			results[i] = applyOne(t, rec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) workers() int {
	if e == nil || e.Workers <= 0 {
		return runtime.NumCPU()
	}
	return e.Workers
}

// applyOne runs t on rec, turning panics into failures and restoring the
// input id if the transformer dropped or changed it.
func applyOne(t Transformer, rec Record) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Failed(rec, fmt.Sprintf("%s: panic: %v", t.Name(), p))
		}
	}()

	res = t.Apply(rec)
	if res.failed {
		res.record = rec
		return res
	}
	if out := res.record; out.ID() != rec.ID() || !out.fieldID().Equal(rec.ID().Value()) {
		fields := out.CloneFields()
		res.record = NewRecord(rec.ID(), fields)
	}
	return res
}

func (r Record) fieldID() Value {
	v, _ := r.Get(FieldID)
	return v
}
