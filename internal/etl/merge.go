package etl

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// ── Selection / Merge ──────────────────────────────────────
// A partial batch (non-empty selection) is merged back into the working set
// by id, keeping working-set order. A full batch (empty selection) replaces
// the working set with the engine output as produced.

// ExportIndent is the indentation used for exported files.
const ExportIndent = "  "

// Selection is a set of record ids. The empty selection means "everything".
type Selection struct {
	ids map[ID]struct{}
}

// NewSelection builds a selection; duplicates collapse.
func NewSelection(ids ...ID) Selection {
	s := Selection{ids: make(map[ID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// SelectionFromValues builds a selection from JSON ids (strings or numbers).
func SelectionFromValues(vs []Value) (Selection, error) {
	ids := make([]ID, 0, len(vs))
	for i, v := range vs {
		id, ok := idFromValue(v)
		if !ok {
			return Selection{}, fmt.Errorf("selection entry %d: id must be a non-empty string or non-zero number", i)
		}
		ids = append(ids, id)
	}
	return NewSelection(ids...), nil
}

func (s Selection) Len() int { return len(s.ids) }

func (s Selection) Has(id ID) bool {
	_, ok := s.ids[id]
	return ok
}

// IDs returns the selected ids in no particular order.
func (s Selection) IDs() []ID { return lo.Keys(s.ids) }

// TransformOutcome is the result of one coordinated transform.
type TransformOutcome struct {
	// Records is the new working set.
	Records []Record
	// Results are the engine outputs for the batch, in batch order.
	Results []Result
	Applied int
	Failed  int
	// Full is true when the batch was the whole working set.
	Full bool
}

// Batch returns the records a transform would receive for sel.
func Batch(ws []Record, sel Selection) []Record {
	if sel.Len() == 0 {
		return ws
	}
	return lo.Filter(ws, func(r Record, _ int) bool { return sel.Has(r.ID()) })
}

// Transform runs the named transform over the selected batch and merges the
// output into a new working set. ws itself is never modified; an unknown
// name returns ErrUnknownTransform before anything runs.
func Transform(ws []Record, sel Selection, name string, eng *Engine) (*TransformOutcome, error) {
	t, err := GetTransform(name)
	if err != nil {
		return nil, err
	}
	return TransformWith(ws, sel, t, eng), nil
}

// TransformWith is Transform for an already resolved transformer, such as a
// job step built from configuration.
func TransformWith(ws []Record, sel Selection, t Transformer, eng *Engine) *TransformOutcome {
	batch := Batch(ws, sel)
	results := eng.Run(batch, t)

	out := &TransformOutcome{Results: results, Full: sel.Len() == 0}
	produced := lo.Map(results, func(res Result, _ int) Record {
		if res.OK() {
			out.Applied++
		} else {
			out.Failed++
		}
		return res.Record()
	})

	if out.Full {
		out.Records = produced
		return out
	}

	byID := lo.KeyBy(produced, func(r Record) ID { return r.ID() })
	out.Records = lo.Map(ws, func(r Record, _ int) Record {
		if replaced, ok := byID[r.ID()]; ok {
			return replaced
		}
		return r
	})
	return out
}

// Export returns the records to export: everything for an empty selection,
// otherwise the selected records in working-set order.
func Export(ws []Record, sel Selection) []Record {
	out := Batch(ws, sel)
	if out == nil {
		return []Record{}
	}
	return out
}

// ExportFileName names an export made at now.
func ExportFileName(now time.Time) string {
	return "dataset-export-" + now.Format("20060102-150405") + ".json"
}

// ExportFile renders records as an indented JSON array plus its file name.
func ExportFile(records []Record, now time.Time) ([]byte, string, error) {
	content, err := MarshalRecords(records, ExportIndent)
	if err != nil {
		return nil, "", fmt.Errorf("encode export: %w", err)
	}
	return content, ExportFileName(now), nil
}
