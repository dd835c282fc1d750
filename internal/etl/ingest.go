package etl

import (
	"fmt"
	"sort"
	"time"
)

// ── Ingestion Normalizer ──────────────────────────────────
// Locate → Flatten → assign ids → key statistics.
// The result is a complete replacement for the working set; ingestion never
// merges into an existing one.

// PriorityKeys are listed first in KeyOrder, in this order, when present.
var PriorityKeys = []string{
	"input_text",
	"generated_sql",
	"model_output.cleaned_sql",
	"messages",
	"bbox",
	"bbox_valid",
}

// KeyStats describes the key space of a working set.
type KeyStats struct {
	// Density counts, per key other than id, the records that contain it.
	Density map[string]int `json:"density"`
	// Order lists every observed key except id and status.
	Order []string `json:"order"`
}

// Dataset is the output of one ingestion.
type Dataset struct {
	Records []Record `json:"records"`
	Keys    KeyStats `json:"keys"`
}

// Ingest parses raw JSON text and normalizes it.
// Parse failures wrap ErrInvalidJSON and are reported before any search.
func Ingest(data []byte) (*Dataset, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return IngestValue(v)
}

// IngestValue normalizes an already parsed document.
func IngestValue(v Value) (*Dataset, error) {
	return ingestAt(v, time.Now())
}

func ingestAt(v Value, now time.Time) (*Dataset, error) {
	items, err := Locate(v)
	if err != nil {
		return nil, err
	}

	stamp := now.UnixNano()
	records := make([]Record, 0, len(items))
	for i, item := range items {
		flat := Flatten(item)
		records = append(records, NewRecord(resolveID(item, flat, i, stamp), flat))
	}

	return &Dataset{Records: records, Keys: ComputeKeyStats(records)}, nil
}

// resolveID prefers the raw item's id, then the flattened id, then a
// synthesized one that is unique within a single ingestion pass.
func resolveID(item Value, flat *Fields, ordinal int, stamp int64) ID {
	if raw, ok := item.Get(FieldID); ok {
		if id, ok := idFromValue(raw); ok {
			return id
		}
	}
	if fv, ok := flat.Get(FieldID); ok {
		if id, ok := idFromValue(fv); ok {
			return id
		}
	}
	return StringID(fmt.Sprintf("row-%d-%d", ordinal, stamp))
}

// ComputeKeyStats counts key density over records and orders the keys:
// priority keys first, then by descending density, ties lexicographic.
// id is carried by every record and is not counted; status is counted but
// left out of the order.
func ComputeKeyStats(records []Record) KeyStats {
	density := make(map[string]int)
	for _, r := range records {
		for _, k := range r.Keys() {
			if k != FieldID {
				density[k]++
			}
		}
	}

	order := make([]string, 0, len(density))
	prioritized := make(map[string]bool, len(PriorityKeys))
	for _, k := range PriorityKeys {
		if _, ok := density[k]; ok && !prioritized[k] {
			prioritized[k] = true
			order = append(order, k)
		}
	}

	rest := make([]string, 0, len(density))
	for k := range density {
		if !prioritized[k] && k != FieldStatus {
			rest = append(rest, k)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if density[rest[i]] != density[rest[j]] {
			return density[rest[i]] > density[rest[j]]
		}
		return rest[i] < rest[j]
	})

	return KeyStats{Density: density, Order: append(order, rest...)}
}
