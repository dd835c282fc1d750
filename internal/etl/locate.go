package etl

import "errors"

// ── Record Locator ─────────────────────────────────────────
// Finds the array of records inside an arbitrary JSON document.
// Only the root and its direct properties are searched.

// ErrNoArrayFound is returned when no non-empty record array can be located.
var ErrNoArrayFound = errors.New("no array of records found")

// CandidateKeys are checked in order before falling back to the first
// array-valued property.
var CandidateKeys = []string{"task_results", "data", "items", "results", "records"}

// Locate returns the items of the most plausible record array in v:
//  1. v itself when it is an array;
//  2. the first of CandidateKeys whose value is an array;
//  3. the first array-valued property in enumeration order.
//
// An empty result is reported as ErrNoArrayFound.
func Locate(v Value) ([]Value, error) {
	items, ok := locate(v)
	if !ok || len(items) == 0 {
		return nil, ErrNoArrayFound
	}
	return items, nil
}

func locate(v Value) ([]Value, bool) {
	switch v.Kind() {
	case KindArray:
		return v.Items(), true
	case KindObject:
		for _, key := range CandidateKeys {
			if c, ok := v.Get(key); ok && c.Kind() == KindArray {
				return c.Items(), true
			}
		}
		// Several array properties may exist; the first one wins.
		for _, m := range v.Members() {
			if m.Value.Kind() == KindArray {
				return m.Value.Items(), true
			}
		}
	}
	return nil, false
}
