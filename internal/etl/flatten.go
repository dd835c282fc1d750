package etl

// ── Flattener ──────────────────────────────────────────────
// Flatten turns one nested record into a single-level key space.
//
//	{"a": 1, "b": {"c": true, "d": [1, 2]}}  →  a=1, b.c=true, b.d=[1,2]
//
// Only plain objects are descended into. Arrays, primitives and null are
// stored unmodified under their full dotted path. When two paths produce the
// same dotted key the one processed later wins; its value replaces the
// earlier one without moving the key.

// Flatten converts v into flat fields. A non-object value has no properties
// and flattens to an empty record.
func Flatten(v Value) *Fields {
	out := NewFields()
	flattenInto(out, "", v)
	return out
}

func flattenInto(out *Fields, prefix string, v Value) {
	for _, m := range v.Members() {
		key := m.Key
		if prefix != "" {
			key = prefix + "." + m.Key
		}
		if m.Value.Kind() == KindObject {
			flattenInto(out, key, m.Value)
			continue
		}
		out.Set(key, m.Value)
	}
}
