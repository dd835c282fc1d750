package etl

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// Every ingested item becomes one flat Record; transforms take and return
// Records; export serializes them verbatim.

const (
	FieldID     = "id"
	FieldStatus = "status"

	// StatusPending is the displayed status of a record without one.
	StatusPending = "pending"
	// StatusError marks a record whose last transform failed.
	StatusError = "error"
	// FieldTransformError carries the failure reason next to StatusError.
	FieldTransformError = "transform_error"
)

// ID identifies a record within the working set. A JSON string and a JSON
// number with the same text are different identities.
type ID struct {
	Text    string
	Numeric bool
}

// StringID and NumberID build identities for the two allowed JSON kinds.
func StringID(s string) ID { return ID{Text: s} }
func NumberID(lit string) ID { return ID{Text: lit, Numeric: true} }

func (id ID) String() string { return id.Text }
func (id ID) IsZero() bool { return id.Text == "" }

// Value returns the JSON form of the identity.
func (id ID) Value() Value {
	if id.Numeric {
		return Number(id.Text)
	}
	return String(id.Text)
}

func (id ID) MarshalJSON() ([]byte, error) {
	return id.Value().MarshalJSON()
}

func (id *ID) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		*id = StringID(s)
	case KindNumber:
		lit, _ := v.Literal()
		*id = NumberID(lit)
	default:
		return fmt.Errorf("record id must be a string or a number, got %s", v.Kind())
	}
	return nil
}

// idFromValue accepts a usable identity: a non-empty string or a non-zero number.
func idFromValue(v Value) (ID, bool) {
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		return StringID(s), s != ""
	case KindNumber:
		f, ok := v.AsFloat()
		lit, _ := v.Literal()
		return NumberID(lit), ok && f != 0
	default:
		return ID{}, false
	}
}

// ── Fields ─────────────────────────────────────────────────

// Fields is an insertion-ordered flat key space (dotted key → leaf value).
// Setting an existing key replaces its value in place, which is the
// last-write-wins rule used when two paths flatten to the same key.
type Fields struct {
	m *orderedmap.OrderedMap[string, Value]
}

func NewFields() *Fields {
	return &Fields{m: orderedmap.New[string, Value]()}
}

func (f *Fields) Set(key string, v Value) { f.m.Set(key, v) }
func (f *Fields) Delete(key string) { f.m.Delete(key) }
func (f *Fields) Len() int { return f.m.Len() }

func (f *Fields) Get(key string) (Value, bool) {
	return f.m.Get(key)
}

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	keys := make([]string, 0, f.m.Len())
	for pair := f.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Each calls fn for every key/value pair in order.
func (f *Fields) Each(fn func(key string, v Value)) {
	for pair := f.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

func (f *Fields) Clone() *Fields {
	out := NewFields()
	f.Each(out.Set)
	return out
}

// Object converts the fields back into an object Value.
func (f *Fields) Object() Value {
	members := make([]Member, 0, f.Len())
	f.Each(func(k string, v Value) {
		members = append(members, Member{Key: k, Value: v})
	})
	return Value{kind: KindObject, members: members}
}

func (f *Fields) MarshalJSON() ([]byte, error) {
	return f.Object().MarshalJSON()
}

// ── DatasetRecord ─────────────────────────────────────────

// Record is a flat record with a resolved identity. Records are treated as
// immutable once built: transforms work on CloneFields and build a new Record.
type Record struct {
	id     ID
	fields *Fields
}

// NewRecord takes ownership of fields and writes id into its "id" key,
// keeping the key's position when it already exists.
func NewRecord(id ID, fields *Fields) Record {
	if fields == nil {
		fields = NewFields()
	}
	fields.Set(FieldID, id.Value())
	return Record{id: id, fields: fields}
}

// RecordFromValue rebuilds a record from an exported object. The object's
// "id" must be a string or a number.
func RecordFromValue(v Value) (Record, error) {
	if v.Kind() != KindObject {
		return Record{}, fmt.Errorf("record must be an object, got %s", v.Kind())
	}
	raw, ok := v.Get(FieldID)
	if !ok {
		return Record{}, fmt.Errorf("record has no %q field", FieldID)
	}
	id, ok := idFromValue(raw)
	if !ok {
		return Record{}, fmt.Errorf("record %q must be a non-empty string or non-zero number", FieldID)
	}
	fields := NewFields()
	for _, m := range v.Members() {
		fields.Set(m.Key, m.Value)
	}
	return NewRecord(id, fields), nil
}

func (r Record) ID() ID { return r.id }

// Status returns the record's status, or StatusPending when it has none.
func (r Record) Status() string {
	if v, ok := r.Get(FieldStatus); ok {
		if s, ok := v.AsString(); ok && s != "" {
			return s
		}
	}
	return StatusPending
}

func (r Record) Get(key string) (Value, bool) {
	if r.fields == nil {
		return Value{}, false
	}
	return r.fields.Get(key)
}

func (r Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

func (r Record) Keys() []string {
	if r.fields == nil {
		return nil
	}
	return r.fields.Keys()
}

func (r Record) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

// CloneFields returns a mutable copy of the record's fields.
func (r Record) CloneFields() *Fields {
	if r.fields == nil {
		return NewFields()
	}
	return r.fields.Clone()
}

func (r Record) Object() Value {
	if r.fields == nil {
		return Object()
	}
	return r.fields.Object()
}

// Equal compares identity, key order and values.
func (r Record) Equal(o Record) bool {
	return r.id == o.id && r.Object().Equal(o.Object())
}

func (r Record) MarshalJSON() ([]byte, error) {
	return r.Object().MarshalJSON()
}

// ParseRecords decodes a JSON array of exported records.
func ParseRecords(data []byte) ([]Record, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return RecordsFromValue(v)
}

// RecordsFromValue converts an array Value into records.
func RecordsFromValue(v Value) ([]Record, error) {
	if v.Kind() != KindArray {
		return nil, fmt.Errorf("records must be an array, got %s", v.Kind())
	}
	out := make([]Record, 0, v.Len())
	for i, item := range v.Items() {
		rec, err := RecordFromValue(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarshalRecords renders records as a JSON array. indent "" produces compact output.
func MarshalRecords(records []Record, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if records == nil {
		records = []Record{}
	}
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
