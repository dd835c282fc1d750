package etl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ── Job Steps ──────────────────────────────────────────────
// Steps are parameterized per-record transforms built from a job's stored
// configuration. Like the named built-ins they keep the record's id and are
// idempotent, so they run through the same Engine and merge.

// ErrInvalidStep is returned when a step's configuration cannot be used.
var ErrInvalidStep = errors.New("invalid transform step")

// TransformConfig is one declarative step, stored as JSON with its job.
type TransformConfig struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Step types.
const (
	StepRename   = "rename"
	StepSelect   = "select"
	StepTypeCast = "type_cast"
)

// ListStepTypes describes the parameterized step types.
func ListStepTypes() []TransformSpec {
	return []TransformSpec{
		{Name: StepRename, Description: `Rename fields. config: {"mapping": {"old": "new"}}`},
		{Name: StepSelect, Description: `Keep only the listed fields (and their dotted children) plus id and status. config: {"fields": ["a", "b"]}`},
		{Name: StepTypeCast, Description: `Convert a field to number, string or bool. config: {"field": "score", "type": "number"}`},
	}
}

// BuildTransform turns tc into a Transformer. A type that names a registered
// transform resolves to it and ignores Config.
func BuildTransform(tc TransformConfig) (Transformer, error) {
	switch tc.Type {
	case StepRename:
		return newRenameFields(tc.Config)
	case StepSelect:
		return newSelectFields(tc.Config)
	case StepTypeCast:
		return newTypeCast(tc.Config)
	}
	return GetTransform(tc.Type)
}

// BuildTransforms builds every step, failing on the first bad one.
func BuildTransforms(configs []TransformConfig) ([]Transformer, error) {
	out := make([]Transformer, 0, len(configs))
	for i, tc := range configs {
		t, err := BuildTransform(tc)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func stepError(typ, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidStep, typ, fmt.Sprintf(format, args...))
}

// ── rename ─────────────────────────────────────────────────

type renameFields struct {
	mapping map[string]string
}

func newRenameFields(cfg map[string]any) (*renameFields, error) {
	mapping, err := cast.ToStringMapStringE(cfg["mapping"])
	if err != nil || len(mapping) == 0 {
		return nil, stepError(StepRename, "mapping must be a non-empty object of old to new names")
	}
	targets := make(map[string]string, len(mapping))
	for old, nu := range mapping {
		switch {
		case old == "" || nu == "":
			return nil, stepError(StepRename, "empty field name")
		case old == FieldID || nu == FieldID:
			return nil, stepError(StepRename, "%q cannot be renamed", FieldID)
		case old == nu:
			return nil, stepError(StepRename, "%q is renamed to itself", old)
		}
		if prev, dup := targets[nu]; dup {
			return nil, stepError(StepRename, "%q and %q both rename to %q", prev, old, nu)
		}
		targets[nu] = old
	}
	for nu := range targets {
		if _, chained := mapping[nu]; chained {
			return nil, stepError(StepRename, "%q is both a source and a target", nu)
		}
	}
	return &renameFields{mapping: mapping}, nil
}

func (t *renameFields) Name() string { return StepRename }

func (t *renameFields) Description() string {
	return ListStepTypes()[0].Description
}

// Apply moves each source field to its new name at the source's position.
// A field already holding a target name is replaced by the renamed value.
func (t *renameFields) Apply(r Record) Result {
	replaced := map[string]bool{}
	for old, nu := range t.mapping {
		if r.Has(old) {
			replaced[nu] = true
		}
	}
	if len(replaced) == 0 {
		return Ok(r)
	}
	out := NewFields()
	for _, k := range r.Keys() {
		v, _ := r.Get(k)
		if nu, ok := t.mapping[k]; ok {
			out.Set(nu, v)
			continue
		}
		if !replaced[k] {
			out.Set(k, v)
		}
	}
	return Ok(NewRecord(r.ID(), out))
}

// ── select ─────────────────────────────────────────────────

type selectFields struct {
	keep []string
}

func newSelectFields(cfg map[string]any) (*selectFields, error) {
	fields, err := cast.ToStringSliceE(cfg["fields"])
	if err != nil || len(fields) == 0 {
		return nil, stepError(StepSelect, "fields must be a non-empty list")
	}
	return &selectFields{keep: fields}, nil
}

func (t *selectFields) Name() string { return StepSelect }

func (t *selectFields) Description() string {
	return ListStepTypes()[1].Description
}

func (t *selectFields) kept(key string) bool {
	if key == FieldID || key == FieldStatus {
		return true
	}
	for _, f := range t.keep {
		if key == f || strings.HasPrefix(key, f+".") {
			return true
		}
	}
	return false
}

func (t *selectFields) Apply(r Record) Result {
	out := NewFields()
	for _, k := range r.Keys() {
		if t.kept(k) {
			v, _ := r.Get(k)
			out.Set(k, v)
		}
	}
	return Ok(NewRecord(r.ID(), out))
}

// ── type_cast ──────────────────────────────────────────────

type typeCast struct {
	field string
	to    Kind
}

func newTypeCast(cfg map[string]any) (*typeCast, error) {
	field := cast.ToString(cfg["field"])
	if field == "" {
		return nil, stepError(StepTypeCast, "field is required")
	}
	if field == FieldID {
		return nil, stepError(StepTypeCast, "%q cannot be cast", FieldID)
	}
	var to Kind
	switch typ := cast.ToString(cfg["type"]); typ {
	case "number":
		to = KindNumber
	case "string":
		to = KindString
	case "bool":
		to = KindBool
	default:
		return nil, stepError(StepTypeCast, "type must be number, string or bool, got %q", typ)
	}
	return &typeCast{field: field, to: to}, nil
}

func (t *typeCast) Name() string { return StepTypeCast }

func (t *typeCast) Description() string {
	return ListStepTypes()[2].Description
}

// Apply converts the field in place. A missing or null field is left alone.
func (t *typeCast) Apply(r Record) Result {
	v, ok := r.Get(t.field)
	if !ok || v.IsNull() || v.Kind() == t.to {
		return Ok(r)
	}
	out, err := castValue(v, t.to)
	if err != nil {
		return Failed(r, fmt.Sprintf("%s: field %q: %v", StepTypeCast, t.field, err))
	}
	fields := r.CloneFields()
	fields.Set(t.field, out)
	return Ok(NewRecord(r.ID(), fields))
}

func castValue(v Value, to Kind) (Value, error) {
	switch to {
	case KindString:
		return String(v.Text()), nil
	case KindNumber:
		switch v.Kind() {
		case KindBool:
			if b, _ := v.AsBool(); b {
				return Int(1), nil
			}
			return Int(0), nil
		case KindString:
			s, _ := v.AsString()
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return Value{}, fmt.Errorf("%q is not a number", s)
			}
			if n := Float(f); !n.IsNull() {
				return n, nil
			}
			return Value{}, fmt.Errorf("%q is not a finite number", s)
		}
	case KindBool:
		switch v.Kind() {
		case KindNumber:
			f, _ := v.AsFloat()
			return Bool(f != 0), nil
		case KindString:
			s, _ := v.AsString()
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "yes", "1":
				return Bool(true), nil
			default:
				return Bool(false), nil
			}
		}
	}
	return Value{}, fmt.Errorf("cannot convert %s to %s", v.Kind(), to)
}
