package etl

import (
	"fmt"
	"strings"
)

// ── Built-in Transforms ────────────────────────────────────
// Each built-in is idempotent: applying it to its own output changes nothing.

func init() {
	RegisterTransform(normalizeSQL{})
	RegisterTransform(openAIFormat{})
	RegisterTransform(validateBBox{})
}

// lastSegment returns the part of a dotted key after its final dot.
func lastSegment(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// ── normalize_sql ──────────────────────────────────────────

type normalizeSQL struct{}

func (normalizeSQL) Name() string { return "normalize_sql" }

func (normalizeSQL) Description() string {
	return "Trim, collapse whitespace and uppercase every SQL field (keys named sql or ending in _sql)"
}

func isSQLKey(key string) bool {
	seg := lastSegment(key)
	return seg == "sql" || strings.HasSuffix(seg, "_sql")
}

func (t normalizeSQL) Apply(r Record) Result {
	fields := r.CloneFields()
	for _, key := range fields.Keys() {
		if !isSQLKey(key) {
			continue
		}
		v, _ := fields.Get(key)
		if v.IsNull() {
			continue
		}
		s, ok := v.AsString()
		if !ok {
			return Failed(r, fmt.Sprintf("%s: field %q is %s, not a string", t.Name(), key, v.Kind()))
		}
		if err := checkSQL(s); err != nil {
			return Failed(r, fmt.Sprintf("%s: field %q: %v", t.Name(), key, err))
		}
		fields.Set(key, String(NormalizeSQL(s)))
	}
	return Ok(NewRecord(r.ID(), fields))
}

// NormalizeSQL trims s, collapses runs of whitespace to one space and uppercases it.
func NormalizeSQL(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// checkSQL rejects statements with unbalanced parentheses or an unterminated
// quote. Parentheses inside quoted text are ignored.
func checkSQL(s string) error {
	depth := 0
	var quote rune
	for _, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced parentheses")
			}
		}
	}
	if quote != 0 {
		return fmt.Errorf("unterminated %c quote", quote)
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced parentheses")
	}
	return nil
}

// ── openai_format ──────────────────────────────────────────

const (
	fieldInputText    = "input_text"
	fieldGeneratedSQL = "generated_sql"
	fieldMessages     = "messages"
)

type openAIFormat struct{}

func (openAIFormat) Name() string { return "openai_format" }

func (openAIFormat) Description() string {
	return "Convert input_text/generated_sql into a chat messages pair (user, assistant)"
}

func (t openAIFormat) Apply(r Record) Result {
	input, hasInput := r.Get(fieldInputText)
	output, hasOutput := r.Get(fieldGeneratedSQL)

	if !hasInput && !hasOutput {
		if msgs, ok := r.Get(fieldMessages); ok && msgs.Kind() == KindArray {
			return Ok(r)
		}
		return Failed(r, fmt.Sprintf("%s: record has neither %s nor %s", t.Name(), fieldInputText, fieldGeneratedSQL))
	}

	fields := NewFields()
	fields.Set(FieldID, r.ID().Value())
	if status, ok := r.Get(FieldStatus); ok {
		fields.Set(FieldStatus, status)
	}
	fields.Set(fieldMessages, Array(
		chatMessage("user", input),
		chatMessage("assistant", output),
	))
	return Ok(NewRecord(r.ID(), fields))
}

func chatMessage(role string, content Value) Value {
	return Object(
		Member{Key: "role", Value: String(role)},
		Member{Key: "content", Value: String(content.Text())},
	)
}

// ── validate_bbox ──────────────────────────────────────────

const bboxValidSuffix = "_valid"

type validateBBox struct{}

func (validateBBox) Name() string { return "validate_bbox" }

func (validateBBox) Description() string {
	return "Flag every bbox field with <key>_valid: true when it holds exactly 4 numbers"
}

func (t validateBBox) Apply(r Record) Result {
	fields := r.CloneFields()
	for _, key := range fields.Keys() {
		if lastSegment(key) != "bbox" {
			continue
		}
		v, _ := fields.Get(key)
		if v.IsNull() {
			continue
		}
		if v.Kind() != KindArray {
			return Failed(r, fmt.Sprintf("%s: field %q is %s, not an array", t.Name(), key, v.Kind()))
		}
		for i, coord := range v.Items() {
			if _, ok := coord.AsFloat(); !ok {
				return Failed(r, fmt.Sprintf("%s: field %q coordinate %d is not a number", t.Name(), key, i))
			}
		}
		fields.Set(key+bboxValidSuffix, Bool(v.Len() == 4))
	}
	return Ok(NewRecord(r.ID(), fields))
}
