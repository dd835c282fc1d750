package etl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
)

// ── Value ──────────────────────────────────────────────────
// Value is the raw JSON value at the ingestion boundary.
// It is a closed variant: exactly one of Null, Bool, Number, String,
// Array or Object. Objects keep their members in document order so that
// "first in enumeration order" rules behave the same on every run.

// ErrInvalidJSON is returned when raw input is not a well-formed JSON document.
var ErrInvalidJSON = errors.New("invalid json")

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Member is one key/value pair of an object.
type Member struct {
	Key   string
	Value Value
}

// Value holds one parsed JSON value. The zero Value is null.
type Value struct {
	kind    Kind
	boolean bool
	text    string // string contents, or the literal of a number
	items   []Value
	members []Member
}

// ── Constructors ───────────────────────────────────────────

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }
func String(s string) Value { return Value{kind: KindString, text: s} }
func Int(n int64) Value { return Value{kind: KindNumber, text: strconv.FormatInt(n, 10)} }
func Array(vs ...Value) Value { return Value{kind: KindArray, items: vs} }

// Number wraps a JSON number literal as-is, e.g. "1.50" or "2e3".
func Number(literal string) Value { return Value{kind: KindNumber, text: literal} }

// Float converts f to a number. NaN and infinities have no JSON form and become null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Object builds an object from members. A repeated key keeps the position of
// its first occurrence and the value of its last.
func Object(members ...Member) Value {
	var b objectBuilder
	for _, m := range members {
		b.set(m.Key, m.Value)
	}
	return b.value()
}

// objectBuilder collects members with the first-position, last-value rule
// for repeated keys in constant time per member.
type objectBuilder struct {
	members []Member
	index   map[string]int
}

func (b *objectBuilder) set(key string, val Value) {
	if i, ok := b.index[key]; ok {
		b.members[i].Value = val
		return
	}
	if b.index == nil {
		b.index = map[string]int{}
	}
	b.index[key] = len(b.members)
	b.members = append(b.members, Member{Key: key, Value: val})
}

func (b *objectBuilder) value() Value {
	return Value{kind: KindObject, members: b.members}
}

// FromAny converts a Go value (as produced by database drivers or
// encoding/json) into a Value. Map keys are emitted in sorted order since
// Go maps carry no order of their own.
func FromAny(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case bool:
		return Bool(v)
	case string:
		return String(v)
	case []byte:
		return String(string(v))
	case json.Number:
		return Number(v.String())
	case int:
		return Int(int64(v))
	case int8:
		return Int(int64(v))
	case int16:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case uint:
		return Number(strconv.FormatUint(uint64(v), 10))
	case uint8:
		return Int(int64(v))
	case uint16:
		return Int(int64(v))
	case uint32:
		return Int(int64(v))
	case uint64:
		return Number(strconv.FormatUint(v, 10))
	case float32:
		return Float(float64(v))
	case float64:
		return Float(v)
	case time.Time:
		return String(v.Format(time.RFC3339Nano))
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		members := make([]Member, len(keys))
		for i, k := range keys {
			members[i] = Member{Key: k, Value: FromAny(v[k])}
		}
		return Value{kind: KindObject, members: members}
	default:
		return String(fmt.Sprint(v))
	}
}

// ── Accessors ──────────────────────────────────────────────

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Items() []Value { return v.items }
func (v Value) Members() []Member { return v.members }

// Len returns the number of items of an array or members of an object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.members)
	default:
		return 0
	}
}

// Get looks up an object member by key.
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

func (v Value) AsBool() (bool, bool) {
	return v.boolean, v.kind == KindBool
}

func (v Value) AsString() (string, bool) {
	return v.text, v.kind == KindString
}

// Literal returns the textual form of a number exactly as it was read.
func (v Value) Literal() (string, bool) {
	return v.text, v.kind == KindNumber
}

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	return f, err == nil
}

// Text renders v for display: strings unquoted, numbers as their literal,
// null as the empty string, containers as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindNumber, KindString:
		return v.text
	default:
		b, _ := v.MarshalJSON()
		return string(b)
	}
}

// Equal reports deep equality. Numbers compare by literal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.boolean == o.boolean
	case KindNumber, KindString:
		return v.text == o.text
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.members) != len(o.members) {
			return false
		}
		for i := range v.members {
			if v.members[i].Key != o.members[i].Key || !v.members[i].Value.Equal(o.members[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// ── Decoding ───────────────────────────────────────────────

// Parse decodes one JSON document. Errors wrap ErrInvalidJSON.
func Parse(data []byte) (Value, error) {
	// jsonparser is permissive about trailing bytes and some malformed
	// input, so strict validity is checked up front.
	if !json.Valid(data) {
		return Value{}, fmt.Errorf("%w: malformed document", ErrInvalidJSON)
	}
	raw, typ, _, err := jsonparser.Get(data)
	if err == nil {
		var v Value
		if v, err = decode(raw, typ); err == nil {
			return v, nil
		}
	}
	// jsonparser rejects some valid escapes, such as a lone surrogate
	// "\ud800". The token decoder reads them as U+FFFD.
	v, err := decodeTokens(data)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return v, nil
}

func decode(raw []byte, typ jsonparser.ValueType) (Value, error) {
	switch typ {
	case jsonparser.Null:
		return Null(), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case jsonparser.Number:
		return Number(string(raw)), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case jsonparser.Array:
		items := []Value{}
		var inner error
		_, err := jsonparser.ArrayEach(raw, func(elem []byte, t jsonparser.ValueType, _ int, cbErr error) {
			if inner != nil {
				return
			}
			if cbErr != nil {
				inner = cbErr
				return
			}
			item, err := decode(elem, t)
			if err != nil {
				inner = err
				return
			}
			items = append(items, item)
		})
		if inner != nil {
			return Value{}, inner
		}
		if err != nil {
			return Value{}, err
		}
		return Array(items...), nil
	case jsonparser.Object:
		var obj objectBuilder
		err := jsonparser.ObjectEach(raw, func(key, val []byte, t jsonparser.ValueType, _ int) error {
			item, err := decode(val, t)
			if err != nil {
				return err
			}
			obj.set(string(key), item)
			return nil
		})
		if err != nil {
			return Value{}, err
		}
		return obj.value(), nil
	default:
		return Value{}, fmt.Errorf("unexpected token type %s", typ)
	}
}

func decodeTokens(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return decodeToken(dec)
}

func decodeToken(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t.String()), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeToken(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		case '{':
			var obj objectBuilder
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, _ := keyTok.(string)
				item, err := decodeToken(dec)
				if err != nil {
					return Value{}, err
				}
				obj.set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return obj.value(), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// ── Encoding ───────────────────────────────────────────────

// MarshalJSON writes v back out with member order and number literals intact.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.boolean))
	case KindNumber:
		buf.WriteString(v.text)
	case KindString:
		return writeString(buf, v.text)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// writeString quotes s as a JSON string without HTML escaping.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
