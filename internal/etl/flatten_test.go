package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatJSON(t *testing.T, in string) string {
	t.Helper()
	out, err := Flatten(mustParse(t, in)).MarshalJSON()
	require.NoError(t, err)
	return string(out)
}

func TestFlatten_Nested(t *testing.T) {
	got := flatJSON(t, `{"a":1,"b":{"c":true,"d":[1,{"e":2}],"f":{"g":null}}}`)
	assert.Equal(t, `{"a":1,"b.c":true,"b.d":[1,{"e":2}],"b.f.g":null}`, got)
}

func TestFlatten_ReplacesObjectWithDottedKeys(t *testing.T) {
	fields := Flatten(mustParse(t, `{"id":"r1","a":{"b":2}}`))

	v, ok := fields.Get("a.b")
	require.True(t, ok)
	assert.Equal(t, "2", v.Text())
	_, ok = fields.Get("a")
	assert.False(t, ok)
}

func TestFlatten_FlatInputUnchanged(t *testing.T) {
	for _, in := range []string{
		`{}`,
		`{"x":1,"y":"s","z":[{"n":1}],"w":null}`,
		`{"a.b":1,"c":false}`,
	} {
		assert.Equal(t, in, flatJSON(t, in))
	}
}

func TestFlatten_Idempotent(t *testing.T) {
	once := Flatten(mustParse(t, `{"a":{"b":{"c":1}},"d":[{"e":1}]}`))
	twice := Flatten(once.Object())
	assert.True(t, once.Object().Equal(twice.Object()))
}

func TestFlatten_CollisionLastWriteWins(t *testing.T) {
	// "a.b" is written first as a literal key, then by the nested path.
	got := flatJSON(t, `{"a.b":1,"x":0,"a":{"b":2}}`)
	assert.Equal(t, `{"a.b":2,"x":0}`, got)
}

func TestFlatten_EmptyNestedObjectVanishes(t *testing.T) {
	assert.Equal(t, `{"x":1}`, flatJSON(t, `{"e":{},"x":1}`))
}

func TestFlatten_NonObject(t *testing.T) {
	for _, in := range []string{`1`, `"s"`, `null`, `[1,2]`} {
		assert.Equal(t, 0, Flatten(mustParse(t, in)).Len(), in)
	}
}
