package canonical

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysAndIsCompact(t *testing.T) {
	got, err := Marshal(map[string]any{
		"b": 1,
		"a": []any{"x", map[string]any{"z": true, "y": nil}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",{"y":null,"z":true}],"b":1}`, string(got))
}

func TestMarshalInsertionOrderIndependent(t *testing.T) {
	type ab struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	m1, err := Marshal(ab{B: "2", A: "1"})
	require.NoError(t, err)
	m2, err := Marshal(map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}

func TestMarshalIdempotent(t *testing.T) {
	first, err := Marshal(map[string]any{"k": 1.5, "s": "<&>", "n": 10})
	require.NoError(t, err)
	v, err := Parse(first)
	require.NoError(t, err)
	second, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, `{"k":1.5,"n":10,"s":"<&>"}`, string(first))
}

func TestNumbers(t *testing.T) {
	got, err := Marshal([]any{100, -3, 0.1, 2.0, uint64(math.MaxUint64)})
	require.NoError(t, err)
	assert.Equal(t, `[100,-3,0.1,2,18446744073709551615]`, string(got))
}

func TestNonFiniteUnsupported(t *testing.T) {
	_, err := Marshal(map[string]any{"x": math.NaN()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = Hash(math.Inf(1))
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestHashFormat(t *testing.T) {
	h, err := Hash(map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Len(t, h, 66)
	assert.Equal(t, "0x", h[:2])

	h2, err := Hash(map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, h, h2)

	h3, err := Hash(map[string]string{"a": "c"})
	require.NoError(t, err)
	assert.NotEqual(t, h, h3)
}

func TestGet(t *testing.T) {
	v, err := FromAny(map[string]any{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, Object, v.Kind())
	got, ok := v.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", got.Str())
	_, ok = v.Get("c")
	assert.False(t, ok)
	assert.Equal(t, "a", v.Members()[0].Key)
}

func TestNilValuePointerIsNull(t *testing.T) {
	var p *Value
	v, err := FromAny(p)
	require.NoError(t, err)
	assert.Equal(t, Null, v.Kind())

	got, err := Marshal(map[string]any{"k": p})
	require.NoError(t, err)
	assert.Equal(t, `{"k":null}`, string(got))

	got, err = Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `null`, string(got))
}
