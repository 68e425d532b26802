package canonical

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalStableSortsKeys(t *testing.T) {
	a := map[string]interface{}{"b": 1.0, "a": "x", "c": []interface{}{true, nil}}
	b := map[string]interface{}{"c": []interface{}{true, nil}, "a": "x", "b": 1.0}

	ea, err := MarshalStable(a)
	require.NoError(t, err)
	eb, err := MarshalStable(b)
	require.NoError(t, err)
	require.Equal(t, string(ea), string(eb))
}

func TestHashStableAcrossEquivalentInputs(t *testing.T) {
	type payload struct {
		Name  string                 `json:"name"`
		Extra map[string]interface{} `json:"extra"`
	}
	p1 := payload{Name: "intake", Extra: map[string]interface{}{"x": 1.0, "y": "z"}}
	p2 := payload{Name: "intake", Extra: map[string]interface{}{"y": "z", "x": 1.0}}

	h1, err := Hash(p1)
	require.NoError(t, err)
	h2, err := Hash(p2)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func TestHashDiffersOnValueChange(t *testing.T) {
	h1, err := Hash(map[string]interface{}{"a": "1"})
	require.NoError(t, err)
	h2, err := Hash(map[string]interface{}{"a": "2"})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestMarshalStableNoHTMLEscape(t *testing.T) {
	out, err := MarshalStable(map[string]interface{}{"s": "<a&b>"})
	require.NoError(t, err)
	require.Contains(t, string(out), "<a&b>")
}
