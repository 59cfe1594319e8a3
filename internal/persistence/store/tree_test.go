package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemove_PrunesEmptyParents(t *testing.T) {
	root, err := Parse([]byte(`{"users":{"a":{"data":{"inventory":{"Seashell":1}}}}}`))
	require.NoError(t, err)

	root = Remove(root, []string{"users", "a", "data", "inventory", "Seashell"})
	assert.Nil(t, root)
}

func TestAssign_CreatesIntermediateObjects(t *testing.T) {
	root := Assign(nil, []string{"users", "a", "data", "currency"}, json.Number("5"))
	v, ok := Lookup(root, []string{"users", "a", "data", "currency"})
	require.True(t, ok)
	n, err := Int64(v)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestNormalize_DropsEmptyObjects(t *testing.T) {
	v, err := Normalize(map[string]any{"inventory": map[string]int{}, "currency": 0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"currency": json.Number("0")}, v)
}

func TestInt64(t *testing.T) {
	n, err := Int64(json.Number("12.0"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	_, err = Int64(json.Number("1.5"))
	assert.Error(t, err)

	_, err = Int64("x")
	assert.Error(t, err)
}
