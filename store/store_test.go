package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Count int
}

func TestMemoryGetSetDelete(t *testing.T) {
	m := NewMemory()

	ok, err := m.Get("missing", &record{})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set("a", record{Name: "x", Count: 1}))
	var out record
	ok, err = m.Get("a", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, record{Name: "x", Count: 1}, out)

	require.NoError(t, m.Delete("a"))
	ok, _ = m.Get("a", &out)
	assert.False(t, ok)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Set("mcpServers", map[string]record{"a": {Name: "a", Count: 1}}))

	var out map[string]record
	ok, err := fs.Get("mcpServers", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", out["a"].Name)

	require.NoError(t, fs.Delete("mcpServers"))
	ok, err = fs.Get("mcpServers", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreGetMissingKey(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	var out map[string]record
	ok, err := fs.Get("nope", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}
