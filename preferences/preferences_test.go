package preferences

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetRemove(t *testing.T) {
	m := NewMemory()

	_, ok := m.Get("foo")
	assert.False(t, ok)

	require.NoError(t, SetValue(m, "foo", "bar"))
	var got string
	ok, err := GetValue(m, "foo", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bar", got)

	require.NoError(t, m.Remove("foo"))
	_, ok = m.Get("foo")
	assert.False(t, ok)
}

func TestMemoryKeysAreSorted(t *testing.T) {
	m := NewMemory()
	require.NoError(t, SetValue(m, "publisher(z)", 1))
	require.NoError(t, SetValue(m, "publisher(a)", 2))
	require.NoError(t, SetValue(m, "publisher(m)", 3))

	assert.Equal(t, []string{"publisher(a)", "publisher(m)", "publisher(z)"}, m.Keys())
}

func TestJSONPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.json")

	s1, err := NewJSON(path)
	require.NoError(t, err)
	require.NoError(t, SetValue(s1, "anonymousAppID", "abc-123"))

	s2, err := NewJSON(path)
	require.NoError(t, err)
	var got string
	ok, err := GetValue(s2, "anonymousAppID", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc-123", got)
}

func TestJSONMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s, err := NewJSON(path)
	require.NoError(t, err)
	assert.Empty(t, s.Keys())
}

func TestRedactedSnapshotHidesSecrets(t *testing.T) {
	m := NewMemory()
	require.NoError(t, SetValue(m, "subscriptionSecretKey", "topsecret"))
	require.NoError(t, SetValue(m, "accessToken", "tok"))
	require.NoError(t, SetValue(m, "userName", "maria"))

	snap := RedactedSnapshot(m)
	assert.Equal(t, `"*****"`, string(snap["subscriptionSecretKey"]))
	assert.Equal(t, `"*****"`, string(snap["accessToken"]))
	assert.Equal(t, `"maria"`, string(snap["userName"]))
}
