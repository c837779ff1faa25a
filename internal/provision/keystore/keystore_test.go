package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteReadDelete(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "keys"))
	require.NoError(t, err)

	require.NoError(t, s.Write("alice", "priv-a", "pub-a"))
	assert.True(t, s.Exists("alice"))

	priv, pub, err := s.Read("alice")
	require.NoError(t, err)
	assert.Equal(t, "priv-a", priv)
	assert.Equal(t, "pub-a", pub)

	pubOnly, err := s.PublicKey("alice")
	require.NoError(t, err)
	assert.Equal(t, "pub-a", pubOnly)

	_, ok := s.CreatedAt("alice")
	assert.True(t, ok)

	require.NoError(t, s.Delete("alice"))
	assert.False(t, s.Exists("alice"))
	_, _, err = s.Read("alice")
	assert.Error(t, err)

	// Delete is idempotent
	require.NoError(t, s.Delete("alice"))
}

func TestStore_PrivateKeyMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Write("alice", "priv-a", "pub-a"))

	info, err := os.Stat(filepath.Join(dir, "alice.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
}

func TestStore_List(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "keys"))
	require.NoError(t, err)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Write("alice", "priv-a", "pub-a"))
	require.NoError(t, s.Write(ServerKeyName, "priv-s", "pub-s"))

	names, err = s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", ServerKeyName}, names)
}

func TestStore_DeleteDoesNotTouchOthers(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "keys"))
	require.NoError(t, err)

	require.NoError(t, s.Write("alice", "priv-a", "pub-a"))
	require.NoError(t, s.Write("bob", "priv-b", "pub-b"))

	require.NoError(t, s.Delete("alice"))

	assert.True(t, s.Exists("bob"))
	priv, pub, err := s.Read("bob")
	require.NoError(t, err)
	assert.Equal(t, "priv-b", priv)
	assert.Equal(t, "pub-b", pub)
}
