package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	s := NewFileStore(path)

	_, ok := s.Read(KeyAccessToken)
	assert.False(t, ok, "missing file reads as empty")

	require.True(t, s.Write(KeyAccessToken, "A1"))
	require.True(t, s.Write(KeyRefreshToken, "R1"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	// A second store on the same path sees the values, as after a reload.
	reopened := NewFileStore(path)
	v, ok := reopened.Read(KeyAccessToken)
	require.True(t, ok)
	assert.Equal(t, "A1", v)

	reopened.Remove(KeyAccessToken)
	_, ok = s.Read(KeyAccessToken)
	assert.False(t, ok)
	v, ok = s.Read(KeyRefreshToken)
	require.True(t, ok)
	assert.Equal(t, "R1", v)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s := NewFileStore(path)
	_, ok := s.Read(KeyAccessToken)
	assert.False(t, ok)

	// Remove must not panic or rewrite the corrupt file.
	s.Remove(KeyAccessToken)

	require.True(t, s.Write(KeyAccessToken, "A1"))
	v, ok := s.Read(KeyAccessToken)
	require.True(t, ok)
	assert.Equal(t, "A1", v)
}

func TestFileStoreUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	// Parent "directory" is a regular file, so the write cannot succeed.
	s := NewFileStore(filepath.Join(blocker, "credentials.json"))
	assert.False(t, s.Write(KeyAccessToken, "A1"))
}
