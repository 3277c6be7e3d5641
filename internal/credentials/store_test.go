package credentials

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore refuses every write, like storage disabled by privacy settings.
type failingStore struct{ *MemoryStore }

func (f *failingStore) Write(key, value string) bool { return false }

func TestSaveLoadClear(t *testing.T) {
	s := NewMemoryStore()

	ok := Save(s, Credential{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: 1700000600000})
	require.True(t, ok)

	raw, ok := s.Read(KeyTokenExpiry)
	require.True(t, ok)
	assert.Equal(t, "1700000600000", raw)

	c := Load(s)
	require.NotNil(t, c)
	assert.Equal(t, "A1", c.AccessToken)
	assert.Equal(t, "R1", c.RefreshToken)
	assert.Equal(t, int64(1700000600000), c.ExpiresAt)

	Clear(s)
	for _, k := range Keys {
		_, ok := s.Read(k)
		assert.False(t, ok, "key %s should be removed", k)
	}
	assert.Nil(t, Load(s))

	// idempotent
	Clear(s)
}

func TestSaveDropsUnknownFields(t *testing.T) {
	s := NewMemoryStore()
	require.True(t, Save(s, Credential{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: 10}))
	require.True(t, Save(s, Credential{AccessToken: "A2"}))

	_, ok := s.Read(KeyRefreshToken)
	assert.False(t, ok)
	_, ok = s.Read(KeyTokenExpiry)
	assert.False(t, ok)
}

func TestLoadIgnoresMalformedExpiry(t *testing.T) {
	s := NewMemoryStore()
	s.Write(KeyAccessToken, "A1")
	s.Write(KeyTokenExpiry, "not-a-number")

	c := Load(s)
	require.NotNil(t, c)
	assert.Zero(t, c.ExpiresAt)
}

func TestSaveReportsUnpersisted(t *testing.T) {
	s := &failingStore{MemoryStore: NewMemoryStore()}
	assert.False(t, Save(s, Credential{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: 10}))
}

func TestOpen(t *testing.T) {
	t.Run("memory by default", func(t *testing.T) {
		s, err := Open("", Options{})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "creds.json")
		s, err := Open(BackendFile, Options{FilePath: path})
		require.NoError(t, err)
		fs, ok := s.(*FileStore)
		require.True(t, ok)
		assert.Equal(t, path, fs.Path)
	})

	t.Run("env", func(t *testing.T) {
		s, err := Open(BackendEnv, Options{})
		require.NoError(t, err)
		assert.IsType(t, &EnvStore{}, s)
	})

	t.Run("redis without address", func(t *testing.T) {
		_, err := Open(BackendRedis, Options{})
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open("floppy", Options{})
		assert.Error(t, err)
	})
}
