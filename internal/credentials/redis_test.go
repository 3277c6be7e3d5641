package credentials

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedisStoreWithClient(client, "alice", time.Second)

	_, ok := s.Read(KeyAccessToken)
	assert.False(t, ok)

	require.True(t, s.Write(KeyAccessToken, "A1"))
	assert.True(t, mr.Exists("tokenrelay:alice:auth_token"))

	v, ok := s.Read(KeyAccessToken)
	require.True(t, ok)
	assert.Equal(t, "A1", v)

	s.Remove(KeyAccessToken)
	assert.False(t, mr.Exists("tokenrelay:alice:auth_token"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedisStoreWithClient(client, "", 200*time.Millisecond)
	require.True(t, s.Write(KeyAccessToken, "A1"))

	mr.Close()

	_, ok := s.Read(KeyAccessToken)
	assert.False(t, ok)
	assert.False(t, s.Write(KeyAccessToken, "A2"))
	s.Remove(KeyAccessToken)
}

func TestNewRedisStorePing(t *testing.T) {
	mr, _ := newTestRedis(t)

	s, err := NewRedisStore(RedisOptions{Addr: mr.Addr(), Namespace: "bob"})
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.Write(KeyRefreshToken, "R1"))
	assert.True(t, mr.Exists("tokenrelay:bob:refresh_token"))
}
