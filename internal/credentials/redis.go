package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Namespace scopes keys so several sessions can share one server.
	Namespace string
	Timeout   time.Duration
}

// RedisStore persists credentials in Redis under a namespaced key prefix.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisStore dials Redis and verifies the connection with a ping.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis store: missing address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	s := NewRedisStoreWithClient(client, opts.Namespace, opts.Timeout)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", opts.Addr, err)
	}
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, namespace string, timeout time.Duration) *RedisStore {
	if namespace == "" {
		namespace = "default"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{
		client:  client,
		prefix:  "tokenrelay:" + namespace + ":",
		timeout: timeout,
	}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) Read(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// redis.Nil and connection errors both read as absent.
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (r *RedisStore) Write(key, value string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.client.Set(ctx, r.key(key), value, 0).Err() == nil
}

func (r *RedisStore) Remove(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_ = r.client.Del(ctx, r.key(key)).Err()
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
