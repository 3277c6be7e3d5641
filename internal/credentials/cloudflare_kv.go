//go:build js && wasm

package credentials

import (
	"fmt"

	"github.com/syumai/workers/cloudflare/kv"
)

// KVStore persists credentials in a Cloudflare Workers KV namespace.
type KVStore struct {
	kvStore *kv.Namespace
	prefix  string
}

// NewKVStore opens the KV namespace bound under the given name in wrangler.toml.
func NewKVStore(binding string) (*KVStore, error) {
	kvStore, err := kv.NewNamespace(binding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KV namespace: %w", err)
	}
	return &KVStore{kvStore: kvStore, prefix: "tokenrelay_"}, nil
}

func (c *KVStore) Read(key string) (string, bool) {
	v, err := c.kvStore.GetString(c.prefix+key, nil)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

func (c *KVStore) Write(key, value string) bool {
	return c.kvStore.PutString(c.prefix+key, value, nil) == nil
}

func (c *KVStore) Remove(key string) {
	_ = c.kvStore.Delete(c.prefix + key)
}
