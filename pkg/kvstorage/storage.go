package kvstorage

import (
	"context"

	internalstorage "github.com/SmitUplenchwar2687/Beacon/internal/storage"
)

// Store is the durable key/value contract behind the offline buffer and
// task flags.
type Store = internalstorage.Store

// Config selects and configures a backend.
type Config = internalstorage.Config

// RedisConfig configures the Redis backend.
type RedisConfig = internalstorage.RedisConfig

// MemoryStore is an in-memory implementation of Store.
type MemoryStore = internalstorage.MemoryStore

// ErrExists is returned by Create when the key is already present.
var ErrExists = internalstorage.ErrExists

// NewMemoryStore creates a memory-backed store.
func NewMemoryStore() *MemoryStore {
	return internalstorage.NewMemoryStore()
}

// Open constructs the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	return internalstorage.Open(ctx, cfg)
}
