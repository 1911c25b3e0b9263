// Package storage provides the synchronous key-value contract the local
// buffer and task flags persist through, plus its backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// ErrExists is returned by Create when the key is already present.
var ErrExists = errors.New("storage: key already exists")

// Store is a durable key-value store scoped to one origin.
// Implementations must be safe for concurrent use. Nothing expires.
type Store interface {
	// Get returns the value for key, or nil, nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Create stores value under key only if the key is absent.
	// It returns ErrExists otherwise.
	Create(ctx context.Context, key string, value []byte) error

	// Delete removes key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key starting with prefix, in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backend.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string      `json:"backend" mapstructure:"backend"`
	Path    string      `json:"path,omitempty" mapstructure:"path"` // bolt and sqlite file
	Redis   RedisConfig `json:"redis" mapstructure:"redis"`
}

// Open constructs the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendBolt:
		return OpenBolt(cfg.Path)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case BackendRedis:
		return NewRedisStore(ctx, &cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q, must be one of: memory, bolt, sqlite, redis", cfg.Backend)
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("storage: key is required")
	}
	return nil
}
