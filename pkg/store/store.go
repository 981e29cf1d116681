// ==============================================================================
// STORE PACKAGE - pkg/store/store.go
// ==============================================================================
package store

import (
	"context"
	"errors"
	"fmt"

	"ilpsdk/pkg/config"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Store is the key-value persistence used for ledger balances and the
// switch state document. Put must be durable when it returns.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open selects a backend from configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(), nil
	case "leveldb":
		return NewLevelDB(cfg.Path)
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	case "postgres":
		return NewPostgres(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
