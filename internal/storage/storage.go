// Package storage provides durable key/value backends for the persisted
// session, each with a change feed so that other processes sharing the same
// backend can observe writes and removals.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage closed")

// Change describes one key being written or removed.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed"`
}

// Storage is a durable string key/value store with change notification.
type Storage interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Watch streams changes, including those made through this handle,
	// until ctx is done. The channel is closed when the watch ends.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

// Open builds the backend selected by cfg.SessionBackend.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Storage, error) {
	switch cfg.SessionBackend {
	case config.SessionBackendFile:
		return NewFileStorage(cfg.SessionDir, log)
	case config.SessionBackendRedis:
		rdb, err := NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		return NewRedisStorage(rdb, cfg.SessionNamespace, log), nil
	case config.SessionBackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}
