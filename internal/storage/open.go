package storage

import (
	"fmt"
	"io"
	"strings"

	"dehqonjon/internal/config"
	"dehqonjon/internal/redis"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OpenKV builds the durable backend selected by basic_config.storage and
// wraps it with SealedKV when a storage key is configured.
func OpenKV(cfg *config.Config) (KV, io.Closer, error) {
	var (
		kv     KV
		closer io.Closer = closerFunc(func() error { return nil })
	)
	backend := strings.ToLower(cfg.BasicConfig.Storage)
	switch backend {
	case "memory":
		kv = NewMemoryKV()
	case "redis":
		client, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("create redis client: %w", err)
		}
		kv = NewRedisKV(client)
		closer = client
	case "sqlite", "sqlite3", "mysql":
		db, err := Open(backend, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := Migrate(db, backend); err != nil {
			db.Close()
			return nil, nil, err
		}
		sqlKV, err := NewSQLKV(db, backend)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		kv = sqlKV
		closer = db
	default:
		return nil, nil, fmt.Errorf("unsupported storage: %s", cfg.BasicConfig.Storage)
	}

	if cfg.BasicConfig.StorageKey != "" {
		sealed, err := NewSealedKV(kv, cfg.BasicConfig.StorageKey)
		if err != nil {
			closer.Close()
			return nil, nil, err
		}
		kv = sealed
	}
	return kv, closer, nil
}
