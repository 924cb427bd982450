package session

import (
	"fmt"

	"github.com/koios/kling-batcher/internal/config"
)

// Open builds the store selected by cfg, sealed when a keyset is configured.
// The returned close function releases any connection the store holds.
func Open(cfg *config.Config) (Store, func() error, error) {
	var (
		store   Store
		closeFn = func() error { return nil }
	)

	switch cfg.Session.Backend {
	case config.BackendRedis:
		rs := NewRedisStore(&cfg.Redis, cfg.Session.RedisKey)
		store, closeFn = rs, rs.Close
	case config.BackendFile, "":
		store = NewFileStore(cfg.Session.Path)
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	if cfg.Session.KeysetB64 != "" {
		sealed, err := NewSealedStoreFromKeyset(store, cfg.Session.KeysetB64)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		store = sealed
	}
	return store, closeFn, nil
}
