package config

import (
	"github.com/odvcencio/sidebar/pkg/cache"
	sberrors "github.com/odvcencio/sidebar/pkg/errors"
)

// OpenCache opens the configured shared cache. The returned close func is
// never nil.
func (c *Config) OpenCache() (cache.Cache, func() error, error) {
	switch c.Cache.Backend {
	case CacheBackendSQLite:
		store, err := cache.OpenSQLite(c.CachePath(), c.Cache.TTL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case CacheBackendMemory, "":
		noop := func() error { return nil }
		if c.Cache.TTL > 0 {
			return cache.NewMemoryWithTTL(c.Cache.TTL), noop, nil
		}
		return cache.NewMemory(), noop, nil
	default:
		return nil, nil, sberrors.Newf(sberrors.ErrCodeConfigInvalid, "invalid cache backend: %s", c.Cache.Backend)
	}
}
