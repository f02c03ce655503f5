// Package memory is the in-process cache backend used by tests and
// single-node deployments. Liveness markers and revocation entries are
// small, so the janitor interval is fixed rather than configurable.
package memory

import (
	"time"

	"github.com/avoinelab/ssobridge/internal/cache"
	gocache "github.com/patrickmn/go-cache"
)

const janitorInterval = time.Minute

type Store struct {
	inner *gocache.Cache
}

// New builds a memory cache whose zero-ttl Set falls back to
// defaultTTL. The bridge wires the session lifetime here so liveness
// entries never outlive the cookie they vouch for.
func New(defaultTTL time.Duration) cache.Cache {
	return &Store{inner: gocache.New(defaultTTL, janitorInterval)}
}

func (s *Store) Get(key string) ([]byte, bool) {
	v, ok := s.inner.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (s *Store) Set(key string, value []byte, ttl time.Duration) {
	s.inner.Set(key, value, ttl)
}

func (s *Store) Delete(key string) {
	s.inner.Delete(key)
}
