// Package cache defines the short-lived key/value store the bridge uses
// for liveness results and session revocation markers.
//
// Two backends exist: memory (in-process, dev/tests) and redis
// (shared across instances). Both are safe for concurrent use.
package cache

import "time"

// Cache is a TTL'd byte cache. A zero ttl on Set means the backend
// default applies.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

// Config selects and configures a backend.
type Config struct {
	Kind       string // "memory" | "redis"
	DefaultTTL time.Duration

	Redis struct {
		Addr   string
		DB     int
		Prefix string
	}
}
