// Package cache provides a TTL cache with tag invalidation and a short-lived
// lock used to keep newsletter generation single-flight.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("cache: lock is held")

// Store caches serialized values. Expired entries read as misses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	InvalidateTags(ctx context.Context, tags ...string) error
}

// Locker hands out exclusive, expiring locks.
type Locker interface {
	// Acquire returns ErrLockHeld when the key is already locked.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// NewsletterTag groups every cached entry derived from one newsletter.
func NewsletterTag(id string) string {
	return "newsletter:" + id
}

// CompanyTag groups cached entries derived from one company.
func CompanyTag(id string) string {
	return "company:" + id
}
