package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock is held by another owner")

// Lease is a held lock. Token identifies the holder so only it can release.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Locker grants TTL-bounded named locks. A lease that is never released
// expires after its TTL.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}
