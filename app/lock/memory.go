package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Locker = (*MemoryLocker)(nil)

// MemoryLocker is a process-local Locker used when Redis is not configured.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]Lease
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held: make(map[string]Lease),
		now:  time.Now,
	}
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.held[key]; ok && now.Before(current.ExpiresAt) {
		return nil, ErrNotAcquired
	}

	lease := Lease{Key: key, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	l.held[key] = lease

	return &lease, nil
}

func (l *MemoryLocker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.held[lease.Key]; ok && current.Token == lease.Token {
		delete(l.held, lease.Key)
	}

	return nil
}
