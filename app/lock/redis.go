package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ Locker = (*RedisLocker)(nil)

var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Debug("Connected to Redis", "addr", addr, "db", db)

	return client, nil
}

type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

// Release deletes the key only while it still holds this lease's token.
func (l *RedisLocker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{lease.Key}, lease.Token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lease.Key, err)
	}

	return nil
}
