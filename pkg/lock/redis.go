package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Compare-and-delete so only the lease holder can release.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease-based distributed lock on a single Redis
// instance. The lease TTL bounds how long a crashed holder can block other
// writers; pick it above the worst-case reconciliation time.
type RedisLocker struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retryWait time.Duration
	prefix    string
}

// RedisLockerOption configures a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithTTL overrides the default 30s lease TTL.
func WithTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryWait overrides the default 50ms polling interval.
func WithRetryWait(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryWait = d
		}
	}
}

// WithKeyPrefix namespaces lock keys, useful when the Redis instance is
// shared with caches or queues.
func WithKeyPrefix(prefix string) RedisLockerOption {
	return func(l *RedisLocker) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// NewRedisLocker returns a locker backed by the given client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client:    client,
		ttl:       30 * time.Second,
		retryWait: 50 * time.Millisecond,
		prefix:    "lock:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ErrNotAcquired
		case <-time.After(l.retryWait):
		}
	}

	release := func() {
		// Release must not inherit a canceled request context.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = unlockScript.Run(ctx, l.client, []string{fullKey}, token).Result()
	}
	return release, nil
}
