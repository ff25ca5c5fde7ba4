package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/robalyx/answervote/internal/vote"
	"go.uber.org/zap"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block a key.
	DefaultLockTTL = 10 * time.Second
	// DefaultLockWait bounds how long Lock waits for a busy key.
	DefaultLockWait = 5 * time.Second

	lockKeyPrefix  = "vote:lock:"
	releaseTimeout = 2 * time.Second
)

var (
	ErrLockTimeout = errors.New("timed out waiting for vote lock")
	errLockHeld    = errors.New("lock held")
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ vote.Locker = (*Locker)(nil)

// Locker serializes vote transitions across processes with Redis
// SET NX leases.
type Locker struct {
	client rueidis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewLocker creates a new Redis locker. Zero durations use the defaults.
func NewLocker(client rueidis.Client, ttl, wait time.Duration, logger *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if wait <= 0 {
		wait = DefaultLockWait
	}
	return &Locker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		logger: logger.Named("redis_locker"),
	}
}

// Lock acquires the lease for key, retrying with backoff while it is held.
func (l *Locker) Lock(ctx context.Context, key string) (vote.Unlock, error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(5*time.Millisecond),
		backoff.WithMaxInterval(100*time.Millisecond),
		backoff.WithMaxElapsedTime(l.wait),
	)

	err := backoff.Retry(func() error {
		err := l.client.Do(ctx, l.client.B().Set().
			Key(lockKey).
			Value(token).
			Nx().
			PxMilliseconds(l.ttl.Milliseconds()).
			Build()).Error()
		if rueidis.IsRedisNil(err) {
			return errLockHeld
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(ctx, lockKey, token) })
	}, nil
}

// release runs even when the caller's context is done so the key is not
// left blocked until the lease expires.
func (l *Locker) release(ctx context.Context, lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	deleted, err := releaseScript.Exec(ctx, l.client, []string{lockKey}, []string{token}).AsInt64()
	if err != nil {
		l.logger.Error("Failed to release vote lock",
			zap.String("key", lockKey),
			zap.Error(err))
		return
	}
	if deleted == 0 {
		l.logger.Warn("Vote lock expired before release",
			zap.String("key", lockKey),
			zap.Duration("ttl", l.ttl))
	}
}
