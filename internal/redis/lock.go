package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
)

// ErrLockNotAcquired is returned by ExecuteWithLock when another holder owns the key.
var ErrLockNotAcquired = errors.New("lock not acquired")

const releaseTimeout = 2 * time.Second

// Only the holder that set the key may delete it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Adds ARGV[2] milliseconds to whatever TTL the holder has left.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	local remaining = redis.call("PTTL", KEYS[1])
	if remaining < 0 then
		remaining = 0
	end
	return redis.call("PEXPIRE", KEYS[1], remaining + tonumber(ARGV[2]))
end
return 0
`)

// LockService is a lease-based mutual exclusion lock on a single Redis key
// per scope. A lock whose holder dies frees itself when the TTL runs out.
type LockService struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ interfaces.Locker = (*LockService)(nil)

func NewLockService(client redis.UniversalClient, keyPrefix string) *LockService {
	return &LockService{client: client, keyPrefix: keyPrefix}
}

// Acquire sets the key to holder if nobody holds it. It never waits.
func (l *LockService) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.lockKey(key), holder, ttl).Result()
	if err != nil {
		log.Error().Err(err).Str("lock", key).Msg("Failed to acquire lock")
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the key only if holder still owns it. Releasing someone
// else's lock, or an expired one, reports false.
func (l *LockService) Release(ctx context.Context, key, holder string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.lockKey(key)}, holder).Int64()
	if err != nil {
		log.Error().Err(err).Str("lock", key).Msg("Failed to release lock")
		return false, fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// Extend prolongs the lease by additional if holder still owns it.
func (l *LockService) Extend(ctx context.Context, key, holder string, additional time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{l.lockKey(key)}, holder, additional.Milliseconds()).Int64()
	if err != nil {
		log.Error().Err(err).Str("lock", key).Msg("Failed to extend lock")
		return false, fmt.Errorf("failed to extend lock %s: %w", key, err)
	}
	return n == 1, nil
}

func (l *LockService) IsHeldBy(ctx context.Context, key, holder string) (bool, error) {
	val, err := l.client.Get(ctx, l.lockKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read lock %s: %w", key, err)
	}
	return val == holder, nil
}

// ExecuteWithLock runs action while holding key. An empty holder gets a
// random one. The lock is released after action returns even if ctx has
// been cancelled by then.
func (l *LockService) ExecuteWithLock(ctx context.Context, key, holder string, ttl time.Duration, action func(ctx context.Context) error) error {
	if holder == "" {
		holder = uuid.New().String()
	}

	acquired, err := l.Acquire(ctx, key, holder, ttl)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%s: %w", key, ErrLockNotAcquired)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		released, err := l.Release(releaseCtx, key, holder)
		if err != nil {
			return
		}
		if !released {
			log.Warn().Str("lock", key).Str("holder", holder).Msg("Lock expired before the action finished")
		}
	}()

	return action(ctx)
}

func (l *LockService) lockKey(scope string) string {
	return l.keyPrefix + "lock:" + scope
}
