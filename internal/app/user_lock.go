/**
 * @description
 * Distributed per-subscriber lock for the activation orchestrator. Two
 * activation requests for the same subscriber must never interleave, even
 * across engine instances, so the lock lives in Redis. When Redis is not
 * configured the lock degrades to an in-process mutex map, which still
 * serializes within one instance.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 */

package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserLocker serializes activations per subscriber. Acquire returns false
// when the subscriber is already locked.
type UserLocker interface {
	Acquire(ctx context.Context, userID uuid.UUID) (release func(), acquired bool, err error)
}

// RedisUserLocker implements UserLocker with SET NX and a TTL so a crashed
// holder cannot wedge a subscriber forever.
type RedisUserLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisUserLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisUserLocker {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "openradius:activation_lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisUserLocker{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (l *RedisUserLocker) Acquire(ctx context.Context, userID uuid.UUID) (func(), bool, error) {
	key := l.prefix + ":" + userID.String()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release only our own token so a TTL-expired lock re-acquired by
		// another holder is not deleted from under it.
		_ = releaseLockScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// LocalUserLocker is the in-process fallback used in tests and when Redis is
// not configured.
type LocalUserLocker struct {
	mu     sync.Mutex
	locked map[uuid.UUID]bool
}

func NewLocalUserLocker() *LocalUserLocker {
	return &LocalUserLocker{locked: make(map[uuid.UUID]bool)}
}

func (l *LocalUserLocker) Acquire(ctx context.Context, userID uuid.UUID) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked[userID] {
		return nil, false, nil
	}
	l.locked[userID] = true
	release := func() {
		l.mu.Lock()
		delete(l.locked, userID)
		l.mu.Unlock()
	}
	return release, true, nil
}
