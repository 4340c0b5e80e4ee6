package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotAcquired is returned when the lock stays held past the wait budget.
var ErrNotAcquired = errors.New("lock not acquired")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease lock shared by every process pointing at the same Redis.
// The lease expires after TTL so a crashed holder cannot wedge bookings.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger zerolog.Logger
}

// NewRedis constructs a Redis locker. ttl must exceed the longest
// read-check-append sequence; wait bounds how long Lock polls.
func NewRedis(client *redis.Client, ttl, wait time.Duration, logger *zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "redis_lock").Logger()
	}
	return &Redis{
		client: client,
		prefix: "menlo:lock:",
		ttl:    ttl,
		wait:   wait,
		retry:  50 * time.Millisecond,
		logger: l,
	}
}

// Lock acquires the lease for resource, polling until wait elapses.
func (r *Redis) Lock(ctx context.Context, resource string) (func(), error) {
	key := r.prefix + resource
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return r.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaser(key, token string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("release lock")
		}
	}
}
