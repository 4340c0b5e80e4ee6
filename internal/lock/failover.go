package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Locker acquires a named lock; the returned func releases it.
type Locker interface {
	Lock(ctx context.Context, resource string) (func(), error)
}

// Failover uses the primary locker and switches to the fallback while the
// primary is unreachable. Contention (ErrNotAcquired) and caller
// cancellation never trigger a switch. The primary is retried after
// recheckInterval.
type Failover struct {
	primary  Locker
	fallback Locker
	logger   zerolog.Logger

	isDown          atomic.Bool
	mu              sync.Mutex
	lastCheck       time.Time
	recheckInterval time.Duration
}

func NewFailover(primary, fallback Locker, logger *zerolog.Logger) *Failover {
	return &Failover{
		primary:         primary,
		fallback:        fallback,
		logger:          logger.With().Str("component", "failover_lock").Logger(),
		recheckInterval: time.Minute,
	}
}

func (f *Failover) Lock(ctx context.Context, resource string) (func(), error) {
	if f.shouldUsePrimary() {
		unlock, err := f.primary.Lock(ctx, resource)
		if err == nil {
			if f.isDown.CompareAndSwap(true, false) {
				f.logger.Info().Msg("primary lock recovered")
			}
			return unlock, nil
		}
		if errors.Is(err, ErrNotAcquired) || ctx.Err() != nil {
			return nil, err
		}
		f.markDown(err)
	}
	return f.fallback.Lock(ctx, resource)
}

func (f *Failover) shouldUsePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) >= f.recheckInterval {
		f.lastCheck = time.Now()
		return true
	}
	return false
}

func (f *Failover) markDown(err error) {
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
	if !f.isDown.Swap(true) {
		f.logger.Warn().Err(err).Msg("primary lock unavailable, using process-local lock")
	}
}
