// Package redisguard provides a finledger.CycleGuard backed by Redis locks,
// so accrual cycles for a pool never overlap across engine processes.
package redisguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/finledger"
)

const (
	// DefaultTTL is the lock lease. It is refreshed at half-life while the
	// cycle runs, so it only bounds how long a crashed holder blocks others.
	DefaultTTL = 30 * time.Second

	// DefaultPrefix namespaces the lock keys.
	DefaultPrefix = "finledger:accrual"

	releaseTimeout = 5 * time.Second
)

var _ finledger.CycleGuard = (*Guard)(nil)

// Guard is a distributed CycleGuard.
type Guard struct {
	locker *redislock.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL sets the lock lease.
func WithTTL(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.ttl = d
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(g *Guard) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

// WithLogger sets the logger used for refresh and release failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// New creates a Guard over an existing go-redis client.
func New(client redis.UniversalClient, opts ...Option) *Guard {
	g := &Guard{
		locker: redislock.New(client),
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Key returns the lock key for a pool.
func (g *Guard) Key(poolID string) string {
	return fmt.Sprintf("%s:%s", g.prefix, poolID)
}

// TTL returns the lock lease.
func (g *Guard) TTL() time.Duration { return g.ttl }

// Acquire implements finledger.CycleGuard. It fails fast with
// finledger.ErrCycleInFlight when another holder owns the pool.
func (g *Guard) Acquire(ctx context.Context, poolID string) (func(), error) {
	key := g.Key(poolID)

	lock, err := g.locker.Obtain(ctx, key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", finledger.ErrCycleInFlight, poolID)
	}
	if err != nil {
		return nil, fmt.Errorf("redisguard: obtain %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.keepAlive(lock, key, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := lock.Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				g.logger.Warn("redisguard: release failed", "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive refreshes the lease at half-life until stop is closed.
func (g *Guard) keepAlive(lock *redislock.Lock, key string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.ttl/2)
			err := lock.Refresh(ctx, g.ttl, nil)
			cancel()
			if err != nil {
				g.logger.Warn("redisguard: refresh failed", "key", key, "error", err)
				if errors.Is(err, redislock.ErrNotObtained) {
					return
				}
			}
		}
	}
}
