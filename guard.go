package finledger

import (
	"context"
	"sync"
)

// CycleGuard keeps accrual cycles for the same pool from overlapping.
// Acquire returns ErrCycleInFlight when a cycle for poolID is already
// running; otherwise the caller must invoke release when the cycle ends.
type CycleGuard interface {
	Acquire(ctx context.Context, poolID string) (release func(), err error)
}

// LocalGuard is an in-process CycleGuard. Deployments running several
// engine processes against one store use guard/redisguard instead.
type LocalGuard struct {
	mu       sync.Mutex
	inFlight map[string]bool
}

// NewLocalGuard creates an empty LocalGuard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{inFlight: make(map[string]bool)}
}

// Acquire implements CycleGuard.
func (g *LocalGuard) Acquire(_ context.Context, poolID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[poolID] {
		return nil, ErrCycleInFlight
	}
	g.inFlight[poolID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, poolID)
			g.mu.Unlock()
		})
	}, nil
}

var _ CycleGuard = (*LocalGuard)(nil)

// keyedMutex serializes work per key, e.g. credit draws against one pool.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
