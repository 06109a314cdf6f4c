package finledger

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs an accrual cycle for every registered pool on each tick
// of the engine clock. Ticks are handled by a single goroutine, so a slow
// cycle delays the next one instead of overlapping it; the CycleGuard
// covers overlap with explicit RunAccrualCycle calls and other processes.
type Scheduler struct {
	l        *Ledger
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newScheduler(l *Ledger, interval time.Duration) *Scheduler {
	return &Scheduler{l: l, interval: interval}
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the scheduler loop. Cycles run under a context that
// keeps ctx's values but is only cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = make(chan struct{})
	s.cancel = cancel
	s.running = true

	ticker := s.l.clock.NewTicker(s.interval)

	s.wg.Add(1)
	go s.loop(runCtx, ticker, s.stop)
}

// Stop stops scheduling new cycles and cancels the in-flight one, which
// aborts at its next account boundary. It blocks until the loop exits.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			// A stop that raced with the tick wins.
			select {
			case <-stop:
				return
			default:
			}
			s.l.RunAccrual(ctx) //nolint:errcheck // per-pool failures are logged by RunAccrual
		}
	}
}
