package finledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/finledger/plugin"
	"github.com/xraph/finledger/store"
)

// TracerName is the instrumentation scope used for spans.
const TracerName = "github.com/xraph/finledger"

// Ledger is the invoice financing engine: it tracks invoice lifecycles,
// collateral positions, pool yield accrual and settlement splits on top
// of a store.Store.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   Clock
	tracer  trace.Tracer
	guard   CycleGuard

	poolLocks *keyedMutex

	// Background accrual
	scheduler *Scheduler
	startOnce sync.Once
	stopOnce  sync.Once

	// Configuration
	accrualInterval time.Duration
	accountTimeout  time.Duration
	maxRetries      int
	accrualEnabled  bool
	migrateOnStart  bool
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:           s,
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		clock:           SystemClock{},
		tracer:          otel.Tracer(TracerName),
		guard:           NewLocalGuard(),
		poolLocks:       newKeyedMutex(),
		accrualInterval: time.Minute,
		accountTimeout:  5 * time.Second,
		maxRetries:      5,
		accrualEnabled:  true,
		migrateOnStart:  true,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.scheduler = newScheduler(l, l.accrualInterval)

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithTracer sets the tracer used for accrual spans.
func WithTracer(t trace.Tracer) Option {
	return func(l *Ledger) {
		l.tracer = t
	}
}

// WithCycleGuard replaces the in-process accrual guard.
func WithCycleGuard(g CycleGuard) Option {
	return func(l *Ledger) {
		l.guard = g
	}
}

// WithAccrualInterval sets how often the scheduler runs accrual cycles.
func WithAccrualInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.accrualInterval = d
		}
	}
}

// WithAccountTimeout bounds the store work for a single account in a cycle.
func WithAccountTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.accountTimeout = d
		}
	}
}

// WithMaxRetries sets how often a compare-and-swap is retried on conflict.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithAccrualDisabled keeps Start from launching the accrual scheduler.
// Cycles can still be run explicitly with RunAccrualCycle.
func WithAccrualDisabled() Option {
	return func(l *Ledger) {
		l.accrualEnabled = false
	}
}

// WithoutMigrations keeps Start from migrating the store.
func WithoutMigrations() Option {
	return func(l *Ledger) {
		l.migrateOnStart = false
	}
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Start migrates the store, initializes plugins and starts the accrual
// scheduler.
func (l *Ledger) Start(ctx context.Context) error {
	var err error
	l.startOnce.Do(func() {
		if l.migrateOnStart {
			if err = l.store.Migrate(ctx); err != nil {
				err = storageError("migrate", err)
				return
			}
		}

		l.plugins.EmitInit(ctx, l)

		if l.accrualEnabled {
			l.scheduler.Start(ctx)
		}

		l.logger.Info("finledger started",
			"accrual_enabled", l.accrualEnabled,
			"accrual_interval", l.accrualInterval,
			"account_timeout", l.accountTimeout,
		)
	})
	return err
}

// Stop halts the scheduler, waits for an in-flight cycle to finish or
// abort at its next account boundary, and closes the store.
func (l *Ledger) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		l.scheduler.Stop()

		ctx := context.Background()
		l.plugins.EmitShutdown(ctx)

		err = l.store.Close()
	})
	return err
}

// Health pings the store.
func (l *Ledger) Health(ctx context.Context) error {
	return storageError("ping", l.store.Ping(ctx))
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// now returns the clock time in UTC at millisecond precision, the
// coarsest precision of the supported stores, so watermarks compare
// equal after a round trip.
func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC().Truncate(time.Millisecond)
}

// at returns t, or now when t is zero.
func (l *Ledger) at(t time.Time) time.Time {
	if t.IsZero() {
		return l.now()
	}
	return t.UTC()
}

// withRetry runs fn until it returns something other than ErrConflict or
// the retry budget is spent.
func (l *Ledger) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, ErrConflict) || attempt >= l.maxRetries {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.logger.Debug("retrying after concurrent modification",
			"op", op,
			"attempt", attempt+1,
		)
	}
}
