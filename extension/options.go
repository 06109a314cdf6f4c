package extension

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/grove"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/plugin"
	"github.com/xraph/finledger/store"
)

// Option configures the finledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine. It takes precedence over
// WithGroveDB.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB sets the grove database the store backend is built around.
// Config.Driver picks the backend.
func WithGroveDB(db *grove.DB) Option {
	return func(e *Extension) {
		e.groveDB = db
	}
}

// WithRedisClient supplies the client for the distributed cycle guard,
// instead of one built from Config.Redis.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(e *Extension) {
		e.redis = client
	}
}

// WithLedgerOption passes a finledger.Option through to the underlying engine.
func WithLedgerOption(opt finledger.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, finledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDriver selects the store backend built around the grove database.
func WithDriver(driver string) Option {
	return func(e *Extension) { e.config.Driver = driver }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableAccrual keeps the accrual scheduler from starting.
func WithDisableAccrual() Option {
	return func(e *Extension) { e.config.DisableAccrual = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithAccrualInterval sets how often the scheduler runs accrual cycles.
func WithAccrualInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.AccrualInterval = d }
}

// WithAccountTimeout bounds the store work for one account in a cycle.
func WithAccountTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.AccountTimeout = d }
}

// WithPool declares a pool registered on Start.
func WithPool(pc PoolConfig) Option {
	return func(e *Extension) { e.config.Pools = append(e.config.Pools, pc) }
}
