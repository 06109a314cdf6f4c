// Package extension provides the Forge extension adapter for finledger.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.finledger" or
// "finledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/guard/redisguard"
	"github.com/xraph/finledger/store"
	"github.com/xraph/finledger/store/memory"
	"github.com/xraph/finledger/store/mongo"
	"github.com/xraph/finledger/store/postgres"
	"github.com/xraph/finledger/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "finledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Invoice financing ledger: lifecycle, collateral, yield accrual and settlement"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts finledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *finledger.Ledger
	store      store.Store
	groveDB    *grove.DB
	redis      redis.UniversalClient
	ownsRedis  bool
	ledgerOpts []finledger.Option
}

// New creates a new finledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *finledger.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if err := e.init(); err != nil {
		return err
	}

	return vessel.Provide(fapp.Container(), func() (*finledger.Ledger, error) {
		return e.engine, nil
	})
}

// init validates the resolved config and builds the store and engine.
func (e *Extension) init() error {
	if err := e.config.Validate(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := e.buildStore()
		if err != nil {
			return err
		}
		e.store = s
	}

	e.engine = finledger.New(e.store, e.buildLedgerOpts()...)
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if err := e.start(ctx); err != nil {
		return err
	}
	e.MarkStarted()
	return nil
}

// start migrates the store, starts the engine and registers the declared
// pools.
func (e *Extension) start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("finledger: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	for _, pc := range e.config.Pools {
		p, err := pc.Pool()
		if err != nil {
			return err
		}
		if _, err := e.engine.RegisterPool(ctx, p); err != nil {
			return fmt.Errorf("finledger: register pool %s: %w", pc.ID, err)
		}
	}
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	err := e.stop()
	e.MarkStopped()
	return err
}

func (e *Extension) stop() error {
	var errs []error
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	}
	if e.ownsRedis && e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("finledger: store not initialized")
	}
	return e.engine.Health(ctx)
}

// buildStore constructs the backend selected by Config.Driver.
func (e *Extension) buildStore() (store.Store, error) {
	driver := e.config.Driver
	if driver == "" {
		driver = DriverMemory
		if e.groveDB != nil {
			driver = DriverPostgres
		}
	}

	if driver == DriverMemory {
		return memory.New(), nil
	}
	if e.groveDB == nil {
		return nil, fmt.Errorf("finledger: driver %q requires WithGroveDB", driver)
	}

	switch driver {
	case DriverPostgres:
		return postgres.New(e.groveDB), nil
	case DriverSQLite:
		return sqlite.New(e.groveDB), nil
	case DriverMongo:
		return mongo.New(e.groveDB), nil
	default:
		return nil, fmt.Errorf("finledger: unknown driver %q", driver)
	}
}

// buildLedgerOpts constructs finledger.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []finledger.Option {
	opts := make([]finledger.Option, 0, len(e.ledgerOpts)+6)

	opts = append(opts,
		finledger.WithAccrualInterval(e.config.AccrualInterval),
		finledger.WithAccountTimeout(e.config.AccountTimeout),
		finledger.WithMaxRetries(e.config.MaxRetries),
	)
	if e.config.DisableMigrate {
		opts = append(opts, finledger.WithoutMigrations())
	}
	if e.config.DisableAccrual {
		opts = append(opts, finledger.WithAccrualDisabled())
	}

	if e.redis == nil && e.config.Redis != nil {
		e.redis = redis.NewClient(&redis.Options{
			Addr:     e.config.Redis.Addr,
			Password: e.config.Redis.Password,
			DB:       e.config.Redis.DB,
		})
		e.ownsRedis = true
	}
	if e.redis != nil {
		var gopts []redisguard.Option
		if rc := e.config.Redis; rc != nil {
			gopts = append(gopts,
				redisguard.WithPrefix(rc.KeyPrefix),
				redisguard.WithTTL(rc.LockTTL),
			)
		}
		opts = append(opts, finledger.WithCycleGuard(redisguard.New(e.redis, gopts...)))
	}

	// Append any pass-through ledger options.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("finledger: configuration is required but not found in config files; " +
				"ensure 'extensions.finledger' or 'finledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("finledger: configuration loaded",
		forge.F("driver", e.config.Driver),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_accrual", e.config.DisableAccrual),
		forge.F("accrual_interval", e.config.AccrualInterval),
		forge.F("account_timeout", e.config.AccountTimeout),
		forge.F("pools", len(e.config.Pools)),
		forge.F("redis_guard", e.config.Redis != nil),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.finledger", "finledger"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("finledger: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("finledger: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}
