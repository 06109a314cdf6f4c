package extension

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/types"
)

// Store drivers understood by the extension.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the finledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.finledger" or "finledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableAccrual keeps the accrual scheduler from starting. Cycles can
	// still be run explicitly.
	DisableAccrual bool `json:"disable_accrual" mapstructure:"disable_accrual" yaml:"disable_accrual"`

	// Driver selects the store backend built around the grove.DB passed
	// with WithGroveDB (default: "memory" without one, "postgres" with one).
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver" validate:"omitempty,oneof=memory postgres sqlite mongo"`

	// AccrualInterval is how often the scheduler runs accrual cycles
	// (default: 1m).
	AccrualInterval time.Duration `json:"accrual_interval" mapstructure:"accrual_interval" yaml:"accrual_interval" validate:"gte=0"`

	// AccountTimeout bounds the store work for a single account within a
	// cycle (default: 5s).
	AccountTimeout time.Duration `json:"account_timeout" mapstructure:"account_timeout" yaml:"account_timeout" validate:"gte=0"`

	// MaxRetries is how often a compare-and-swap is retried on conflict
	// (default: 5).
	MaxRetries int `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0,lte=100"`

	// Redis enables the distributed accrual cycle guard when set.
	Redis *RedisConfig `json:"redis,omitempty" mapstructure:"redis" yaml:"redis,omitempty"`

	// Pools are registered (created or updated) on Start.
	Pools []PoolConfig `json:"pools,omitempty" mapstructure:"pools" yaml:"pools,omitempty" validate:"dive"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// RedisConfig configures the Redis cycle guard.
type RedisConfig struct {
	Addr      string        `json:"addr" mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
	Password  string        `json:"password" mapstructure:"password" yaml:"password"`
	DB        int           `json:"db" mapstructure:"db" yaml:"db" validate:"gte=0"`
	KeyPrefix string        `json:"key_prefix" mapstructure:"key_prefix" yaml:"key_prefix"`
	LockTTL   time.Duration `json:"lock_ttl" mapstructure:"lock_ttl" yaml:"lock_ttl" validate:"gte=0"`
}

// PoolConfig declares a financing pool.
type PoolConfig struct {
	ID       string `json:"id" mapstructure:"id" yaml:"id" validate:"required"`
	Name     string `json:"name" mapstructure:"name" yaml:"name"`
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency" validate:"required"`

	// AnnualRate is a decimal fraction, e.g. "0.08" for 8%.
	AnnualRate string `json:"annual_rate" mapstructure:"annual_rate" yaml:"annual_rate" validate:"required,numeric"`

	TickInterval      time.Duration `json:"tick_interval" mapstructure:"tick_interval" yaml:"tick_interval" validate:"gt=0"`
	TicksPerYear      uint64        `json:"ticks_per_year" mapstructure:"ticks_per_year" yaml:"ticks_per_year"`
	LTVBps            uint32        `json:"ltv_bps" mapstructure:"ltv_bps" yaml:"ltv_bps" validate:"lte=10000"`
	MaxUtilizationBps uint32        `json:"max_utilization_bps" mapstructure:"max_utilization_bps" yaml:"max_utilization_bps" validate:"lte=10000"`

	// Liquidity is a base-unit integer string.
	Liquidity string `json:"liquidity" mapstructure:"liquidity" yaml:"liquidity" validate:"omitempty,number"`
}

// Pool converts the declaration to a pool.Pool.
func (pc PoolConfig) Pool() (*pool.Pool, error) {
	rate, err := decimal.NewFromString(pc.AnnualRate)
	if err != nil {
		return nil, fmt.Errorf("pool %s: annual_rate: %w", pc.ID, err)
	}

	liquidity := types.Zero()
	if pc.Liquidity != "" {
		liquidity, err = types.ParseAmount(pc.Liquidity)
		if err != nil {
			return nil, fmt.Errorf("pool %s: liquidity: %w", pc.ID, err)
		}
	}

	return &pool.Pool{
		ID:                pc.ID,
		Name:              pc.Name,
		Currency:          pc.Currency,
		AnnualRate:        rate,
		TickInterval:      pc.TickInterval,
		TicksPerYear:      pc.TicksPerYear,
		LTVBps:            pc.LTVBps,
		MaxUtilizationBps: pc.MaxUtilizationBps,
		Liquidity:         liquidity,
	}, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AccrualInterval: time.Minute,
		AccountTimeout:  5 * time.Second,
		MaxRetries:      5,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct constraints and that pool ids are unique.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("finledger: invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("finledger: invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if seen[p.ID] {
			return fmt.Errorf("finledger: invalid config: duplicate pool %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// LoadConfigFile reads a Config from a YAML file, fills defaults and
// validates it. The file may hold the config at its root or under a
// "finledger" key.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("finledger: config path required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("finledger: read config: %w", err)
	}

	var wrapped struct {
		Finledger *Config `yaml:"finledger"`
	}
	if err := yaml.Unmarshal(raw, &wrapped); err != nil {
		return Config{}, fmt.Errorf("finledger: decode config: %w", err)
	}

	var cfg Config
	if wrapped.Finledger != nil {
		cfg = *wrapped.Finledger
	} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("finledger: decode config: %w", err)
	}

	cfg = mergeWithDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.AccrualInterval == 0 {
		cfg.AccrualInterval = defaults.AccrualInterval
	}
	if cfg.AccountTimeout == 0 {
		cfg.AccountTimeout = defaults.AccountTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableAccrual {
		yamlConfig.DisableAccrual = true
	}

	if yamlConfig.Driver == "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}
	if yamlConfig.Redis == nil {
		yamlConfig.Redis = programmaticConfig.Redis
	}

	if yamlConfig.AccrualInterval == 0 {
		yamlConfig.AccrualInterval = programmaticConfig.AccrualInterval
	}
	if yamlConfig.AccountTimeout == 0 {
		yamlConfig.AccountTimeout = programmaticConfig.AccountTimeout
	}
	if yamlConfig.MaxRetries == 0 {
		yamlConfig.MaxRetries = programmaticConfig.MaxRetries
	}

	// Pools: programmatic declarations are added unless the file declares
	// the same id.
	declared := make(map[string]bool, len(yamlConfig.Pools))
	for _, p := range yamlConfig.Pools {
		declared[p.ID] = true
	}
	for _, p := range programmaticConfig.Pools {
		if !declared[p.ID] {
			yamlConfig.Pools = append(yamlConfig.Pools, p)
		}
	}

	return mergeWithDefaults(yamlConfig)
}
