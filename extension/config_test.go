package extension

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/finledger/store/memory"
)

const sampleYAML = `
finledger:
  driver: memory
  disable_accrual: true
  accrual_interval: 30s
  max_retries: 3
  pools:
    - id: usdc-senior
      name: Senior USDC
      currency: usdc
      annual_rate: "0.08"
      tick_interval: 1h
      ticks_per_year: 8760
      ltv_bps: 8000
      max_utilization_bps: 9000
      liquidity: "1000000000"
`

func writeFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "finledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func seniorPool() PoolConfig {
	return PoolConfig{
		ID:           "usdc-senior",
		Currency:     "usdc",
		AnnualRate:   "0.08",
		TickInterval: time.Hour,
		LTVBps:       8000,
	}
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := LoadConfigFile(writeFile(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Driver)
	assert.True(t, cfg.DisableAccrual)
	assert.Equal(t, 30*time.Second, cfg.AccrualInterval)
	assert.Equal(t, 5*time.Second, cfg.AccountTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)

	require.Len(t, cfg.Pools, 1)
	p, err := cfg.Pools[0].Pool()
	require.NoError(t, err)
	assert.Equal(t, "usdc-senior", p.ID)
	assert.Equal(t, "0.08", p.AnnualRate.String())
	assert.Equal(t, time.Hour, p.TickInterval)
	assert.Equal(t, uint32(8000), p.LTVBps)
	assert.Equal(t, "1000000000", p.Liquidity.String())
}

func TestLoadConfigFile_RootLevel(t *testing.T) {
	cfg, err := LoadConfigFile(writeFile(t, "driver: sqlite\nmax_retries: 7\n"))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, time.Minute, cfg.AccrualInterval)
}

func TestLoadConfigFile_Errors(t *testing.T) {
	_, err := LoadConfigFile("")
	require.Error(t, err)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfigFile(writeFile(t, "finledger: [not, a, map]\n"))
	require.Error(t, err)

	_, err = LoadConfigFile(writeFile(t, "driver: cassandra\n"))
	require.ErrorContains(t, err, "Driver")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "valid pool", mutate: func(c *Config) { c.Pools = []PoolConfig{seniorPool()} }},
		{
			name:    "pool without id",
			mutate:  func(c *Config) { p := seniorPool(); p.ID = ""; c.Pools = []PoolConfig{p} },
			wantErr: "ID",
		},
		{
			name:    "ltv above 100%",
			mutate:  func(c *Config) { p := seniorPool(); p.LTVBps = 10001; c.Pools = []PoolConfig{p} },
			wantErr: "LTVBps",
		},
		{
			name:    "non numeric rate",
			mutate:  func(c *Config) { p := seniorPool(); p.AnnualRate = "eight"; c.Pools = []PoolConfig{p} },
			wantErr: "AnnualRate",
		},
		{
			name:    "zero tick interval",
			mutate:  func(c *Config) { p := seniorPool(); p.TickInterval = 0; c.Pools = []PoolConfig{p} },
			wantErr: "TickInterval",
		},
		{
			name:    "fractional liquidity",
			mutate:  func(c *Config) { p := seniorPool(); p.Liquidity = "1.5"; c.Pools = []PoolConfig{p} },
			wantErr: "Liquidity",
		},
		{
			name:    "duplicate pool",
			mutate:  func(c *Config) { c.Pools = []PoolConfig{seniorPool(), seniorPool()} },
			wantErr: "duplicate pool",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Redis = &RedisConfig{} },
			wantErr: "Addr",
		},
		{
			name:   "redis with addr",
			mutate: func(c *Config) { c.Redis = &RedisConfig{Addr: "localhost:6379"} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeConfigurations(t *testing.T) {
	yamlCfg := Config{
		AccrualInterval: 10 * time.Second,
		Pools:           []PoolConfig{seniorPool()},
	}

	junior := seniorPool()
	junior.ID = "usdc-junior"
	override := seniorPool()
	override.LTVBps = 5000

	programmatic := Config{
		DisableMigrate:  true,
		Driver:          DriverMongo,
		AccrualInterval: time.Hour,
		MaxRetries:      9,
		Pools:           []PoolConfig{override, junior},
	}

	got := mergeConfigurations(yamlCfg, programmatic)

	assert.True(t, got.DisableMigrate)
	assert.Equal(t, DriverMongo, got.Driver)
	assert.Equal(t, 10*time.Second, got.AccrualInterval)
	assert.Equal(t, 5*time.Second, got.AccountTimeout)
	assert.Equal(t, 9, got.MaxRetries)

	require.Len(t, got.Pools, 2)
	assert.Equal(t, uint32(8000), got.Pools[0].LTVBps)
	assert.Equal(t, "usdc-junior", got.Pools[1].ID)
}

func TestBuildStore(t *testing.T) {
	e := New()
	s, err := e.buildStore()
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	for _, driver := range []string{DriverPostgres, DriverSQLite, DriverMongo} {
		e := New(WithDriver(driver))
		_, err := e.buildStore()
		assert.ErrorContains(t, err, "requires WithGroveDB", driver)
	}
}

func TestExtensionLifecycle(t *testing.T) {
	ctx := context.Background()

	e := New(
		WithStore(memory.New()),
		WithDisableAccrual(),
		WithPool(seniorPool()),
	)
	e.config = mergeWithDefaults(e.config)

	require.Error(t, e.start(ctx), "start before init")
	require.Error(t, e.Health(ctx))

	require.NoError(t, e.init())
	require.NotNil(t, e.Engine())

	require.NoError(t, e.start(ctx))
	require.NoError(t, e.Health(ctx))

	p, err := e.Engine().GetPool(ctx, "usdc-senior")
	require.NoError(t, err)
	assert.Equal(t, uint32(8000), p.LTVBps)

	require.NoError(t, e.stop())
}

func TestExtensionInitRejectsInvalidConfig(t *testing.T) {
	bad := seniorPool()
	bad.Currency = ""

	e := New(WithStore(memory.New()), WithPool(bad))
	err := e.init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Currency")
	assert.Nil(t, e.Engine())
}
