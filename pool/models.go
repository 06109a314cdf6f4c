package pool

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/types"
)

// Year is the length used to derive ticks per year from a tick interval.
const Year = 365 * 24 * time.Hour

// CarryDecimals is the precision of YieldAccount.Carry: fractional yield
// is tracked in units of 10^-18 of the smallest currency unit.
const CarryDecimals = 18

// CarryScale is 10^CarryDecimals.
var CarryScale = types.Pow10(CarryDecimals)

// Pool is the configuration and accrual watermark of a financing pool.
type Pool struct {
	types.Entity
	ID                string          `json:"id"`
	Name              string          `json:"name,omitempty"`
	Currency          string          `json:"currency"`
	AnnualRate        decimal.Decimal `json:"annual_rate"`
	TickInterval      time.Duration   `json:"tick_interval"`
	TicksPerYear      uint64          `json:"ticks_per_year"`
	LTVBps            uint32          `json:"ltv_bps"`
	MaxUtilizationBps uint32          `json:"max_utilization_bps"`
	Liquidity         types.Amount    `json:"liquidity"`
	LastAccruedAt     time.Time       `json:"last_accrued_at"`
	Version           int64           `json:"version"`
}

// Ticks returns the configured ticks per year, deriving it from the tick
// interval when unset.
func (p *Pool) Ticks() uint64 {
	if p.TicksPerYear > 0 {
		return p.TicksPerYear
	}
	if p.TickInterval <= 0 {
		return 0
	}

	return uint64(Year / p.TickInterval)
}

// RatePerTick returns AnnualRate / Ticks.
func (p *Pool) RatePerTick() decimal.Decimal {
	t := p.Ticks()
	if t == 0 {
		return decimal.Zero
	}

	return p.AnnualRate.Div(decimal.NewFromInt(int64(t)))
}

// MaxUtilization returns the utilization bound in bps; zero means 100%.
func (p *Pool) MaxUtilization() uint32 {
	if p.MaxUtilizationBps == 0 {
		return 10000
	}

	return p.MaxUtilizationBps
}

// ScaledYield returns shares * annualRate * ticks / ticksPerYear in units
// of 10^-18 of the smallest currency unit. The annual rate is fixed to 18
// decimals before multiplying, so the computation is exact integer maths.
func (p *Pool) ScaledYield(shares types.Amount, ticks uint64) (types.Amount, error) {
	perYear := p.Ticks()
	if perYear == 0 || ticks == 0 || p.AnnualRate.Sign() <= 0 {
		return types.Zero(), nil
	}

	rateWad := p.AnnualRate.Shift(CarryDecimals).BigInt()

	n := new(big.Int).Mul(shares.Big(), rateWad)
	n.Mul(n, new(big.Int).SetUint64(ticks))
	n.Quo(n, new(big.Int).SetUint64(perYear))

	return types.AmountFromBig(n)
}

// Account is an omnibus ledger entry: the pool shares held by a wallet.
type Account struct {
	Wallet       string       `json:"wallet"`
	PoolID       string       `json:"pool_id"`
	ShareBalance types.Amount `json:"share_balance"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// YieldAccount accumulates yield for one (wallet, pool) pair.
type YieldAccount struct {
	types.Entity
	Wallet         string       `json:"wallet"`
	PoolID         string       `json:"pool_id"`
	AccruedYield   types.Amount `json:"accrued_yield"`
	Carry          types.Amount `json:"carry"`
	AccruedThrough time.Time    `json:"accrued_through"`
	Version        int64        `json:"version"`
}

// Apply credits a scaled yield delta: whole units are added to
// AccruedYield and the fractional remainder stays in Carry. It returns the
// whole units credited.
func (y *YieldAccount) Apply(scaled types.Amount, through time.Time) (types.Amount, error) {
	total, err := y.Carry.Add(scaled)
	if err != nil {
		return types.Zero(), err
	}

	whole, carry := total.DivMod(CarryScale)

	accrued, err := y.AccruedYield.Add(whole)
	if err != nil {
		return types.Zero(), err
	}

	y.AccruedYield = accrued
	y.Carry = carry
	y.AccruedThrough = through

	return whole, nil
}

// AccrualUpdate is a single atomic yield increment.
type AccrualUpdate struct {
	Wallet string
	PoolID string

	// Scaled is the yield in units of 10^-18 of the smallest unit.
	Scaled types.Amount

	// ExpectedThrough must equal the stored AccruedThrough (zero for an
	// account that does not exist yet) or the update is rejected.
	ExpectedThrough time.Time
	Through         time.Time
	At              time.Time
}

// AccrualRun summarises one accrual cycle for a pool.
type AccrualRun struct {
	ID                id.RunID     `json:"id"`
	PoolID            string       `json:"pool_id"`
	From              time.Time    `json:"from"`
	To                time.Time    `json:"to"`
	Ticks             uint64       `json:"ticks"`
	AccountsProcessed int          `json:"accounts_processed"`
	AccountsSucceeded int          `json:"accounts_succeeded"`
	AccountsFailed    int          `json:"accounts_failed"`
	TotalYieldAccrued types.Amount `json:"total_yield_accrued"`
	Aborted           bool         `json:"aborted"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        time.Time    `json:"finished_at"`
}
