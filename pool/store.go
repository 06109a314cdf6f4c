package pool

import (
	"context"

	"github.com/xraph/finledger/types"
)

// Store persists pools, omnibus share balances, yield accounts and
// accrual runs.
type Store interface {
	CreatePool(ctx context.Context, p *Pool) error
	GetPool(ctx context.Context, poolID string) (*Pool, error)
	ListPools(ctx context.Context) ([]*Pool, error)

	// UpdatePool is a compare-and-swap on Version.
	UpdatePool(ctx context.Context, p *Pool, expectedVersion int64) error

	// PutShareBalances upserts the given omnibus entries.
	PutShareBalances(ctx context.Context, accounts []*Account) error
	ListShareBalances(ctx context.Context, poolID string) ([]*Account, error)

	GetYieldAccount(ctx context.Context, wallet, poolID string) (*YieldAccount, error)
	ListYieldAccounts(ctx context.Context, poolID string) ([]*YieldAccount, error)

	// AccrueYield applies u as one atomic read-modify-write of the
	// (wallet, pool) yield account, creating it when absent. It returns
	// the whole units credited, or an error matching finledger.ErrConflict
	// when the stored AccruedThrough differs from u.ExpectedThrough.
	AccrueYield(ctx context.Context, u AccrualUpdate) (types.Amount, error)

	// DebitYield atomically subtracts amount from AccruedYield. It fails
	// with finledger.ErrInsufficientYield when the balance is too small.
	DebitYield(ctx context.Context, wallet, poolID string, amount types.Amount) (*YieldAccount, error)

	RecordAccrualRun(ctx context.Context, run *AccrualRun) error
	ListAccrualRuns(ctx context.Context, poolID string, limit int) ([]*AccrualRun, error)
}
