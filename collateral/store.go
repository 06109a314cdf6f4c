package collateral

import (
	"context"

	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/types"
)

// Store persists collateral positions.
type Store interface {
	CreatePosition(ctx context.Context, p *Position) error
	GetPosition(ctx context.Context, invoiceID id.Key) (*Position, error)

	// UpdatePosition is a compare-and-swap on Version; see
	// invoice.Store.UpdateInvoice.
	UpdatePosition(ctx context.Context, p *Position, expectedVersion int64) error

	ListPositions(ctx context.Context, poolID string) ([]*Position, error)

	// SumUsedCredit totals UsedCredit over the live positions of a pool.
	SumUsedCredit(ctx context.Context, poolID string) (types.Amount, error)
}
