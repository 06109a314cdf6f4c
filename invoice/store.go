package invoice

import (
	"context"

	"github.com/xraph/finledger/id"
)

// Store persists invoices and their lifecycle history.
type Store interface {
	CreateInvoice(ctx context.Context, inv *Invoice, evt *LifecycleEvent) error
	GetInvoice(ctx context.Context, invoiceID id.Key) (*Invoice, error)
	ListInvoices(ctx context.Context, opts ListOpts) ([]*Invoice, error)

	// UpdateInvoice writes inv only if the stored version equals
	// expectedVersion, then stores inv.Version = expectedVersion+1. A
	// non-nil evt is appended in the same write. A version mismatch
	// returns an error matching finledger.ErrConflict.
	UpdateInvoice(ctx context.Context, inv *Invoice, expectedVersion int64, evt *LifecycleEvent) error

	ListLifecycleEvents(ctx context.Context, invoiceID id.Key) ([]*LifecycleEvent, error)
}

type ListOpts struct {
	Status   Status
	Issuer   string
	Financed *bool
	Limit    int
	Offset   int
}
