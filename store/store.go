package store

import (
	"context"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
)

// Store is the unified storage interface for all finledger entities.
// Every backend (memory, postgres, sqlite, mongo) implements it.
//
// Mutations that the engine performs as read-modify-write go through the
// compare-and-swap methods (UpdateInvoice, UpdatePosition, UpdatePool) or
// the atomic increments (AccrueYield, DebitYield); backends must never
// apply them as blind overwrites.
type Store interface {
	invoice.Store
	collateral.Store
	pool.Store
	settlement.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
