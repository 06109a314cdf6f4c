// Package finledger provides the off-chain bookkeeping core for invoice
// financing: the ledger that has to stay consistent with on-chain state
// while a tokenized invoice is issued, financed, paid and settled.
//
// Finledger is a library, not a service. It tracks:
//
//   - Invoice lifecycle: a forward-only status machine with a durable
//     history of transitions
//   - Collateral positions: credit limits derived from face value and LTV,
//     draws bounded by the limit and by pool utilization
//   - Yield accrual: periodic, idempotent crediting of pool yield to
//     liquidity providers in proportion to their shares
//   - Settlement: exact basis-point splits of collected proceeds
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/finledger"
//	    "github.com/xraph/finledger/store/postgres"
//	)
//
//	s := postgres.New(db)
//	l := finledger.New(s, finledger.WithLogger(logger))
//
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Invoices
//
// Invoices enter the ledger when they are minted and then only move
// forward:
//
//	NONE -> ISSUED -> TOKENIZED -> FINANCED -> PARTIALLY_PAID -> PAID
//
// DEFAULTED can be reached from any status that is not terminal. Payments
// move invoices along the same order:
//
//	inv, err := l.ApplyPayment(ctx, invoiceID, amount, blockTime)
//
// # Collateral
//
// Locking an invoice opens a position with a credit limit of
// faceValue * ltvBps / 10000. Draws are bounded by that limit and by the
// utilization cap of the position's pool:
//
//	pos, err := l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: id, PoolID: "senior"})
//	used, err := l.Draw(ctx, id, amount)
//
// # Accrual
//
// Registered pools accrue yield on every scheduler tick. Each cycle credits
// the whole tick intervals elapsed since the pool's watermark, so running a
// cycle twice at the same instant accrues nothing the second time.
// Fractions of the smallest currency unit are carried forward per account
// instead of being dropped.
//
// # Chain events
//
// Package chainevents decodes registry, pool and settlement logs and
// applies them to a Ledger, tolerating replays of already indexed blocks.
//
// # Amounts
//
// All amounts are unsigned 256-bit integers in the smallest unit of their
// currency (see types.Amount). Arithmetic that would overflow fails with
// ErrArithmeticOverflow instead of wrapping.
//
// # Identifiers
//
// On-chain identifiers such as invoice ids are 32-byte keys (id.Key).
// Entities created by the engine use TypeIDs:
//
//	srule_01h2xcejqtf2nbrexx3vqjhp41  // Settlement rule
//	lcevt_01h455vb4pex5vsknk084sn02q  // Lifecycle event
package finledger
