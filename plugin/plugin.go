// Package plugin provides the hook system of finledger. A plugin
// implements Plugin plus any subset of the hook interfaces below; the
// Registry discovers the hooks once at registration time.
package plugin

import (
	"context"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
	"github.com/xraph/finledger/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceIssued is called after an invoice is first recorded.
type OnInvoiceIssued interface {
	Plugin
	OnInvoiceIssued(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoiceStatusChanged receives every applied lifecycle transition.
type OnInvoiceStatusChanged interface {
	Plugin
	OnInvoiceStatusChanged(ctx context.Context, inv *invoice.Invoice, evt *invoice.LifecycleEvent) error
}

// OnPaymentApplied is called after a payment is applied to an invoice.
type OnPaymentApplied interface {
	Plugin
	OnPaymentApplied(ctx context.Context, inv *invoice.Invoice, paid types.Amount) error
}

// ──────────────────────────────────────────────────
// Collateral hooks
// ──────────────────────────────────────────────────

// OnCollateralLocked is called when a collateral position is opened.
type OnCollateralLocked interface {
	Plugin
	OnCollateralLocked(ctx context.Context, pos *collateral.Position) error
}

// OnCollateralReleased is called when a repaid position is exited.
type OnCollateralReleased interface {
	Plugin
	OnCollateralReleased(ctx context.Context, pos *collateral.Position) error
}

// OnCreditDrawn is called after credit is drawn against a position.
type OnCreditDrawn interface {
	Plugin
	OnCreditDrawn(ctx context.Context, pos *collateral.Position, amount types.Amount) error
}

// OnCreditRepaid is called after credit is repaid.
type OnCreditRepaid interface {
	Plugin
	OnCreditRepaid(ctx context.Context, pos *collateral.Position, amount types.Amount) error
}

// OnLimitExceeded is called when a draw is rejected by the credit limit
// or the pool utilization bound.
type OnLimitExceeded interface {
	Plugin
	OnLimitExceeded(ctx context.Context, pos *collateral.Position, requested types.Amount, reason error) error
}

// ──────────────────────────────────────────────────
// Accrual hooks
// ──────────────────────────────────────────────────

// OnAccrualCycleCompleted is called with the summary of every cycle.
type OnAccrualCycleCompleted interface {
	Plugin
	OnAccrualCycleCompleted(ctx context.Context, run *pool.AccrualRun) error
}

// OnAccrualAccountFailed is called for each account skipped by a cycle.
type OnAccrualAccountFailed interface {
	Plugin
	OnAccrualAccountFailed(ctx context.Context, poolID, wallet string, err error) error
}

// OnYieldClaimed is called after accrued yield is debited.
type OnYieldClaimed interface {
	Plugin
	OnYieldClaimed(ctx context.Context, acct *pool.YieldAccount, amount types.Amount) error
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementRuleCreated is called after a rule is registered.
type OnSettlementRuleCreated interface {
	Plugin
	OnSettlementRuleCreated(ctx context.Context, rule *settlement.Rule) error
}

// OnSettlementExecuted is called after an execution is recorded.
type OnSettlementExecuted interface {
	Plugin
	OnSettlementExecuted(ctx context.Context, exec *settlement.Execution) error
}
