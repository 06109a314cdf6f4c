// Package audithook bridges finledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/plugin"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
	"github.com/xraph/finledger/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnInvoiceIssued         = (*Extension)(nil)
	_ plugin.OnInvoiceStatusChanged  = (*Extension)(nil)
	_ plugin.OnPaymentApplied        = (*Extension)(nil)
	_ plugin.OnCollateralLocked      = (*Extension)(nil)
	_ plugin.OnCollateralReleased    = (*Extension)(nil)
	_ plugin.OnCreditDrawn           = (*Extension)(nil)
	_ plugin.OnCreditRepaid          = (*Extension)(nil)
	_ plugin.OnLimitExceeded         = (*Extension)(nil)
	_ plugin.OnAccrualCycleCompleted = (*Extension)(nil)
	_ plugin.OnAccrualAccountFailed  = (*Extension)(nil)
	_ plugin.OnYieldClaimed          = (*Extension)(nil)
	_ plugin.OnSettlementRuleCreated = (*Extension)(nil)
	_ plugin.OnSettlementExecuted    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It matches chronicle.Emitter but is defined locally; callers inject the
// concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges finledger events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoiceIssued implements plugin.OnInvoiceIssued.
func (e *Extension) OnInvoiceIssued(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, ActionInvoiceIssued, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryLifecycle, nil,
		"issuer", inv.Issuer,
		"debtor", inv.Debtor,
		"amount", inv.Amount.String(),
		"currency", inv.Currency,
	)
}

// OnInvoiceStatusChanged implements plugin.OnInvoiceStatusChanged.
// Defaults are recorded under their own action at warning severity.
func (e *Extension) OnInvoiceStatusChanged(ctx context.Context, inv *invoice.Invoice, evt *invoice.LifecycleEvent) error {
	action, severity := ActionInvoiceStatusChanged, SeverityInfo
	if evt.NewStatus == invoice.StatusDefaulted {
		action, severity = ActionInvoiceDefaulted, SeverityWarning
	}
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), CategoryLifecycle, nil,
		"old_status", string(evt.OldStatus),
		"new_status", string(evt.NewStatus),
		"cumulative_paid", evt.CumulativePaid.String(),
	)
}

// OnPaymentApplied implements plugin.OnPaymentApplied.
func (e *Extension) OnPaymentApplied(ctx context.Context, inv *invoice.Invoice, paid types.Amount) error {
	outcome := OutcomePartial
	if inv.Status == invoice.StatusPaid {
		outcome = OutcomeSuccess
	}
	return e.record(ctx, ActionPaymentApplied, SeverityInfo, outcome,
		ResourceInvoice, inv.ID.String(), CategoryLifecycle, nil,
		"paid", paid.String(),
		"cumulative_paid", inv.CumulativePaid.String(),
		"amount", inv.Amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Collateral hooks
// ──────────────────────────────────────────────────

// OnCollateralLocked implements plugin.OnCollateralLocked.
func (e *Extension) OnCollateralLocked(ctx context.Context, pos *collateral.Position) error {
	return e.record(ctx, ActionCollateralLocked, SeverityInfo, OutcomeSuccess,
		ResourcePosition, pos.InvoiceID.String(), CategoryCollateral, nil,
		"owner", pos.Owner,
		"pool_id", pos.PoolID,
		"face_value", pos.FaceValue.String(),
		"ltv_bps", pos.LTVBps,
		"credit_limit", pos.CreditLimit.String(),
	)
}

// OnCollateralReleased implements plugin.OnCollateralReleased.
func (e *Extension) OnCollateralReleased(ctx context.Context, pos *collateral.Position) error {
	return e.record(ctx, ActionCollateralReleased, SeverityInfo, OutcomeSuccess,
		ResourcePosition, pos.InvoiceID.String(), CategoryCollateral, nil,
		"owner", pos.Owner,
		"pool_id", pos.PoolID,
	)
}

// OnCreditDrawn implements plugin.OnCreditDrawn.
func (e *Extension) OnCreditDrawn(ctx context.Context, pos *collateral.Position, amount types.Amount) error {
	return e.record(ctx, ActionCreditDrawn, SeverityInfo, OutcomeSuccess,
		ResourcePosition, pos.InvoiceID.String(), CategoryCollateral, nil,
		"amount", amount.String(),
		"used_credit", pos.UsedCredit.String(),
		"credit_limit", pos.CreditLimit.String(),
	)
}

// OnCreditRepaid implements plugin.OnCreditRepaid.
func (e *Extension) OnCreditRepaid(ctx context.Context, pos *collateral.Position, amount types.Amount) error {
	return e.record(ctx, ActionCreditRepaid, SeverityInfo, OutcomeSuccess,
		ResourcePosition, pos.InvoiceID.String(), CategoryCollateral, nil,
		"amount", amount.String(),
		"used_credit", pos.UsedCredit.String(),
	)
}

// OnLimitExceeded implements plugin.OnLimitExceeded.
func (e *Extension) OnLimitExceeded(ctx context.Context, pos *collateral.Position, requested types.Amount, reason error) error {
	return e.record(ctx, ActionLimitExceeded, SeverityWarning, OutcomeFailure,
		ResourcePosition, pos.InvoiceID.String(), CategoryCollateral, reason,
		"requested", requested.String(),
		"used_credit", pos.UsedCredit.String(),
		"credit_limit", pos.CreditLimit.String(),
	)
}

// ──────────────────────────────────────────────────
// Accrual hooks
// ──────────────────────────────────────────────────

// OnAccrualCycleCompleted implements plugin.OnAccrualCycleCompleted.
func (e *Extension) OnAccrualCycleCompleted(ctx context.Context, run *pool.AccrualRun) error {
	action, severity, outcome := ActionAccrualCompleted, SeverityInfo, OutcomeSuccess
	switch {
	case run.Aborted:
		action, severity, outcome = ActionAccrualAborted, SeverityWarning, OutcomeFailure
	case run.AccountsFailed > 0:
		severity, outcome = SeverityWarning, OutcomePartial
	}
	return e.record(ctx, action, severity, outcome,
		ResourcePool, run.PoolID, CategoryAccrual, nil,
		"run_id", run.ID.String(),
		"ticks", run.Ticks,
		"accounts_processed", run.AccountsProcessed,
		"accounts_failed", run.AccountsFailed,
		"total_yield_accrued", run.TotalYieldAccrued.String(),
	)
}

// OnAccrualAccountFailed implements plugin.OnAccrualAccountFailed.
func (e *Extension) OnAccrualAccountFailed(ctx context.Context, poolID, wallet string, err error) error {
	return e.record(ctx, ActionAccrualAccountFailed, SeverityError, OutcomeFailure,
		ResourceYield, wallet, CategoryAccrual, err,
		"pool_id", poolID,
	)
}

// OnYieldClaimed implements plugin.OnYieldClaimed.
func (e *Extension) OnYieldClaimed(ctx context.Context, acct *pool.YieldAccount, amount types.Amount) error {
	return e.record(ctx, ActionYieldClaimed, SeverityInfo, OutcomeSuccess,
		ResourceYield, acct.Wallet, CategoryAccrual, nil,
		"pool_id", acct.PoolID,
		"amount", amount.String(),
		"remaining", acct.AccruedYield.String(),
	)
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementRuleCreated implements plugin.OnSettlementRuleCreated.
func (e *Extension) OnSettlementRuleCreated(ctx context.Context, rule *settlement.Rule) error {
	return e.record(ctx, ActionSettlementRuleCreated, SeverityInfo, OutcomeSuccess,
		ResourceRule, rule.ID.String(), CategorySettlement, nil,
		"invoice_id", rule.InvoiceID.String(),
		"external_ref", rule.ExternalRef,
		"payer", rule.Payer,
		"recipients", len(rule.Recipients),
	)
}

// OnSettlementExecuted implements plugin.OnSettlementExecuted.
func (e *Extension) OnSettlementExecuted(ctx context.Context, exec *settlement.Execution) error {
	return e.record(ctx, ActionSettlementExecuted, SeverityInfo, OutcomeSuccess,
		ResourceExecution, exec.ID, CategorySettlement, nil,
		"rule_id", exec.RuleID.String(),
		"invoice_id", exec.InvoiceID.String(),
		"gross_amount", exec.GrossAmount.String(),
		"splits", len(exec.Splits),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
