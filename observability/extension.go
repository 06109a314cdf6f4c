// Package observability provides a metrics extension for finledger that
// records lifecycle, collateral, accrual and settlement counts through a
// MetricFactory.
package observability

import (
	"context"
	"math/big"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/plugin"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
	"github.com/xraph/finledger/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceIssued         = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceStatusChanged  = (*MetricsExtension)(nil)
	_ plugin.OnPaymentApplied        = (*MetricsExtension)(nil)
	_ plugin.OnCollateralLocked      = (*MetricsExtension)(nil)
	_ plugin.OnCollateralReleased    = (*MetricsExtension)(nil)
	_ plugin.OnCreditDrawn           = (*MetricsExtension)(nil)
	_ plugin.OnCreditRepaid          = (*MetricsExtension)(nil)
	_ plugin.OnLimitExceeded         = (*MetricsExtension)(nil)
	_ plugin.OnAccrualCycleCompleted = (*MetricsExtension)(nil)
	_ plugin.OnAccrualAccountFailed  = (*MetricsExtension)(nil)
	_ plugin.OnYieldClaimed          = (*MetricsExtension)(nil)
	_ plugin.OnSettlementRuleCreated = (*MetricsExtension)(nil)
	_ plugin.OnSettlementExecuted    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide ledger metrics.
// Register it as a finledger plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Invoice metrics
	InvoiceIssued        Counter
	InvoiceTransitions   Counter
	InvoiceFinanced      Counter
	InvoicePaid          Counter
	InvoiceDefaulted     Counter
	PaymentsApplied      Counter
	PaymentInstallments  Histogram
	invoiceStatusCounter map[invoice.Status]Counter

	// Collateral metrics
	CollateralLocked   Counter
	CollateralReleased Counter
	CreditDraws        Counter
	CreditRepayments   Counter
	LimitRejections    Counter

	// Accrual metrics
	AccrualCycles         Counter
	AccrualCyclesAborted  Counter
	AccrualAccounts       Histogram
	AccrualAccountsFailed Counter
	AccrualTicks          Histogram
	AccrualLatency        Histogram
	YieldClaims           Counter

	// Settlement metrics
	SettlementRules      Counter
	SettlementExecutions Counter
	SettlementRecipients Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions, or NewPrometheusFactory standalone.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	m := &MetricsExtension{
		factory: factory,

		// Invoice metrics
		InvoiceIssued:       factory.Counter("finledger.invoice.issued"),
		InvoiceTransitions:  factory.Counter("finledger.invoice.transitions"),
		InvoiceFinanced:     factory.Counter("finledger.invoice.financed"),
		InvoicePaid:         factory.Counter("finledger.invoice.paid"),
		InvoiceDefaulted:    factory.Counter("finledger.invoice.defaulted"),
		PaymentsApplied:     factory.Counter("finledger.payment.applied"),
		PaymentInstallments: factory.Histogram("finledger.payment.installment_units"),

		// Collateral metrics
		CollateralLocked:   factory.Counter("finledger.collateral.locked"),
		CollateralReleased: factory.Counter("finledger.collateral.released"),
		CreditDraws:        factory.Counter("finledger.credit.draws"),
		CreditRepayments:   factory.Counter("finledger.credit.repayments"),
		LimitRejections:    factory.Counter("finledger.credit.limit_rejections"),

		// Accrual metrics
		AccrualCycles:         factory.Counter("finledger.accrual.cycles"),
		AccrualCyclesAborted:  factory.Counter("finledger.accrual.cycles_aborted"),
		AccrualAccounts:       factory.Histogram("finledger.accrual.accounts"),
		AccrualAccountsFailed: factory.Counter("finledger.accrual.accounts_failed"),
		AccrualTicks:          factory.Histogram("finledger.accrual.ticks"),
		AccrualLatency:        factory.Histogram("finledger.accrual.latency_ms"),
		YieldClaims:           factory.Counter("finledger.yield.claims"),

		// Settlement metrics
		SettlementRules:      factory.Counter("finledger.settlement.rules"),
		SettlementExecutions: factory.Counter("finledger.settlement.executions"),
		SettlementRecipients: factory.Histogram("finledger.settlement.recipients"),
	}

	m.invoiceStatusCounter = map[invoice.Status]Counter{
		invoice.StatusFinanced:  m.InvoiceFinanced,
		invoice.StatusPaid:      m.InvoicePaid,
		invoice.StatusDefaulted: m.InvoiceDefaulted,
	}

	return m
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceIssued implements plugin.OnInvoiceIssued.
func (m *MetricsExtension) OnInvoiceIssued(_ context.Context, _ *invoice.Invoice) error {
	m.InvoiceIssued.Inc()
	return nil
}

// OnInvoiceStatusChanged implements plugin.OnInvoiceStatusChanged.
func (m *MetricsExtension) OnInvoiceStatusChanged(_ context.Context, _ *invoice.Invoice, evt *invoice.LifecycleEvent) error {
	m.InvoiceTransitions.Inc()
	if c, ok := m.invoiceStatusCounter[evt.NewStatus]; ok {
		c.Inc()
	}
	return nil
}

// OnPaymentApplied implements plugin.OnPaymentApplied.
func (m *MetricsExtension) OnPaymentApplied(_ context.Context, _ *invoice.Invoice, paid types.Amount) error {
	m.PaymentsApplied.Inc()
	m.PaymentInstallments.Observe(approx(paid))
	return nil
}

// ──────────────────────────────────────────────────
// Collateral hooks
// ──────────────────────────────────────────────────

// OnCollateralLocked implements plugin.OnCollateralLocked.
func (m *MetricsExtension) OnCollateralLocked(_ context.Context, _ *collateral.Position) error {
	m.CollateralLocked.Inc()
	return nil
}

// OnCollateralReleased implements plugin.OnCollateralReleased.
func (m *MetricsExtension) OnCollateralReleased(_ context.Context, _ *collateral.Position) error {
	m.CollateralReleased.Inc()
	return nil
}

// OnCreditDrawn implements plugin.OnCreditDrawn.
func (m *MetricsExtension) OnCreditDrawn(_ context.Context, _ *collateral.Position, _ types.Amount) error {
	m.CreditDraws.Inc()
	return nil
}

// OnCreditRepaid implements plugin.OnCreditRepaid.
func (m *MetricsExtension) OnCreditRepaid(_ context.Context, _ *collateral.Position, _ types.Amount) error {
	m.CreditRepayments.Inc()
	return nil
}

// OnLimitExceeded implements plugin.OnLimitExceeded.
func (m *MetricsExtension) OnLimitExceeded(_ context.Context, _ *collateral.Position, _ types.Amount, _ error) error {
	m.LimitRejections.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Accrual hooks
// ──────────────────────────────────────────────────

// OnAccrualCycleCompleted implements plugin.OnAccrualCycleCompleted.
func (m *MetricsExtension) OnAccrualCycleCompleted(_ context.Context, run *pool.AccrualRun) error {
	m.AccrualCycles.Inc()
	if run.Aborted {
		m.AccrualCyclesAborted.Inc()
	}
	m.AccrualAccounts.Observe(float64(run.AccountsProcessed))
	m.AccrualTicks.Observe(float64(run.Ticks))
	m.AccrualLatency.Observe(float64(run.FinishedAt.Sub(run.StartedAt).Milliseconds()))
	return nil
}

// OnAccrualAccountFailed implements plugin.OnAccrualAccountFailed.
func (m *MetricsExtension) OnAccrualAccountFailed(_ context.Context, _, _ string, _ error) error {
	m.AccrualAccountsFailed.Inc()
	return nil
}

// OnYieldClaimed implements plugin.OnYieldClaimed.
func (m *MetricsExtension) OnYieldClaimed(_ context.Context, _ *pool.YieldAccount, _ types.Amount) error {
	m.YieldClaims.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementRuleCreated implements plugin.OnSettlementRuleCreated.
func (m *MetricsExtension) OnSettlementRuleCreated(_ context.Context, rule *settlement.Rule) error {
	m.SettlementRules.Inc()
	m.SettlementRecipients.Observe(float64(len(rule.Recipients)))
	return nil
}

// OnSettlementExecuted implements plugin.OnSettlementExecuted.
func (m *MetricsExtension) OnSettlementExecuted(_ context.Context, _ *settlement.Execution) error {
	m.SettlementExecutions.Inc()
	return nil
}

// approx converts an amount to float64 for histograms. Precision loss above
// 2^53 is acceptable for a distribution.
func approx(a types.Amount) float64 {
	f, _ := new(big.Float).SetInt(a.Big()).Float64()
	return f
}
