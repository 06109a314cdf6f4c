package audithook

// Action constants for audit events.
const (
	// Invoice actions
	ActionInvoiceIssued        = "invoice.issued"
	ActionInvoiceStatusChanged = "invoice.status_changed"
	ActionInvoiceDefaulted     = "invoice.defaulted"
	ActionPaymentApplied       = "payment.applied"

	// Collateral actions
	ActionCollateralLocked   = "collateral.locked"
	ActionCollateralReleased = "collateral.released"
	ActionCreditDrawn        = "credit.drawn"
	ActionCreditRepaid       = "credit.repaid"
	ActionLimitExceeded      = "credit.limit_exceeded"

	// Accrual actions
	ActionAccrualCompleted     = "accrual.completed"
	ActionAccrualAborted       = "accrual.aborted"
	ActionAccrualAccountFailed = "accrual.account_failed"
	ActionYieldClaimed         = "yield.claimed"

	// Settlement actions
	ActionSettlementRuleCreated = "settlement.rule_created"
	ActionSettlementExecuted    = "settlement.executed"
)

// Resource constants for audit events.
const (
	ResourceInvoice   = "invoice"
	ResourcePosition  = "position"
	ResourcePool      = "pool"
	ResourceYield     = "yield_account"
	ResourceRule      = "settlement_rule"
	ResourceExecution = "settlement_execution"
)

// Category constants for audit events.
const (
	CategoryLifecycle  = "lifecycle"
	CategoryCollateral = "collateral"
	CategoryAccrual    = "accrual"
	CategorySettlement = "settlement"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
