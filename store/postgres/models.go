package postgres

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xraph/grove"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
	"github.com/xraph/finledger/types"
)

// Amounts are stored as base-10 TEXT so uint256 values round-trip exactly.

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:finledger_invoices"`

	ID             string    `grove:"id,pk"`
	TokenID        string    `grove:"token_id"`
	Status         string    `grove:"status"`
	Issuer         string    `grove:"issuer"`
	Debtor         string    `grove:"debtor"`
	Amount         string    `grove:"amount"`
	CumulativePaid string    `grove:"cumulative_paid"`
	Currency       string    `grove:"currency"`
	DueDate        time.Time `grove:"due_date"`
	IsFinanced     bool      `grove:"is_financed"`
	Version        int64     `grove:"version"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	return &invoiceModel{
		ID:             inv.ID.String(),
		TokenID:        inv.TokenID,
		Status:         string(inv.Status),
		Issuer:         inv.Issuer,
		Debtor:         inv.Debtor,
		Amount:         inv.Amount.String(),
		CumulativePaid: inv.CumulativePaid.String(),
		Currency:       inv.Currency,
		DueDate:        inv.DueDate,
		IsFinanced:     inv.IsFinanced,
		Version:        inv.Version,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invoiceID, err := id.ParseKey(m.ID)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	paid, err := types.ParseAmount(m.CumulativePaid)
	if err != nil {
		return nil, err
	}

	return &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             invoiceID,
		TokenID:        m.TokenID,
		Status:         invoice.Status(m.Status),
		Issuer:         m.Issuer,
		Debtor:         m.Debtor,
		Amount:         amount,
		CumulativePaid: paid,
		Currency:       m.Currency,
		DueDate:        m.DueDate,
		IsFinanced:     m.IsFinanced,
		Version:        m.Version,
	}, nil
}

type lifecycleEventModel struct {
	grove.BaseModel `grove:"table:finledger_lifecycle_events"`

	ID             string    `grove:"id,pk"`
	InvoiceID      string    `grove:"invoice_id"`
	OldStatus      string    `grove:"old_status"`
	NewStatus      string    `grove:"new_status"`
	CumulativePaid string    `grove:"cumulative_paid"`
	Timestamp      time.Time `grove:"timestamp"`
}

func toLifecycleEventModel(e *invoice.LifecycleEvent) *lifecycleEventModel {
	return &lifecycleEventModel{
		ID:             e.ID.String(),
		InvoiceID:      e.InvoiceID.String(),
		OldStatus:      string(e.OldStatus),
		NewStatus:      string(e.NewStatus),
		CumulativePaid: e.CumulativePaid.String(),
		Timestamp:      e.Timestamp,
	}
}

func fromLifecycleEventModel(m *lifecycleEventModel) (*invoice.LifecycleEvent, error) {
	eventID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	invoiceID, err := id.ParseKey(m.InvoiceID)
	if err != nil {
		return nil, err
	}
	paid, err := types.ParseAmount(m.CumulativePaid)
	if err != nil {
		return nil, err
	}

	return &invoice.LifecycleEvent{
		ID:             eventID,
		InvoiceID:      invoiceID,
		OldStatus:      invoice.Status(m.OldStatus),
		NewStatus:      invoice.Status(m.NewStatus),
		CumulativePaid: paid,
		Timestamp:      m.Timestamp,
	}, nil
}

// ==================== Collateral models ====================

type positionModel struct {
	grove.BaseModel `grove:"table:finledger_positions"`

	InvoiceID   string    `grove:"invoice_id,pk"`
	TokenID     string    `grove:"token_id"`
	Owner       string    `grove:"owner"`
	PoolID      string    `grove:"pool_id"`
	FaceValue   string    `grove:"face_value"`
	LTVBps      int64     `grove:"ltv_bps"`
	CreditLimit string    `grove:"credit_limit"`
	UsedCredit  string    `grove:"used_credit"`
	Present     bool      `grove:"present"`
	Exited      bool      `grove:"exited"`
	Version     int64     `grove:"version"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

func toPositionModel(p *collateral.Position) *positionModel {
	return &positionModel{
		InvoiceID:   p.InvoiceID.String(),
		TokenID:     p.TokenID,
		Owner:       p.Owner,
		PoolID:      p.PoolID,
		FaceValue:   p.FaceValue.String(),
		LTVBps:      int64(p.LTVBps),
		CreditLimit: p.CreditLimit.String(),
		UsedCredit:  p.UsedCredit.String(),
		Present:     p.Exists,
		Exited:      p.Exited,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func fromPositionModel(m *positionModel) (*collateral.Position, error) {
	invoiceID, err := id.ParseKey(m.InvoiceID)
	if err != nil {
		return nil, err
	}
	face, err := types.ParseAmount(m.FaceValue)
	if err != nil {
		return nil, err
	}
	limit, err := types.ParseAmount(m.CreditLimit)
	if err != nil {
		return nil, err
	}
	used, err := types.ParseAmount(m.UsedCredit)
	if err != nil {
		return nil, err
	}

	return &collateral.Position{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		InvoiceID:   invoiceID,
		TokenID:     m.TokenID,
		Owner:       m.Owner,
		PoolID:      m.PoolID,
		FaceValue:   face,
		LTVBps:      uint32(m.LTVBps),
		CreditLimit: limit,
		UsedCredit:  used,
		Exists:      m.Present,
		Exited:      m.Exited,
		Version:     m.Version,
	}, nil
}

// ==================== Pool models ====================

type poolModel struct {
	grove.BaseModel `grove:"table:finledger_pools"`

	ID                string    `grove:"id,pk"`
	Name              string    `grove:"name"`
	Currency          string    `grove:"currency"`
	AnnualRate        string    `grove:"annual_rate"`
	TickIntervalNs    int64     `grove:"tick_interval_ns"`
	TicksPerYear      int64     `grove:"ticks_per_year"`
	LTVBps            int64     `grove:"ltv_bps"`
	MaxUtilizationBps int64     `grove:"max_utilization_bps"`
	Liquidity         string    `grove:"liquidity"`
	LastAccruedAt     time.Time `grove:"last_accrued_at"`
	Version           int64     `grove:"version"`
	CreatedAt         time.Time `grove:"created_at"`
	UpdatedAt         time.Time `grove:"updated_at"`
}

func toPoolModel(p *pool.Pool) *poolModel {
	return &poolModel{
		ID:                p.ID,
		Name:              p.Name,
		Currency:          p.Currency,
		AnnualRate:        p.AnnualRate.String(),
		TickIntervalNs:    int64(p.TickInterval),
		TicksPerYear:      int64(p.TicksPerYear),
		LTVBps:            int64(p.LTVBps),
		MaxUtilizationBps: int64(p.MaxUtilizationBps),
		Liquidity:         p.Liquidity.String(),
		LastAccruedAt:     p.LastAccruedAt,
		Version:           p.Version,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func fromPoolModel(m *poolModel) (*pool.Pool, error) {
	rate, err := decimal.NewFromString(m.AnnualRate)
	if err != nil {
		return nil, err
	}
	liquidity, err := types.ParseAmount(m.Liquidity)
	if err != nil {
		return nil, err
	}

	return &pool.Pool{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                m.ID,
		Name:              m.Name,
		Currency:          m.Currency,
		AnnualRate:        rate,
		TickInterval:      time.Duration(m.TickIntervalNs),
		TicksPerYear:      uint64(m.TicksPerYear),
		LTVBps:            uint32(m.LTVBps),
		MaxUtilizationBps: uint32(m.MaxUtilizationBps),
		Liquidity:         liquidity,
		LastAccruedAt:     m.LastAccruedAt,
		Version:           m.Version,
	}, nil
}

type poolAccountModel struct {
	grove.BaseModel `grove:"table:finledger_pool_accounts"`

	PoolID       string    `grove:"pool_id,pk"`
	Wallet       string    `grove:"wallet,pk"`
	ShareBalance string    `grove:"share_balance"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toPoolAccountModel(a *pool.Account) *poolAccountModel {
	return &poolAccountModel{
		PoolID:       a.PoolID,
		Wallet:       a.Wallet,
		ShareBalance: a.ShareBalance.String(),
		UpdatedAt:    a.UpdatedAt,
	}
}

func fromPoolAccountModel(m *poolAccountModel) (*pool.Account, error) {
	shares, err := types.ParseAmount(m.ShareBalance)
	if err != nil {
		return nil, err
	}

	return &pool.Account{
		Wallet:       m.Wallet,
		PoolID:       m.PoolID,
		ShareBalance: shares,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

type yieldAccountModel struct {
	grove.BaseModel `grove:"table:finledger_yield_accounts"`

	PoolID         string    `grove:"pool_id,pk"`
	Wallet         string    `grove:"wallet,pk"`
	AccruedYield   string    `grove:"accrued_yield"`
	Carry          string    `grove:"carry"`
	AccruedThrough time.Time `grove:"accrued_through"`
	Version        int64     `grove:"version"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
}

func toYieldAccountModel(ya *pool.YieldAccount) *yieldAccountModel {
	return &yieldAccountModel{
		PoolID:         ya.PoolID,
		Wallet:         ya.Wallet,
		AccruedYield:   ya.AccruedYield.String(),
		Carry:          ya.Carry.String(),
		AccruedThrough: ya.AccruedThrough,
		Version:        ya.Version,
		CreatedAt:      ya.CreatedAt,
		UpdatedAt:      ya.UpdatedAt,
	}
}

func fromYieldAccountModel(m *yieldAccountModel) (*pool.YieldAccount, error) {
	accrued, err := types.ParseAmount(m.AccruedYield)
	if err != nil {
		return nil, err
	}
	carry, err := types.ParseAmount(m.Carry)
	if err != nil {
		return nil, err
	}

	return &pool.YieldAccount{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Wallet:         m.Wallet,
		PoolID:         m.PoolID,
		AccruedYield:   accrued,
		Carry:          carry,
		AccruedThrough: m.AccruedThrough,
		Version:        m.Version,
	}, nil
}

type accrualRunModel struct {
	grove.BaseModel `grove:"table:finledger_accrual_runs"`

	ID                string    `grove:"id,pk"`
	PoolID            string    `grove:"pool_id"`
	FromTime          time.Time `grove:"from_time"`
	ToTime            time.Time `grove:"to_time"`
	Ticks             int64     `grove:"ticks"`
	AccountsProcessed int       `grove:"accounts_processed"`
	AccountsSucceeded int       `grove:"accounts_succeeded"`
	AccountsFailed    int       `grove:"accounts_failed"`
	TotalYieldAccrued string    `grove:"total_yield_accrued"`
	Aborted           bool      `grove:"aborted"`
	StartedAt         time.Time `grove:"started_at"`
	FinishedAt        time.Time `grove:"finished_at"`
}

func toAccrualRunModel(r *pool.AccrualRun) *accrualRunModel {
	return &accrualRunModel{
		ID:                r.ID.String(),
		PoolID:            r.PoolID,
		FromTime:          r.From,
		ToTime:            r.To,
		Ticks:             int64(r.Ticks),
		AccountsProcessed: r.AccountsProcessed,
		AccountsSucceeded: r.AccountsSucceeded,
		AccountsFailed:    r.AccountsFailed,
		TotalYieldAccrued: r.TotalYieldAccrued.String(),
		Aborted:           r.Aborted,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
	}
}

func fromAccrualRunModel(m *accrualRunModel) (*pool.AccrualRun, error) {
	runID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, err
	}
	total, err := types.ParseAmount(m.TotalYieldAccrued)
	if err != nil {
		return nil, err
	}

	return &pool.AccrualRun{
		ID:                runID,
		PoolID:            m.PoolID,
		From:              m.FromTime,
		To:                m.ToTime,
		Ticks:             uint64(m.Ticks),
		AccountsProcessed: m.AccountsProcessed,
		AccountsSucceeded: m.AccountsSucceeded,
		AccountsFailed:    m.AccountsFailed,
		TotalYieldAccrued: total,
		Aborted:           m.Aborted,
		StartedAt:         m.StartedAt,
		FinishedAt:        m.FinishedAt,
	}, nil
}

// ==================== Settlement models ====================

type ruleModel struct {
	grove.BaseModel `grove:"table:finledger_settlement_rules"`

	ID          string          `grove:"id,pk"`
	ExternalRef string          `grove:"external_ref"`
	InvoiceID   string          `grove:"invoice_id"`
	Payer       string          `grove:"payer"`
	Recipients  json.RawMessage `grove:"recipients,type:jsonb"`
	BpsSplit    json.RawMessage `grove:"bps_split,type:jsonb"`
	Active      bool            `grove:"active"`
	Version     int64           `grove:"version"`
	CreatedAt   time.Time       `grove:"created_at"`
	UpdatedAt   time.Time       `grove:"updated_at"`
}

func toRuleModel(r *settlement.Rule) *ruleModel {
	recipients, _ := json.Marshal(r.Recipients) //nolint:errcheck // []string always marshals
	bps, _ := json.Marshal(r.BpsSplit)          //nolint:errcheck // []uint32 always marshals

	return &ruleModel{
		ID:          r.ID.String(),
		ExternalRef: r.ExternalRef,
		InvoiceID:   r.InvoiceID.String(),
		Payer:       r.Payer,
		Recipients:  recipients,
		BpsSplit:    bps,
		Active:      r.Active,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func fromRuleModel(m *ruleModel) (*settlement.Rule, error) {
	ruleID, err := id.ParseRuleID(m.ID)
	if err != nil {
		return nil, err
	}
	invoiceID, err := id.ParseKey(m.InvoiceID)
	if err != nil {
		return nil, err
	}

	var recipients []string
	if err := json.Unmarshal(m.Recipients, &recipients); err != nil {
		return nil, err
	}
	var bps []uint32
	if err := json.Unmarshal(m.BpsSplit, &bps); err != nil {
		return nil, err
	}

	return &settlement.Rule{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          ruleID,
		ExternalRef: m.ExternalRef,
		InvoiceID:   invoiceID,
		Payer:       m.Payer,
		Recipients:  recipients,
		BpsSplit:    bps,
		Active:      m.Active,
		Version:     m.Version,
	}, nil
}

type executionModel struct {
	grove.BaseModel `grove:"table:finledger_settlement_executions"`

	ID          string          `grove:"id,pk"`
	RuleID      string          `grove:"rule_id"`
	InvoiceID   string          `grove:"invoice_id"`
	GrossAmount string          `grove:"gross_amount"`
	Currency    string          `grove:"currency"`
	Splits      json.RawMessage `grove:"splits,type:jsonb"`
	Timestamp   time.Time       `grove:"timestamp"`
	CreatedAt   time.Time       `grove:"created_at"`
}

func toExecutionModel(e *settlement.Execution) *executionModel {
	splits, _ := json.Marshal(e.Splits) //nolint:errcheck // amounts marshal as text

	return &executionModel{
		ID:          e.ID,
		RuleID:      e.RuleID.String(),
		InvoiceID:   e.InvoiceID.String(),
		GrossAmount: e.GrossAmount.String(),
		Currency:    e.Currency,
		Splits:      splits,
		Timestamp:   e.Timestamp,
		CreatedAt:   e.CreatedAt,
	}
}

func fromExecutionModel(m *executionModel) (*settlement.Execution, error) {
	ruleID, err := id.ParseRuleID(m.RuleID)
	if err != nil {
		return nil, err
	}
	invoiceID, err := id.ParseKey(m.InvoiceID)
	if err != nil {
		return nil, err
	}
	gross, err := types.ParseAmount(m.GrossAmount)
	if err != nil {
		return nil, err
	}

	var splits []settlement.Split
	if err := json.Unmarshal(m.Splits, &splits); err != nil {
		return nil, err
	}

	return &settlement.Execution{
		ID:          m.ID,
		RuleID:      ruleID,
		InvoiceID:   invoiceID,
		GrossAmount: gross,
		Currency:    m.Currency,
		Splits:      splits,
		Timestamp:   m.Timestamp,
		CreatedAt:   m.CreatedAt,
	}, nil
}
