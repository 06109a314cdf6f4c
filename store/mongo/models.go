package mongo

import (
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

// Amounts are decimal strings. Decimal128 holds 34 digits, which is short
// of the 78 a uint256 needs.

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:finledger_invoices"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	TokenID        string    `grove:"token_id"        bson:"token_id"`
	Status         string    `grove:"status"          bson:"status"`
	Issuer         string    `grove:"issuer"          bson:"issuer"`
	Debtor         string    `grove:"debtor"          bson:"debtor"`
	Amount         string    `grove:"amount"          bson:"amount"`
	CumulativePaid string    `grove:"cumulative_paid" bson:"cumulative_paid"`
	Currency       string    `grove:"currency"        bson:"currency"`
	DueDate        time.Time `grove:"due_date"        bson:"due_date"`
	IsFinanced     bool      `grove:"is_financed"     bson:"is_financed"`
	Version        int64     `grove:"version"         bson:"version"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"      bson:"updated_at"`
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

	ID             string    `grove:"id,pk"           bson:"_id"`
	InvoiceID      string    `grove:"invoice_id"      bson:"invoice_id"`
	OldStatus      string    `grove:"old_status"      bson:"old_status"`
	NewStatus      string    `grove:"new_status"      bson:"new_status"`
	CumulativePaid string    `grove:"cumulative_paid" bson:"cumulative_paid"`
	Timestamp      time.Time `grove:"timestamp"       bson:"timestamp"`
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

	InvoiceID   string    `grove:"invoice_id,pk" bson:"_id"`
	TokenID     string    `grove:"token_id"      bson:"token_id"`
	Owner       string    `grove:"owner"         bson:"owner"`
	PoolID      string    `grove:"pool_id"       bson:"pool_id"`
	FaceValue   string    `grove:"face_value"    bson:"face_value"`
	LTVBps      uint32    `grove:"ltv_bps"       bson:"ltv_bps"`
	CreditLimit string    `grove:"credit_limit"  bson:"credit_limit"`
	UsedCredit  string    `grove:"used_credit"   bson:"used_credit"`
	Exists      bool      `grove:"exists"        bson:"exists"`
	Exited      bool      `grove:"exited"        bson:"exited"`
	Version     int64     `grove:"version"       bson:"version"`
	CreatedAt   time.Time `grove:"created_at"    bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"    bson:"updated_at"`
}

func toPositionModel(p *collateral.Position) *positionModel {
	return &positionModel{
		InvoiceID:   p.InvoiceID.String(),
		TokenID:     p.TokenID,
		Owner:       p.Owner,
		PoolID:      p.PoolID,
		FaceValue:   p.FaceValue.String(),
		LTVBps:      p.LTVBps,
		CreditLimit: p.CreditLimit.String(),
		UsedCredit:  p.UsedCredit.String(),
		Exists:      p.Exists,
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
		LTVBps:      m.LTVBps,
		CreditLimit: limit,
		UsedCredit:  used,
		Exists:      m.Exists,
		Exited:      m.Exited,
		Version:     m.Version,
	}, nil
}

// ==================== Pool models ====================

type poolModel struct {
	grove.BaseModel `grove:"table:finledger_pools"`

	ID                string        `grove:"id,pk"               bson:"_id"`
	Name              string        `grove:"name"                bson:"name,omitempty"`
	Currency          string        `grove:"currency"            bson:"currency"`
	AnnualRate        string        `grove:"annual_rate"         bson:"annual_rate"`
	TickInterval      time.Duration `grove:"tick_interval"       bson:"tick_interval"`
	TicksPerYear      uint64        `grove:"ticks_per_year"      bson:"ticks_per_year"`
	LTVBps            uint32        `grove:"ltv_bps"             bson:"ltv_bps"`
	MaxUtilizationBps uint32        `grove:"max_utilization_bps" bson:"max_utilization_bps"`
	Liquidity         string        `grove:"liquidity"           bson:"liquidity"`
	LastAccruedAt     time.Time     `grove:"last_accrued_at"     bson:"last_accrued_at"`
	Version           int64         `grove:"version"             bson:"version"`
	CreatedAt         time.Time     `grove:"created_at"          bson:"created_at"`
	UpdatedAt         time.Time     `grove:"updated_at"          bson:"updated_at"`
}

func toPoolModel(p *pool.Pool) *poolModel {
	return &poolModel{
		ID:                p.ID,
		Name:              p.Name,
		Currency:          p.Currency,
		AnnualRate:        p.AnnualRate.String(),
		TickInterval:      p.TickInterval,
		TicksPerYear:      p.TicksPerYear,
		LTVBps:            p.LTVBps,
		MaxUtilizationBps: p.MaxUtilizationBps,
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
		TickInterval:      m.TickInterval,
		TicksPerYear:      m.TicksPerYear,
		LTVBps:            m.LTVBps,
		MaxUtilizationBps: m.MaxUtilizationBps,
		Liquidity:         liquidity,
		LastAccruedAt:     m.LastAccruedAt,
		Version:           m.Version,
	}, nil
}

// accountID is the document key of a per-(pool, wallet) record.
func accountID(poolID, wallet string) string {
	return poolID + "/" + wallet
}

type poolAccountModel struct {
	grove.BaseModel `grove:"table:finledger_pool_accounts"`

	ID           string    `grove:"id,pk"         bson:"_id"`
	PoolID       string    `grove:"pool_id"       bson:"pool_id"`
	Wallet       string    `grove:"wallet"        bson:"wallet"`
	ShareBalance string    `grove:"share_balance" bson:"share_balance"`
	UpdatedAt    time.Time `grove:"updated_at"    bson:"updated_at"`
}

func toPoolAccountModel(a *pool.Account) *poolAccountModel {
	return &poolAccountModel{
		ID:           accountID(a.PoolID, a.Wallet),
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

	ID             string    `grove:"id,pk"           bson:"_id"`
	PoolID         string    `grove:"pool_id"         bson:"pool_id"`
	Wallet         string    `grove:"wallet"          bson:"wallet"`
	AccruedYield   string    `grove:"accrued_yield"   bson:"accrued_yield"`
	Carry          string    `grove:"carry"           bson:"carry"`
	AccruedThrough time.Time `grove:"accrued_through" bson:"accrued_through"`
	Version        int64     `grove:"version"         bson:"version"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"      bson:"updated_at"`
}

func toYieldAccountModel(ya *pool.YieldAccount) *yieldAccountModel {
	return &yieldAccountModel{
		ID:             accountID(ya.PoolID, ya.Wallet),
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

	ID                string    `grove:"id,pk"               bson:"_id"`
	PoolID            string    `grove:"pool_id"             bson:"pool_id"`
	From              time.Time `grove:"from_time"           bson:"from"`
	To                time.Time `grove:"to_time"             bson:"to"`
	Ticks             uint64    `grove:"ticks"               bson:"ticks"`
	AccountsProcessed int       `grove:"accounts_processed"  bson:"accounts_processed"`
	AccountsSucceeded int       `grove:"accounts_succeeded"  bson:"accounts_succeeded"`
	AccountsFailed    int       `grove:"accounts_failed"     bson:"accounts_failed"`
	TotalYieldAccrued string    `grove:"total_yield_accrued" bson:"total_yield_accrued"`
	Aborted           bool      `grove:"aborted"             bson:"aborted"`
	StartedAt         time.Time `grove:"started_at"          bson:"started_at"`
	FinishedAt        time.Time `grove:"finished_at"         bson:"finished_at"`
}

func toAccrualRunModel(r *pool.AccrualRun) *accrualRunModel {
	return &accrualRunModel{
		ID:                r.ID.String(),
		PoolID:            r.PoolID,
		From:              r.From,
		To:                r.To,
		Ticks:             r.Ticks,
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
		From:              m.From,
		To:                m.To,
		Ticks:             m.Ticks,
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

	ID          string    `grove:"id,pk"        bson:"_id"`
	ExternalRef string    `grove:"external_ref" bson:"external_ref,omitempty"`
	InvoiceID   string    `grove:"invoice_id"   bson:"invoice_id"`
	Payer       string    `grove:"payer"        bson:"payer"`
	Recipients  []string  `grove:"recipients"   bson:"recipients"`
	BpsSplit    []uint32  `grove:"bps_split"    bson:"bps_split"`
	Active      bool      `grove:"active"       bson:"active"`
	Version     int64     `grove:"version"      bson:"version"`
	CreatedAt   time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"   bson:"updated_at"`
}

func toRuleModel(r *settlement.Rule) *ruleModel {
	return &ruleModel{
		ID:          r.ID.String(),
		ExternalRef: r.ExternalRef,
		InvoiceID:   r.InvoiceID.String(),
		Payer:       r.Payer,
		Recipients:  r.Recipients,
		BpsSplit:    r.BpsSplit,
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

	return &settlement.Rule{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          ruleID,
		ExternalRef: m.ExternalRef,
		InvoiceID:   invoiceID,
		Payer:       m.Payer,
		Recipients:  m.Recipients,
		BpsSplit:    m.BpsSplit,
		Active:      m.Active,
		Version:     m.Version,
	}, nil
}

type splitModel struct {
	Recipient string `bson:"recipient"`
	Amount    string `bson:"amount"`
}

type executionModel struct {
	grove.BaseModel `grove:"table:finledger_settlement_executions"`

	ID          string       `grove:"id,pk"        bson:"_id"`
	RuleID      string       `grove:"rule_id"      bson:"rule_id"`
	InvoiceID   string       `grove:"invoice_id"   bson:"invoice_id"`
	GrossAmount string       `grove:"gross_amount" bson:"gross_amount"`
	Currency    string       `grove:"currency"     bson:"currency"`
	Splits      []splitModel `grove:"splits"       bson:"splits"`
	Timestamp   time.Time    `grove:"timestamp"    bson:"timestamp"`
	CreatedAt   time.Time    `grove:"created_at"   bson:"created_at"`
}

func toExecutionModel(e *settlement.Execution) *executionModel {
	splits := make([]splitModel, len(e.Splits))
	for i, sp := range e.Splits {
		splits[i] = splitModel{Recipient: sp.Recipient, Amount: sp.Amount.String()}
	}

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

	splits := make([]settlement.Split, len(m.Splits))
	for i, sp := range m.Splits {
		amount, err := types.ParseAmount(sp.Amount)
		if err != nil {
			return nil, err
		}
		splits[i] = settlement.Split{Recipient: sp.Recipient, Amount: amount}
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
