package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
	finstore "github.com/xraph/finledger/store"
	"github.com/xraph/finledger/types"
)

// compile-time interface check
var _ finstore.Store = (*Store)(nil)

// casAttempts bounds the read-modify-write loop of DebitYield.
const casAttempts = 5

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("finledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("finledger/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Invoice Store ====================

// createInvoiceSQL inserts the invoice and, only when the row was new, its
// issuance event in one statement.
const createInvoiceSQL = `
WITH ins AS (
    INSERT INTO finledger_invoices (id, token_id, status, issuer, debtor, amount,
        cumulative_paid, currency, due_date, is_financed, version, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    ON CONFLICT (id) DO NOTHING
    RETURNING id
), evt AS (
    INSERT INTO finledger_lifecycle_events (id, invoice_id, old_status, new_status, cumulative_paid, timestamp)
    SELECT $14, ins.id, $15, $16, $17, $18::timestamptz FROM ins
    WHERE $14 != ''
    RETURNING id
)
SELECT COUNT(*) FROM ins`

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice, evt *invoice.LifecycleEvent) error {
	m := toInvoiceModel(inv)

	e := &lifecycleEventModel{Timestamp: m.CreatedAt}
	if evt != nil {
		e = toLifecycleEventModel(evt)
	}

	var inserted int64
	err := s.pg.NewRaw(createInvoiceSQL,
		m.ID, m.TokenID, m.Status, m.Issuer, m.Debtor, m.Amount,
		m.CumulativePaid, m.Currency, m.DueDate, m.IsFinanced, m.Version,
		m.CreatedAt, m.UpdatedAt,
		e.ID, e.OldStatus, e.NewStatus, e.CumulativePaid, e.Timestamp,
	).Scan(ctx, &inserted)
	if err != nil {
		return err
	}
	if inserted == 0 {
		return finledger.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID id.Key) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", invoiceID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, finledger.ErrUnknownInvoice
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Issuer != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("issuer = $%d", argIdx), opts.Issuer)
	}
	if opts.Financed != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("is_financed = $%d", argIdx), *opts.Financed)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

// updateInvoiceSQL swaps the invoice row on its version and appends the
// lifecycle event only when the swap matched, all in one statement.
const updateInvoiceSQL = `
WITH upd AS (
    UPDATE finledger_invoices
    SET token_id = $1, status = $2, issuer = $3, debtor = $4, amount = $5,
        cumulative_paid = $6, currency = $7, due_date = $8, is_financed = $9,
        version = $10, updated_at = $11
    WHERE id = $12 AND version = $13
    RETURNING id
), ins AS (
    INSERT INTO finledger_lifecycle_events (id, invoice_id, old_status, new_status, cumulative_paid, timestamp)
    SELECT $14, upd.id, $15, $16, $17, $18::timestamptz FROM upd
    WHERE $14 != ''
    RETURNING id
)
SELECT COUNT(*) FROM upd`

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64, evt *invoice.LifecycleEvent) error {
	m := toInvoiceModel(inv)
	m.Version = expectedVersion + 1

	e := &lifecycleEventModel{Timestamp: m.UpdatedAt}
	if evt != nil {
		e = toLifecycleEventModel(evt)
	}

	var matched int64
	err := s.pg.NewRaw(updateInvoiceSQL,
		m.TokenID, m.Status, m.Issuer, m.Debtor, m.Amount,
		m.CumulativePaid, m.Currency, m.DueDate, m.IsFinanced,
		m.Version, m.UpdatedAt,
		m.ID, expectedVersion,
		e.ID, e.OldStatus, e.NewStatus, e.CumulativePaid, e.Timestamp,
	).Scan(ctx, &matched)
	if err != nil {
		return err
	}

	if matched == 0 {
		if _, err := s.GetInvoice(ctx, inv.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: invoice %s moved past version %d", finledger.ErrConflict, inv.ID, expectedVersion)
	}

	inv.Version = m.Version
	return nil
}

func (s *Store) ListLifecycleEvents(ctx context.Context, invoiceID id.Key) ([]*invoice.LifecycleEvent, error) {
	var models []lifecycleEventModel
	err := s.pg.NewSelect(&models).
		Where("invoice_id = $1", invoiceID.String()).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*invoice.LifecycleEvent, len(models))
	for i := range models {
		e, err := fromLifecycleEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Collateral Store ====================

func (s *Store) CreatePosition(ctx context.Context, p *collateral.Position) error {
	m := toPositionModel(p)
	res, err := s.pg.NewInsert(m).
		OnConflict("(invoice_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return finledger.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetPosition(ctx context.Context, invoiceID id.Key) (*collateral.Position, error) {
	m := new(positionModel)
	err := s.pg.NewSelect(m).
		Where("invoice_id = $1", invoiceID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, finledger.ErrPositionNotFound
		}
		return nil, err
	}
	return fromPositionModel(m)
}

func (s *Store) UpdatePosition(ctx context.Context, p *collateral.Position, expectedVersion int64) error {
	m := toPositionModel(p)
	res, err := s.pg.NewUpdate((*positionModel)(nil)).
		Set("token_id = $1", m.TokenID).
		Set("owner = $2", m.Owner).
		Set("pool_id = $3", m.PoolID).
		Set("face_value = $4", m.FaceValue).
		Set("ltv_bps = $5", m.LTVBps).
		Set("credit_limit = $6", m.CreditLimit).
		Set("used_credit = $7", m.UsedCredit).
		Set("present = $8", m.Present).
		Set("exited = $9", m.Exited).
		Set("version = $10", expectedVersion+1).
		Set("created_at = $11", m.CreatedAt).
		Set("updated_at = $12", m.UpdatedAt).
		Where("invoice_id = $13", m.InvoiceID).
		Where("version = $14", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetPosition(ctx, p.InvoiceID); err != nil {
			return err
		}
		return fmt.Errorf("%w: position %s moved past version %d", finledger.ErrConflict, p.InvoiceID, expectedVersion)
	}

	p.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListPositions(ctx context.Context, poolID string) ([]*collateral.Position, error) {
	var models []positionModel
	err := s.pg.NewSelect(&models).
		Where("pool_id = $1", poolID).
		OrderExpr("invoice_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*collateral.Position, len(models))
	for i := range models {
		p, err := fromPositionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// SumUsedCredit aggregates in NUMERIC, which holds any uint256 sum exactly.
func (s *Store) SumUsedCredit(ctx context.Context, poolID string) (types.Amount, error) {
	var total string
	err := s.pg.NewRaw(`
		SELECT COALESCE(SUM(used_credit::numeric), 0)::text FROM finledger_positions
		WHERE pool_id = $1 AND present AND NOT exited
	`, poolID).Scan(ctx, &total)
	if err != nil {
		return types.Zero(), err
	}
	return types.ParseAmount(total)
}

// ==================== Pool Store ====================

func (s *Store) CreatePool(ctx context.Context, p *pool.Pool) error {
	m := toPoolModel(p)
	res, err := s.pg.NewInsert(m).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return finledger.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetPool(ctx context.Context, poolID string) (*pool.Pool, error) {
	m := new(poolModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", poolID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, finledger.ErrPoolNotFound
		}
		return nil, err
	}
	return fromPoolModel(m)
}

func (s *Store) ListPools(ctx context.Context) ([]*pool.Pool, error) {
	var models []poolModel
	if err := s.pg.NewSelect(&models).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*pool.Pool, len(models))
	for i := range models {
		p, err := fromPoolModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePool(ctx context.Context, p *pool.Pool, expectedVersion int64) error {
	m := toPoolModel(p)
	res, err := s.pg.NewUpdate((*poolModel)(nil)).
		Set("name = $1", m.Name).
		Set("currency = $2", m.Currency).
		Set("annual_rate = $3", m.AnnualRate).
		Set("tick_interval_ns = $4", m.TickIntervalNs).
		Set("ticks_per_year = $5", m.TicksPerYear).
		Set("ltv_bps = $6", m.LTVBps).
		Set("max_utilization_bps = $7", m.MaxUtilizationBps).
		Set("liquidity = $8", m.Liquidity).
		Set("last_accrued_at = $9", m.LastAccruedAt).
		Set("version = $10", expectedVersion+1).
		Set("updated_at = $11", m.UpdatedAt).
		Where("id = $12", m.ID).
		Where("version = $13", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetPool(ctx, p.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: pool %s moved past version %d", finledger.ErrConflict, p.ID, expectedVersion)
	}

	p.Version = expectedVersion + 1
	return nil
}

func (s *Store) PutShareBalances(ctx context.Context, accounts []*pool.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	models := make([]poolAccountModel, len(accounts))
	for i, a := range accounts {
		models[i] = *toPoolAccountModel(a)
	}
	_, err := s.pg.NewInsert(&models).
		OnConflict("(pool_id, wallet) DO UPDATE").
		Set("share_balance = EXCLUDED.share_balance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) ListShareBalances(ctx context.Context, poolID string) ([]*pool.Account, error) {
	var models []poolAccountModel
	err := s.pg.NewSelect(&models).
		Where("pool_id = $1", poolID).
		OrderExpr("wallet ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*pool.Account, len(models))
	for i := range models {
		a, err := fromPoolAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) GetYieldAccount(ctx context.Context, wallet, poolID string) (*pool.YieldAccount, error) {
	m := new(yieldAccountModel)
	err := s.pg.NewSelect(m).
		Where("pool_id = $1", poolID).
		Where("wallet = $2", wallet).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, finledger.ErrNotFound
		}
		return nil, err
	}
	return fromYieldAccountModel(m)
}

func (s *Store) ListYieldAccounts(ctx context.Context, poolID string) ([]*pool.YieldAccount, error) {
	var models []yieldAccountModel
	err := s.pg.NewSelect(&models).
		Where("pool_id = $1", poolID).
		OrderExpr("wallet ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*pool.YieldAccount, len(models))
	for i := range models {
		ya, err := fromYieldAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = ya
	}
	return result, nil
}

// AccrueYield reads the account, applies the delta in Go and writes it back
// with a version swap. Any interleaved write surfaces as ErrConflict and
// the caller re-reads.
func (s *Store) AccrueYield(ctx context.Context, u pool.AccrualUpdate) (types.Amount, error) {
	cur, err := s.GetYieldAccount(ctx, u.Wallet, u.PoolID)
	if err != nil && !errors.Is(err, finledger.ErrNotFound) {
		return types.Zero(), err
	}

	if cur == nil {
		if !u.ExpectedThrough.IsZero() {
			return types.Zero(), fmt.Errorf("%w: yield account %s/%s does not exist", finledger.ErrConflict, u.PoolID, u.Wallet)
		}
		next := &pool.YieldAccount{
			Entity:  types.NewEntityAt(u.At),
			Wallet:  u.Wallet,
			PoolID:  u.PoolID,
			Version: 1,
		}
		credited, err := next.Apply(u.Scaled, u.Through)
		if err != nil {
			return types.Zero(), err
		}
		res, err := s.pg.NewInsert(toYieldAccountModel(next)).
			OnConflict("(pool_id, wallet) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return types.Zero(), err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return types.Zero(), err
		}
		if rows == 0 {
			return types.Zero(), fmt.Errorf("%w: yield account %s/%s created concurrently", finledger.ErrConflict, u.PoolID, u.Wallet)
		}
		return credited, nil
	}

	if !sameInstant(cur.AccruedThrough, u.ExpectedThrough) {
		return types.Zero(), fmt.Errorf("%w: yield account %s/%s accrued through %s, expected %s",
			finledger.ErrConflict, u.PoolID, u.Wallet, cur.AccruedThrough, u.ExpectedThrough)
	}

	expected := cur.Version
	credited, err := cur.Apply(u.Scaled, u.Through)
	if err != nil {
		return types.Zero(), err
	}
	cur.Touch(u.At)

	if err := s.swapYieldAccount(ctx, cur, expected); err != nil {
		return types.Zero(), err
	}
	return credited, nil
}

func (s *Store) DebitYield(ctx context.Context, wallet, poolID string, amount types.Amount) (*pool.YieldAccount, error) {
	for range casAttempts {
		cur, err := s.GetYieldAccount(ctx, wallet, poolID)
		if err != nil {
			return nil, err
		}

		rest, err := cur.AccruedYield.Sub(amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %s accrued, %s requested", finledger.ErrInsufficientYield, cur.AccruedYield, amount)
		}

		expected := cur.Version
		cur.AccruedYield = rest
		cur.Touch(now())

		err = s.swapYieldAccount(ctx, cur, expected)
		if err == nil {
			return cur, nil
		}
		if !errors.Is(err, finledger.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: yield account %s/%s kept changing", finledger.ErrConflict, poolID, wallet)
}

// swapYieldAccount writes ya if the stored version is still expected.
func (s *Store) swapYieldAccount(ctx context.Context, ya *pool.YieldAccount, expected int64) error {
	m := toYieldAccountModel(ya)
	res, err := s.pg.NewUpdate((*yieldAccountModel)(nil)).
		Set("accrued_yield = $1", m.AccruedYield).
		Set("carry = $2", m.Carry).
		Set("accrued_through = $3", m.AccruedThrough).
		Set("version = $4", expected+1).
		Set("updated_at = $5", m.UpdatedAt).
		Where("pool_id = $6", m.PoolID).
		Where("wallet = $7", m.Wallet).
		Where("version = $8", expected).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: yield account %s/%s moved past version %d", finledger.ErrConflict, ya.PoolID, ya.Wallet, expected)
	}

	ya.Version = expected + 1
	return nil
}

func (s *Store) RecordAccrualRun(ctx context.Context, run *pool.AccrualRun) error {
	_, err := s.pg.NewInsert(toAccrualRunModel(run)).Exec(ctx)
	return err
}

func (s *Store) ListAccrualRuns(ctx context.Context, poolID string, limit int) ([]*pool.AccrualRun, error) {
	var models []accrualRunModel
	q := s.pg.NewSelect(&models).
		Where("pool_id = $1", poolID).
		OrderExpr("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*pool.AccrualRun, len(models))
	for i := range models {
		r, err := fromAccrualRunModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Settlement Store ====================

// CreateRule relies on the primary key and the partial unique index on
// external_ref; either collision inserts nothing.
func (s *Store) CreateRule(ctx context.Context, r *settlement.Rule) error {
	m := toRuleModel(r)
	res, err := s.pg.NewInsert(m).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return finledger.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, ruleID id.RuleID) (*settlement.Rule, error) {
	m := new(ruleModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", ruleID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, finledger.ErrRuleNotFound
		}
		return nil, err
	}
	return fromRuleModel(m)
}

func (s *Store) GetRuleByRef(ctx context.Context, ref string) (*settlement.Rule, error) {
	m := new(ruleModel)
	err := s.pg.NewSelect(m).
		Where("external_ref = $1", ref).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, finledger.ErrRuleNotFound
		}
		return nil, err
	}
	return fromRuleModel(m)
}

func (s *Store) ListRules(ctx context.Context, invoiceID id.Key) ([]*settlement.Rule, error) {
	var models []ruleModel
	err := s.pg.NewSelect(&models).
		Where("invoice_id = $1", invoiceID.String()).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*settlement.Rule, len(models))
	for i := range models {
		r, err := fromRuleModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) UpdateRule(ctx context.Context, r *settlement.Rule, expectedVersion int64) error {
	m := toRuleModel(r)
	res, err := s.pg.NewUpdate((*ruleModel)(nil)).
		Set("external_ref = $1", m.ExternalRef).
		Set("payer = $2", m.Payer).
		Set("recipients = $3", m.Recipients).
		Set("bps_split = $4", m.BpsSplit).
		Set("active = $5", m.Active).
		Set("version = $6", expectedVersion+1).
		Set("updated_at = $7", m.UpdatedAt).
		Where("id = $8", m.ID).
		Where("version = $9", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetRule(ctx, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: rule %s moved past version %d", finledger.ErrConflict, r.ID, expectedVersion)
	}

	r.Version = expectedVersion + 1
	return nil
}

func (s *Store) CreateExecution(ctx context.Context, e *settlement.Execution) error {
	m := toExecutionModel(e)
	res, err := s.pg.NewInsert(m).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return finledger.ErrAlreadyExists
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, ruleID id.RuleID) ([]*settlement.Execution, error) {
	var models []executionModel
	err := s.pg.NewSelect(&models).
		Where("rule_id = $1", ruleID.String()).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*settlement.Execution, len(models))
	for i := range models {
		e, err := fromExecutionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// sameInstant compares timestamps at the microsecond precision the
// database keeps.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
