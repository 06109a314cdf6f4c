package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("finledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("finledger/sqlite: migration failed: %w", err)
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

// CreateInvoice inserts the invoice and its issuance event in one
// transaction.
func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice, evt *invoice.LifecycleEvent) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	res, err := tx.NewInsert(toInvoiceModel(inv)).
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

	if evt != nil {
		if _, err := tx.NewInsert(toLifecycleEventModel(evt)).Exec(ctx); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID id.Key) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", invoiceID.String()).
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
	q := s.sdb.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Issuer != "" {
		q = q.Where("issuer = ?", opts.Issuer)
	}
	if opts.Financed != nil {
		q = q.Where("is_financed = ?", *opts.Financed)
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

// UpdateInvoice swaps the invoice row on its version and appends the event
// in the same transaction.
func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64, evt *invoice.LifecycleEvent) error {
	m := toInvoiceModel(inv)

	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	res, err := tx.NewUpdate((*invoiceModel)(nil)).
		Set("token_id = ?", m.TokenID).
		Set("status = ?", m.Status).
		Set("issuer = ?", m.Issuer).
		Set("debtor = ?", m.Debtor).
		Set("amount = ?", m.Amount).
		Set("cumulative_paid = ?", m.CumulativePaid).
		Set("currency = ?", m.Currency).
		Set("due_date = ?", m.DueDate).
		Set("is_financed = ?", m.IsFinanced).
		Set("version = ?", expectedVersion+1).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		_ = tx.Rollback() //nolint:errcheck // nothing was written
		if _, err := s.GetInvoice(ctx, inv.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: invoice %s moved past version %d", finledger.ErrConflict, inv.ID, expectedVersion)
	}

	if evt != nil {
		if _, err := tx.NewInsert(toLifecycleEventModel(evt)).Exec(ctx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	inv.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListLifecycleEvents(ctx context.Context, invoiceID id.Key) ([]*invoice.LifecycleEvent, error) {
	var models []lifecycleEventModel
	err := s.sdb.NewSelect(&models).
		Where("invoice_id = ?", invoiceID.String()).
		OrderExpr("rowid ASC").
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
	res, err := s.sdb.NewInsert(m).
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
	err := s.sdb.NewSelect(m).
		Where("invoice_id = ?", invoiceID.String()).
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
	res, err := s.sdb.NewUpdate((*positionModel)(nil)).
		Set("token_id = ?", m.TokenID).
		Set("owner = ?", m.Owner).
		Set("pool_id = ?", m.PoolID).
		Set("face_value = ?", m.FaceValue).
		Set("ltv_bps = ?", m.LTVBps).
		Set("credit_limit = ?", m.CreditLimit).
		Set("used_credit = ?", m.UsedCredit).
		Set("present = ?", m.Present).
		Set("exited = ?", m.Exited).
		Set("version = ?", expectedVersion+1).
		Set("created_at = ?", m.CreatedAt).
		Set("updated_at = ?", m.UpdatedAt).
		Where("invoice_id = ?", m.InvoiceID).
		Where("version = ?", expectedVersion).
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
	err := s.sdb.NewSelect(&models).
		Where("pool_id = ?", poolID).
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

// SumUsedCredit adds the live balances in Go; SQLite arithmetic tops out
// at 64 bits.
func (s *Store) SumUsedCredit(ctx context.Context, poolID string) (types.Amount, error) {
	var models []positionModel
	err := s.sdb.NewSelect(&models).
		Where("pool_id = ?", poolID).
		Where("present = ?", true).
		Where("exited = ?", false).
		Scan(ctx)
	if err != nil {
		return types.Zero(), err
	}

	total := types.Zero()
	for i := range models {
		used, err := types.ParseAmount(models[i].UsedCredit)
		if err != nil {
			return types.Zero(), err
		}
		if total, err = total.Add(used); err != nil {
			return types.Zero(), err
		}
	}
	return total, nil
}

// ==================== Pool Store ====================

func (s *Store) CreatePool(ctx context.Context, p *pool.Pool) error {
	m := toPoolModel(p)
	res, err := s.sdb.NewInsert(m).
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", poolID).
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
	if err := s.sdb.NewSelect(&models).OrderExpr("id ASC").Scan(ctx); err != nil {
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
	res, err := s.sdb.NewUpdate((*poolModel)(nil)).
		Set("name = ?", m.Name).
		Set("currency = ?", m.Currency).
		Set("annual_rate = ?", m.AnnualRate).
		Set("tick_interval_ns = ?", m.TickIntervalNs).
		Set("ticks_per_year = ?", m.TicksPerYear).
		Set("ltv_bps = ?", m.LTVBps).
		Set("max_utilization_bps = ?", m.MaxUtilizationBps).
		Set("liquidity = ?", m.Liquidity).
		Set("last_accrued_at = ?", m.LastAccruedAt).
		Set("version = ?", expectedVersion+1).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Where("version = ?", expectedVersion).
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
	_, err := s.sdb.NewInsert(&models).
		OnConflict("(pool_id, wallet) DO UPDATE").
		Set("share_balance = EXCLUDED.share_balance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) ListShareBalances(ctx context.Context, poolID string) ([]*pool.Account, error) {
	var models []poolAccountModel
	err := s.sdb.NewSelect(&models).
		Where("pool_id = ?", poolID).
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
	err := s.sdb.NewSelect(m).
		Where("pool_id = ?", poolID).
		Where("wallet = ?", wallet).
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
	err := s.sdb.NewSelect(&models).
		Where("pool_id = ?", poolID).
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
		res, err := s.sdb.NewInsert(toYieldAccountModel(next)).
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
	res, err := s.sdb.NewUpdate((*yieldAccountModel)(nil)).
		Set("accrued_yield = ?", m.AccruedYield).
		Set("carry = ?", m.Carry).
		Set("accrued_through = ?", m.AccruedThrough).
		Set("version = ?", expected+1).
		Set("updated_at = ?", m.UpdatedAt).
		Where("pool_id = ?", m.PoolID).
		Where("wallet = ?", m.Wallet).
		Where("version = ?", expected).
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
	_, err := s.sdb.NewInsert(toAccrualRunModel(run)).Exec(ctx)
	return err
}

func (s *Store) ListAccrualRuns(ctx context.Context, poolID string, limit int) ([]*pool.AccrualRun, error) {
	var models []accrualRunModel
	q := s.sdb.NewSelect(&models).
		Where("pool_id = ?", poolID).
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
	res, err := s.sdb.NewInsert(m).
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", ruleID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("external_ref = ?", ref).
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
	err := s.sdb.NewSelect(&models).
		Where("invoice_id = ?", invoiceID.String()).
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
	res, err := s.sdb.NewUpdate((*ruleModel)(nil)).
		Set("external_ref = ?", m.ExternalRef).
		Set("payer = ?", m.Payer).
		Set("recipients = ?", m.Recipients).
		Set("bps_split = ?", m.BpsSplit).
		Set("active = ?", m.Active).
		Set("version = ?", expectedVersion+1).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Where("version = ?", expectedVersion).
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
	res, err := s.sdb.NewInsert(m).
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
	err := s.sdb.NewSelect(&models).
		Where("rule_id = ?", ruleID.String()).
		OrderExpr("rowid ASC").
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

// sameInstant compares timestamps at microsecond precision so values that
// went through the driver's text encoding still compare equal.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
