package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
	finstore "github.com/xraph/finledger/store"
	"github.com/xraph/finledger/types"
)

// Collection name constants.
const (
	colInvoices      = "finledger_invoices"
	colEvents        = "finledger_lifecycle_events"
	colPositions     = "finledger_positions"
	colPools         = "finledger_pools"
	colPoolAccounts  = "finledger_pool_accounts"
	colYieldAccounts = "finledger_yield_accounts"
	colAccrualRuns   = "finledger_accrual_runs"
	colRules         = "finledger_settlement_rules"
	colExecutions    = "finledger_settlement_executions"
)

// casAttempts bounds the read-modify-write loop of DebitYield.
const casAttempts = 5

// compile-time interface check
var _ finstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all finledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("finledger/mongo: migrate %s indexes: %w", col, err)
		}
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
	return s.inTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.mdb.NewInsert(toInvoiceModel(inv)).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return finledger.ErrAlreadyExists
			}
			return fmt.Errorf("finledger/mongo: create invoice: %w", err)
		}

		if evt == nil {
			return nil
		}
		if _, err := s.mdb.NewInsert(toLifecycleEventModel(evt)).Exec(ctx); err != nil {
			return fmt.Errorf("finledger/mongo: create lifecycle event: %w", err)
		}
		return nil
	})
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID id.Key) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": invoiceID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, finledger.ErrUnknownInvoice
		}
		return nil, fmt.Errorf("finledger/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Issuer != "" {
		filter["issuer"] = opts.Issuer
	}
	if opts.Financed != nil {
		filter["is_financed"] = *opts.Financed
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("finledger/mongo: list invoices: %w", err)
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

// UpdateInvoice swaps the invoice document on its version and appends the
// event in the same transaction.
func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64, evt *invoice.LifecycleEvent) error {
	next := *inv
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		if err := s.swapInvoice(ctx, &next, expectedVersion); err != nil {
			return err
		}
		if evt == nil {
			return nil
		}
		if _, err := s.mdb.NewInsert(toLifecycleEventModel(evt)).Exec(ctx); err != nil {
			return fmt.Errorf("finledger/mongo: create lifecycle event: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	inv.Version = next.Version
	return nil
}

// inTransaction runs fn inside a multi-document transaction. MongoDB only
// supports these on replica sets and sharded clusters.
func (s *Store) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.mdb.Collection(colInvoices).Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("finledger/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *Store) swapInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64) error {
	m := toInvoiceModel(inv)
	m.Version = expectedVersion + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": expectedVersion}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("finledger/mongo: update invoice: %w", err)
	}
	if res.MatchedCount() == 0 {
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
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"invoice_id": invoiceID.String()}).
		Sort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("finledger/mongo: list lifecycle events: %w", err)
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
	if _, err := s.mdb.NewInsert(toPositionModel(p)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return finledger.ErrAlreadyExists
		}
		return fmt.Errorf("finledger/mongo: create position: %w", err)
	}
	return nil
}

func (s *Store) GetPosition(ctx context.Context, invoiceID id.Key) (*collateral.Position, error) {
	var m positionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": invoiceID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, finledger.ErrPositionNotFound
		}
		return nil, fmt.Errorf("finledger/mongo: get position: %w", err)
	}
	return fromPositionModel(&m)
}

func (s *Store) UpdatePosition(ctx context.Context, p *collateral.Position, expectedVersion int64) error {
	m := toPositionModel(p)
	m.Version = expectedVersion + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.InvoiceID, "version": expectedVersion}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("finledger/mongo: update position: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetPosition(ctx, p.InvoiceID); err != nil {
			return err
		}
		return fmt.Errorf("%w: position %s moved past version %d", finledger.ErrConflict, p.InvoiceID, expectedVersion)
	}

	p.Version = m.Version
	return nil
}

func (s *Store) ListPositions(ctx context.Context, poolID string) ([]*collateral.Position, error) {
	var models []positionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"pool_id": poolID}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("finledger/mongo: list positions: %w", err)
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

// SumUsedCredit adds the live balances in Go; $sum over Decimal128 would
// round uint256 values.
func (s *Store) SumUsedCredit(ctx context.Context, poolID string) (types.Amount, error) {
	var models []positionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"pool_id": poolID, "exists": true, "exited": false}).
		Scan(ctx)
	if err != nil {
		return types.Zero(), fmt.Errorf("finledger/mongo: sum used credit: %w", err)
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
	if _, err := s.mdb.NewInsert(toPoolModel(p)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return finledger.ErrAlreadyExists
		}
		return fmt.Errorf("finledger/mongo: create pool: %w", err)
	}
	return nil
}

func (s *Store) GetPool(ctx context.Context, poolID string) (*pool.Pool, error) {
	var m poolModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": poolID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, finledger.ErrPoolNotFound
		}
		return nil, fmt.Errorf("finledger/mongo: get pool: %w", err)
	}
	return fromPoolModel(&m)
}

func (s *Store) ListPools(ctx context.Context) ([]*pool.Pool, error) {
	var models []poolModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("finledger/mongo: list pools: %w", err)
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
	m.Version = expectedVersion + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": expectedVersion}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("finledger/mongo: update pool: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetPool(ctx, p.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: pool %s moved past version %d", finledger.ErrConflict, p.ID, expectedVersion)
	}

	p.Version = m.Version
	return nil
}

func (s *Store) PutShareBalances(ctx context.Context, accounts []*pool.Account) error {
	col := s.mdb.Collection(colPoolAccounts)
	for _, a := range accounts {
		m := toPoolAccountModel(a)
		_, err := col.UpdateOne(ctx,
			bson.M{"_id": m.ID},
			bson.M{"$set": bson.M{
				"pool_id":       m.PoolID,
				"wallet":        m.Wallet,
				"share_balance": m.ShareBalance,
				"updated_at":    m.UpdatedAt,
			}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("finledger/mongo: put share balance: %w", err)
		}
	}
	return nil
}

func (s *Store) ListShareBalances(ctx context.Context, poolID string) ([]*pool.Account, error) {
	var models []poolAccountModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"pool_id": poolID}).
		Sort(bson.D{{Key: "wallet", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("finledger/mongo: list share balances: %w", err)
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
	var m yieldAccountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": accountID(poolID, wallet)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, finledger.ErrNotFound
		}
		return nil, fmt.Errorf("finledger/mongo: get yield account: %w", err)
	}
	return fromYieldAccountModel(&m)
}

func (s *Store) ListYieldAccounts(ctx context.Context, poolID string) ([]*pool.YieldAccount, error) {
	var models []yieldAccountModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"pool_id": poolID}).
		Sort(bson.D{{Key: "wallet", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("finledger/mongo: list yield accounts: %w", err)
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

// AccrueYield applies the delta in Go and writes the document back with a
// version swap; an interleaved write surfaces as ErrConflict.
func (s *Store) AccrueYield(ctx context.Context, u pool.AccrualUpdate) (types.Amount, error) {
	cur, err := s.GetYieldAccount(ctx, u.Wallet, u.PoolID)
	if err != nil && !errors.Is(err, finledger.ErrNotFound) {
		return types.Zero(), err
	}

	if cur == nil {
		if !u.ExpectedThrough.IsZero() {
			return types.Zero(), fmt.Errorf("%w: yield account %s does not exist", finledger.ErrConflict, accountID(u.PoolID, u.Wallet))
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
		if _, err := s.mdb.NewInsert(toYieldAccountModel(next)).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return types.Zero(), fmt.Errorf("%w: yield account %s created concurrently", finledger.ErrConflict, accountID(u.PoolID, u.Wallet))
			}
			return types.Zero(), fmt.Errorf("finledger/mongo: create yield account: %w", err)
		}
		return credited, nil
	}

	if !sameInstant(cur.AccruedThrough, u.ExpectedThrough) {
		return types.Zero(), fmt.Errorf("%w: yield account %s accrued through %s, expected %s",
			finledger.ErrConflict, accountID(u.PoolID, u.Wallet), cur.AccruedThrough, u.ExpectedThrough)
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
	return nil, fmt.Errorf("%w: yield account %s kept changing", finledger.ErrConflict, accountID(poolID, wallet))
}

func (s *Store) swapYieldAccount(ctx context.Context, ya *pool.YieldAccount, expected int64) error {
	m := toYieldAccountModel(ya)
	m.Version = expected + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": expected}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("finledger/mongo: update yield account: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("%w: yield account %s moved past version %d", finledger.ErrConflict, m.ID, expected)
	}

	ya.Version = m.Version
	return nil
}

func (s *Store) RecordAccrualRun(ctx context.Context, run *pool.AccrualRun) error {
	if _, err := s.mdb.NewInsert(toAccrualRunModel(run)).Exec(ctx); err != nil {
		return fmt.Errorf("finledger/mongo: record accrual run: %w", err)
	}
	return nil
}

func (s *Store) ListAccrualRuns(ctx context.Context, poolID string, limit int) ([]*pool.AccrualRun, error) {
	var models []accrualRunModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{"pool_id": poolID}).
		Sort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("finledger/mongo: list accrual runs: %w", err)
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

func (s *Store) CreateRule(ctx context.Context, r *settlement.Rule) error {
	if _, err := s.mdb.NewInsert(toRuleModel(r)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return finledger.ErrAlreadyExists
		}
		return fmt.Errorf("finledger/mongo: create rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, ruleID id.RuleID) (*settlement.Rule, error) {
	var m ruleModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": ruleID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, finledger.ErrRuleNotFound
		}
		return nil, fmt.Errorf("finledger/mongo: get rule: %w", err)
	}
	return fromRuleModel(&m)
}

func (s *Store) GetRuleByRef(ctx context.Context, ref string) (*settlement.Rule, error) {
	var m ruleModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"external_ref": ref}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, finledger.ErrRuleNotFound
		}
		return nil, fmt.Errorf("finledger/mongo: get rule by ref: %w", err)
	}
	return fromRuleModel(&m)
}

func (s *Store) ListRules(ctx context.Context, invoiceID id.Key) ([]*settlement.Rule, error) {
	var models []ruleModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"invoice_id": invoiceID.String()}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("finledger/mongo: list rules: %w", err)
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
	m.Version = expectedVersion + 1

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID, "version": expectedVersion}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("finledger/mongo: update rule: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetRule(ctx, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: rule %s moved past version %d", finledger.ErrConflict, r.ID, expectedVersion)
	}

	r.Version = m.Version
	return nil
}

func (s *Store) CreateExecution(ctx context.Context, e *settlement.Execution) error {
	if _, err := s.mdb.NewInsert(toExecutionModel(e)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return finledger.ErrAlreadyExists
		}
		return fmt.Errorf("finledger/mongo: create execution: %w", err)
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, ruleID id.RuleID) ([]*settlement.Execution, error) {
	var models []executionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"rule_id": ruleID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("finledger/mongo: list executions: %w", err)
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

// sameInstant compares timestamps at the millisecond precision BSON dates
// keep.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all finledger
// collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colInvoices: {
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "issuer", Value: 1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "invoice_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		},
		colPositions: {
			{Keys: bson.D{{Key: "pool_id", Value: 1}, {Key: "exists", Value: 1}, {Key: "exited", Value: 1}}},
		},
		colPools: {},
		colPoolAccounts: {
			{Keys: bson.D{{Key: "pool_id", Value: 1}, {Key: "wallet", Value: 1}}},
		},
		colYieldAccounts: {
			{Keys: bson.D{{Key: "pool_id", Value: 1}, {Key: "wallet", Value: 1}}},
		},
		colAccrualRuns: {
			{Keys: bson.D{{Key: "pool_id", Value: 1}, {Key: "started_at", Value: -1}}},
		},
		colRules: {
			{
				Keys:    bson.D{{Key: "external_ref", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "invoice_id", Value: 1}}},
		},
		colExecutions: {
			{Keys: bson.D{{Key: "rule_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
