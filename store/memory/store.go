// Package memory provides an in-memory store.Store for tests and
// single-process use. All state lives behind one mutex and every read
// returns a copy, so callers can never mutate stored records in place.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
	"github.com/xraph/finledger/store"
	"github.com/xraph/finledger/types"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Invoice storage
	invoices map[id.Key]*invoice.Invoice
	events   map[id.Key][]*invoice.LifecycleEvent

	// Collateral storage
	positions map[id.Key]*collateral.Position

	// Pool storage
	pools         map[string]*pool.Pool
	shares        map[string]map[string]*pool.Account
	yieldAccounts map[string]*pool.YieldAccount
	runs          map[string][]*pool.AccrualRun

	// Settlement storage
	rules      map[id.RuleID]*settlement.Rule
	executions map[string]*settlement.Execution
	ruleExecs  map[id.RuleID][]string
}

func New() *Store {
	return &Store{
		invoices:      make(map[id.Key]*invoice.Invoice),
		events:        make(map[id.Key][]*invoice.LifecycleEvent),
		positions:     make(map[id.Key]*collateral.Position),
		pools:         make(map[string]*pool.Pool),
		shares:        make(map[string]map[string]*pool.Account),
		yieldAccounts: make(map[string]*pool.YieldAccount),
		runs:          make(map[string][]*pool.AccrualRun),
		rules:         make(map[id.RuleID]*settlement.Rule),
		executions:    make(map[string]*settlement.Execution),
		ruleExecs:     make(map[id.RuleID][]string),
	}
}

// ──────────────────────────────────────────────────
// Invoice Store
// ──────────────────────────────────────────────────

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice, evt *invoice.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID]; exists {
		return finledger.ErrAlreadyExists
	}
	c := *inv
	s.invoices[inv.ID] = &c
	if evt != nil {
		e := *evt
		s.events[inv.ID] = append(s.events[inv.ID], &e)
	}
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invoiceID id.Key) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoices[invoiceID]; ok {
		c := *inv
		return &c, nil
	}
	return nil, finledger.ErrUnknownInvoice
}

func (s *Store) ListInvoices(_ context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if opts.Status != "" && inv.Status != opts.Status {
			continue
		}
		if opts.Issuer != "" && inv.Issuer != opts.Issuer {
			continue
		}
		if opts.Financed != nil && inv.IsFinanced != *opts.Financed {
			continue
		}
		c := *inv
		result = append(result, &c)
	}

	slices.SortFunc(result, func(a, b *invoice.Invoice) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv *invoice.Invoice, expectedVersion int64, evt *invoice.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.invoices[inv.ID]
	if !exists {
		return finledger.ErrUnknownInvoice
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: invoice %s at version %d, expected %d", finledger.ErrConflict, inv.ID, cur.Version, expectedVersion)
	}

	inv.Version = expectedVersion + 1
	c := *inv
	s.invoices[inv.ID] = &c
	if evt != nil {
		e := *evt
		s.events[inv.ID] = append(s.events[inv.ID], &e)
	}
	return nil
}

func (s *Store) ListLifecycleEvents(_ context.Context, invoiceID id.Key) ([]*invoice.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[invoiceID]
	result := make([]*invoice.LifecycleEvent, len(events))
	for i, e := range events {
		c := *e
		result[i] = &c
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Collateral Store
// ──────────────────────────────────────────────────

func (s *Store) CreatePosition(_ context.Context, p *collateral.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[p.InvoiceID]; exists {
		return finledger.ErrAlreadyExists
	}
	c := *p
	s.positions[p.InvoiceID] = &c
	return nil
}

func (s *Store) GetPosition(_ context.Context, invoiceID id.Key) (*collateral.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[invoiceID]; ok {
		c := *p
		return &c, nil
	}
	return nil, finledger.ErrPositionNotFound
}

func (s *Store) UpdatePosition(_ context.Context, p *collateral.Position, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.positions[p.InvoiceID]
	if !exists {
		return finledger.ErrPositionNotFound
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: position %s at version %d, expected %d", finledger.ErrConflict, p.InvoiceID, cur.Version, expectedVersion)
	}

	p.Version = expectedVersion + 1
	c := *p
	s.positions[p.InvoiceID] = &c
	return nil
}

func (s *Store) ListPositions(_ context.Context, poolID string) ([]*collateral.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*collateral.Position, 0)
	for _, p := range s.positions {
		if p.PoolID != poolID {
			continue
		}
		c := *p
		result = append(result, &c)
	}

	slices.SortFunc(result, func(a, b *collateral.Position) int {
		return cmp.Compare(a.InvoiceID.String(), b.InvoiceID.String())
	})
	return result, nil
}

func (s *Store) SumUsedCredit(_ context.Context, poolID string) (types.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := types.Zero()
	for _, p := range s.positions {
		if p.PoolID != poolID || !p.Live() {
			continue
		}
		var err error
		if total, err = total.Add(p.UsedCredit); err != nil {
			return types.Zero(), err
		}
	}
	return total, nil
}

// ──────────────────────────────────────────────────
// Pool Store
// ──────────────────────────────────────────────────

func (s *Store) CreatePool(_ context.Context, p *pool.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[p.ID]; exists {
		return finledger.ErrAlreadyExists
	}
	c := *p
	s.pools[p.ID] = &c
	return nil
}

func (s *Store) GetPool(_ context.Context, poolID string) (*pool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.pools[poolID]; ok {
		c := *p
		return &c, nil
	}
	return nil, finledger.ErrPoolNotFound
}

func (s *Store) ListPools(_ context.Context) ([]*pool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*pool.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		c := *p
		result = append(result, &c)
	}

	slices.SortFunc(result, func(a, b *pool.Pool) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

func (s *Store) UpdatePool(_ context.Context, p *pool.Pool, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.pools[p.ID]
	if !exists {
		return finledger.ErrPoolNotFound
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: pool %s at version %d, expected %d", finledger.ErrConflict, p.ID, cur.Version, expectedVersion)
	}

	p.Version = expectedVersion + 1
	c := *p
	s.pools[p.ID] = &c
	return nil
}

func (s *Store) PutShareBalances(_ context.Context, accounts []*pool.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range accounts {
		byWallet, ok := s.shares[a.PoolID]
		if !ok {
			byWallet = make(map[string]*pool.Account)
			s.shares[a.PoolID] = byWallet
		}
		c := *a
		byWallet[a.Wallet] = &c
	}
	return nil
}

func (s *Store) ListShareBalances(_ context.Context, poolID string) ([]*pool.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byWallet := s.shares[poolID]
	result := make([]*pool.Account, 0, len(byWallet))
	for _, a := range byWallet {
		c := *a
		result = append(result, &c)
	}

	slices.SortFunc(result, func(a, b *pool.Account) int { return cmp.Compare(a.Wallet, b.Wallet) })
	return result, nil
}

func (s *Store) GetYieldAccount(_ context.Context, wallet, poolID string) (*pool.YieldAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ya, ok := s.yieldAccounts[yieldKey(wallet, poolID)]; ok {
		c := *ya
		return &c, nil
	}
	return nil, finledger.ErrNotFound
}

func (s *Store) ListYieldAccounts(_ context.Context, poolID string) ([]*pool.YieldAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*pool.YieldAccount, 0)
	for _, ya := range s.yieldAccounts {
		if ya.PoolID != poolID {
			continue
		}
		c := *ya
		result = append(result, &c)
	}

	slices.SortFunc(result, func(a, b *pool.YieldAccount) int { return cmp.Compare(a.Wallet, b.Wallet) })
	return result, nil
}

func (s *Store) AccrueYield(_ context.Context, u pool.AccrualUpdate) (types.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := yieldKey(u.Wallet, u.PoolID)

	var next pool.YieldAccount
	if cur, ok := s.yieldAccounts[key]; ok {
		if !cur.AccruedThrough.Equal(u.ExpectedThrough) {
			return types.Zero(), fmt.Errorf("%w: yield account %s accrued through %s, expected %s",
				finledger.ErrConflict, key, cur.AccruedThrough, u.ExpectedThrough)
		}
		next = *cur
		next.Version++
	} else {
		if !u.ExpectedThrough.IsZero() {
			return types.Zero(), fmt.Errorf("%w: yield account %s does not exist", finledger.ErrConflict, key)
		}
		next = pool.YieldAccount{
			Entity:  types.NewEntityAt(u.At),
			Wallet:  u.Wallet,
			PoolID:  u.PoolID,
			Version: 1,
		}
	}

	credited, err := next.Apply(u.Scaled, u.Through)
	if err != nil {
		return types.Zero(), err
	}
	next.Touch(u.At)

	s.yieldAccounts[key] = &next
	return credited, nil
}

func (s *Store) DebitYield(_ context.Context, wallet, poolID string, amount types.Amount) (*pool.YieldAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.yieldAccounts[yieldKey(wallet, poolID)]
	if !ok {
		return nil, finledger.ErrNotFound
	}

	rest, err := cur.AccruedYield.Sub(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %s accrued, %s requested", finledger.ErrInsufficientYield, cur.AccruedYield, amount)
	}

	next := *cur
	next.AccruedYield = rest
	next.Version++
	s.yieldAccounts[yieldKey(wallet, poolID)] = &next

	c := next
	return &c, nil
}

func (s *Store) RecordAccrualRun(_ context.Context, run *pool.AccrualRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *run
	s.runs[run.PoolID] = append(s.runs[run.PoolID], &c)
	return nil
}

func (s *Store) ListAccrualRuns(_ context.Context, poolID string, limit int) ([]*pool.AccrualRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := s.runs[poolID]
	result := make([]*pool.AccrualRun, 0, len(runs))
	// Newest first.
	for i := len(runs) - 1; i >= 0; i-- {
		c := *runs[i]
		result = append(result, &c)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Settlement Store
// ──────────────────────────────────────────────────

func (s *Store) CreateRule(_ context.Context, r *settlement.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; exists {
		return finledger.ErrAlreadyExists
	}
	if r.ExternalRef != "" {
		for _, existing := range s.rules {
			if existing.ExternalRef == r.ExternalRef {
				return finledger.ErrAlreadyExists
			}
		}
	}
	s.rules[r.ID] = cloneRule(r)
	return nil
}

func (s *Store) GetRule(_ context.Context, ruleID id.RuleID) (*settlement.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rules[ruleID]; ok {
		return cloneRule(r), nil
	}
	return nil, finledger.ErrRuleNotFound
}

func (s *Store) GetRuleByRef(_ context.Context, ref string) (*settlement.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rules {
		if r.ExternalRef == ref {
			return cloneRule(r), nil
		}
	}
	return nil, finledger.ErrRuleNotFound
}

func (s *Store) ListRules(_ context.Context, invoiceID id.Key) ([]*settlement.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*settlement.Rule, 0)
	for _, r := range s.rules {
		if r.InvoiceID == invoiceID {
			result = append(result, cloneRule(r))
		}
	}

	slices.SortFunc(result, func(a, b *settlement.Rule) int {
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return result, nil
}

func (s *Store) UpdateRule(_ context.Context, r *settlement.Rule, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.rules[r.ID]
	if !exists {
		return finledger.ErrRuleNotFound
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: rule %s at version %d, expected %d", finledger.ErrConflict, r.ID, cur.Version, expectedVersion)
	}

	r.Version = expectedVersion + 1
	s.rules[r.ID] = cloneRule(r)
	return nil
}

func (s *Store) CreateExecution(_ context.Context, e *settlement.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[e.ID]; exists {
		return finledger.ErrAlreadyExists
	}
	c := *e
	c.Splits = slices.Clone(e.Splits)
	s.executions[e.ID] = &c
	s.ruleExecs[e.RuleID] = append(s.ruleExecs[e.RuleID], e.ID)
	return nil
}

func (s *Store) ListExecutions(_ context.Context, ruleID id.RuleID) ([]*settlement.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.ruleExecs[ruleID]
	result := make([]*settlement.Execution, 0, len(ids))
	for _, execID := range ids {
		c := *s.executions[execID]
		c.Splits = slices.Clone(c.Splits)
		result = append(result, &c)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return finledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func yieldKey(wallet, poolID string) string {
	return poolID + "/" + wallet
}

func cloneRule(r *settlement.Rule) *settlement.Rule {
	c := *r
	c.Recipients = slices.Clone(r.Recipients)
	c.BpsSplit = slices.Clone(r.BpsSplit)
	return &c
}

func paginate[T any](items []T, offset, limit int) []T {
	start := max(offset, 0)
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
