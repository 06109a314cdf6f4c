package finledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/types"
)

// ──────────────────────────────────────────────────
// Pool management
// ──────────────────────────────────────────────────

// RegisterPool creates a pool or updates the configuration of an existing
// one. A new pool starts accruing from now. When the rate or tick interval
// of an existing pool changes, the whole ticks elapsed so far are accrued
// under the old configuration first, so the change only applies from the
// pool's watermark onwards.
func (l *Ledger) RegisterPool(ctx context.Context, p *pool.Pool) (*pool.Pool, error) {
	if err := validatePool(p); err != nil {
		return nil, err
	}

	if existing, err := l.store.GetPool(ctx, p.ID); err == nil && accrualTermsChanged(existing, p) {
		if _, err := l.RunAccrualCycle(ctx, p.ID); err != nil && !errors.Is(err, ErrCycleInFlight) {
			return nil, fmt.Errorf("accrue before reconfiguring pool %s: %w", p.ID, err)
		}
	}

	now := l.now()
	var out *pool.Pool
	err := l.withRetry(ctx, "register pool", func() error {
		existing, err := l.store.GetPool(ctx, p.ID)
		switch {
		case err == nil:
			next := *p
			next.Entity = existing.Entity
			next.LastAccruedAt = existing.LastAccruedAt
			next.Touch(now)
			if err := l.store.UpdatePool(ctx, &next, existing.Version); err != nil {
				return storageError("update pool", err)
			}
			out = &next
			return nil
		case IsNotFound(err):
			next := *p
			next.Entity = types.NewEntityAt(now)
			if next.LastAccruedAt.IsZero() {
				next.LastAccruedAt = now
			}
			next.Version = 1
			if err := l.store.CreatePool(ctx, &next); err != nil {
				if errors.Is(err, ErrAlreadyExists) {
					return ErrConflict
				}
				return storageError("create pool", err)
			}
			out = &next
			return nil
		default:
			return storageError("get pool", err)
		}
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("pool registered",
		"pool_id", out.ID,
		"annual_rate", out.AnnualRate.String(),
		"ticks_per_year", out.Ticks(),
	)

	return out, nil
}

func accrualTermsChanged(old, next *pool.Pool) bool {
	return !old.AnnualRate.Equal(next.AnnualRate) || old.TickInterval != next.TickInterval
}

// GetPool returns a pool by id.
func (l *Ledger) GetPool(ctx context.Context, poolID string) (*pool.Pool, error) {
	return l.getPool(ctx, poolID)
}

// ListPools returns all registered pools.
func (l *Ledger) ListPools(ctx context.Context) ([]*pool.Pool, error) {
	pools, err := l.store.ListPools(ctx)
	return pools, storageError("list pools", err)
}

// SyncShareBalances ingests an omnibus snapshot of share balances for a
// pool, as read from the pool's token contract.
func (l *Ledger) SyncShareBalances(ctx context.Context, poolID string, accounts []pool.Account) error {
	if _, err := l.getPool(ctx, poolID); err != nil {
		return err
	}

	now := l.now()
	batch := make([]*pool.Account, 0, len(accounts))
	for i := range accounts {
		a := accounts[i]
		if a.Wallet == "" {
			return ValidationError{Field: "wallet", Message: "required"}
		}
		a.Wallet = normalizeAccount(a.Wallet)
		a.PoolID = poolID
		a.UpdatedAt = now
		batch = append(batch, &a)
	}

	return storageError("put share balances", l.store.PutShareBalances(ctx, batch))
}

// ──────────────────────────────────────────────────
// Accrual
// ──────────────────────────────────────────────────

// RunAccrual runs an accrual cycle for every registered pool. Pools whose
// cycle is already in flight are skipped; other failures are collected.
func (l *Ledger) RunAccrual(ctx context.Context) ([]*pool.AccrualRun, error) {
	pools, err := l.store.ListPools(ctx)
	if err != nil {
		return nil, storageError("list pools", err)
	}

	var (
		runs []*pool.AccrualRun
		errs MultiError
	)
	for _, p := range pools {
		if ctx.Err() != nil {
			errs.Add(ctx.Err())
			break
		}

		run, err := l.RunAccrualCycle(ctx, p.ID)
		if run != nil {
			runs = append(runs, run)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrCycleInFlight):
			l.logger.Debug("accrual cycle skipped, already in flight", "pool_id", p.ID)
		default:
			l.logger.Error("accrual cycle failed", "pool_id", p.ID, "error", err)
			errs.Add(err)
		}
	}

	return runs, errs.ErrOrNil()
}

// RunAccrualCycle accrues yield for every account of a pool with a
// positive share balance, covering the whole ticks elapsed since the
// pool's watermark.
//
// Each account is credited through a single atomic increment conditioned
// on its own watermark, so a cycle never double-accrues an account even
// when it overlaps with a cycle in another process. Failures are isolated
// per account and counted in the returned run. Cancelling ctx aborts the
// cycle at the next account boundary: the pool watermark is then left in
// place and the partial run is returned with the context error.
func (l *Ledger) RunAccrualCycle(ctx context.Context, poolID string) (*pool.AccrualRun, error) {
	ctx, span := l.tracer.Start(ctx, "finledger.accrual.cycle",
		trace.WithAttributes(attribute.String("pool.id", poolID)),
	)
	defer span.End()

	release, err := l.guard.Acquire(ctx, poolID)
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := l.getPool(ctx, poolID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	started := l.now()
	ticks := elapsedTicks(p, started)
	end := p.LastAccruedAt.Add(time.Duration(ticks) * p.TickInterval)

	run := &pool.AccrualRun{
		ID:        id.NewRunID(),
		PoolID:    poolID,
		From:      p.LastAccruedAt,
		To:        end,
		Ticks:     ticks,
		StartedAt: started,
	}
	span.SetAttributes(attribute.Int64("accrual.ticks", int64(ticks)))

	if ticks == 0 {
		run.FinishedAt = started
		return run, nil
	}

	accounts, err := l.store.ListShareBalances(ctx, poolID)
	if err != nil {
		err = storageError("list share balances", err)
		span.RecordError(err)
		return nil, err
	}

	var aborted error
	for _, acct := range accounts {
		if acct.ShareBalance.IsZero() {
			continue
		}
		if err := ctx.Err(); err != nil {
			aborted = err
			break
		}

		run.AccountsProcessed++

		credited, err := l.accrueAccount(ctx, p, acct, end, started)
		if err != nil {
			run.AccountsFailed++
			l.logger.Warn("accrual failed for account",
				"pool_id", poolID,
				"wallet", acct.Wallet,
				"error", err,
			)
			l.plugins.EmitAccrualAccountFailed(ctx, poolID, acct.Wallet, err)
			continue
		}

		run.AccountsSucceeded++
		if total, err := run.TotalYieldAccrued.Add(credited); err == nil {
			run.TotalYieldAccrued = total
		}
	}

	if aborted == nil {
		if err := l.advanceWatermark(ctx, poolID, end); err != nil {
			aborted = err
		}
	}

	run.Aborted = aborted != nil
	run.FinishedAt = l.now()

	// The run record survives cancellation of the cycle context.
	recordCtx := context.WithoutCancel(ctx)
	if err := l.store.RecordAccrualRun(recordCtx, run); err != nil {
		l.logger.Warn("failed to record accrual run", "pool_id", poolID, "error", err)
	}
	l.plugins.EmitAccrualCycleCompleted(recordCtx, run)

	span.SetAttributes(
		attribute.Int("accrual.accounts", run.AccountsProcessed),
		attribute.Int("accrual.failed", run.AccountsFailed),
		attribute.String("accrual.total_yield", run.TotalYieldAccrued.String()),
	)

	if aborted != nil {
		span.SetStatus(codes.Error, "accrual cycle aborted")
		l.logger.Warn("accrual cycle aborted",
			"pool_id", poolID,
			"accounts", run.AccountsProcessed,
			"error", aborted,
		)
		return run, aborted
	}

	l.logger.Info("accrual cycle completed",
		"pool_id", poolID,
		"ticks", ticks,
		"accounts", run.AccountsProcessed,
		"succeeded", run.AccountsSucceeded,
		"failed", run.AccountsFailed,
		"total_yield", run.TotalYieldAccrued.String(),
	)

	return run, nil
}

// accrueAccount credits one account up to end under the per-account
// timeout.
func (l *Ledger) accrueAccount(ctx context.Context, p *pool.Pool, acct *pool.Account, end, now time.Time) (types.Amount, error) {
	ctx, cancel := context.WithTimeout(ctx, l.accountTimeout)
	defer cancel()

	var credited types.Amount
	err := l.withRetry(ctx, "accrue yield", func() error {
		var through time.Time
		ya, err := l.store.GetYieldAccount(ctx, acct.Wallet, p.ID)
		switch {
		case err == nil:
			through = ya.AccruedThrough
		case IsNotFound(err):
		default:
			return storageError("get yield account", err)
		}

		from := p.LastAccruedAt
		if through.After(from) {
			from = through
		}
		if !end.After(from) {
			credited = types.Zero()
			return nil
		}

		ticks := uint64(end.Sub(from) / p.TickInterval)
		scaled, err := p.ScaledYield(acct.ShareBalance, ticks)
		if err != nil {
			return err
		}
		if scaled.IsZero() {
			credited = types.Zero()
			return nil
		}

		credited, err = l.store.AccrueYield(ctx, pool.AccrualUpdate{
			Wallet:          acct.Wallet,
			PoolID:          p.ID,
			Scaled:          scaled,
			ExpectedThrough: through,
			Through:         end,
			At:              now,
		})
		return storageError("accrue yield", err)
	})

	return credited, err
}

// advanceWatermark moves the pool's LastAccruedAt forward to end.
func (l *Ledger) advanceWatermark(ctx context.Context, poolID string, end time.Time) error {
	return l.withRetry(ctx, "advance watermark", func() error {
		p, err := l.getPool(ctx, poolID)
		if err != nil {
			return err
		}
		if !end.After(p.LastAccruedAt) {
			return nil
		}

		next := *p
		next.LastAccruedAt = end
		next.Touch(l.now())
		return storageError("update pool", l.store.UpdatePool(ctx, &next, p.Version))
	})
}

// elapsedTicks counts the whole tick intervals between the pool watermark
// and now.
func elapsedTicks(p *pool.Pool, now time.Time) uint64 {
	if p.TickInterval <= 0 || !now.After(p.LastAccruedAt) {
		return 0
	}
	return uint64(now.Sub(p.LastAccruedAt) / p.TickInterval)
}

// ──────────────────────────────────────────────────
// Yield accounts
// ──────────────────────────────────────────────────

// GetYieldAccount returns the accrued yield of a wallet in a pool.
func (l *Ledger) GetYieldAccount(ctx context.Context, wallet, poolID string) (*pool.YieldAccount, error) {
	ya, err := l.store.GetYieldAccount(ctx, normalizeAccount(wallet), poolID)
	if err != nil && !IsNotFound(err) {
		return nil, storageError("get yield account", err)
	}
	return ya, err
}

// ClaimYield debits amount from a wallet's accrued yield, e.g. when the
// yield is withdrawn on-chain.
func (l *Ledger) ClaimYield(ctx context.Context, wallet, poolID string, amount types.Amount) (*pool.YieldAccount, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: claim must be positive", ErrInvalidAmount)
	}

	ya, err := l.store.DebitYield(ctx, normalizeAccount(wallet), poolID, amount)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: no yield accrued for %s in %s", ErrInsufficientYield, wallet, poolID)
		}
		return nil, storageError("debit yield", err)
	}

	l.plugins.EmitYieldClaimed(ctx, ya, amount)

	return ya, nil
}

// ListAccrualRuns returns the most recent cycle summaries of a pool.
func (l *Ledger) ListAccrualRuns(ctx context.Context, poolID string, limit int) ([]*pool.AccrualRun, error) {
	runs, err := l.store.ListAccrualRuns(ctx, poolID, limit)
	return runs, storageError("list accrual runs", err)
}

func (l *Ledger) getPool(ctx context.Context, poolID string) (*pool.Pool, error) {
	p, err := l.store.GetPool(ctx, poolID)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
		}
		return nil, storageError("get pool", err)
	}
	return p, nil
}

func validatePool(p *pool.Pool) error {
	var errs MultiError
	if p.ID == "" {
		errs.Add(ValidationError{Field: "id", Message: "required"})
	}
	if p.TickInterval <= 0 {
		errs.Add(ValidationError{Field: "tick_interval", Message: "must be positive"})
	}
	if p.AnnualRate.IsNegative() {
		errs.Add(ValidationError{Field: "annual_rate", Message: "must not be negative"})
	}
	if p.LTVBps > collateral.MaxBps {
		errs.Add(ValidationError{Field: "ltv_bps", Message: "exceeds 10000"})
	}
	if p.MaxUtilizationBps > collateral.MaxBps {
		errs.Add(ValidationError{Field: "max_utilization_bps", Message: "exceeds 10000"})
	}
	return errs.ErrOrNil()
}
