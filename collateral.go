package finledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/types"
)

// LockRequest opens a collateral position against an invoice.
type LockRequest struct {
	InvoiceID id.Key
	TokenID   string
	Owner     string

	// PoolID is the financing pool the credit is drawn from. Positions
	// without a pool are bounded by their own credit limit only.
	PoolID string

	// FaceValue defaults to the invoice amount and may not exceed it.
	FaceValue types.Amount

	// LTVBps defaults to the pool's LTV when zero.
	LTVBps uint32

	Timestamp time.Time
}

// Utilization is the credit drawn from a pool relative to its liquidity.
type Utilization struct {
	PoolID            string       `json:"pool_id"`
	Used              types.Amount `json:"used"`
	Liquidity         types.Amount `json:"liquidity"`
	Bps               uint64       `json:"bps"`
	MaxUtilizationBps uint32       `json:"max_utilization_bps"`
}

// LockCollateral opens a position with creditLimit = faceValue * ltvBps /
// 10000 and marks the invoice financed.
func (l *Ledger) LockCollateral(ctx context.Context, req LockRequest) (*collateral.Position, error) {
	if req.LTVBps > collateral.MaxBps {
		return nil, ValidationError{Field: "ltv_bps", Message: fmt.Sprintf("%d exceeds %d", req.LTVBps, collateral.MaxBps)}
	}

	inv, err := l.getInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	face := req.FaceValue
	if face.IsZero() {
		face = inv.Amount
	}
	if face.GreaterThan(inv.Amount) {
		return nil, ValidationError{Field: "face_value", Message: fmt.Sprintf("%s exceeds invoice amount %s", face, inv.Amount)}
	}

	ltv := req.LTVBps
	if req.PoolID != "" {
		p, err := l.getPool(ctx, req.PoolID)
		if err != nil {
			return nil, err
		}
		if ltv == 0 {
			ltv = p.LTVBps
		}
	}

	limit, err := collateral.CreditLimit(face, ltv)
	if err != nil {
		return nil, err
	}

	at := l.at(req.Timestamp)
	pos := &collateral.Position{
		Entity:      types.NewEntityAt(at),
		InvoiceID:   req.InvoiceID,
		TokenID:     req.TokenID,
		Owner:       normalizeAccount(req.Owner),
		PoolID:      req.PoolID,
		FaceValue:   face,
		LTVBps:      ltv,
		CreditLimit: limit,
		Exists:      true,
		Version:     1,
	}

	existing, err := l.store.GetPosition(ctx, req.InvoiceID)
	switch {
	case err == nil && existing.Live():
		return nil, l.positionExists(ctx, req.InvoiceID, at)
	case err == nil:
		// A fully repaid, exited position is replaced in place.
		pos.CreatedAt = existing.CreatedAt
		pos.Version = existing.Version + 1
		if err := l.store.UpdatePosition(ctx, pos, existing.Version); err != nil {
			if errors.Is(err, ErrConflict) {
				return nil, fmt.Errorf("%w: %s", ErrPositionExists, req.InvoiceID)
			}
			return nil, storageError("update position", err)
		}
	case IsNotFound(err):
		if err := l.store.CreatePosition(ctx, pos); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return nil, l.positionExists(ctx, req.InvoiceID, at)
			}
			return nil, storageError("create position", err)
		}
	default:
		return nil, storageError("get position", err)
	}

	if err := l.markFinanced(ctx, req.InvoiceID, at); err != nil {
		return nil, err
	}

	l.plugins.EmitCollateralLocked(ctx, pos)

	return pos, nil
}

// Draw draws credit against a position and returns the new used credit.
func (l *Ledger) Draw(ctx context.Context, invoiceID id.Key, amount types.Amount) (types.Amount, error) {
	if amount.IsZero() {
		return types.Zero(), fmt.Errorf("%w: draw must be positive", ErrInvalidAmount)
	}

	pos, err := l.getPosition(ctx, invoiceID)
	if err != nil {
		return types.Zero(), err
	}

	// Draws against one pool are serialized so concurrent draws cannot
	// each pass the utilization check on the same snapshot.
	unlock := l.poolLocks.Lock(poolLockKey(pos))
	defer unlock()

	var updated *collateral.Position
	err = l.withRetry(ctx, "draw", func() error {
		pos, err := l.getPosition(ctx, invoiceID)
		if err != nil {
			return err
		}

		used, err := pos.UsedCredit.Add(amount)
		if err != nil {
			return err
		}
		if used.GreaterThan(pos.CreditLimit) {
			return fmt.Errorf("%w: %s used + %s requested > %s limit", ErrCreditLimitExceeded, pos.UsedCredit, amount, pos.CreditLimit)
		}
		if err := l.checkUtilization(ctx, pos.PoolID, amount); err != nil {
			return err
		}

		next := *pos
		next.UsedCredit = used
		next.Touch(l.now())
		if err := l.store.UpdatePosition(ctx, &next, pos.Version); err != nil {
			return storageError("update position", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		if IsLimitError(err) {
			l.plugins.EmitLimitExceeded(ctx, pos, amount, err)
		}
		return types.Zero(), err
	}

	l.plugins.EmitCreditDrawn(ctx, updated, amount)

	return updated.UsedCredit, nil
}

// Repay reduces used credit and returns the new used credit.
func (l *Ledger) Repay(ctx context.Context, invoiceID id.Key, amount types.Amount) (types.Amount, error) {
	if amount.IsZero() {
		return types.Zero(), fmt.Errorf("%w: repayment must be positive", ErrInvalidAmount)
	}

	var updated *collateral.Position
	err := l.withRetry(ctx, "repay", func() error {
		pos, err := l.getPosition(ctx, invoiceID)
		if err != nil {
			return err
		}

		used, err := pos.UsedCredit.Sub(amount)
		if err != nil {
			return fmt.Errorf("%w: repay %s of %s used", ErrRepaymentExceedsBalance, amount, pos.UsedCredit)
		}

		next := *pos
		next.UsedCredit = used
		next.Touch(l.now())
		if err := l.store.UpdatePosition(ctx, &next, pos.Version); err != nil {
			return storageError("update position", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		return types.Zero(), err
	}

	l.plugins.EmitCreditRepaid(ctx, updated, amount)

	return updated.UsedCredit, nil
}

// ReleaseCollateral exits a fully repaid position. A new position may be
// locked for the invoice afterwards.
func (l *Ledger) ReleaseCollateral(ctx context.Context, invoiceID id.Key) (*collateral.Position, error) {
	var updated *collateral.Position
	err := l.withRetry(ctx, "release collateral", func() error {
		pos, err := l.getPosition(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !pos.UsedCredit.IsZero() {
			return fmt.Errorf("%w: %s still drawn", ErrPositionOutstanding, pos.UsedCredit)
		}

		next := *pos
		next.Exited = true
		next.Touch(l.now())
		if err := l.store.UpdatePosition(ctx, &next, pos.Version); err != nil {
			return storageError("update position", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.plugins.EmitCollateralReleased(ctx, updated)

	return updated, nil
}

// GetPosition returns the live collateral position of an invoice.
func (l *Ledger) GetPosition(ctx context.Context, invoiceID id.Key) (*collateral.Position, error) {
	return l.getPosition(ctx, invoiceID)
}

// PoolUtilization reports the credit drawn from a pool.
func (l *Ledger) PoolUtilization(ctx context.Context, poolID string) (*Utilization, error) {
	p, err := l.getPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	used, err := l.store.SumUsedCredit(ctx, poolID)
	if err != nil {
		return nil, storageError("sum used credit", err)
	}

	u := &Utilization{
		PoolID:            poolID,
		Used:              used,
		Liquidity:         p.Liquidity,
		MaxUtilizationBps: p.MaxUtilization(),
	}
	if !p.Liquidity.IsZero() {
		bps := new(big.Int).Mul(used.Big(), big.NewInt(collateral.MaxBps))
		bps.Quo(bps, p.Liquidity.Big())
		if bps.IsUint64() {
			u.Bps = bps.Uint64()
		}
	}

	return u, nil
}

// checkUtilization fails when (used + amount) / liquidity would exceed
// the pool's max utilization.
func (l *Ledger) checkUtilization(ctx context.Context, poolID string, amount types.Amount) error {
	if poolID == "" {
		return nil
	}

	p, err := l.getPool(ctx, poolID)
	if err != nil {
		return err
	}

	used, err := l.store.SumUsedCredit(ctx, poolID)
	if err != nil {
		return storageError("sum used credit", err)
	}

	if exceedsUtilization(used, amount, p) {
		return fmt.Errorf("%w: pool %s: %s used + %s requested against %s liquidity at %d bps",
			ErrPoolUtilizationExceeded, poolID, used, amount, p.Liquidity, p.MaxUtilization())
	}
	return nil
}

func exceedsUtilization(used, amount types.Amount, p *pool.Pool) bool {
	lhs := new(big.Int).Add(used.Big(), amount.Big())
	lhs.Mul(lhs, big.NewInt(collateral.MaxBps))

	rhs := new(big.Int).Mul(p.Liquidity.Big(), big.NewInt(int64(p.MaxUtilization())))

	return lhs.Cmp(rhs) > 0
}

// positionExists reports a live position for invoiceID. The invoice is
// marked financed first, so a lock that failed after creating its position
// is completed when retried.
func (l *Ledger) positionExists(ctx context.Context, invoiceID id.Key, at time.Time) error {
	if err := l.markFinanced(ctx, invoiceID, at); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrPositionExists, invoiceID)
}

func (l *Ledger) markFinanced(ctx context.Context, invoiceID id.Key, at time.Time) error {
	return l.withRetry(ctx, "mark financed", func() error {
		inv, err := l.getInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.IsFinanced {
			return nil
		}

		next := *inv
		next.IsFinanced = true
		next.Touch(at)
		return storageError("update invoice", l.store.UpdateInvoice(ctx, &next, inv.Version, nil))
	})
}

func (l *Ledger) getPosition(ctx context.Context, invoiceID id.Key) (*collateral.Position, error) {
	pos, err := l.store.GetPosition(ctx, invoiceID)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, invoiceID)
		}
		return nil, storageError("get position", err)
	}
	if !pos.Live() {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, invoiceID)
	}
	return pos, nil
}

func poolLockKey(pos *collateral.Position) string {
	if pos.PoolID != "" {
		return "pool:" + pos.PoolID
	}
	return "position:" + pos.InvoiceID.String()
}
