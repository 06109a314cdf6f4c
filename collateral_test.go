package finledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/store"
	"github.com/xraph/finledger/store/memory"
	"github.com/xraph/finledger/types"
)

func (h *harness) registerPool(t *testing.T, p *pool.Pool) *pool.Pool {
	t.Helper()

	out, err := h.l.RegisterPool(context.Background(), p)
	require.NoError(t, err)

	return out
}

func TestLockCollateral(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// tokenId 3, face value 10000 at 60% LTV.
	h.issue(t, key("inv"), 10000)
	pos, err := h.l.LockCollateral(ctx, finledger.LockRequest{
		InvoiceID: key("inv"),
		TokenID:   "3",
		Owner:     "0xOwner",
		FaceValue: amt(10000),
		LTVBps:    6000,
	})
	require.NoError(t, err)
	require.Equal(t, "6000", pos.CreditLimit.String())
	require.True(t, pos.UsedCredit.IsZero())
	require.True(t, pos.Exists)

	inv, err := h.l.GetInvoice(ctx, key("inv"))
	require.NoError(t, err)
	require.True(t, inv.IsFinanced)

	used, err := h.l.Draw(ctx, key("inv"), amt(6000))
	require.NoError(t, err)
	require.Equal(t, "6000", used.String())

	_, err = h.l.Draw(ctx, key("inv"), amt(1))
	require.ErrorIs(t, err, finledger.ErrCreditLimitExceeded)
	require.True(t, finledger.IsLimitError(err))

	_, err = h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("inv"), LTVBps: 5000})
	require.ErrorIs(t, err, finledger.ErrPositionExists)
}

func TestLockCollateralValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("none"), LTVBps: 5000})
	require.ErrorIs(t, err, finledger.ErrUnknownInvoice)

	h.issue(t, key("inv"), 100)

	_, err = h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("inv"), LTVBps: 10001})
	require.ErrorIs(t, err, finledger.ErrInvalidInput)

	_, err = h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("inv"), FaceValue: amt(101), LTVBps: 5000})
	require.ErrorIs(t, err, finledger.ErrInvalidInput)

	_, err = h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("inv"), PoolID: "ghost", LTVBps: 5000})
	require.ErrorIs(t, err, finledger.ErrPoolNotFound)
}

func TestCreditLimitBoundary(t *testing.T) {
	cases := []struct {
		face string
		ltv  uint32
	}{
		{"1", 10000},
		{"3", 3333},
		{"999", 1},
		{"10000", 6000},
		{"123456789", 7500},
		{"1000000000000000000000000", 8000},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", 9999},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("%s@%d", tc.face, tc.ltv), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			invoiceID := key(fmt.Sprintf("inv-%d", i))

			_, err := h.l.RecordIssuance(ctx, finledger.IssuanceRequest{
				InvoiceID: invoiceID,
				Issuer:    "issuer",
				Amount:    types.MustParseAmount(tc.face),
			})
			require.NoError(t, err)

			pos, err := h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: invoiceID, LTVBps: tc.ltv})
			require.NoError(t, err)

			want, err := types.MustParseAmount(tc.face).MulDiv(uint64(tc.ltv), 10000)
			require.NoError(t, err)
			require.Equal(t, want, pos.CreditLimit)

			if pos.CreditLimit.IsZero() {
				return
			}

			_, err = h.l.Draw(ctx, invoiceID, pos.CreditLimit)
			require.NoError(t, err)

			_, err = h.l.Draw(ctx, invoiceID, amt(1))
			require.ErrorIs(t, err, finledger.ErrCreditLimitExceeded)
		})
	}
}

func TestRepayAndRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.issue(t, key("inv"), 1000)
	_, err := h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("inv"), LTVBps: 5000})
	require.NoError(t, err)

	_, err = h.l.Draw(ctx, key("inv"), amt(300))
	require.NoError(t, err)

	_, err = h.l.Repay(ctx, key("inv"), amt(301))
	require.ErrorIs(t, err, finledger.ErrRepaymentExceedsBalance)

	_, err = h.l.ReleaseCollateral(ctx, key("inv"))
	require.ErrorIs(t, err, finledger.ErrPositionOutstanding)

	used, err := h.l.Repay(ctx, key("inv"), amt(300))
	require.NoError(t, err)
	require.True(t, used.IsZero())

	pos, err := h.l.ReleaseCollateral(ctx, key("inv"))
	require.NoError(t, err)
	require.True(t, pos.Exited)

	_, err = h.l.Draw(ctx, key("inv"), amt(1))
	require.ErrorIs(t, err, finledger.ErrPositionNotFound)

	// An exited position can be replaced by a new lock.
	pos, err = h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("inv"), LTVBps: 8000})
	require.NoError(t, err)
	require.Equal(t, "800", pos.CreditLimit.String())
	require.False(t, pos.Exited)
}

func TestPoolUtilization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registerPool(t, &pool.Pool{
		ID:                "senior",
		AnnualRate:        decimal.RequireFromString("0.05"),
		TickInterval:      time.Minute,
		LTVBps:            8000,
		MaxUtilizationBps: 5000,
		Liquidity:         amt(1000),
	})

	h.issue(t, key("a"), 1000)
	h.issue(t, key("b"), 1000)

	pos, err := h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("a"), PoolID: "senior"})
	require.NoError(t, err)
	require.Equal(t, uint32(8000), pos.LTVBps)
	require.Equal(t, "800", pos.CreditLimit.String())

	_, err = h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("b"), PoolID: "senior"})
	require.NoError(t, err)

	_, err = h.l.Draw(ctx, key("a"), amt(300))
	require.NoError(t, err)

	// 300 + 201 > 50% of 1000.
	_, err = h.l.Draw(ctx, key("b"), amt(201))
	require.ErrorIs(t, err, finledger.ErrPoolUtilizationExceeded)

	_, err = h.l.Draw(ctx, key("b"), amt(200))
	require.NoError(t, err)

	u, err := h.l.PoolUtilization(ctx, "senior")
	require.NoError(t, err)
	require.Equal(t, "500", u.Used.String())
	require.Equal(t, uint64(5000), u.Bps)
}

func TestConcurrentDrawsRespectUtilization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.registerPool(t, &pool.Pool{
		ID:           "p",
		TickInterval: time.Minute,
		LTVBps:       10000,
		Liquidity:    amt(1000),
	})

	const positions = 5
	for i := range positions {
		invoiceID := key(fmt.Sprintf("inv-%d", i))
		h.issue(t, invoiceID, 1000)
		_, err := h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: invoiceID, PoolID: "p"})
		require.NoError(t, err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.l.Draw(ctx, key(fmt.Sprintf("inv-%d", i%positions)), amt(100))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !finledger.IsLimitError(err) {
				t.Errorf("unexpected draw error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)

	u, err := h.l.PoolUtilization(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, "1000", u.Used.String())
}

// flakyInvoiceStore fails the next n invoice updates.
type flakyInvoiceStore struct {
	store.Store
	failures int
}

func (f *flakyInvoiceStore) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64, evt *invoice.LifecycleEvent) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.Store.UpdateInvoice(ctx, inv, expectedVersion, evt)
}

func TestLockCollateralRetryMarksFinanced(t *testing.T) {
	clock := finledger.NewManualClock(t0)
	s := &flakyInvoiceStore{Store: memory.New()}
	h := &harness{clock: clock, l: finledger.New(s, finledger.WithClock(clock), finledger.WithAccrualDisabled())}
	ctx := context.Background()
	h.issue(t, key("inv"), 10000)

	s.failures = 1
	req := finledger.LockRequest{InvoiceID: key("inv"), TokenID: "3", Owner: "0xOwner", LTVBps: 6000}
	_, err := h.l.LockCollateral(ctx, req)
	require.ErrorIs(t, err, finledger.ErrStorageFailure)

	inv, err := h.l.GetInvoice(ctx, key("inv"))
	require.NoError(t, err)
	require.False(t, inv.IsFinanced)

	// The retry finds the position and completes the lock.
	_, err = h.l.LockCollateral(ctx, req)
	require.ErrorIs(t, err, finledger.ErrPositionExists)

	inv, err = h.l.GetInvoice(ctx, key("inv"))
	require.NoError(t, err)
	require.True(t, inv.IsFinanced)
}
