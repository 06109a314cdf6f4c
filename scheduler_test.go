package finledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/types"
)

// hookRecorder counts the hooks it receives.
type hookRecorder struct {
	mu    sync.Mutex
	calls map[string]int
	runs  []*pool.AccrualRun
}

func newHookRecorder() *hookRecorder { return &hookRecorder{calls: make(map[string]int)} }

func (r *hookRecorder) Name() string { return "recorder" }

func (r *hookRecorder) record(hook string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[hook]++
}

func (r *hookRecorder) count(hook string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[hook]
}

func (r *hookRecorder) OnInvoiceIssued(context.Context, *invoice.Invoice) error {
	r.record("issued")
	return nil
}

func (r *hookRecorder) OnInvoiceStatusChanged(context.Context, *invoice.Invoice, *invoice.LifecycleEvent) error {
	r.record("status")
	return nil
}

func (r *hookRecorder) OnLimitExceeded(context.Context, *collateral.Position, types.Amount, error) error {
	r.record("limit")
	return nil
}

func (r *hookRecorder) OnAccrualCycleCompleted(_ context.Context, run *pool.AccrualRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["cycle"]++
	r.runs = append(r.runs, run)
	return nil
}

func TestSchedulerRunsCycles(t *testing.T) {
	rec := newHookRecorder()
	h := newHarness(t)
	// The harness disables accrual; build a ledger with it enabled on the
	// same clock and store.
	l := finledger.New(h.store,
		finledger.WithClock(h.clock),
		finledger.WithPlugin(rec),
		finledger.WithAccrualInterval(time.Minute),
	)
	h.l = l
	h.fivePercentPool(t, "0xaa")

	ctx := context.Background()
	require.NoError(t, l.Start(ctx))

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return rec.count("cycle") >= 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, perMinuteAt5, h.accrued(t, "0xaa"))

	require.NoError(t, l.Stop())

	// Stopped: further ticks accrue nothing.
	h.clock.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, rec.count("cycle"))
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	l := finledger.New(h.store, finledger.WithClock(h.clock))

	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())
}

func TestPluginHooks(t *testing.T) {
	rec := newHookRecorder()
	h := newHarness(t, finledger.WithPlugin(rec))
	ctx := context.Background()

	h.issue(t, key("inv"), 100)
	h.transition(t, key("inv"), invoice.StatusFinanced)
	require.Equal(t, 1, rec.count("issued"))
	require.Equal(t, 2, rec.count("status"))

	_, err := h.l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: key("inv"), LTVBps: 5000})
	require.NoError(t, err)
	_, err = h.l.Draw(ctx, key("inv"), amt(51))
	require.ErrorIs(t, err, finledger.ErrCreditLimitExceeded)
	require.Equal(t, 1, rec.count("limit"))

	require.Equal(t, 1, h.l.Plugins().Count())
}

func TestSchedulerStopAbortsInFlightCycle(t *testing.T) {
	rec := newHookRecorder()
	clock := finledger.NewManualClock(t0)
	s := newBlockingStore("0xmid")
	l := finledger.New(s,
		finledger.WithClock(clock),
		finledger.WithPlugin(rec),
		finledger.WithAccrualInterval(time.Minute),
		finledger.WithAccountTimeout(time.Minute),
	)
	h := &harness{clock: clock, l: l}
	h.fivePercentPool(t, "0xaa", "0xmid", "0xzz")

	ctx := context.Background()
	require.NoError(t, l.Start(ctx))

	clock.Advance(time.Minute)
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never reached the blocking account")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a cycle was in flight")
	}

	rec.mu.Lock()
	require.Len(t, rec.runs, 1)
	run := rec.runs[0]
	rec.mu.Unlock()

	require.True(t, run.Aborted)
	require.Equal(t, 2, run.AccountsProcessed)
	require.Equal(t, 1, run.AccountsSucceeded)
	require.Equal(t, 1, run.AccountsFailed)

	// The pool watermark stays put; the account past the boundary is
	// untouched.
	p, err := s.GetPool(ctx, "lp")
	require.NoError(t, err)
	require.Equal(t, t0, p.LastAccruedAt)

	require.Equal(t, perMinuteAt5, h.accrued(t, "0xaa"))
	_, err = s.GetYieldAccount(ctx, "0xzz", "lp")
	require.Error(t, err)
}
