package finledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/invoice"
)

func TestRecordIssuance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.issue(t, key("inv-1"), 1000)
	require.Equal(t, invoice.StatusIssued, inv.Status)
	require.True(t, inv.CumulativePaid.IsZero())
	require.False(t, inv.IsFinanced)
	require.Equal(t, "0xissuer", inv.Issuer)

	_, err := h.l.RecordIssuance(ctx, finledger.IssuanceRequest{
		InvoiceID: key("inv-1"),
		Issuer:    "0xissuer",
		Amount:    amt(5),
	})
	require.ErrorIs(t, err, finledger.ErrDuplicateInvoice)

	history, err := h.l.LifecycleHistory(ctx, key("inv-1"))
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, invoice.StatusNone, history[0].OldStatus)
	require.Equal(t, invoice.StatusIssued, history[0].NewStatus)
}

func TestRecordIssuanceValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.l.RecordIssuance(ctx, finledger.IssuanceRequest{Issuer: "a", Amount: amt(1)})
	require.ErrorIs(t, err, finledger.ErrInvalidInput)

	_, err = h.l.RecordIssuance(ctx, finledger.IssuanceRequest{InvoiceID: key("x"), Issuer: "a"})
	require.ErrorIs(t, err, finledger.ErrInvalidAmount)
}

func TestApplyStatusTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("unknown invoice", func(t *testing.T) {
		_, err := h.l.ApplyStatusTransition(ctx, key("missing"), invoice.StatusTokenized, time.Time{})
		require.ErrorIs(t, err, finledger.ErrUnknownInvoice)
		require.True(t, finledger.IsNotFound(err))
	})

	t.Run("forward sequence", func(t *testing.T) {
		h.issue(t, key("fwd"), 100)
		h.transition(t, key("fwd"), invoice.StatusTokenized, invoice.StatusFinanced)

		history, err := h.l.LifecycleHistory(ctx, key("fwd"))
		require.NoError(t, err)
		require.Len(t, history, 3)
		require.Equal(t, invoice.StatusTokenized, history[2].OldStatus)
		require.Equal(t, invoice.StatusFinanced, history[2].NewStatus)
	})

	t.Run("backwards rejected", func(t *testing.T) {
		h.issue(t, key("back"), 100)
		h.transition(t, key("back"), invoice.StatusFinanced)

		_, err := h.l.ApplyStatusTransition(ctx, key("back"), invoice.StatusTokenized, time.Time{})
		require.ErrorIs(t, err, finledger.ErrInvalidTransition)

		inv, err := h.l.GetInvoice(ctx, key("back"))
		require.NoError(t, err)
		require.Equal(t, invoice.StatusFinanced, inv.Status)
	})

	t.Run("paid requires full payment", func(t *testing.T) {
		h.issue(t, key("unpaid"), 100)
		_, err := h.l.ApplyStatusTransition(ctx, key("unpaid"), invoice.StatusPaid, time.Time{})
		require.ErrorIs(t, err, finledger.ErrInvalidTransition)
	})

	t.Run("paid is terminal", func(t *testing.T) {
		h.issue(t, key("paid"), 100)
		h.transition(t, key("paid"), invoice.StatusFinanced)
		_, err := h.l.ApplyPayment(ctx, key("paid"), amt(100), time.Time{})
		require.NoError(t, err)

		for _, s := range []invoice.Status{invoice.StatusTokenized, invoice.StatusDefaulted, invoice.StatusPaid} {
			_, err := h.l.ApplyStatusTransition(ctx, key("paid"), s, time.Time{})
			require.ErrorIs(t, err, finledger.ErrInvalidTransition, "paid -> %s", s)
		}
	})

	t.Run("defaulted from any live status", func(t *testing.T) {
		h.issue(t, key("def"), 100)
		h.transition(t, key("def"), invoice.StatusTokenized, invoice.StatusDefaulted)

		_, err := h.l.ApplyStatusTransition(ctx, key("def"), invoice.StatusFinanced, time.Time{})
		require.ErrorIs(t, err, finledger.ErrInvalidTransition)
	})
}

func TestCanTransition(t *testing.T) {
	statuses := []invoice.Status{
		invoice.StatusNone,
		invoice.StatusIssued,
		invoice.StatusTokenized,
		invoice.StatusFinanced,
		invoice.StatusPartiallyPaid,
		invoice.StatusPaid,
		invoice.StatusDefaulted,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			var want bool
			switch {
			case from.Terminal(), to == invoice.StatusNone:
				want = false
			case to == invoice.StatusDefaulted:
				want = true
			default:
				want = to.Rank() > from.Rank()
			}
			require.Equal(t, want, finledger.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestApplyPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Issued for 1000, paid 400 then 600, a third payment overpays.
	h.issue(t, key("pay"), 1000)
	h.transition(t, key("pay"), invoice.StatusFinanced)

	inv, err := h.l.ApplyPayment(ctx, key("pay"), amt(400), time.Time{})
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPartiallyPaid, inv.Status)
	require.Equal(t, "400", inv.CumulativePaid.String())

	inv, err = h.l.ApplyPayment(ctx, key("pay"), amt(600), time.Time{})
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPaid, inv.Status)
	require.True(t, inv.Outstanding().IsZero())

	_, err = h.l.ApplyPayment(ctx, key("pay"), amt(1), time.Time{})
	require.ErrorIs(t, err, finledger.ErrOverpayment)

	history, err := h.l.LifecycleHistory(ctx, key("pay"))
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, "1000", history[3].CumulativePaid.String())
}

func TestApplyPaymentRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.issue(t, key("issued"), 1000)

	_, err := h.l.ApplyPayment(ctx, key("issued"), amt(0), time.Time{})
	require.ErrorIs(t, err, finledger.ErrInvalidAmount)

	// Partial payment before financing.
	_, err = h.l.ApplyPayment(ctx, key("issued"), amt(10), time.Time{})
	require.ErrorIs(t, err, finledger.ErrInvalidTransition)

	// A full payment settles an unfinanced invoice.
	inv, err := h.l.ApplyPayment(ctx, key("issued"), amt(1000), time.Time{})
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPaid, inv.Status)

	h.issue(t, key("defaulted"), 1000)
	h.transition(t, key("defaulted"), invoice.StatusFinanced, invoice.StatusDefaulted)
	_, err = h.l.ApplyPayment(ctx, key("defaulted"), amt(10), time.Time{})
	require.ErrorIs(t, err, finledger.ErrInvalidTransition)

	_, err = h.l.ApplyPayment(ctx, key("nope"), amt(10), time.Time{})
	require.ErrorIs(t, err, finledger.ErrUnknownInvoice)
}

func TestListInvoices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.issue(t, key("a"), 10)
	h.clock.Advance(time.Second)
	h.issue(t, key("b"), 20)
	h.transition(t, key("b"), invoice.StatusTokenized)

	all, err := h.l.ListInvoices(ctx, invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, key("a"), all[0].ID)

	tokenized, err := h.l.ListInvoices(ctx, invoice.ListOpts{Status: invoice.StatusTokenized})
	require.NoError(t, err)
	require.Len(t, tokenized, 1)
	require.Equal(t, key("b"), tokenized[0].ID)
}

func TestListInvoicesPaging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		h.issue(t, key(k), 10)
		h.clock.Advance(time.Second)
	}

	page, err := h.l.ListInvoices(ctx, invoice.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, key("b"), page[0].ID)

	// Out-of-range values are clamped rather than rejected.
	page, err = h.l.ListInvoices(ctx, invoice.ListOpts{Offset: -1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, key("a"), page[0].ID)

	page, err = h.l.ListInvoices(ctx, invoice.ListOpts{Offset: -5, Limit: -1})
	require.NoError(t, err)
	require.Len(t, page, 3)

	page, err = h.l.ListInvoices(ctx, invoice.ListOpts{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, page)
}
