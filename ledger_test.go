package finledger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/store/memory"
	"github.com/xraph/finledger/types"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	l     *finledger.Ledger
	clock *finledger.ManualClock
	store *memory.Store
}

func newHarness(t *testing.T, opts ...finledger.Option) *harness {
	t.Helper()

	h := &harness{
		clock: finledger.NewManualClock(t0),
		store: memory.New(),
	}
	base := []finledger.Option{
		finledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		finledger.WithClock(h.clock),
		finledger.WithAccrualDisabled(),
	}
	h.l = finledger.New(h.store, append(base, opts...)...)

	return h
}

func key(s string) id.Key { return id.KeyFromString(s) }

func amt(n uint64) types.Amount { return types.NewAmount(n) }

func (h *harness) issue(t *testing.T, invoiceID id.Key, amount uint64) *invoice.Invoice {
	t.Helper()

	inv, err := h.l.RecordIssuance(context.Background(), finledger.IssuanceRequest{
		InvoiceID: invoiceID,
		TokenID:   "1",
		Issuer:    "0xIssuer",
		Debtor:    "0xDebtor",
		Amount:    amt(amount),
		DueDate:   t0.Add(90 * 24 * time.Hour),
		Currency:  "usdc",
	})
	require.NoError(t, err)

	return inv
}

func (h *harness) transition(t *testing.T, invoiceID id.Key, statuses ...invoice.Status) {
	t.Helper()

	for _, s := range statuses {
		_, err := h.l.ApplyStatusTransition(context.Background(), invoiceID, s, time.Time{})
		require.NoError(t, err, "transition to %s", s)
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.l.Start(ctx))
	require.NoError(t, h.l.Health(ctx))
	require.NoError(t, h.l.Stop())

	err := h.l.Health(ctx)
	require.ErrorIs(t, err, finledger.ErrStoreClosed)
	require.Equal(t, finledger.KindStorageFailure, finledger.Kind(err))
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		want finledger.ErrorKind
	}{
		{finledger.ErrUnknownInvoice, finledger.KindNotFound},
		{finledger.ErrPoolNotFound, finledger.KindNotFound},
		{finledger.ErrInvalidTransition, finledger.KindInvalidTransition},
		{finledger.ErrOverpayment, finledger.KindInvalidTransition},
		{finledger.ErrDuplicateRecipient, finledger.KindInvalidRule},
		{finledger.ErrCreditLimitExceeded, finledger.KindLimitExceeded},
		{finledger.ErrPoolUtilizationExceeded, finledger.KindLimitExceeded},
		{finledger.ErrDuplicateInvoice, finledger.KindDuplicate},
		{finledger.ErrArithmeticOverflow, finledger.KindArithmeticOverflow},
		{finledger.ErrStorageFailure, finledger.KindStorageFailure},
		{finledger.ValidationError{Field: "x", Message: "bad"}, finledger.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.want, finledger.Kind(tt.err))
		})
	}

	require.True(t, finledger.IsInvariantViolation(finledger.ErrCreditLimitExceeded))
	require.False(t, finledger.IsInvariantViolation(finledger.ErrStorageFailure))
	require.True(t, finledger.IsRetryable(finledger.ErrConflict))
}
