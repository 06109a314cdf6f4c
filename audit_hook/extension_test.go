package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audithook "github.com/xraph/finledger/audit_hook"
	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/types"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) Record(_ context.Context, evt *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func quiet() audithook.Option {
	return audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtension_StatusChange(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	ext := audithook.New(rec, quiet())

	inv := &invoice.Invoice{ID: id.KeyFromString("inv-1"), Status: invoice.StatusFinanced}
	require.NoError(t, ext.OnInvoiceStatusChanged(ctx, inv, &invoice.LifecycleEvent{
		OldStatus: invoice.StatusTokenized, NewStatus: invoice.StatusFinanced,
	}))
	require.NoError(t, ext.OnInvoiceStatusChanged(ctx, inv, &invoice.LifecycleEvent{
		OldStatus: invoice.StatusFinanced, NewStatus: invoice.StatusDefaulted,
	}))

	require.Len(t, rec.events, 2)

	first := rec.events[0]
	assert.Equal(t, audithook.ActionInvoiceStatusChanged, first.Action)
	assert.Equal(t, audithook.ResourceInvoice, first.Resource)
	assert.Equal(t, inv.ID.String(), first.ResourceID)
	assert.Equal(t, "tokenized", first.Metadata["old_status"])
	assert.Equal(t, "financed", first.Metadata["new_status"])

	second := rec.events[1]
	assert.Equal(t, audithook.ActionInvoiceDefaulted, second.Action)
	assert.Equal(t, audithook.SeverityWarning, second.Severity)
}

func TestExtension_PaymentOutcome(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	ext := audithook.New(rec, quiet())

	inv := &invoice.Invoice{
		ID:             id.KeyFromString("inv-2"),
		Status:         invoice.StatusPartiallyPaid,
		Amount:         types.NewAmount(100),
		CumulativePaid: types.NewAmount(40),
	}
	require.NoError(t, ext.OnPaymentApplied(ctx, inv, types.NewAmount(40)))

	inv.Status = invoice.StatusPaid
	inv.CumulativePaid = types.NewAmount(100)
	require.NoError(t, ext.OnPaymentApplied(ctx, inv, types.NewAmount(60)))

	require.Len(t, rec.events, 2)
	assert.Equal(t, audithook.OutcomePartial, rec.events[0].Outcome)
	assert.Equal(t, audithook.OutcomeSuccess, rec.events[1].Outcome)
	assert.Equal(t, "60", rec.events[1].Metadata["paid"])
}

func TestExtension_LimitExceededCarriesReason(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	ext := audithook.New(rec, quiet())

	pos := &collateral.Position{InvoiceID: id.KeyFromString("inv-3")}
	require.NoError(t, ext.OnLimitExceeded(ctx, pos, types.NewAmount(5), errors.New("credit limit exceeded")))

	require.Len(t, rec.events, 1)
	evt := rec.events[0]
	assert.Equal(t, audithook.ActionLimitExceeded, evt.Action)
	assert.Equal(t, audithook.OutcomeFailure, evt.Outcome)
	assert.Equal(t, "credit limit exceeded", evt.Reason)
	assert.Equal(t, "credit limit exceeded", evt.Metadata["error"])
}

func TestExtension_AccrualOutcome(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	ext := audithook.New(rec, quiet())

	require.NoError(t, ext.OnAccrualCycleCompleted(ctx, &pool.AccrualRun{PoolID: "p", AccountsFailed: 1}))
	require.NoError(t, ext.OnAccrualCycleCompleted(ctx, &pool.AccrualRun{PoolID: "p", Aborted: true}))

	require.Len(t, rec.events, 2)
	assert.Equal(t, audithook.ActionAccrualCompleted, rec.events[0].Action)
	assert.Equal(t, audithook.OutcomePartial, rec.events[0].Outcome)
	assert.Equal(t, audithook.ActionAccrualAborted, rec.events[1].Action)
	assert.Equal(t, audithook.OutcomeFailure, rec.events[1].Outcome)
}

func TestExtension_ActionFilters(t *testing.T) {
	ctx := context.Background()
	pos := &collateral.Position{InvoiceID: id.KeyFromString("inv-4")}

	t.Run("enabled", func(t *testing.T) {
		rec := &captured{}
		ext := audithook.New(rec, quiet(), audithook.WithEnabledActions(audithook.ActionCreditDrawn))

		require.NoError(t, ext.OnCollateralLocked(ctx, pos))
		require.NoError(t, ext.OnCreditDrawn(ctx, pos, types.NewAmount(1)))

		require.Len(t, rec.events, 1)
		assert.Equal(t, audithook.ActionCreditDrawn, rec.events[0].Action)
	})

	t.Run("disabled", func(t *testing.T) {
		rec := &captured{}
		ext := audithook.New(rec, quiet(), audithook.WithDisabledActions(audithook.ActionCreditDrawn))

		require.NoError(t, ext.OnCollateralLocked(ctx, pos))
		require.NoError(t, ext.OnCreditDrawn(ctx, pos, types.NewAmount(1)))

		require.Len(t, rec.events, 1)
		assert.Equal(t, audithook.ActionCollateralLocked, rec.events[0].Action)
	})
}

func TestExtension_RecorderErrorIsSwallowed(t *testing.T) {
	failing := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	})
	ext := audithook.New(failing, quiet())

	err := ext.OnAccrualAccountFailed(context.Background(), "p", "0xabc", errors.New("timeout"))
	assert.NoError(t, err)
}
