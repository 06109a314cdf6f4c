package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/store/sqlite"
	"github.com/xraph/finledger/types"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	drv := sqlitedriver.New()
	require.NoError(t, drv.Open(ctx, "file:"+filepath.Join(t.TempDir(), "finledger.sqlite")))
	db, err := grove.Open(drv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := sqlite.New(db)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func newInvoice(key string) *invoice.Invoice {
	return &invoice.Invoice{
		Entity:   types.NewEntityAt(t0),
		ID:       id.KeyFromString(key),
		Status:   invoice.StatusIssued,
		Issuer:   "0xissuer",
		Debtor:   "0xdebtor",
		Amount:   types.NewAmount(1000),
		Currency: "usdc",
		DueDate:  t0.Add(30 * 24 * time.Hour),
		Version:  1,
	}
}

func issuedEvent(evtID id.EventID, inv *invoice.Invoice) *invoice.LifecycleEvent {
	return &invoice.LifecycleEvent{
		ID:        evtID,
		InvoiceID: inv.ID,
		OldStatus: invoice.StatusNone,
		NewStatus: invoice.StatusIssued,
		Timestamp: t0,
	}
}

func TestCreateInvoiceIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first := newInvoice("INV-1")
	evtID := id.NewEventID()
	require.NoError(t, s.CreateInvoice(ctx, first, issuedEvent(evtID, first)))

	// Reusing the event id makes the second insert of the pair fail.
	second := newInvoice("INV-2")
	require.Error(t, s.CreateInvoice(ctx, second, issuedEvent(evtID, second)))

	_, err := s.GetInvoice(ctx, second.ID)
	require.ErrorIs(t, err, finledger.ErrUnknownInvoice)

	// A retry with a fresh event goes through.
	require.NoError(t, s.CreateInvoice(ctx, second, issuedEvent(id.NewEventID(), second)))

	events, err := s.ListLifecycleEvents(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.ErrorIs(t, s.CreateInvoice(ctx, second, nil), finledger.ErrAlreadyExists)
}

func TestUpdateInvoiceIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	inv := newInvoice("INV-1")
	evtID := id.NewEventID()
	require.NoError(t, s.CreateInvoice(ctx, inv, issuedEvent(evtID, inv)))

	next := *inv
	next.Status = invoice.StatusTokenized
	dup := &invoice.LifecycleEvent{
		ID:        evtID,
		InvoiceID: inv.ID,
		OldStatus: invoice.StatusIssued,
		NewStatus: invoice.StatusTokenized,
		Timestamp: t0,
	}
	require.Error(t, s.UpdateInvoice(ctx, &next, 1, dup))

	stored, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusIssued, stored.Status)
	require.Equal(t, int64(1), stored.Version)

	dup.ID = id.NewEventID()
	require.NoError(t, s.UpdateInvoice(ctx, &next, 1, dup))
	require.Equal(t, int64(2), next.Version)

	err = s.UpdateInvoice(ctx, &next, 1, nil)
	require.ErrorIs(t, err, finledger.ErrConflict)

	events, err := s.ListLifecycleEvents(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
}
