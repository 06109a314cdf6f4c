package finledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/types"
)

// IssuanceRequest describes a newly minted invoice.
type IssuanceRequest struct {
	InvoiceID id.Key
	TokenID   string
	Issuer    string
	Debtor    string
	Amount    types.Amount
	DueDate   time.Time
	Currency  string
	Timestamp time.Time
}

// RecordIssuance records a minted invoice in status ISSUED.
func (l *Ledger) RecordIssuance(ctx context.Context, req IssuanceRequest) (*invoice.Invoice, error) {
	if req.InvoiceID.IsZero() {
		return nil, ValidationError{Field: "invoice_id", Message: "required"}
	}
	if req.Issuer == "" {
		return nil, ValidationError{Field: "issuer", Message: "required"}
	}
	if req.Amount.IsZero() {
		return nil, fmt.Errorf("%w: invoice amount must be positive", ErrInvalidAmount)
	}

	at := l.at(req.Timestamp)
	inv := &invoice.Invoice{
		Entity:   types.NewEntityAt(at),
		ID:       req.InvoiceID,
		TokenID:  req.TokenID,
		Status:   invoice.StatusIssued,
		Issuer:   normalizeAccount(req.Issuer),
		Debtor:   normalizeAccount(req.Debtor),
		Amount:   req.Amount,
		Currency: req.Currency,
		DueDate:  req.DueDate.UTC(),
		Version:  1,
	}
	evt := &invoice.LifecycleEvent{
		ID:        id.NewEventID(),
		InvoiceID: inv.ID,
		OldStatus: invoice.StatusNone,
		NewStatus: invoice.StatusIssued,
		Timestamp: at,
	}

	if err := l.store.CreateInvoice(ctx, inv, evt); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInvoice, inv.ID)
		}
		return nil, storageError("create invoice", err)
	}

	l.plugins.EmitInvoiceIssued(ctx, inv)
	l.plugins.EmitInvoiceStatusChanged(ctx, inv, evt)

	return inv, nil
}

// ApplyStatusTransition moves an invoice to newStatus. Statuses only move
// forward along the lifecycle order; DEFAULTED is reachable from any
// non-terminal status, and PAID requires the invoice to be fully paid.
func (l *Ledger) ApplyStatusTransition(ctx context.Context, invoiceID id.Key, newStatus invoice.Status, at time.Time) (*invoice.Invoice, error) {
	if !newStatus.Valid() || newStatus == invoice.StatusNone {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	at = l.at(at)

	var (
		updated *invoice.Invoice
		evt     *invoice.LifecycleEvent
	)
	err := l.withRetry(ctx, "apply status transition", func() error {
		inv, err := l.getInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := checkTransition(inv, newStatus); err != nil {
			return err
		}

		next := *inv
		next.Status = newStatus
		next.Touch(at)

		evt = &invoice.LifecycleEvent{
			ID:             id.NewEventID(),
			InvoiceID:      inv.ID,
			OldStatus:      inv.Status,
			NewStatus:      newStatus,
			CumulativePaid: inv.CumulativePaid,
			Timestamp:      at,
		}
		if err := l.store.UpdateInvoice(ctx, &next, inv.Version, evt); err != nil {
			return storageError("update invoice", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.plugins.EmitInvoiceStatusChanged(ctx, updated, evt)

	return updated, nil
}

// ApplyPayment adds paid to the invoice's cumulative payments. Reaching
// the face value moves the invoice to PAID; a partial payment moves a
// FINANCED invoice to PARTIALLY_PAID.
func (l *Ledger) ApplyPayment(ctx context.Context, invoiceID id.Key, paid types.Amount, at time.Time) (*invoice.Invoice, error) {
	if paid.IsZero() {
		return nil, fmt.Errorf("%w: payment must be positive", ErrInvalidAmount)
	}

	at = l.at(at)

	var (
		updated *invoice.Invoice
		evt     *invoice.LifecycleEvent
	)
	err := l.withRetry(ctx, "apply payment", func() error {
		inv, err := l.getInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}

		total, err := inv.CumulativePaid.Add(paid)
		if err != nil {
			return err
		}
		if total.GreaterThan(inv.Amount) {
			return fmt.Errorf("%w: %s paid of %s, payment %s", ErrOverpayment, inv.CumulativePaid, inv.Amount, paid)
		}
		if inv.Status.Terminal() {
			return fmt.Errorf("%w: payment on %s invoice", ErrInvalidTransition, inv.Status)
		}

		next := *inv
		next.CumulativePaid = total
		next.Touch(at)

		switch {
		case total.Equal(inv.Amount):
			next.Status = invoice.StatusPaid
		case inv.Status == invoice.StatusFinanced || inv.Status == invoice.StatusPartiallyPaid:
			next.Status = invoice.StatusPartiallyPaid
		default:
			return fmt.Errorf("%w: partial payment on %s invoice", ErrInvalidTransition, inv.Status)
		}

		evt = nil
		if next.Status != inv.Status {
			evt = &invoice.LifecycleEvent{
				ID:             id.NewEventID(),
				InvoiceID:      inv.ID,
				OldStatus:      inv.Status,
				NewStatus:      next.Status,
				CumulativePaid: total,
				Timestamp:      at,
			}
		}

		if err := l.store.UpdateInvoice(ctx, &next, inv.Version, evt); err != nil {
			return storageError("update invoice", err)
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.plugins.EmitPaymentApplied(ctx, updated, paid)
	if evt != nil {
		l.plugins.EmitInvoiceStatusChanged(ctx, updated, evt)
	}

	return updated, nil
}

// GetInvoice returns an invoice by its on-chain id.
func (l *Ledger) GetInvoice(ctx context.Context, invoiceID id.Key) (*invoice.Invoice, error) {
	return l.getInvoice(ctx, invoiceID)
}

// ListInvoices scans invoices.
func (l *Ledger) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	invs, err := l.store.ListInvoices(ctx, opts)
	return invs, storageError("list invoices", err)
}

// LifecycleHistory returns the applied transitions of an invoice, oldest
// first.
func (l *Ledger) LifecycleHistory(ctx context.Context, invoiceID id.Key) ([]*invoice.LifecycleEvent, error) {
	if _, err := l.getInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	events, err := l.store.ListLifecycleEvents(ctx, invoiceID)
	return events, storageError("list lifecycle events", err)
}

// CanTransition reports whether from may move to to, ignoring payment
// state.
func CanTransition(from, to invoice.Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() || to == invoice.StatusNone {
		return false
	}
	if to == invoice.StatusDefaulted {
		return true
	}
	return to.Rank() > from.Rank()
}

func checkTransition(inv *invoice.Invoice, to invoice.Status) error {
	if !CanTransition(inv.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.Status, to)
	}
	if to == invoice.StatusPaid && !inv.CumulativePaid.Equal(inv.Amount) {
		return fmt.Errorf("%w: %s -> %s with %s of %s paid", ErrInvalidTransition, inv.Status, to, inv.CumulativePaid, inv.Amount)
	}
	return nil
}

func (l *Ledger) getInvoice(ctx context.Context, invoiceID id.Key) (*invoice.Invoice, error) {
	inv, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInvoice, invoiceID)
		}
		return nil, storageError("get invoice", err)
	}
	return inv, nil
}
