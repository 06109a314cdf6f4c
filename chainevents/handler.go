package chainevents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/invoice"
)

// Handler applies decoded chain events to a Ledger.
//
// Events arrive at least once: a rescanned block range replays logs the
// ledger has already seen. Replays that the ledger rejects as duplicates,
// and forward status updates the ledger has already reached or passed, are
// logged and skipped. Every other error is returned.
type Handler struct {
	ledger *finledger.Ledger
	logger *slog.Logger
	poolID string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithPool sets the pool that CollateralLocked events lock into. The
// pool's LTV bounds the resulting credit limit.
func WithPool(poolID string) HandlerOption {
	return func(h *Handler) { h.poolID = poolID }
}

// NewHandler returns a Handler applying events to l.
func NewHandler(l *finledger.Ledger, opts ...HandlerOption) *Handler {
	h := &Handler{
		ledger: l,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleLog decodes lg, mined in a block with the given timestamp, and
// applies it. Logs of unknown events are ignored.
func (h *Handler) HandleLog(ctx context.Context, lg *gethtypes.Log, blockTime time.Time) error {
	ev, err := Decode(lg, blockTime)
	if errors.Is(err, ErrUnknownEvent) {
		return nil
	}
	if err != nil {
		return err
	}
	return h.Apply(ctx, ev)
}

// Apply applies a decoded event.
func (h *Handler) Apply(ctx context.Context, ev Event) error {
	var err error
	switch e := ev.(type) {
	case InvoiceMinted:
		err = h.invoiceMinted(ctx, e)
	case InvoiceStatusUpdated:
		err = h.statusUpdated(ctx, e)
	case CollateralLocked:
		err = h.collateralLocked(ctx, e)
	case SettlementRuleCreated:
		err = h.ruleCreated(ctx, e)
	case SettlementExecuted:
		err = h.settlementExecuted(ctx, e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}

	if err != nil {
		meta := ev.Metadata()
		return fmt.Errorf("chainevents: apply %s at block %d (%s): %w", ev.Name(), meta.BlockNumber, meta.Ref(), err)
	}
	return nil
}

func (h *Handler) invoiceMinted(ctx context.Context, e InvoiceMinted) error {
	_, err := h.ledger.RecordIssuance(ctx, finledger.IssuanceRequest{
		InvoiceID: e.InvoiceID,
		TokenID:   e.TokenID.String(),
		Issuer:    address(e.Issuer),
		Debtor:    address(e.Debtor),
		Amount:    e.Amount,
		DueDate:   e.DueDate,
		Currency:  e.Currency,
		Timestamp: e.BlockTime,
	})
	if errors.Is(err, finledger.ErrDuplicateInvoice) {
		h.skip(e, err)
		return nil
	}
	return err
}

func (h *Handler) statusUpdated(ctx context.Context, e InvoiceStatusUpdated) error {
	// The mint itself already recorded ISSUED.
	if e.OldStatus == invoice.StatusNone && e.NewStatus == invoice.StatusIssued {
		return nil
	}

	inv, err := h.ledger.GetInvoice(ctx, e.InvoiceID)
	if err != nil {
		return err
	}
	if inv.Status == e.NewStatus || staleStatus(inv.Status, e) {
		h.skip(e, nil)
		return nil
	}

	_, err = h.ledger.ApplyStatusTransition(ctx, e.InvoiceID, e.NewStatus, e.BlockTime)
	return err
}

// staleStatus reports whether e is a forward move the ledger has already
// passed, e.g. a late FINANCED -> PARTIALLY_PAID log for an invoice that
// payments moved to PAID. Logs that move backwards are not stale.
func staleStatus(current invoice.Status, e InvoiceStatusUpdated) bool {
	if current == invoice.StatusDefaulted || e.NewStatus == invoice.StatusDefaulted {
		return false
	}
	if e.OldStatus.Rank() >= e.NewStatus.Rank() {
		return false
	}
	return e.NewStatus.Rank() <= current.Rank()
}

func (h *Handler) collateralLocked(ctx context.Context, e CollateralLocked) error {
	_, err := h.ledger.LockCollateral(ctx, finledger.LockRequest{
		InvoiceID: e.InvoiceID,
		TokenID:   e.TokenID.String(),
		Owner:     address(e.Company),
		PoolID:    h.poolID,
		Timestamp: e.BlockTime,
	})
	if errors.Is(err, finledger.ErrPositionExists) {
		h.skip(e, err)
		return nil
	}
	return err
}

func (h *Handler) ruleCreated(ctx context.Context, e SettlementRuleCreated) error {
	ref := e.RuleID.String()
	if _, err := h.ledger.GetRuleByRef(ctx, ref); err == nil {
		h.skip(e, finledger.ErrAlreadyExists)
		return nil
	} else if !finledger.IsNotFound(err) {
		return err
	}

	recipients := make([]string, len(e.Recipients))
	for i, r := range e.Recipients {
		recipients[i] = address(r)
	}
	bps := make([]uint32, len(e.BpsSplit))
	for i, b := range e.BpsSplit {
		bps[i] = uint32(b)
	}

	_, err := h.ledger.CreateRule(ctx, finledger.RuleRequest{
		ExternalRef: ref,
		InvoiceID:   e.InvoiceID,
		Payer:       address(e.Payer),
		Recipients:  recipients,
		BpsSplit:    bps,
		Timestamp:   e.BlockTime,
	})
	return err
}

func (h *Handler) settlementExecuted(ctx context.Context, e SettlementExecuted) error {
	rule, err := h.ledger.GetRuleByRef(ctx, e.RuleID.String())
	if err != nil {
		return err
	}

	_, err = h.ledger.RecordExecution(ctx, finledger.ExecutionRequest{
		Ref:         e.Ref(),
		RuleID:      rule.ID,
		InvoiceID:   e.InvoiceID,
		GrossAmount: e.GrossAmount,
		Timestamp:   e.BlockTime,
	})
	if errors.Is(err, finledger.ErrDuplicateExecution) {
		h.skip(e, err)
		return nil
	}
	return err
}

func (h *Handler) skip(ev Event, reason error) {
	meta := ev.Metadata()
	h.logger.Debug("chainevents: skipping replayed event",
		"event", ev.Name(),
		"block", meta.BlockNumber,
		"ref", meta.Ref(),
		"reason", reason,
	)
}

func address(a common.Address) string {
	return a.Hex()
}
