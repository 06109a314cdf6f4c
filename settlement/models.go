package settlement

import (
	"time"

	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/types"
)

// Rule is a pre-registered proportional payout plan for an invoice's
// proceeds. Recipients[i] receives BpsSplit[i] basis points.
type Rule struct {
	types.Entity
	ID          id.RuleID `json:"id"`
	ExternalRef string    `json:"external_ref,omitempty"`
	InvoiceID   id.Key    `json:"invoice_id"`
	Payer       string    `json:"payer"`
	Recipients  []string  `json:"recipients"`
	BpsSplit    []uint32  `json:"bps_split"`
	Active      bool      `json:"active"`
	Version     int64     `json:"version"`
}

// TotalBps sums BpsSplit.
func (r *Rule) TotalBps() uint64 {
	var total uint64
	for _, b := range r.BpsSplit {
		total += uint64(b)
	}

	return total
}

// Split is one recipient's share of a settlement.
type Split struct {
	Recipient string       `json:"recipient"`
	Amount    types.Amount `json:"amount"`
}

// Execution is an immutable record of a rule applied to collected
// proceeds. ID is the chain reference (tx hash and log index) when the
// execution was observed on-chain, otherwise a generated ExecutionID.
type Execution struct {
	ID          string       `json:"id"`
	RuleID      id.RuleID    `json:"rule_id"`
	InvoiceID   id.Key       `json:"invoice_id"`
	GrossAmount types.Amount `json:"gross_amount"`
	Currency    string       `json:"currency"`
	Splits      []Split      `json:"splits"`
	Timestamp   time.Time    `json:"timestamp"`
	CreatedAt   time.Time    `json:"created_at"`
}
