package invoice

import (
	"time"

	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/types"
)

// Status is the lifecycle state of a tokenized invoice.
type Status string

// Statuses in lifecycle order. DEFAULTED sits outside the order: it is
// reachable from every non-terminal status.
const (
	StatusNone          Status = "none"
	StatusIssued        Status = "issued"
	StatusTokenized     Status = "tokenized"
	StatusFinanced      Status = "financed"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusDefaulted     Status = "defaulted"
)

// order mirrors the registry contract's enum, so the index of a status is
// also its on-chain uint8 value.
var order = []Status{
	StatusNone,
	StatusIssued,
	StatusTokenized,
	StatusFinanced,
	StatusPartiallyPaid,
	StatusPaid,
	StatusDefaulted,
}

// Rank returns the position of s in the lifecycle order, or -1 if s is not
// a known status.
func (s Status) Rank() int {
	for i, st := range order {
		if st == s {
			return i
		}
	}

	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.Rank() >= 0 }

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusDefaulted
}

// StatusFromIndex maps the contract's enum value onto a Status.
func StatusFromIndex(i uint8) (Status, bool) {
	if int(i) >= len(order) {
		return "", false
	}

	return order[i], true
}

// Invoice is the off-chain record of a tokenized invoice.
type Invoice struct {
	types.Entity
	ID             id.Key       `json:"id"`
	TokenID        string       `json:"token_id,omitempty"`
	Status         Status       `json:"status"`
	Issuer         string       `json:"issuer"`
	Debtor         string       `json:"debtor"`
	Amount         types.Amount `json:"amount"`
	CumulativePaid types.Amount `json:"cumulative_paid"`
	Currency       string       `json:"currency"`
	DueDate        time.Time    `json:"due_date"`
	IsFinanced     bool         `json:"is_financed"`
	Version        int64        `json:"version"`
}

// Outstanding returns the unpaid remainder of the face value.
func (inv *Invoice) Outstanding() types.Amount {
	rest, err := inv.Amount.Sub(inv.CumulativePaid)
	if err != nil {
		return types.Zero()
	}

	return rest
}

// LifecycleEvent records a single applied status transition.
type LifecycleEvent struct {
	ID             id.EventID   `json:"id"`
	InvoiceID      id.Key       `json:"invoice_id"`
	OldStatus      Status       `json:"old_status"`
	NewStatus      Status       `json:"new_status"`
	CumulativePaid types.Amount `json:"cumulative_paid"`
	Timestamp      time.Time    `json:"timestamp"`
}
