package collateral

import (
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/types"
)

// MaxBps is 100% expressed in basis points.
const MaxBps = 10000

// Position is the collateral locked against a single invoice and the
// credit drawn on it.
type Position struct {
	types.Entity
	InvoiceID   id.Key       `json:"invoice_id"`
	TokenID     string       `json:"token_id"`
	Owner       string       `json:"owner"`
	PoolID      string       `json:"pool_id,omitempty"`
	FaceValue   types.Amount `json:"face_value"`
	LTVBps      uint32       `json:"ltv_bps"`
	CreditLimit types.Amount `json:"credit_limit"`
	UsedCredit  types.Amount `json:"used_credit"`
	Exists      bool         `json:"exists"`
	Exited      bool         `json:"exited"`
	Version     int64        `json:"version"`
}

// Live reports whether the position currently backs credit.
func (p *Position) Live() bool { return p.Exists && !p.Exited }

// Available returns the credit that can still be drawn.
func (p *Position) Available() types.Amount {
	rest, err := p.CreditLimit.Sub(p.UsedCredit)
	if err != nil {
		return types.Zero()
	}

	return rest
}

// CreditLimit computes faceValue * ltvBps / 10000, truncated.
func CreditLimit(faceValue types.Amount, ltvBps uint32) (types.Amount, error) {
	return faceValue.Bps(uint64(ltvBps))
}
