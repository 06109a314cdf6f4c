// Package chainevents decodes the invoice registry and financing pool
// logs that feed the ledger.
//
// Logs are matched on their first topic (the event signature hash) and
// unpacked with the contract ABI; anything that is not one of the known
// events is reported with ErrUnknownEvent so callers can skip it.
package chainevents

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/types"
)

// Event names as declared by the contracts.
const (
	EventInvoiceMinted         = "InvoiceMinted"
	EventInvoiceStatusUpdated  = "InvoiceStatusUpdated"
	EventCollateralLocked      = "CollateralLocked"
	EventSettlementRuleCreated = "SettlementRuleCreated"
	EventSettlementExecuted    = "SettlementExecuted"
)

// ContractABI is the event subset of the registry, pool and settlement
// contracts.
const ContractABI = `[
  {"type":"event","name":"InvoiceMinted","anonymous":false,"inputs":[
    {"name":"invoiceId","type":"bytes32","indexed":true},
    {"name":"tokenId","type":"uint256","indexed":true},
    {"name":"issuer","type":"address","indexed":true},
    {"name":"debtor","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"dueDate","type":"uint256","indexed":false},
    {"name":"currency","type":"string","indexed":false}]},
  {"type":"event","name":"InvoiceStatusUpdated","anonymous":false,"inputs":[
    {"name":"invoiceId","type":"bytes32","indexed":true},
    {"name":"oldStatus","type":"uint8","indexed":false},
    {"name":"newStatus","type":"uint8","indexed":false}]},
  {"type":"event","name":"CollateralLocked","anonymous":false,"inputs":[
    {"name":"invoiceId","type":"bytes32","indexed":true},
    {"name":"company","type":"address","indexed":true},
    {"name":"tokenId","type":"uint256","indexed":false}]},
  {"type":"event","name":"SettlementRuleCreated","anonymous":false,"inputs":[
    {"name":"ruleId","type":"uint256","indexed":true},
    {"name":"invoiceId","type":"bytes32","indexed":true},
    {"name":"payer","type":"address","indexed":false},
    {"name":"recipients","type":"address[]","indexed":false},
    {"name":"bpsSplit","type":"uint16[]","indexed":false}]},
  {"type":"event","name":"SettlementExecuted","anonymous":false,"inputs":[
    {"name":"ruleId","type":"uint256","indexed":true},
    {"name":"invoiceId","type":"bytes32","indexed":true},
    {"name":"grossAmount","type":"uint256","indexed":false}]}
]`

var (
	// ErrUnknownEvent is returned for logs that match none of the known
	// event signatures.
	ErrUnknownEvent = errors.New("chainevents: unknown event")

	// ErrMalformedLog is returned when a known event cannot be unpacked.
	ErrMalformedLog = errors.New("chainevents: malformed log")
)

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	a, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		panic(fmt.Sprintf("chainevents: parse abi: %v", err))
	}

	return a
}

// ABI returns the parsed contract ABI.
func ABI() abi.ABI { return parsedABI }

// Topic returns the signature hash of the named event.
func Topic(name string) common.Hash { return parsedABI.Events[name].ID }

// Meta locates a decoded event on chain.
type Meta struct {
	Contract    common.Address
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	BlockTime   time.Time
}

// Ref is the "<txhash>-<logindex>" composite that identifies the log.
func (m Meta) Ref() string {
	return fmt.Sprintf("%s-%d", m.TxHash.Hex(), m.LogIndex)
}

// Event is implemented by every decoded event type.
type Event interface {
	Name() string
	Metadata() Meta
}

// InvoiceMinted is emitted by the registry when an invoice NFT is minted.
type InvoiceMinted struct {
	Meta
	InvoiceID id.Key
	TokenID   *big.Int
	Issuer    common.Address
	Debtor    common.Address
	Amount    types.Amount
	DueDate   time.Time
	Currency  string
}

// InvoiceStatusUpdated is emitted on every registry status change.
type InvoiceStatusUpdated struct {
	Meta
	InvoiceID id.Key
	OldStatus invoice.Status
	NewStatus invoice.Status
}

// CollateralLocked is emitted when a company locks an invoice NFT in a
// financing pool.
type CollateralLocked struct {
	Meta
	InvoiceID id.Key
	Company   common.Address
	TokenID   *big.Int
}

// SettlementRuleCreated registers a payout plan on chain.
type SettlementRuleCreated struct {
	Meta
	RuleID     *big.Int
	InvoiceID  id.Key
	Payer      common.Address
	Recipients []common.Address
	BpsSplit   []uint16
}

// SettlementExecuted reports proceeds distributed under a rule.
type SettlementExecuted struct {
	Meta
	RuleID      *big.Int
	InvoiceID   id.Key
	GrossAmount types.Amount
}

func (InvoiceMinted) Name() string         { return EventInvoiceMinted }
func (InvoiceStatusUpdated) Name() string  { return EventInvoiceStatusUpdated }
func (CollateralLocked) Name() string      { return EventCollateralLocked }
func (SettlementRuleCreated) Name() string { return EventSettlementRuleCreated }
func (SettlementExecuted) Name() string    { return EventSettlementExecuted }

func (e InvoiceMinted) Metadata() Meta         { return e.Meta }
func (e InvoiceStatusUpdated) Metadata() Meta  { return e.Meta }
func (e CollateralLocked) Metadata() Meta      { return e.Meta }
func (e SettlementRuleCreated) Metadata() Meta { return e.Meta }
func (e SettlementExecuted) Metadata() Meta    { return e.Meta }

// Decode unpacks a log into one of the event types above. blockTime is
// carried on the event since logs do not include it.
func Decode(lg *gethtypes.Log, blockTime time.Time) (Event, error) {
	if lg == nil || len(lg.Topics) == 0 {
		return nil, ErrUnknownEvent
	}

	ev, err := parsedABI.EventByID(lg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, lg.Topics[0].Hex())
	}

	fields, err := unpack(ev, lg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedLog, ev.Name, err)
	}

	meta := Meta{
		Contract:    lg.Address,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockTime:   blockTime.UTC(),
	}

	d := decoder{fields: fields}
	var out Event
	switch ev.Name {
	case EventInvoiceMinted:
		out = InvoiceMinted{
			Meta:      meta,
			InvoiceID: d.key("invoiceId"),
			TokenID:   d.bigInt("tokenId"),
			Issuer:    d.address("issuer"),
			Debtor:    d.address("debtor"),
			Amount:    d.amount("amount"),
			DueDate:   d.unixTime("dueDate"),
			Currency:  d.str("currency"),
		}
	case EventInvoiceStatusUpdated:
		out = InvoiceStatusUpdated{
			Meta:      meta,
			InvoiceID: d.key("invoiceId"),
			OldStatus: d.status("oldStatus"),
			NewStatus: d.status("newStatus"),
		}
	case EventCollateralLocked:
		out = CollateralLocked{
			Meta:      meta,
			InvoiceID: d.key("invoiceId"),
			Company:   d.address("company"),
			TokenID:   d.bigInt("tokenId"),
		}
	case EventSettlementRuleCreated:
		out = SettlementRuleCreated{
			Meta:       meta,
			RuleID:     d.bigInt("ruleId"),
			InvoiceID:  d.key("invoiceId"),
			Payer:      d.address("payer"),
			Recipients: d.addresses("recipients"),
			BpsSplit:   d.uint16s("bpsSplit"),
		}
	case EventSettlementExecuted:
		out = SettlementExecuted{
			Meta:        meta,
			RuleID:      d.bigInt("ruleId"),
			InvoiceID:   d.key("invoiceId"),
			GrossAmount: d.amount("grossAmount"),
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Name)
	}

	if d.err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedLog, ev.Name, d.err)
	}

	return out, nil
}

func unpack(ev *abi.Event, lg *gethtypes.Log) (map[string]any, error) {
	fields := make(map[string]any, len(ev.Inputs))

	if len(lg.Data) > 0 {
		if err := ev.Inputs.UnpackIntoMap(fields, lg.Data); err != nil {
			return nil, err
		}
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(lg.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("%d indexed topics, want %d", len(lg.Topics)-1, len(indexed))
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return nil, err
	}

	return fields, nil
}

// decoder converts unpacked ABI values, keeping the first error.
type decoder struct {
	fields map[string]any
	err    error
}

func (d *decoder) fail(name string, v any) {
	if d.err == nil {
		d.err = fmt.Errorf("field %s: unexpected %T", name, v)
	}
}

func (d *decoder) key(name string) id.Key {
	v, ok := d.fields[name].([32]byte)
	if !ok {
		d.fail(name, d.fields[name])
		return id.NilKey
	}
	return id.Key(v)
}

func (d *decoder) bigInt(name string) *big.Int {
	v, ok := d.fields[name].(*big.Int)
	if !ok {
		d.fail(name, d.fields[name])
		return new(big.Int)
	}
	return v
}

func (d *decoder) amount(name string) types.Amount {
	a, err := types.AmountFromBig(d.bigInt(name))
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("field %s: %w", name, err)
	}
	return a
}

func (d *decoder) unixTime(name string) time.Time {
	v := d.bigInt(name)
	if !v.IsInt64() {
		if d.err == nil {
			d.err = fmt.Errorf("field %s: timestamp %s out of range", name, v)
		}
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

func (d *decoder) address(name string) common.Address {
	v, ok := d.fields[name].(common.Address)
	if !ok {
		d.fail(name, d.fields[name])
	}
	return v
}

func (d *decoder) addresses(name string) []common.Address {
	v, ok := d.fields[name].([]common.Address)
	if !ok {
		d.fail(name, d.fields[name])
	}
	return v
}

func (d *decoder) uint16s(name string) []uint16 {
	v, ok := d.fields[name].([]uint16)
	if !ok {
		d.fail(name, d.fields[name])
	}
	return v
}

func (d *decoder) str(name string) string {
	v, ok := d.fields[name].(string)
	if !ok {
		d.fail(name, d.fields[name])
	}
	return v
}

func (d *decoder) status(name string) invoice.Status {
	v, ok := d.fields[name].(uint8)
	if !ok {
		d.fail(name, d.fields[name])
		return ""
	}
	s, ok := invoice.StatusFromIndex(v)
	if !ok && d.err == nil {
		d.err = fmt.Errorf("field %s: unknown status %d", name, v)
	}
	return s
}
