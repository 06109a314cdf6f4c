package chainevents_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/chainevents"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/store/memory"
	"github.com/xraph/finledger/types"
)

var (
	blockTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	invoiceID = id.KeyFromString("INV-2026-001")
	issuer    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	debtor    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	txHash    = common.HexToHash("0xfeed")
)

// buildLog packs values into a log for the named event. Indexed values are
// given as topics, the rest as data.
func buildLog(t *testing.T, name string, topics []common.Hash, data ...any) *gethtypes.Log {
	t.Helper()

	ev := chainevents.ABI().Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)

	return &gethtypes.Log{
		Address:     common.HexToAddress("0x1000"),
		Topics:      append([]common.Hash{ev.ID}, topics...),
		Data:        packed,
		BlockNumber: 42,
		TxHash:      txHash,
		Index:       3,
	}
}

func keyTopic(k id.Key) common.Hash { return common.BytesToHash(k[:]) }

func mintedLog(t *testing.T, amount int64) *gethtypes.Log {
	t.Helper()

	return buildLog(t, chainevents.EventInvoiceMinted,
		[]common.Hash{keyTopic(invoiceID), common.BigToHash(big.NewInt(7)), common.BytesToHash(issuer.Bytes())},
		debtor, big.NewInt(amount), big.NewInt(blockTime.Add(90*24*time.Hour).Unix()), "usdc",
	)
}

func TestDecodeInvoiceMinted(t *testing.T) {
	ev, err := chainevents.Decode(mintedLog(t, 1000), blockTime)
	require.NoError(t, err)

	minted, ok := ev.(chainevents.InvoiceMinted)
	require.True(t, ok)
	require.Equal(t, invoiceID, minted.InvoiceID)
	require.Equal(t, int64(7), minted.TokenID.Int64())
	require.Equal(t, issuer, minted.Issuer)
	require.Equal(t, debtor, minted.Debtor)
	require.True(t, minted.Amount.Equal(types.NewAmount(1000)))
	require.Equal(t, "usdc", minted.Currency)
	require.Equal(t, blockTime.Add(90*24*time.Hour), minted.DueDate)
	require.Equal(t, uint64(42), minted.BlockNumber)
	require.Equal(t, txHash.Hex()+"-3", minted.Ref())
}

func TestDecodeStatusUpdated(t *testing.T) {
	lg := buildLog(t, chainevents.EventInvoiceStatusUpdated,
		[]common.Hash{keyTopic(invoiceID)}, uint8(2), uint8(3))

	ev, err := chainevents.Decode(lg, blockTime)
	require.NoError(t, err)

	upd := ev.(chainevents.InvoiceStatusUpdated)
	require.Equal(t, invoice.StatusTokenized, upd.OldStatus)
	require.Equal(t, invoice.StatusFinanced, upd.NewStatus)
}

func TestDecodeRejects(t *testing.T) {
	t.Run("unknown topic", func(t *testing.T) {
		_, err := chainevents.Decode(&gethtypes.Log{Topics: []common.Hash{common.HexToHash("0x01")}}, blockTime)
		require.ErrorIs(t, err, chainevents.ErrUnknownEvent)
	})

	t.Run("no topics", func(t *testing.T) {
		_, err := chainevents.Decode(&gethtypes.Log{}, blockTime)
		require.ErrorIs(t, err, chainevents.ErrUnknownEvent)
	})

	t.Run("unknown status", func(t *testing.T) {
		lg := buildLog(t, chainevents.EventInvoiceStatusUpdated,
			[]common.Hash{keyTopic(invoiceID)}, uint8(2), uint8(9))
		_, err := chainevents.Decode(lg, blockTime)
		require.ErrorIs(t, err, chainevents.ErrMalformedLog)
	})

	t.Run("missing indexed topic", func(t *testing.T) {
		lg := buildLog(t, chainevents.EventCollateralLocked,
			[]common.Hash{keyTopic(invoiceID)}, big.NewInt(7))
		_, err := chainevents.Decode(lg, blockTime)
		require.ErrorIs(t, err, chainevents.ErrMalformedLog)
	})
}

func newLedger(t *testing.T) *finledger.Ledger {
	t.Helper()

	l := finledger.New(memory.New(),
		finledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		finledger.WithClock(finledger.NewManualClock(blockTime)),
		finledger.WithAccrualDisabled(),
	)

	_, err := l.RegisterPool(context.Background(), &pool.Pool{
		ID:                "senior",
		Currency:          "usdc",
		AnnualRate:        decimal.RequireFromString("0.05"),
		TickInterval:      time.Minute,
		LTVBps:            6000,
		MaxUtilizationBps: 9000,
		Liquidity:         types.NewAmount(1_000_000),
	})
	require.NoError(t, err)

	return l
}

func TestHandlerAppliesInvoiceFlow(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	h := chainevents.NewHandler(l,
		chainevents.WithPool("senior"),
		chainevents.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	require.NoError(t, h.HandleLog(ctx, mintedLog(t, 10000), blockTime))
	// Replayed mint is skipped.
	require.NoError(t, h.HandleLog(ctx, mintedLog(t, 10000), blockTime))

	require.NoError(t, h.HandleLog(ctx, buildLog(t, chainevents.EventInvoiceStatusUpdated,
		[]common.Hash{keyTopic(invoiceID)}, uint8(1), uint8(2)), blockTime))

	locked := buildLog(t, chainevents.EventCollateralLocked,
		[]common.Hash{keyTopic(invoiceID), common.BytesToHash(issuer.Bytes())}, big.NewInt(7))
	require.NoError(t, h.HandleLog(ctx, locked, blockTime))
	require.NoError(t, h.HandleLog(ctx, locked, blockTime))

	pos, err := l.GetPosition(ctx, invoiceID)
	require.NoError(t, err)
	require.Equal(t, "senior", pos.PoolID)
	require.True(t, pos.CreditLimit.Equal(types.NewAmount(6000)))

	require.NoError(t, h.HandleLog(ctx, buildLog(t, chainevents.EventInvoiceStatusUpdated,
		[]common.Hash{keyTopic(invoiceID)}, uint8(2), uint8(3)), blockTime))

	inv, err := l.GetInvoice(ctx, invoiceID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusFinanced, inv.Status)
	require.True(t, inv.IsFinanced)

	// A backwards update is an invariant violation and surfaces.
	err = h.HandleLog(ctx, buildLog(t, chainevents.EventInvoiceStatusUpdated,
		[]common.Hash{keyTopic(invoiceID)}, uint8(3), uint8(2)), blockTime)
	require.ErrorIs(t, err, finledger.ErrInvalidTransition)
}

func TestHandlerAppliesSettlement(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	h := chainevents.NewHandler(l, chainevents.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	require.NoError(t, h.HandleLog(ctx, mintedLog(t, 1000), blockTime))

	ruleID := common.BigToHash(big.NewInt(11))
	created := buildLog(t, chainevents.EventSettlementRuleCreated,
		[]common.Hash{ruleID, keyTopic(invoiceID)},
		debtor, []common.Address{alice, bob}, []uint16{7000, 3000})
	require.NoError(t, h.HandleLog(ctx, created, blockTime))
	require.NoError(t, h.HandleLog(ctx, created, blockTime))

	rule, err := l.GetRuleByRef(ctx, "11")
	require.NoError(t, err)
	require.Equal(t, []uint32{7000, 3000}, rule.BpsSplit)

	executed := buildLog(t, chainevents.EventSettlementExecuted,
		[]common.Hash{ruleID, keyTopic(invoiceID)}, big.NewInt(101))
	require.NoError(t, h.HandleLog(ctx, executed, blockTime))
	require.NoError(t, h.HandleLog(ctx, executed, blockTime))

	execs, err := l.ListExecutions(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, txHash.Hex()+"-3", execs[0].ID)
	require.Equal(t, "usdc", execs[0].Currency)
	require.True(t, execs[0].Splits[0].Amount.Equal(types.NewAmount(70)))
	require.True(t, execs[0].Splits[1].Amount.Equal(types.NewAmount(31)))
}

func TestHandlerIgnoresUnknownLogs(t *testing.T) {
	h := chainevents.NewHandler(newLedger(t))
	lg := &gethtypes.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	require.NoError(t, h.HandleLog(context.Background(), lg, blockTime))
}

func statusLog(t *testing.T, from, to uint8) *gethtypes.Log {
	t.Helper()
	return buildLog(t, chainevents.EventInvoiceStatusUpdated, []common.Hash{keyTopic(invoiceID)}, from, to)
}

func TestHandlerSkipsStatusLogsAlreadyPassed(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)
	h := chainevents.NewHandler(l,
		chainevents.WithPool("senior"),
		chainevents.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	require.NoError(t, h.HandleLog(ctx, mintedLog(t, 1000), blockTime))
	require.NoError(t, h.HandleLog(ctx, statusLog(t, 1, 2), blockTime))
	require.NoError(t, h.HandleLog(ctx, buildLog(t, chainevents.EventCollateralLocked,
		[]common.Hash{keyTopic(invoiceID), common.BytesToHash(issuer.Bytes())}, big.NewInt(7)), blockTime))
	require.NoError(t, h.HandleLog(ctx, statusLog(t, 2, 3), blockTime))

	_, err := l.ApplyPayment(ctx, invoiceID, types.NewAmount(400), blockTime)
	require.NoError(t, err)
	_, err = l.ApplyPayment(ctx, invoiceID, types.NewAmount(600), blockTime)
	require.NoError(t, err)

	// Late FINANCED -> PARTIALLY_PAID and a rescanned TOKENIZED -> FINANCED.
	require.NoError(t, h.HandleLog(ctx, statusLog(t, 3, 4), blockTime))
	require.NoError(t, h.HandleLog(ctx, statusLog(t, 2, 3), blockTime))

	inv, err := l.GetInvoice(ctx, invoiceID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPaid, inv.Status)

	// A log that itself moves backwards still surfaces.
	err = h.HandleLog(ctx, statusLog(t, 5, 1), blockTime)
	require.ErrorIs(t, err, finledger.ErrInvalidTransition)
}
