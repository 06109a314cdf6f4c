package finledger_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/store/memory"
	"github.com/xraph/finledger/types"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation work end to end.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		l := finledger.New(store,
			finledger.WithLogger(slog.Default()),
			finledger.WithAccrualInterval(time.Minute),
			finledger.WithAccrualDisabled(),
		)

		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop()

		// Register a financing pool
		if _, err := l.RegisterPool(ctx, &pool.Pool{
			ID:                "senior",
			Currency:          "usdc",
			AnnualRate:        decimal.RequireFromString("0.08"),
			TickInterval:      time.Minute,
			LTVBps:            8000,
			MaxUtilizationBps: 9000,
			Liquidity:         types.NewAmount(1_000_000_000_000), // 1M USDC
		}); err != nil {
			t.Fatal(err)
		}

		// Record a minted invoice
		invoiceID := id.KeyFromString("INV-2026-0001")
		inv, err := l.RecordIssuance(ctx, finledger.IssuanceRequest{
			InvoiceID: invoiceID,
			TokenID:   "1",
			Issuer:    "0x1111111111111111111111111111111111111111",
			Debtor:    "0x2222222222222222222222222222222222222222",
			Amount:    types.NewAmount(50_000_000_000), // 50k USDC
			DueDate:   time.Now().Add(60 * 24 * time.Hour),
			Currency:  "usdc",
		})
		if err != nil {
			t.Fatal(err)
		}

		// Finance it against the pool
		if _, err := l.LockCollateral(ctx, finledger.LockRequest{InvoiceID: inv.ID, PoolID: "senior"}); err != nil {
			t.Fatal(err)
		}
		if _, err := l.ApplyStatusTransition(ctx, inv.ID, invoice.StatusFinanced, time.Time{}); err != nil {
			t.Fatal(err)
		}

		used, err := l.Draw(ctx, inv.ID, types.NewAmount(40_000_000_000))
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Drawn: %s\n", types.Format(used, "usdc"))

		// The debtor pays in two installments
		if _, err := l.ApplyPayment(ctx, inv.ID, types.NewAmount(20_000_000_000), time.Time{}); err != nil {
			t.Fatal(err)
		}
		inv, err = l.ApplyPayment(ctx, inv.ID, types.NewAmount(30_000_000_000), time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		if inv.Status != invoice.StatusPaid {
			t.Fatalf("expected paid, got %s", inv.Status)
		}
	})

	t.Run("AmountExamples", func(t *testing.T) {
		a := types.MustParseAmount("1500000")
		b := types.NewAmount(500000)

		sum, err := a.Add(b)
		if err != nil {
			t.Fatal(err)
		}
		if got := types.Format(sum, "usdc"); got != "2 USDC" {
			t.Fatalf("Format = %q", got)
		}

		if _, err := b.Sub(a); err == nil {
			t.Fatal("expected underflow")
		}
	})
}
