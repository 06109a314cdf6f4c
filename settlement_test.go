package finledger_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xraph/finledger"
	"github.com/xraph/finledger/settlement"
	"github.com/xraph/finledger/types"
)

func TestComputeSplit(t *testing.T) {
	rule := &settlement.Rule{
		Recipients: []string{"A", "B", "C"},
		BpsSplit:   []uint32{5000, 3000, 2000},
		Active:     true,
	}

	splits, err := finledger.ComputeSplit(amt(101), rule)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	got := make([]string, len(splits))
	for i, s := range splits {
		got[i] = s.Recipient + "=" + s.Amount.String()
	}
	require.Equal(t, []string{"A=50", "B=30", "C=21"}, got)
}

func TestComputeSplitRejects(t *testing.T) {
	tests := []struct {
		name string
		rule settlement.Rule
		want error
	}{
		{
			name: "inactive",
			rule: settlement.Rule{Recipients: []string{"a"}, BpsSplit: []uint32{10000}},
			want: finledger.ErrRuleInactive,
		},
		{
			name: "length mismatch",
			rule: settlement.Rule{Recipients: []string{"a", "b"}, BpsSplit: []uint32{10000}, Active: true},
			want: finledger.ErrInvalidRule,
		},
		{
			name: "over 100%",
			rule: settlement.Rule{Recipients: []string{"a", "b"}, BpsSplit: []uint32{6000, 4001}, Active: true},
			want: finledger.ErrInvalidRule,
		},
		{
			name: "no recipients",
			rule: settlement.Rule{Active: true},
			want: finledger.ErrInvalidRule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := finledger.ComputeSplit(amt(100), &tt.rule)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestComputeSplitConservesGross(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for i := range 500 {
		n := 1 + rng.IntN(8)
		recipients := make([]string, n)
		bps := make([]uint32, n)
		budget := uint32(10000)
		for j := range n {
			recipients[j] = fmt.Sprintf("r%d", j)
			share := rng.Uint32N(budget + 1)
			bps[j] = share
			budget -= share
		}

		gross := types.NewAmount(rng.Uint64())
		if i%10 == 0 {
			gross = types.MustParseAmount("340282366920938463463374607431768211457")
		}

		splits, err := finledger.ComputeSplit(gross, &settlement.Rule{Recipients: recipients, BpsSplit: bps, Active: true})
		require.NoError(t, err)

		total := types.Zero()
		for j, s := range splits {
			floor, err := gross.Bps(uint64(bps[j]))
			require.NoError(t, err)
			require.False(t, s.Amount.LessThan(floor))
			total, err = total.Add(s.Amount)
			require.NoError(t, err)
		}
		require.True(t, total.Equal(gross), "split of %s sums to %s", gross, total)
	}
}

func TestCreateRule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.issue(t, key("inv"), 1000)

	rule, err := h.l.CreateRule(ctx, finledger.RuleRequest{
		ExternalRef: "7",
		InvoiceID:   key("inv"),
		Payer:       "0xPayer",
		Recipients:  []string{"0xA", "0xB"},
		BpsSplit:    []uint32{7000, 3000},
	})
	require.NoError(t, err)
	require.True(t, rule.Active)
	require.Equal(t, []string{"0xa", "0xb"}, rule.Recipients)

	byRef, err := h.l.GetRuleByRef(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, rule.ID, byRef.ID)

	_, err = h.l.CreateRule(ctx, finledger.RuleRequest{
		InvoiceID:  key("inv"),
		Recipients: []string{"0xA", "0xa"},
		BpsSplit:   []uint32{5000, 5000},
	})
	require.ErrorIs(t, err, finledger.ErrDuplicateRecipient)

	_, err = h.l.CreateRule(ctx, finledger.RuleRequest{
		InvoiceID:  key("inv"),
		Recipients: []string{"a", "b"},
		BpsSplit:   []uint32{9000, 1001},
	})
	require.ErrorIs(t, err, finledger.ErrInvalidRule)

	_, err = h.l.CreateRule(ctx, finledger.RuleRequest{
		InvoiceID:  key("ghost"),
		Recipients: []string{"a"},
		BpsSplit:   []uint32{10000},
	})
	require.ErrorIs(t, err, finledger.ErrUnknownInvoice)

	rules, err := h.l.ListRules(ctx, key("inv"))
	require.NoError(t, err)
	require.Len(t, rules, 1)
}

func TestRecordExecution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.issue(t, key("inv"), 1000)

	rule, err := h.l.CreateRule(ctx, finledger.RuleRequest{
		InvoiceID:  key("inv"),
		Recipients: []string{"A", "B", "C"},
		BpsSplit:   []uint32{5000, 3000, 2000},
	})
	require.NoError(t, err)

	exec, err := h.l.RecordExecution(ctx, finledger.ExecutionRequest{
		Ref:         "0xabc-1",
		RuleID:      rule.ID,
		GrossAmount: amt(101),
	})
	require.NoError(t, err)
	require.Equal(t, "usdc", exec.Currency)
	require.Equal(t, "21", exec.Splits[2].Amount.String())

	_, err = h.l.RecordExecution(ctx, finledger.ExecutionRequest{
		Ref:         "0xabc-1",
		RuleID:      rule.ID,
		GrossAmount: amt(101),
	})
	require.ErrorIs(t, err, finledger.ErrDuplicateExecution)

	// Installments execute the same rule again.
	_, err = h.l.RecordExecution(ctx, finledger.ExecutionRequest{RuleID: rule.ID, GrossAmount: amt(50)})
	require.NoError(t, err)

	execs, err := h.l.ListExecutions(ctx, rule.ID)
	require.NoError(t, err)
	require.Len(t, execs, 2)

	stored, err := h.l.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	require.True(t, stored.Active)
	require.Equal(t, rule.BpsSplit, stored.BpsSplit)

	_, err = h.l.DeactivateRule(ctx, rule.ID)
	require.NoError(t, err)

	_, err = h.l.RecordExecution(ctx, finledger.ExecutionRequest{RuleID: rule.ID, GrossAmount: amt(1)})
	require.ErrorIs(t, err, finledger.ErrRuleInactive)
}

func TestDeactivateRuleIsVersioned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.issue(t, key("inv"), 1000)

	rule, err := h.l.CreateRule(ctx, finledger.RuleRequest{
		InvoiceID:  key("inv"),
		Recipients: []string{"A", "B"},
		BpsSplit:   []uint32{5000, 5000},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), rule.Version)

	stale, err := h.store.GetRule(ctx, rule.ID)
	require.NoError(t, err)

	out, err := h.l.DeactivateRule(ctx, rule.ID)
	require.NoError(t, err)
	require.False(t, out.Active)
	require.Equal(t, int64(2), out.Version)

	// A writer holding the pre-deactivation copy cannot revive the rule.
	stale.Payer = "0xother"
	err = h.store.UpdateRule(ctx, stale, 1)
	require.ErrorIs(t, err, finledger.ErrConflict)

	stored, err := h.l.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	require.False(t, stored.Active)
	require.Equal(t, int64(2), stored.Version)

	// Deactivating again is a no-op.
	out, err = h.l.DeactivateRule(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), out.Version)
}
