package observability_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/observability"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
	"github.com/xraph/finledger/types"
)

type fakeMetric struct {
	mu       sync.Mutex
	count    float64
	observed []float64
}

func (m *fakeMetric) Inc()          { m.Add(1) }
func (m *fakeMetric) Add(v float64) { m.mu.Lock(); m.count += v; m.mu.Unlock() }
func (m *fakeMetric) Observe(v float64) {
	m.mu.Lock()
	m.observed = append(m.observed, v)
	m.mu.Unlock()
}

type fakeFactory struct {
	metrics map[string]*fakeMetric
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{metrics: make(map[string]*fakeMetric)}
}

func (f *fakeFactory) get(name string) *fakeMetric {
	m, ok := f.metrics[name]
	if !ok {
		m = &fakeMetric{}
		f.metrics[name] = m
	}
	return m
}

func (f *fakeFactory) Counter(name string) observability.Counter     { return f.get(name) }
func (f *fakeFactory) Histogram(name string) observability.Histogram { return f.get(name) }

func TestMetricsExtension_Invoice(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)

	inv := &invoice.Invoice{Status: invoice.StatusIssued}
	require.NoError(t, m.OnInvoiceIssued(ctx, inv))
	require.NoError(t, m.OnInvoiceStatusChanged(ctx, inv, &invoice.LifecycleEvent{
		OldStatus: invoice.StatusIssued, NewStatus: invoice.StatusTokenized,
	}))
	require.NoError(t, m.OnInvoiceStatusChanged(ctx, inv, &invoice.LifecycleEvent{
		OldStatus: invoice.StatusTokenized, NewStatus: invoice.StatusFinanced,
	}))
	require.NoError(t, m.OnInvoiceStatusChanged(ctx, inv, &invoice.LifecycleEvent{
		OldStatus: invoice.StatusFinanced, NewStatus: invoice.StatusPaid,
	}))
	require.NoError(t, m.OnPaymentApplied(ctx, inv, types.NewAmount(250)))

	assert.Equal(t, 1.0, f.get("finledger.invoice.issued").count)
	assert.Equal(t, 3.0, f.get("finledger.invoice.transitions").count)
	assert.Equal(t, 1.0, f.get("finledger.invoice.financed").count)
	assert.Equal(t, 1.0, f.get("finledger.invoice.paid").count)
	assert.Equal(t, 0.0, f.get("finledger.invoice.defaulted").count)
	assert.Equal(t, 1.0, f.get("finledger.payment.applied").count)
	assert.Equal(t, []float64{250}, f.get("finledger.payment.installment_units").observed)
}

func TestMetricsExtension_Collateral(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)

	pos := &collateral.Position{Exists: true}
	require.NoError(t, m.OnCollateralLocked(ctx, pos))
	require.NoError(t, m.OnCreditDrawn(ctx, pos, types.NewAmount(10)))
	require.NoError(t, m.OnCreditDrawn(ctx, pos, types.NewAmount(5)))
	require.NoError(t, m.OnCreditRepaid(ctx, pos, types.NewAmount(15)))
	require.NoError(t, m.OnLimitExceeded(ctx, pos, types.NewAmount(1_000), errors.New("limit")))
	require.NoError(t, m.OnCollateralReleased(ctx, pos))

	assert.Equal(t, 1.0, f.get("finledger.collateral.locked").count)
	assert.Equal(t, 2.0, f.get("finledger.credit.draws").count)
	assert.Equal(t, 1.0, f.get("finledger.credit.repayments").count)
	assert.Equal(t, 1.0, f.get("finledger.credit.limit_rejections").count)
	assert.Equal(t, 1.0, f.get("finledger.collateral.released").count)
}

func TestMetricsExtension_AccrualAndSettlement(t *testing.T) {
	ctx := context.Background()
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.OnAccrualCycleCompleted(ctx, &pool.AccrualRun{
		Ticks:             3,
		AccountsProcessed: 4,
		StartedAt:         start,
		FinishedAt:        start.Add(120 * time.Millisecond),
	}))
	require.NoError(t, m.OnAccrualCycleCompleted(ctx, &pool.AccrualRun{Aborted: true, StartedAt: start, FinishedAt: start}))
	require.NoError(t, m.OnAccrualAccountFailed(ctx, "pool-1", "0xabc", errors.New("timeout")))
	require.NoError(t, m.OnYieldClaimed(ctx, &pool.YieldAccount{}, types.NewAmount(1)))
	require.NoError(t, m.OnSettlementRuleCreated(ctx, &settlement.Rule{Recipients: []string{"a", "b"}}))
	require.NoError(t, m.OnSettlementExecuted(ctx, &settlement.Execution{}))

	assert.Equal(t, 2.0, f.get("finledger.accrual.cycles").count)
	assert.Equal(t, 1.0, f.get("finledger.accrual.cycles_aborted").count)
	assert.Equal(t, []float64{4, 0}, f.get("finledger.accrual.accounts").observed)
	assert.Equal(t, []float64{3, 0}, f.get("finledger.accrual.ticks").observed)
	assert.Equal(t, []float64{120, 0}, f.get("finledger.accrual.latency_ms").observed)
	assert.Equal(t, 1.0, f.get("finledger.accrual.accounts_failed").count)
	assert.Equal(t, 1.0, f.get("finledger.yield.claims").count)
	assert.Equal(t, 1.0, f.get("finledger.settlement.rules").count)
	assert.Equal(t, []float64{2}, f.get("finledger.settlement.recipients").observed)
	assert.Equal(t, 1.0, f.get("finledger.settlement.executions").count)
}

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	c := f.Counter("finledger.invoice.issued")
	c.Inc()
	c.Add(2)
	assert.Same(t, c, f.Counter("finledger.invoice.issued"))

	f.Histogram("finledger.accrual.ticks").Observe(4)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.ElementsMatch(t, []string{"finledger_invoice_issued_total", "finledger_accrual_ticks"}, names)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.(prometheus.Counter)))
}

func TestPrometheusFactory_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := observability.NewPrometheusFactory(reg).Counter("finledger.yield.claims")
	b := observability.NewPrometheusFactory(reg).Counter("finledger.yield.claims")
	a.Inc()
	b.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.(prometheus.Counter)))
}
