package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/invoice"
	"github.com/xraph/finledger/pool"
	"github.com/xraph/finledger/settlement"
	"github.com/xraph/finledger/types"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages registered plugins and dispatches hooks to them.
// Hook implementations are discovered once in Register and cached per
// interface, so emission never reflects.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                  []OnInit
	onShutdown              []OnShutdown
	onInvoiceIssued         []OnInvoiceIssued
	onInvoiceStatusChanged  []OnInvoiceStatusChanged
	onPaymentApplied        []OnPaymentApplied
	onCollateralLocked      []OnCollateralLocked
	onCollateralReleased    []OnCollateralReleased
	onCreditDrawn           []OnCreditDrawn
	onCreditRepaid          []OnCreditRepaid
	onLimitExceeded         []OnLimitExceeded
	onAccrualCycleCompleted []OnAccrualCycleCompleted
	onAccrualAccountFailed  []OnAccrualAccountFailed
	onYieldClaimed          []OnYieldClaimed
	onSettlementRuleCreated []OnSettlementRuleCreated
	onSettlementExecuted    []OnSettlementExecuted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnInvoiceIssued); ok {
		r.onInvoiceIssued = append(r.onInvoiceIssued, v)
	}
	if v, ok := p.(OnInvoiceStatusChanged); ok {
		r.onInvoiceStatusChanged = append(r.onInvoiceStatusChanged, v)
	}
	if v, ok := p.(OnPaymentApplied); ok {
		r.onPaymentApplied = append(r.onPaymentApplied, v)
	}
	if v, ok := p.(OnCollateralLocked); ok {
		r.onCollateralLocked = append(r.onCollateralLocked, v)
	}
	if v, ok := p.(OnCollateralReleased); ok {
		r.onCollateralReleased = append(r.onCollateralReleased, v)
	}
	if v, ok := p.(OnCreditDrawn); ok {
		r.onCreditDrawn = append(r.onCreditDrawn, v)
	}
	if v, ok := p.(OnCreditRepaid); ok {
		r.onCreditRepaid = append(r.onCreditRepaid, v)
	}
	if v, ok := p.(OnLimitExceeded); ok {
		r.onLimitExceeded = append(r.onLimitExceeded, v)
	}
	if v, ok := p.(OnAccrualCycleCompleted); ok {
		r.onAccrualCycleCompleted = append(r.onAccrualCycleCompleted, v)
	}
	if v, ok := p.(OnAccrualAccountFailed); ok {
		r.onAccrualAccountFailed = append(r.onAccrualAccountFailed, v)
	}
	if v, ok := p.(OnYieldClaimed); ok {
		r.onYieldClaimed = append(r.onYieldClaimed, v)
	}
	if v, ok := p.(OnSettlementRuleCreated); ok {
		r.onSettlementRuleCreated = append(r.onSettlementRuleCreated, v)
	}
	if v, ok := p.(OnSettlementExecuted); ok {
		r.onSettlementExecuted = append(r.onSettlementExecuted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name  string
	iface reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnInvoiceIssued", reflect.TypeFor[OnInvoiceIssued]()},
	{"OnInvoiceStatusChanged", reflect.TypeFor[OnInvoiceStatusChanged]()},
	{"OnPaymentApplied", reflect.TypeFor[OnPaymentApplied]()},
	{"OnCollateralLocked", reflect.TypeFor[OnCollateralLocked]()},
	{"OnCollateralReleased", reflect.TypeFor[OnCollateralReleased]()},
	{"OnCreditDrawn", reflect.TypeFor[OnCreditDrawn]()},
	{"OnCreditRepaid", reflect.TypeFor[OnCreditRepaid]()},
	{"OnLimitExceeded", reflect.TypeFor[OnLimitExceeded]()},
	{"OnAccrualCycleCompleted", reflect.TypeFor[OnAccrualCycleCompleted]()},
	{"OnAccrualAccountFailed", reflect.TypeFor[OnAccrualAccountFailed]()},
	{"OnYieldClaimed", reflect.TypeFor[OnYieldClaimed]()},
	{"OnSettlementRuleCreated", reflect.TypeFor[OnSettlementRuleCreated]()},
	{"OnSettlementExecuted", reflect.TypeFor[OnSettlementExecuted]()},
}

// implementedInterfaces lists the hook interfaces p implements, for logging.
func implementedInterfaces(p Plugin) []string {
	var names []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.iface) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in hooks. Failures are logged and never
// propagate to the ledger operation that triggered the hook.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks *[]T, fn func(T) error) {
	r.mu.RLock()
	plugins := *hooks
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", &r.onInit, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", &r.onShutdown, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitInvoiceIssued emits an invoice issued event.
func (r *Registry) EmitInvoiceIssued(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, "OnInvoiceIssued", &r.onInvoiceIssued, func(p OnInvoiceIssued) error {
		return p.OnInvoiceIssued(ctx, inv)
	})
}

// EmitInvoiceStatusChanged emits a lifecycle event.
func (r *Registry) EmitInvoiceStatusChanged(ctx context.Context, inv *invoice.Invoice, evt *invoice.LifecycleEvent) {
	emit(ctx, r, "OnInvoiceStatusChanged", &r.onInvoiceStatusChanged, func(p OnInvoiceStatusChanged) error {
		return p.OnInvoiceStatusChanged(ctx, inv, evt)
	})
}

// EmitPaymentApplied emits a payment applied event.
func (r *Registry) EmitPaymentApplied(ctx context.Context, inv *invoice.Invoice, paid types.Amount) {
	emit(ctx, r, "OnPaymentApplied", &r.onPaymentApplied, func(p OnPaymentApplied) error {
		return p.OnPaymentApplied(ctx, inv, paid)
	})
}

// EmitCollateralLocked emits a collateral locked event.
func (r *Registry) EmitCollateralLocked(ctx context.Context, pos *collateral.Position) {
	emit(ctx, r, "OnCollateralLocked", &r.onCollateralLocked, func(p OnCollateralLocked) error {
		return p.OnCollateralLocked(ctx, pos)
	})
}

// EmitCollateralReleased emits a collateral released event.
func (r *Registry) EmitCollateralReleased(ctx context.Context, pos *collateral.Position) {
	emit(ctx, r, "OnCollateralReleased", &r.onCollateralReleased, func(p OnCollateralReleased) error {
		return p.OnCollateralReleased(ctx, pos)
	})
}

// EmitCreditDrawn emits a credit drawn event.
func (r *Registry) EmitCreditDrawn(ctx context.Context, pos *collateral.Position, amount types.Amount) {
	emit(ctx, r, "OnCreditDrawn", &r.onCreditDrawn, func(p OnCreditDrawn) error {
		return p.OnCreditDrawn(ctx, pos, amount)
	})
}

// EmitCreditRepaid emits a credit repaid event.
func (r *Registry) EmitCreditRepaid(ctx context.Context, pos *collateral.Position, amount types.Amount) {
	emit(ctx, r, "OnCreditRepaid", &r.onCreditRepaid, func(p OnCreditRepaid) error {
		return p.OnCreditRepaid(ctx, pos, amount)
	})
}

// EmitLimitExceeded emits a rejected draw.
func (r *Registry) EmitLimitExceeded(ctx context.Context, pos *collateral.Position, requested types.Amount, reason error) {
	emit(ctx, r, "OnLimitExceeded", &r.onLimitExceeded, func(p OnLimitExceeded) error {
		return p.OnLimitExceeded(ctx, pos, requested, reason)
	})
}

// EmitAccrualCycleCompleted emits a cycle summary.
func (r *Registry) EmitAccrualCycleCompleted(ctx context.Context, run *pool.AccrualRun) {
	emit(ctx, r, "OnAccrualCycleCompleted", &r.onAccrualCycleCompleted, func(p OnAccrualCycleCompleted) error {
		return p.OnAccrualCycleCompleted(ctx, run)
	})
}

// EmitAccrualAccountFailed emits a skipped account.
func (r *Registry) EmitAccrualAccountFailed(ctx context.Context, poolID, wallet string, cause error) {
	emit(ctx, r, "OnAccrualAccountFailed", &r.onAccrualAccountFailed, func(p OnAccrualAccountFailed) error {
		return p.OnAccrualAccountFailed(ctx, poolID, wallet, cause)
	})
}

// EmitYieldClaimed emits a yield claim.
func (r *Registry) EmitYieldClaimed(ctx context.Context, acct *pool.YieldAccount, amount types.Amount) {
	emit(ctx, r, "OnYieldClaimed", &r.onYieldClaimed, func(p OnYieldClaimed) error {
		return p.OnYieldClaimed(ctx, acct, amount)
	})
}

// EmitSettlementRuleCreated emits a rule created event.
func (r *Registry) EmitSettlementRuleCreated(ctx context.Context, rule *settlement.Rule) {
	emit(ctx, r, "OnSettlementRuleCreated", &r.onSettlementRuleCreated, func(p OnSettlementRuleCreated) error {
		return p.OnSettlementRuleCreated(ctx, rule)
	})
}

// EmitSettlementExecuted emits a settlement execution.
func (r *Registry) EmitSettlementExecuted(ctx context.Context, exec *settlement.Execution) {
	emit(ctx, r, "OnSettlementExecuted", &r.onSettlementExecuted, func(p OnSettlementExecuted) error {
		return p.OnSettlementExecuted(ctx, exec)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
