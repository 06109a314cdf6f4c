package settlement

import (
	"context"

	"github.com/xraph/finledger/id"
)

// Store persists settlement rules and their executions.
type Store interface {
	CreateRule(ctx context.Context, r *Rule) error
	GetRule(ctx context.Context, ruleID id.RuleID) (*Rule, error)
	GetRuleByRef(ctx context.Context, ref string) (*Rule, error)
	ListRules(ctx context.Context, invoiceID id.Key) ([]*Rule, error)

	// UpdateRule writes r only if the stored version equals
	// expectedVersion, then sets r.Version to expectedVersion+1. A stale
	// version fails with finledger.ErrConflict.
	UpdateRule(ctx context.Context, r *Rule, expectedVersion int64) error

	// CreateExecution appends e. Executions are never updated; a repeated
	// ID fails with finledger.ErrAlreadyExists.
	CreateExecution(ctx context.Context, e *Execution) error
	ListExecutions(ctx context.Context, ruleID id.RuleID) ([]*Execution, error)
}
