package finledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/finledger/collateral"
	"github.com/xraph/finledger/id"
	"github.com/xraph/finledger/settlement"
	"github.com/xraph/finledger/types"
)

// RuleRequest registers a settlement rule for an invoice.
type RuleRequest struct {
	// ExternalRef is the rule id assigned on-chain, if any. It must be
	// unique across rules.
	ExternalRef string
	InvoiceID   id.Key
	Payer       string
	Recipients  []string
	BpsSplit    []uint32
	Timestamp   time.Time
}

// ExecutionRequest records proceeds distributed under a rule.
type ExecutionRequest struct {
	// Ref identifies the execution, e.g. "<txhash>-<logindex>". Recording
	// the same ref twice fails with ErrDuplicateExecution. A new id is
	// generated when empty.
	Ref         string
	RuleID      id.RuleID
	InvoiceID   id.Key
	GrossAmount types.Amount
	Timestamp   time.Time
}

// ComputeSplit divides gross among the rule's recipients by their basis
// point shares. Each share is floored and the remainder goes to the last
// recipient, so the amounts always sum to gross.
func ComputeSplit(gross types.Amount, rule *settlement.Rule) ([]settlement.Split, error) {
	if !rule.Active {
		return nil, fmt.Errorf("%w: %s", ErrRuleInactive, rule.ID)
	}
	if err := validateRuleShape(rule.Recipients, rule.BpsSplit); err != nil {
		return nil, err
	}

	splits := make([]settlement.Split, len(rule.Recipients))
	distributed := types.Zero()
	for i, recipient := range rule.Recipients {
		share, err := gross.Bps(uint64(rule.BpsSplit[i]))
		if err != nil {
			return nil, err
		}
		splits[i] = settlement.Split{Recipient: recipient, Amount: share}
		if distributed, err = distributed.Add(share); err != nil {
			return nil, err
		}
	}

	remainder, err := gross.Sub(distributed)
	if err != nil {
		return nil, fmt.Errorf("%w: shares exceed gross amount", ErrInvalidRule)
	}
	last := &splits[len(splits)-1]
	if last.Amount, err = last.Amount.Add(remainder); err != nil {
		return nil, err
	}

	return splits, nil
}

// CreateRule validates and stores a settlement rule.
func (l *Ledger) CreateRule(ctx context.Context, req RuleRequest) (*settlement.Rule, error) {
	if err := validateRuleShape(req.Recipients, req.BpsSplit); err != nil {
		return nil, err
	}

	recipients := make([]string, len(req.Recipients))
	seen := make(map[string]struct{}, len(req.Recipients))
	for i, r := range req.Recipients {
		r = normalizeAccount(r)
		if _, dup := seen[r]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecipient, r)
		}
		seen[r] = struct{}{}
		recipients[i] = r
	}

	if _, err := l.getInvoice(ctx, req.InvoiceID); err != nil {
		return nil, err
	}

	at := l.at(req.Timestamp)
	rule := &settlement.Rule{
		Entity:      types.NewEntityAt(at),
		ID:          id.NewRuleID(),
		ExternalRef: req.ExternalRef,
		InvoiceID:   req.InvoiceID,
		Payer:       normalizeAccount(req.Payer),
		Recipients:  recipients,
		BpsSplit:    append([]uint32(nil), req.BpsSplit...),
		Active:      true,
		Version:     1,
	}

	if err := l.store.CreateRule(ctx, rule); err != nil {
		return nil, storageError("create rule", err)
	}

	l.plugins.EmitSettlementRuleCreated(ctx, rule)

	return rule, nil
}

// RecordExecution computes the splits for gross and appends an immutable
// execution record. The rule itself is left unchanged so it can execute
// again for later installments.
func (l *Ledger) RecordExecution(ctx context.Context, req ExecutionRequest) (*settlement.Execution, error) {
	if req.GrossAmount.IsZero() {
		return nil, fmt.Errorf("%w: gross amount must be positive", ErrInvalidAmount)
	}

	rule, err := l.getRule(ctx, req.RuleID)
	if err != nil {
		return nil, err
	}
	if !req.InvoiceID.IsZero() && req.InvoiceID != rule.InvoiceID {
		return nil, ValidationError{Field: "invoice_id", Message: fmt.Sprintf("rule %s belongs to %s", rule.ID, rule.InvoiceID)}
	}

	splits, err := ComputeSplit(req.GrossAmount, rule)
	if err != nil {
		return nil, err
	}

	inv, err := l.getInvoice(ctx, rule.InvoiceID)
	if err != nil {
		return nil, err
	}

	ref := req.Ref
	if ref == "" {
		ref = id.NewExecutionID().String()
	}

	exec := &settlement.Execution{
		ID:          ref,
		RuleID:      rule.ID,
		InvoiceID:   rule.InvoiceID,
		GrossAmount: req.GrossAmount,
		Currency:    inv.Currency,
		Splits:      splits,
		Timestamp:   l.at(req.Timestamp),
		CreatedAt:   l.now(),
	}

	if err := l.store.CreateExecution(ctx, exec); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateExecution, ref)
		}
		return nil, storageError("create execution", err)
	}

	l.plugins.EmitSettlementExecuted(ctx, exec)

	return exec, nil
}

// DeactivateRule stops a rule from executing.
func (l *Ledger) DeactivateRule(ctx context.Context, ruleID id.RuleID) (*settlement.Rule, error) {
	var out *settlement.Rule
	err := l.withRetry(ctx, "deactivate rule", func() error {
		rule, err := l.getRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if !rule.Active {
			out = rule
			return nil
		}

		next := *rule
		next.Active = false
		next.Touch(l.now())
		if err := l.store.UpdateRule(ctx, &next, rule.Version); err != nil {
			return storageError("update rule", err)
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// GetRule returns a rule by id.
func (l *Ledger) GetRule(ctx context.Context, ruleID id.RuleID) (*settlement.Rule, error) {
	return l.getRule(ctx, ruleID)
}

// GetRuleByRef returns the rule registered under an on-chain rule id.
func (l *Ledger) GetRuleByRef(ctx context.Context, ref string) (*settlement.Rule, error) {
	rule, err := l.store.GetRuleByRef(ctx, ref)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: ref %s", ErrRuleNotFound, ref)
		}
		return nil, storageError("get rule by ref", err)
	}
	return rule, nil
}

// ListRules returns the rules of an invoice.
func (l *Ledger) ListRules(ctx context.Context, invoiceID id.Key) ([]*settlement.Rule, error) {
	rules, err := l.store.ListRules(ctx, invoiceID)
	return rules, storageError("list rules", err)
}

// ListExecutions returns the executions of a rule, oldest first.
func (l *Ledger) ListExecutions(ctx context.Context, ruleID id.RuleID) ([]*settlement.Execution, error) {
	execs, err := l.store.ListExecutions(ctx, ruleID)
	return execs, storageError("list executions", err)
}

func (l *Ledger) getRule(ctx context.Context, ruleID id.RuleID) (*settlement.Rule, error) {
	rule, err := l.store.GetRule(ctx, ruleID)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
		}
		return nil, storageError("get rule", err)
	}
	return rule, nil
}

func validateRuleShape(recipients []string, bps []uint32) error {
	if len(recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalidRule)
	}
	if len(recipients) != len(bps) {
		return fmt.Errorf("%w: %d recipients, %d shares", ErrInvalidRule, len(recipients), len(bps))
	}

	var total uint64
	for i, b := range bps {
		if strings.TrimSpace(recipients[i]) == "" {
			return fmt.Errorf("%w: empty recipient at %d", ErrInvalidRule, i)
		}
		total += uint64(b)
	}
	if total > collateral.MaxBps {
		return fmt.Errorf("%w: shares sum to %d bps", ErrInvalidRule, total)
	}

	return nil
}

// normalizeAccount trims an account and lower-cases hex addresses so the
// same wallet always maps to the same key.
func normalizeAccount(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strings.ToLower(s)
	}
	return s
}
