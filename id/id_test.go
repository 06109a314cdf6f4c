package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/finledger/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"RuleID", id.NewRuleID, "srule_"},
		{"ExecutionID", id.NewExecutionID, "sexec_"},
		{"EventID", id.NewEventID, "lcevt_"},
		{"RunID", id.NewRunID, "acrun_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"RuleID", id.NewRuleID, id.ParseRuleID},
		{"ExecutionID", id.NewExecutionID, id.ParseExecutionID},
		{"EventID", id.NewEventID, id.ParseEventID},
		{"RunID", id.NewRunID, id.ParseRunID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseRuleID rejects sexec_", id.NewExecutionID().String(), id.ParseRuleID},
		{"ParseExecutionID rejects lcevt_", id.NewEventID().String(), id.ParseExecutionID},
		{"ParseEventID rejects acrun_", id.NewRunID().String(), id.ParseEventID},
		{"ParseRunID rejects srule_", id.NewRuleID().String(), id.ParseRunID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}

	val, err := i.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewRuleID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	if err := scanned.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewRuleID()
	b := id.NewRuleID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewRuleID() calls returned the same ID: %q", a.String())
	}
}
