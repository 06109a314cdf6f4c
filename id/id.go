// Package id defines identity types for finledger entities.
//
// Entities created by the engine itself (settlement rules, executions,
// lifecycle events, accrual runs) use a TypeID with a prefix naming the
// entity type, in the format "prefix_suffix". Invoices keep the opaque
// 32-byte identifier they carry on-chain; see Key.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for engine-generated entity types.
const (
	PrefixRule           Prefix = "srule" // Settlement rule
	PrefixExecution      Prefix = "sexec" // Settlement execution without a chain reference
	PrefixLifecycleEvent Prefix = "lcevt" // Invoice lifecycle event
	PrefixAccrualRun     Prefix = "acrun" // Accrual cycle summary
)

// ID is a prefix-qualified, K-sortable identifier backed by a TypeID.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "srule_01h2xcejqtf2nbrexx3vqjhp41").
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// RuleID identifies a settlement rule (prefix: "srule").
type RuleID = ID

// ExecutionID identifies a settlement execution (prefix: "sexec").
type ExecutionID = ID

// EventID identifies a lifecycle event (prefix: "lcevt").
type EventID = ID

// RunID identifies an accrual run (prefix: "acrun").
type RunID = ID

// NewRuleID generates a new settlement rule ID.
func NewRuleID() ID { return New(PrefixRule) }

// NewExecutionID generates a new settlement execution ID.
func NewExecutionID() ID { return New(PrefixExecution) }

// NewEventID generates a new lifecycle event ID.
func NewEventID() ID { return New(PrefixLifecycleEvent) }

// NewRunID generates a new accrual run ID.
func NewRunID() ID { return New(PrefixAccrualRun) }

// ParseRuleID parses a string and validates the "srule" prefix.
func ParseRuleID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRule) }

// ParseExecutionID parses a string and validates the "sexec" prefix.
func ParseExecutionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixExecution) }

// ParseEventID parses a string and validates the "lcevt" prefix.
func ParseEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixLifecycleEvent) }

// ParseRunID parses a string and validates the "acrun" prefix.
func ParseRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAccrualRun) }

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer. The Nil ID is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
