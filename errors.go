package finledger

import (
	"errors"
	"fmt"

	"github.com/xraph/finledger/types"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("finledger: not found")
	ErrAlreadyExists = errors.New("finledger: already exists")
	ErrInvalidInput  = errors.New("finledger: invalid input")
	ErrConflict      = errors.New("finledger: concurrent modification")

	// Invoice errors
	ErrUnknownInvoice    = errors.New("finledger: unknown invoice")
	ErrDuplicateInvoice  = errors.New("finledger: duplicate invoice")
	ErrInvalidTransition = errors.New("finledger: invalid status transition")
	ErrOverpayment       = errors.New("finledger: payment exceeds invoice amount")
	ErrInvalidAmount     = errors.New("finledger: invalid amount")

	// Collateral errors
	ErrPositionExists          = errors.New("finledger: collateral position already exists")
	ErrPositionNotFound        = errors.New("finledger: collateral position not found")
	ErrPositionOutstanding     = errors.New("finledger: collateral position has outstanding credit")
	ErrCreditLimitExceeded     = errors.New("finledger: credit limit exceeded")
	ErrPoolUtilizationExceeded = errors.New("finledger: pool utilization exceeded")
	ErrRepaymentExceedsBalance = errors.New("finledger: repayment exceeds used credit")

	// Pool and accrual errors
	ErrPoolNotFound      = errors.New("finledger: pool not found")
	ErrPoolExists        = errors.New("finledger: pool already exists")
	ErrCycleInFlight     = errors.New("finledger: accrual cycle already in flight")
	ErrInsufficientYield = errors.New("finledger: insufficient accrued yield")

	// Settlement errors
	ErrRuleNotFound       = errors.New("finledger: settlement rule not found")
	ErrInvalidRule        = errors.New("finledger: invalid settlement rule")
	ErrDuplicateRecipient = errors.New("finledger: duplicate settlement recipient")
	ErrRuleInactive       = errors.New("finledger: settlement rule inactive")
	ErrDuplicateExecution = errors.New("finledger: duplicate settlement execution")

	// Arithmetic errors
	ErrArithmeticOverflow = types.ErrOverflow

	// Store errors
	ErrStorageFailure = errors.New("finledger: storage failure")
	ErrStoreClosed    = errors.New("finledger: store is closed")
)

// ErrorKind is the coarse classification an API layer maps onto
// client-facing responses.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindInvalidTransition
	KindInvalidRule
	KindInvalidInput
	KindLimitExceeded
	KindDuplicate
	KindArithmeticOverflow
	KindStorageFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindInvalidRule:
		return "invalid_rule"
	case KindInvalidInput:
		return "invalid_input"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindDuplicate:
		return "duplicate_entity"
	case KindArithmeticOverflow:
		return "arithmetic_overflow"
	case KindStorageFailure:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Kind classifies err.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case IsNotFound(err):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrOverpayment),
		errors.Is(err, ErrPositionExists), errors.Is(err, ErrPositionOutstanding),
		errors.Is(err, ErrRepaymentExceedsBalance), errors.Is(err, ErrInsufficientYield):
		return KindInvalidTransition
	case errors.Is(err, ErrInvalidRule), errors.Is(err, ErrDuplicateRecipient),
		errors.Is(err, ErrRuleInactive):
		return KindInvalidRule
	case IsLimitError(err):
		return KindLimitExceeded
	case IsDuplicate(err):
		return KindDuplicate
	case errors.Is(err, types.ErrOverflow), errors.Is(err, types.ErrUnderflow):
		return KindArithmeticOverflow
	case errors.Is(err, ErrStorageFailure), errors.Is(err, ErrStoreClosed),
		errors.Is(err, ErrConflict):
		return KindStorageFailure
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidAmount):
		return KindInvalidInput
	default:
		var ve ValidationError
		if errors.As(err, &ve) {
			return KindInvalidInput
		}

		return KindUnknown
	}
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("finledger: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "finledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("finledger: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns e when it holds errors, nil otherwise.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnknownInvoice) ||
		errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, ErrPoolNotFound) ||
		errors.Is(err, ErrRuleNotFound)
}

// IsLimitError returns true if the error is a credit or utilization bound.
func IsLimitError(err error) bool {
	return errors.Is(err, ErrCreditLimitExceeded) ||
		errors.Is(err, ErrPoolUtilizationExceeded)
}

// IsDuplicate returns true if the error reports an entity that already
// exists.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrDuplicateInvoice) ||
		errors.Is(err, ErrPoolExists) ||
		errors.Is(err, ErrDuplicateExecution)
}

// IsInvariantViolation returns true for errors that are always surfaced to
// the caller and never retried: invalid transitions, limit breaches and
// duplicates.
func IsInvariantViolation(err error) bool {
	switch Kind(err) {
	case KindInvalidTransition, KindInvalidRule, KindLimitExceeded, KindDuplicate:
		return true
	default:
		return false
	}
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageFailure) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrCycleInFlight)
}

// storageError wraps store failures that are not domain sentinels so
// callers can match ErrStorageFailure while keeping the cause.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}

func isDomainError(err error) bool {
	return Kind(err) != KindUnknown || errors.Is(err, ErrConflict)
}
