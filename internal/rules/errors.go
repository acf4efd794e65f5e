package rules

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected by the rule manager.
//
// Runtime errors are engine malfunctions, never validation outcomes.
// Invalid domain data is reported as messages, not errors.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Tag identifies the rule, when one is involved.
	Tag string

	// Index is the rule's unique index, when one is involved.
	Index int

	// Key is the content-based rule key, for correlation mismatches in
	// content identity mode.
	Key string

	// Err is the underlying cause, if any (rule fault, panic value).
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDuplicateRegistration indicates the same rule was registered
	// twice on one manager. Programmer error, surfaced immediately.
	ErrCodeDuplicateRegistration RuntimeErrorCode = "DUPLICATE_REGISTRATION"

	// ErrCodeExecutionFault indicates a rule implementation raised an
	// unexpected fault. Aborts only the current run.
	ErrCodeExecutionFault RuntimeErrorCode = "EXECUTION_FAULT"

	// ErrCodeCorrelationMismatch indicates an incoming message referenced
	// a rule identity unknown to this manager.
	ErrCodeCorrelationMismatch RuntimeErrorCode = "CORRELATION_MISMATCH"

	// ErrCodeInvalidRegistration indicates a malformed rule definition
	// (empty tag, no triggers, unknown trigger property).
	ErrCodeInvalidRegistration RuntimeErrorCode = "INVALID_REGISTRATION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.Tag != "" && e.Index > 0:
		return fmt.Sprintf("%s: %s (rule=%s, index=%d)", e.Code, e.Message, e.Tag, e.Index)
	case e.Tag != "":
		return fmt.Sprintf("%s: %s (rule=%s)", e.Code, e.Message, e.Tag)
	case e.Index > 0:
		return fmt.Sprintf("%s: %s (index=%d)", e.Code, e.Message, e.Index)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsDuplicateRegistration reports whether err is a duplicate registration.
// Uses errors.As to handle wrapped errors.
func IsDuplicateRegistration(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeDuplicateRegistration
}

// IsExecutionFault reports whether err is a rule execution fault.
func IsExecutionFault(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeExecutionFault
}

// IsCorrelationMismatch reports whether err is a correlation mismatch.
func IsCorrelationMismatch(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeCorrelationMismatch
}

// NewDuplicateRegistrationError creates a RuntimeError for registering the
// same rule tag twice.
func NewDuplicateRegistrationError(tag string, existingIndex int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDuplicateRegistration,
		Message: "rule already registered",
		Tag:     tag,
		Index:   existingIndex,
	}
}

// NewExecutionFaultError creates a RuntimeError for a fault escaping a
// rule implementation.
func NewExecutionFaultError(tag string, index int, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeExecutionFault,
		Message: "rule implementation faulted",
		Tag:     tag,
		Index:   index,
		Err:     cause,
	}
}

// NewCorrelationMismatchError creates a RuntimeError for an incoming
// message referencing an unknown rule identity.
func NewCorrelationMismatchError(index int, key string) *RuntimeError {
	msg := "no rule registered at incoming index"
	if key != "" {
		msg = "no rule registered with incoming content key"
	}
	return &RuntimeError{
		Code:    ErrCodeCorrelationMismatch,
		Message: msg,
		Index:   index,
		Key:     key,
	}
}
