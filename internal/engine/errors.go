package engine

import (
	"errors"
	"fmt"
	"time"
)

// RuntimeError represents an error detected by the engine.
//
// Runtime errors include:
//   - Invalid or duplicate rules rejected by ProcessRule
//   - Worker panics inside the synchronization fabric
//   - Use of a closed engine
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Lineage identifies the affected submission, if any.
	Lineage string

	// RuleID identifies the rule involved (for rule errors).
	RuleID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDispatchTimeout indicates a unit never reported completion.
	ErrCodeDispatchTimeout RuntimeErrorCode = "DISPATCH_TIMEOUT"

	// ErrCodeWorkerPanic indicates a unit panicked while evaluating.
	ErrCodeWorkerPanic RuntimeErrorCode = "WORKER_PANIC"

	// ErrCodeEngineClosed indicates the engine was closed.
	ErrCodeEngineClosed RuntimeErrorCode = "ENGINE_CLOSED"

	// ErrCodeInvalidRule indicates a rule failed validation or compilation.
	ErrCodeInvalidRule RuntimeErrorCode = "INVALID_RULE"

	// ErrCodeDuplicateRule indicates a rule ID is already installed.
	ErrCodeDuplicateRule RuntimeErrorCode = "DUPLICATE_RULE"

	// ErrCodeLineageQuota indicates a lineage derived too many events.
	ErrCodeLineageQuota RuntimeErrorCode = "LINEAGE_QUOTA"
)

// ErrEngineClosed is returned by every operation after Close.
var ErrEngineClosed = &RuntimeError{Code: ErrCodeEngineClosed, Message: "engine is closed"}

// ErrEngineFailed wraps the fault that made the engine unusable. Once an
// engine has failed, every later call returns an error matching it.
var ErrEngineFailed = errors.New("engine failed")

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Lineage != "" && e.RuleID != "" {
		msg = fmt.Sprintf("%s (lineage=%s, rule=%s)", msg, e.Lineage, e.RuleID)
	} else if e.Lineage != "" {
		msg = fmt.Sprintf("%s (lineage=%s)", msg, e.Lineage)
	} else if e.RuleID != "" {
		msg = fmt.Sprintf("%s (rule=%s)", msg, e.RuleID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// DispatchTimeoutError is returned when the bounded wait for a dispatch
// expires before every scheduled unit reported completion.
//
// The fault is fatal: the fabric can no longer guarantee that no unit is
// still writing into the retired dispatch.
type DispatchTimeoutError struct {
	EventID string        // Event being dispatched
	Timeout time.Duration // Wait bound that expired
	Pending int           // Units that had not reported
}

// Error implements the error interface.
func (e *DispatchTimeoutError) Error() string {
	return fmt.Sprintf("%s: dispatch of event %s timed out after %s with %d unit(s) pending",
		ErrCodeDispatchTimeout, e.EventID, e.Timeout, e.Pending)
}

// hasCode reports whether err wraps a RuntimeError with the given code.
func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsInvalidRuleError returns true if the error rejected a malformed rule.
func IsInvalidRuleError(err error) bool {
	return hasCode(err, ErrCodeInvalidRule)
}

// IsDuplicateRuleError returns true if the error rejected a duplicate rule ID.
func IsDuplicateRuleError(err error) bool {
	return hasCode(err, ErrCodeDuplicateRule)
}

// IsWorkerPanic returns true if the error was caused by a panicking unit.
func IsWorkerPanic(err error) bool {
	return hasCode(err, ErrCodeWorkerPanic)
}

// IsDispatchTimeout returns true if the error is a DispatchTimeoutError.
// Uses errors.As to handle wrapped errors.
func IsDispatchTimeout(err error) bool {
	var te *DispatchTimeoutError
	return errors.As(err, &te)
}

// IsFatal returns true if the error reports a failed engine.
func IsFatal(err error) bool {
	return errors.Is(err, ErrEngineFailed)
}

// NewInvalidRuleError creates a RuntimeError for a rejected rule.
func NewInvalidRuleError(ruleID string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidRule,
		Message: "rule rejected",
		RuleID:  ruleID,
		Err:     cause,
	}
}

// NewDuplicateRuleError creates a RuntimeError for a rule ID collision.
func NewDuplicateRuleError(ruleID string, index int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDuplicateRule,
		Message: "rule ID already installed",
		RuleID:  ruleID,
		Details: map[string]string{
			"index": fmt.Sprintf("%d", index),
		},
	}
}

// NewWorkerPanicError creates a RuntimeError for a recovered unit panic.
func NewWorkerPanicError(unit int, value any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeWorkerPanic,
		Message: fmt.Sprintf("unit %d panicked: %v", unit, value),
		Details: map[string]string{
			"unit": fmt.Sprintf("%d", unit),
		},
	}
}
