// Package apperr defines the error taxonomy shared by the billing services.
//
// Callers classify errors with errors.Is against the sentinel kinds:
//
//	errors.Is(err, apperr.ErrNotFound)
//	errors.Is(err, apperr.ErrServiceUnavailable)
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrServiceUnavailable = errors.New("service unavailable")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// Validation reports malformed input to a lifecycle call.
func Validation(format string, args ...any) error {
	return &kindError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFound reports an absent subscription, plan, coupon or payment.
func NotFound(entity, id string) error {
	return &kindError{kind: ErrNotFound, msg: fmt.Sprintf("%s not found: %s", entity, id)}
}

// Conflict reports a transition attempted from an incompatible state.
func Conflict(format string, args ...any) error {
	return &kindError{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

// ServiceUnavailableError wraps an infrastructure failure of the gateway,
// lock store or relational store. It is always retryable.
type ServiceUnavailableError struct {
	Op          string
	Integration string
	Err         error
}

// Unavailable builds a ServiceUnavailableError for op against integration.
func Unavailable(op, integration string, err error) error {
	return &ServiceUnavailableError{Op: op, Integration: integration, Err: err}
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable (%s): %v", e.Integration, e.Op, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

func (e *ServiceUnavailableError) Is(target error) bool { return target == ErrServiceUnavailable }

func (e *ServiceUnavailableError) Retryable() bool { return true }

// IsRetryable reports whether err is an infrastructure failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}
