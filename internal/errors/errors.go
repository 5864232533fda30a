// Package errors defines the DomainError type shared by every xrefdb
// package. Lock-discipline and field-precondition violations are programmer
// errors and are raised as panics carrying a *DomainError; store failures are
// returned as ordinary errors wrapped with CodeStoreFailure.
package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeLockDiscipline    ErrorCode = "LOCK_DISCIPLINE"
	CodeFieldPrecondition ErrorCode = "FIELD_PRECONDITION"
	CodeStoreFailure      ErrorCode = "STORE_FAILURE"
	CodePoisoned          ErrorCode = "POISONED"
	CodeCancelled         ErrorCode = "CANCELLED"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeValidationError   ErrorCode = "VALIDATION_ERROR"
	CodeScriptFailure     ErrorCode = "SCRIPT_FAILURE"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

const (
	CtxOperation = "operation"
	CtxField     = "field"
	CtxLock      = "lock"
	CtxTopicID   = "topic_id"
	CtxLinkID    = "link_id"
	CtxFileID    = "file_id"
	CtxPath      = "path"
	CtxScript    = "script"
)

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Newf(code ErrorCode, format string, args ...interface{}) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	return &DomainError{Code: code, Message: msg, Err: err}
}

// Store wraps a failed database call. Returns nil when err is nil so call
// sites can wrap unconditionally.
func Store(err error, operation string) error {
	if err == nil {
		return nil
	}
	return &DomainError{
		Code:    CodeStoreFailure,
		Message: "store call failed",
		Err:     err,
		Context: map[string]interface{}{CtxOperation: operation},
	}
}

// AddContext attaches a key/value pair, wrapping err as an internal error if
// it is not already a DomainError.
func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return de
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is and As forward to the standard library so callers only need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

// Panicf raises a programmer error. Used for lock-discipline and
// field-precondition violations, which a correct caller never triggers.
func Panicf(code ErrorCode, format string, args ...interface{}) {
	panic(&DomainError{Code: code, Message: fmt.Sprintf(format, args...)})
}
