package domain

import (
	"errors"
	"fmt"
)

// ErrorKind groups failure codes by how callers should react to them.
type ErrorKind string

const (
	KindGuardViolation      ErrorKind = "guard_violation"
	KindValidationFailure   ErrorKind = "validation_failure"
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"
	KindSideEffectFailure   ErrorKind = "side_effect_failure"
	KindNotFound            ErrorKind = "not_found"
)

// Code is a machine-readable failure reason.
type Code string

const (
	CodeNoRequestsProvided         Code = "NO_REQUESTS_PROVIDED"
	CodeOpenRequestsExist          Code = "OPEN_REQUESTS_EXIST"
	CodeInvalidPayloadForKind      Code = "INVALID_PAYLOAD_FOR_KIND"
	CodeRequestNotOpen             Code = "REQUEST_NOT_OPEN"
	CodeRequestAlreadyResolved     Code = "REQUEST_ALREADY_RESOLVED"
	CodeGateFailed                 Code = "GATE_FAILED"
	CodeInvalidDecisionForCategory Code = "INVALID_DECISION_FOR_CATEGORY"
	CodeInvalidTransition          Code = "INVALID_TRANSITION"
	CodeReasonRequired             Code = "REASON_REQUIRED"
	CodeResponseRequired           Code = "RESPONSE_REQUIRED"
	CodeApprovalRequired           Code = "APPROVAL_REQUIRED"
	CodeKindNotPermitted           Code = "KIND_NOT_PERMITTED"
	CodeDuplicateOpenRequest       Code = "DUPLICATE_OPEN_REQUEST"
	CodeCaseTerminal               Code = "CASE_TERMINAL"
	CodeProductionCase             Code = "PRODUCTION_CASE"
	CodeInvalidInput               Code = "INVALID_INPUT"
	CodeStaleState                 Code = "STALE_STATE"
	CodeSideEffectFailed           Code = "SIDE_EFFECT_FAILED"
	CodeNotFound                   Code = "NOT_FOUND"
)

var codeKinds = map[Code]ErrorKind{
	CodeNoRequestsProvided:         KindGuardViolation,
	CodeOpenRequestsExist:          KindGuardViolation,
	CodeInvalidPayloadForKind:      KindValidationFailure,
	CodeRequestNotOpen:             KindGuardViolation,
	CodeRequestAlreadyResolved:     KindGuardViolation,
	CodeGateFailed:                 KindGuardViolation,
	CodeInvalidDecisionForCategory: KindValidationFailure,
	CodeInvalidTransition:          KindGuardViolation,
	CodeReasonRequired:             KindValidationFailure,
	CodeResponseRequired:           KindValidationFailure,
	CodeApprovalRequired:           KindValidationFailure,
	CodeKindNotPermitted:           KindGuardViolation,
	CodeDuplicateOpenRequest:       KindGuardViolation,
	CodeCaseTerminal:               KindGuardViolation,
	CodeProductionCase:             KindGuardViolation,
	CodeInvalidInput:               KindValidationFailure,
	CodeStaleState:                 KindConcurrencyConflict,
	CodeSideEffectFailed:           KindSideEffectFailure,
	CodeNotFound:                   KindNotFound,
}

// Kind returns the taxonomy bucket for the code.
func (c Code) Kind() ErrorKind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindValidationFailure
}

// Error is the typed failure returned by every case operation.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the taxonomy bucket of the error.
func (e *Error) Kind() ErrorKind {
	return e.Code.Kind()
}

// Retryable reports whether the caller may retry the same operation unchanged.
func (e *Error) Retryable() bool {
	return e.Kind() == KindConcurrencyConflict
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks.
var (
	ErrNoRequestsProvided         = NewError(CodeNoRequestsProvided, "at least one validation request is required to invalidate")
	ErrOpenRequestsExist          = NewError(CodeOpenRequestsExist, "open validation requests must be resolved first")
	ErrInvalidPayloadForKind      = NewError(CodeInvalidPayloadForKind, "payload does not match request kind")
	ErrRequestNotOpen             = NewError(CodeRequestNotOpen, "request is not open")
	ErrRequestAlreadyResolved     = NewError(CodeRequestAlreadyResolved, "request is already closed or cancelled")
	ErrGateFailed                 = NewError(CodeGateFailed, "case cannot be determined yet")
	ErrInvalidDecisionForCategory = NewError(CodeInvalidDecisionForCategory, "decision is not allowed for this category")
	ErrInvalidTransition          = NewError(CodeInvalidTransition, "transition not allowed from current status")
	ErrReasonRequired             = NewError(CodeReasonRequired, "a reason is required")
	ErrResponseRequired           = NewError(CodeResponseRequired, "an applicant response is required")
	ErrApprovalRequired           = NewError(CodeApprovalRequired, "an approval outcome is required")
	ErrKindNotPermitted           = NewError(CodeKindNotPermitted, "request kind not permitted at this stage")
	ErrDuplicateOpenRequest       = NewError(CodeDuplicateOpenRequest, "an outstanding request of this kind already exists")
	ErrCaseTerminal               = NewError(CodeCaseTerminal, "case is in a terminal status")
	ErrProductionCase             = NewError(CodeProductionCase, "operation not allowed on production cases")
	ErrInvalidInput               = NewError(CodeInvalidInput, "invalid input")
	ErrStaleState                 = NewError(CodeStaleState, "case was modified concurrently; reload and retry")
	ErrSideEffectFailed           = NewError(CodeSideEffectFailed, "applying request outcome to the case failed")
	ErrNotFound                   = NewError(CodeNotFound, "not found")
)

// AsError extracts a typed failure from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the taxonomy bucket for err, or "" for infrastructure errors.
func KindOf(err error) ErrorKind {
	if de, ok := AsError(err); ok {
		return de.Kind()
	}
	return ""
}
