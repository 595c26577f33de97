package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an application error so callers can branch on behavior
// without string matching.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindDuplicate         Kind = "DUPLICATE"
	KindValidation        Kind = "VALIDATION_FAILED"
	KindUpstreamTimeout   Kind = "UPSTREAM_TIMEOUT"
	KindUpstreamRejected  Kind = "UPSTREAM_REJECTED"
	KindUnresolvableEvent Kind = "UNRESOLVABLE_EVENT"
	KindInternal          Kind = "INTERNAL"
)

// AppError represents a custom application error
type AppError struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match any two AppErrors of the same kind.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if stderrors.As(target, &appErr) {
		return appErr.Kind == e.Kind
	}
	return false
}

// Predefined error types
var (
	ErrDatabaseConnection = &AppError{Kind: KindInternal, Code: "DB_CONNECTION_FAILED", Message: "Failed to connect to database"}
	ErrInvalidCredentials = &AppError{Kind: KindValidation, Code: "INVALID_CREDENTIALS", Message: "Invalid credentials"}
	ErrAccountLocked      = &AppError{Kind: KindConflict, Code: "ACCOUNT_LOCKED", Message: "Account is locked"}
	ErrAccountSuspended   = &AppError{Kind: KindConflict, Code: "ACCOUNT_SUSPENDED", Message: "Account has been suspended"}
	ErrUnauthorized       = &AppError{Kind: KindValidation, Code: "UNAUTHORIZED", Message: "Unauthorized access"}
	ErrValidationFailed   = &AppError{Kind: KindValidation, Code: "VALIDATION_FAILED", Message: "Validation failed"}
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{Kind: KindInternal, Code: code, Message: message}
}

// Wrap wraps an error with additional context
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Kind:    KindInternal,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NotFound reports that the principal or record does not exist.
func NotFound(message string) *AppError {
	return &AppError{Kind: KindNotFound, Code: string(KindNotFound), Message: message}
}

// Conflict reports an invariant violation such as a duplicate active
// subscription or a license bound to another machine.
func Conflict(message string) *AppError {
	return &AppError{Kind: KindConflict, Code: string(KindConflict), Message: message}
}

// Duplicate reports a unique-constraint violation.
func Duplicate(message string) *AppError {
	return &AppError{Kind: KindDuplicate, Code: string(KindDuplicate), Message: message}
}

// Validation reports malformed caller input.
func Validation(message string) *AppError {
	return &AppError{Kind: KindValidation, Code: string(KindValidation), Message: message}
}

// UpstreamTimeout reports a billing/identity provider call that timed out.
func UpstreamTimeout(operation string, err error) *AppError {
	return &AppError{
		Kind:    KindUpstreamTimeout,
		Code:    string(KindUpstreamTimeout),
		Message: fmt.Sprintf("upstream call timed out: %s", operation),
		Err:     err,
	}
}

// UpstreamRejected reports a billing/identity provider call that failed for
// a non-timeout reason.
func UpstreamRejected(operation string, err error) *AppError {
	return &AppError{
		Kind:    KindUpstreamRejected,
		Code:    string(KindUpstreamRejected),
		Message: fmt.Sprintf("upstream call rejected: %s", operation),
		Err:     err,
	}
}

// UnresolvableEvent reports a webhook event that references no known local
// entity. It is logged and discarded, never surfaced to the provider as a
// failure.
func UnresolvableEvent(message string) *AppError {
	return &AppError{Kind: KindUnresolvableEvent, Code: string(KindUnresolvableEvent), Message: message}
}

// Internal reports an infrastructure failure.
func Internal(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Code: string(KindInternal), Message: message, Err: err}
}

// AsAppError unwraps err to an *AppError if one is in its chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func kindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return kindOf(err) == KindConflict }

// IsDuplicate reports whether err is a Duplicate error.
func IsDuplicate(err error) bool { return kindOf(err) == KindDuplicate }

// IsValidation reports whether err is a Validation error.
func IsValidation(err error) bool { return kindOf(err) == KindValidation }

// IsUnresolvableEvent reports whether err marks a webhook event that could
// not be matched to local state.
func IsUnresolvableEvent(err error) bool { return kindOf(err) == KindUnresolvableEvent }

// IsUpstream reports whether err came from a provider call, timeout or not.
func IsUpstream(err error) bool {
	k := kindOf(err)
	return k == KindUpstreamTimeout || k == KindUpstreamRejected
}

// IsUpstreamTimeout reports whether err is specifically a provider timeout.
func IsUpstreamTimeout(err error) bool { return kindOf(err) == KindUpstreamTimeout }
