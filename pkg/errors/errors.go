package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error carrying the same code, so clones of a sentinel still
// satisfy errors.Is against it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials       = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid username or password")
	ErrAccountDisabled          = New("ACCOUNT_DISABLED", http.StatusForbidden, "account is disabled")
	ErrAccountTempLocked        = New("ACCOUNT_TEMP_LOCKED", http.StatusLocked, "account is temporarily locked")
	ErrAccountPermanentlyLocked = New("ACCOUNT_PERMANENTLY_LOCKED", http.StatusForbidden, "account is permanently locked")
	ErrAccessTokenExpired       = New("ACCESS_TOKEN_EXPIRED", http.StatusUnauthorized, "access token expired")
	ErrAccessTokenMalformed     = New("ACCESS_TOKEN_MALFORMED", http.StatusUnauthorized, "access token malformed")
	ErrAccessTokenSignature     = New("ACCESS_TOKEN_SIGNATURE_INVALID", http.StatusUnauthorized, "access token signature invalid")
	ErrRefreshInvalid           = New("REFRESH_INVALID", http.StatusUnauthorized, "refresh token is invalid, expired or revoked")
	ErrRefreshReuseDetected     = Wrap(ErrRefreshInvalid, "REFRESH_REUSE_DETECTED", http.StatusUnauthorized, "refresh token reuse detected; session revoked")
	ErrSessionNotFound          = New("SESSION_NOT_FOUND", http.StatusNotFound, "session not found")
	ErrNotFound                 = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden                = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized             = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation               = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal                 = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// WithDetails returns a copy of err carrying the given detail fields.
func WithDetails(err *Error, details map[string]interface{}) *Error {
	clone := Clone(err, "")
	if clone == nil {
		return nil
	}
	if clone.Details == nil {
		clone.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		clone.Details[k] = v
	}
	return clone
}

// Internal wraps err as an INTERNAL_ERROR with the given message.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}
