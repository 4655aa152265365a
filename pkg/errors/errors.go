package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return New("NOT_FOUND", fmt.Sprintf("%s not found", resource), http.StatusNotFound, err)
}

func BadRequest(message string, err error) *AppError {
	return New("BAD_REQUEST", message, http.StatusBadRequest, err)
}

func Unauthorized(message string, err error) *AppError {
	return New("UNAUTHORIZED", message, http.StatusUnauthorized, err)
}

func Internal(message string, err error) *AppError {
	return New("INTERNAL_ERROR", message, http.StatusInternalServerError, err)
}

// Auth is a terminal credential failure. The engine surfaces it and never
// retries the connection on its own.
func Auth(message string, err error) *AppError {
	return New("AUTH_ERROR", message, http.StatusUnauthorized, err)
}

// Network is a transient transport failure that the connection manager
// recovers from with backoff.
func Network(message string, err error) *AppError {
	return New("NETWORK_ERROR", message, http.StatusServiceUnavailable, err)
}

// InvalidTransition marks a stale or out-of-order status event. Logged and
// swallowed, never user-visible.
func InvalidTransition(message string) *AppError {
	return New("INVALID_TRANSITION", message, http.StatusConflict, nil)
}

// SendTimeout is message-scoped: the affected message becomes FAILED, the
// rest of the conversation is untouched.
func SendTimeout(message string) *AppError {
	return New("SEND_TIMEOUT", message, http.StatusGatewayTimeout, nil)
}

// ReconciliationMiss is a status event arriving before its message. It is
// queued for a bounded grace period and then dropped with a warning.
func ReconciliationMiss(message string) *AppError {
	return New("RECONCILIATION_MISS", message, http.StatusConflict, nil)
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
