package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Coordinator errors
	ErrCodeSessionNotFound         ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionFull             ErrorCode = "SESSION_FULL"
	ErrCodeBanned                  ErrorCode = "BANNED"
	ErrCodeForbidden               ErrorCode = "FORBIDDEN"
	ErrCodeParticipantNotConnected ErrorCode = "PARTICIPANT_NOT_CONNECTED"
	ErrCodeSignalingBacklogDropped ErrorCode = "SIGNALING_BACKLOG_DROPPED"
	ErrCodeCapacityExceeded        ErrorCode = "CAPACITY_EXCEEDED"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation errors

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// Authentication errors

func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

// Coordinator errors. All of these are terminal for the failing command but
// never fatal to the session that reported them.

// SessionNotFoundError indicates the session id is unknown or already ENDED
func SessionNotFoundError() *AppError {
	return NewWithStatus(ErrCodeSessionNotFound, "Session not found", http.StatusNotFound)
}

// SessionFullError indicates a join was rejected by the per-session capacity
func SessionFullError() *AppError {
	return NewWithStatus(ErrCodeSessionFull, "Session is at capacity", http.StatusConflict)
}

// BannedError indicates a rejoin attempt after a KICK in the same session
func BannedError() *AppError {
	return NewWithStatus(ErrCodeBanned, "User was kicked from this session", http.StatusForbidden)
}

// ForbiddenError indicates a permission denial from the role engine
func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

// ParticipantNotConnectedError indicates a signaling endpoint is not CONNECTED
func ParticipantNotConnectedError(message string) *AppError {
	return NewWithStatus(ErrCodeParticipantNotConnected, message, http.StatusConflict)
}

// SignalingBacklogDroppedError is the single retry-worthy condition: the
// target's outbound queue overflowed and the oldest signaling message was
// dropped. The caller should re-send or renegotiate.
func SignalingBacklogDroppedError() *AppError {
	return NewWithStatus(ErrCodeSignalingBacklogDropped, "Signaling backlog dropped, renegotiate", http.StatusServiceUnavailable)
}

// CapacityExceededError indicates the global concurrent-session limit was hit
func CapacityExceededError() *AppError {
	return NewWithStatus(ErrCodeCapacityExceeded, "Concurrent session limit reached", http.StatusServiceUnavailable)
}

// Internal errors

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if an error is an AppError type
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return InternalError(err.Error())
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}
