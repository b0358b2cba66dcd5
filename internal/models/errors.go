package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pulsechain-portfolio-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Provider error taxonomy. Use errors.Is against these sentinels.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrRateLimited         = errors.New("rate limited")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrNotFound            = errors.New("not found")
	ErrPartialFailure      = errors.New("partial failure")
	ErrAllProvidersFailed  = errors.New("all providers failed")
)

// ProviderError describes one failed upstream call
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Kind       error
	Err        error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewProviderError builds a ProviderError of the given kind
func NewProviderError(provider, op string, kind error, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: kind, Err: cause}
}

// NewStatusError builds a ProviderError from an HTTP status code
func NewStatusError(provider, op string, statusCode int) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Op:         op,
		StatusCode: statusCode,
		Kind:       ClassifyStatus(statusCode),
	}
}

// ClassifyStatus maps an HTTP status to an error kind
func ClassifyStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case statusCode == http.StatusNotFound:
		return ErrNotFound
	case statusCode == http.StatusRequestTimeout, statusCode >= 500:
		return ErrProviderUnavailable
	default:
		return ErrMalformedResponse
	}
}

// IsRetryable reports whether err is transient: unavailable providers and
// per-call timeouts. Rate limits, schema errors and misses are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrNotFound) {
		return false
	}
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Rate limiting errors
	ErrorCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Validation errors
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInvalidWallet  ErrorCode = "INVALID_WALLET_ADDRESS"
	ErrorCodeInvalidToken   ErrorCode = "INVALID_TOKEN_ADDRESS"
	ErrorCodeMalformedJSON  ErrorCode = "MALFORMED_JSON"

	// Upstream errors
	ErrorCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrorCodePriceNotFound       ErrorCode = "PRICE_NOT_FOUND"
	ErrorCodeNotFound            ErrorCode = "NOT_FOUND"

	// Internal errors
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorDetail represents detailed error information
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// ErrorResponse represents the standardized error response format
type ErrorResponse struct {
	Error         ErrorDetail `json:"error"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// HTTPStatusCode returns the appropriate HTTP status code for each error type
func (e ErrorCode) HTTPStatusCode() int {
	switch e {
	case ErrorCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorCodeInvalidRequest, ErrorCodeInvalidWallet, ErrorCodeInvalidToken, ErrorCodeMalformedJSON:
		return http.StatusBadRequest
	case ErrorCodePriceNotFound, ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError represents an application error with context
type AppError struct {
	Code       ErrorCode
	Message    string
	Details    string
	Cause      error
	Context    map[string]interface{}
	StatusCode int
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: code.HTTPStatusCode(),
		Context:    make(map[string]interface{}),
	}
}

// NewAppErrorWithDetails creates a new application error with details
func NewAppErrorWithDetails(code ErrorCode, message, details string) *AppError {
	appErr := NewAppError(code, message)
	appErr.Details = details
	return appErr
}

// NewAppErrorWithCause creates a new application error with underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	appErr := NewAppError(code, message)
	appErr.Cause = cause
	return appErr
}

// HandleError logs err and writes the standardized error response
func HandleError(c *gin.Context, err error, log *logger.Logger) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewAppErrorWithCause(ErrorCodeInternalError, "Internal server error", err)
	}

	appErr.WithContext("method", c.Request.Method).
		WithContext("path", c.Request.URL.Path)

	correlationID := logger.GetCorrelationIDFromContext(c.Request.Context())

	if log != nil {
		fields := []zap.Field{
			zap.String("error_code", string(appErr.Code)),
			zap.String("error_message", appErr.Message),
			zap.Any("error_context", appErr.Context),
		}
		if appErr.Cause != nil {
			fields = append(fields, zap.Error(appErr.Cause))
		}

		if appErr.StatusCode >= 500 {
			log.WithContext(c.Request.Context()).Error("Application error", fields...)
		} else {
			log.WithContext(c.Request.Context()).Warn("Client error", fields...)
		}
	}

	c.JSON(appErr.StatusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	})
}
