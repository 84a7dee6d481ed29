package types

import (
	"errors"
	"fmt"
)

// ErrorCode 统一错误码
type ErrorCode string

// 存储与请求错误码
const (
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// 生成网关错误码
const (
	ErrUpstreamTimeout  ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError    ErrorCode = "UPSTREAM_ERROR"
	ErrInvalidResponse  ErrorCode = "INVALID_RESPONSE"
	ErrGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrContextTooLong   ErrorCode = "CONTEXT_TOO_LONG"
)

// 引擎错误码
const (
	ErrDriftDetected      ErrorCode = "DRIFT_DETECTED"
	ErrInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Model     string    `json:"model,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf 按格式创建错误
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithModel sets the model reference the error belongs to.
func (e *Error) WithModel(model string) *Error {
	e.Model = model
	return e
}

// AsError 沿错误链查找 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the outermost error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode 检查错误链上任意一层是否带有指定错误码
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsNotFound 检查是否为 NotFound 错误
func IsNotFound(err error) bool {
	return IsErrorCode(err, ErrNotFound)
}

// NewNotFoundError 创建 NotFound 错误
func NewNotFoundError(format string, args ...any) *Error {
	return Errorf(ErrNotFound, format, args...)
}

// NewInvalidRequestError 创建参数错误
func NewInvalidRequestError(format string, args ...any) *Error {
	return Errorf(ErrInvalidRequest, format, args...)
}

// NewStoreUnavailableError 创建存储不可用错误
func NewStoreUnavailableError(cause error) *Error {
	return NewError(ErrStoreUnavailable, "message store unavailable").
		WithCause(cause).
		WithRetryable(true)
}

// NewInvariantError 创建不变量违反错误
func NewInvariantError(format string, args ...any) *Error {
	return Errorf(ErrInvariantViolation, format, args...)
}
