package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeTokenExpired        Code = "TOKEN_EXPIRED"
	CodeAccountInactive     Code = "ACCOUNT_INACTIVE"
	CodeForbidden           Code = "FORBIDDEN"
	CodeUpgradeRequired     Code = "UPGRADE_REQUIRED"
	CodeSubscriptionExpired Code = "SUBSCRIPTION_EXPIRED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeLimitExceeded       Code = "LIMIT_EXCEEDED"
	CodeUploadLimitExceeded Code = "UPLOAD_LIMIT_EXCEEDED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeTimeout             Code = "TIMEOUT"
)

var statusByCode = map[Code]int{
	CodeValidation:          http.StatusBadRequest,
	CodeBadRequest:          http.StatusBadRequest,
	CodeUnauthenticated:     http.StatusUnauthorized,
	CodeInvalidToken:        http.StatusUnauthorized,
	CodeTokenExpired:        http.StatusUnauthorized,
	CodeAccountInactive:     http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeUpgradeRequired:     http.StatusForbidden,
	CodeSubscriptionExpired: http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusBadRequest,
	CodeLimitExceeded:       http.StatusTooManyRequests,
	CodeUploadLimitExceeded: http.StatusTooManyRequests,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeInternal:            http.StatusInternalServerError,
	CodeTimeout:             http.StatusGatewayTimeout,
}

// AppError is an error that knows how it should be presented to an API
// client. Fields are merged into the top level of the JSON response body.
type AppError struct {
	Code    Code
	Message string
	Fields  map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by code so callers can write
// errors.Is(err, apperrors.ErrNotFound).
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func (e *AppError) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// With returns a copy of e carrying an extra response field.
func (e *AppError) With(key string, value any) *AppError {
	cp := *e
	cp.Fields = make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound     = New(CodeNotFound, "resource not found")
	ErrForbidden    = New(CodeForbidden, "access denied")
	ErrValidation   = New(CodeValidation, "validation failed")
	ErrUnauthorized = New(CodeUnauthenticated, "authentication required")
)

func NotFound(what string) *AppError {
	return New(CodeNotFound, what+" not found")
}

func Forbidden(message string) *AppError {
	return New(CodeForbidden, message)
}

func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message)
}

func Internal(err error) *AppError {
	return Wrap(err, CodeInternal, "internal server error")
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func Validation(errs ...FieldError) *AppError {
	msg := "validation failed"
	if len(errs) > 0 {
		msg = errs[0].Message
	}
	return New(CodeValidation, msg).With("errors", errs)
}

// As extracts an AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
