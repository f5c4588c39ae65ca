package core

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrBadRequest ErrorCode = "WRT_BAD_REQUEST"
	ErrNotFound   ErrorCode = "WRT_NOT_FOUND"
	ErrConflict   ErrorCode = "WRT_CONFLICT"
	ErrValidation ErrorCode = "WRT_VALIDATION"
	ErrServer     ErrorCode = "WRT_SERVER"
)

// HTTPStatus returns the HTTP status code for this error code.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrBadRequest, ErrValidation:
		return 400
	case ErrNotFound:
		return 404
	case ErrConflict:
		return 409
	default:
		return 500
	}
}

// CallerFault reports whether the code describes a rejected request rather
// than a downstream failure.
func (e ErrorCode) CallerFault() bool {
	return e != ErrServer
}

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// ServerError wraps a downstream failure with the context it happened in.
func ServerError(err error, format string, args ...any) *AppError {
	return &AppError{Code: ErrServer, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrServer for foreign errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrServer
}

func IsNotFound(err error) bool   { return err != nil && CodeOf(err) == ErrNotFound }
func IsConflict(err error) bool   { return err != nil && CodeOf(err) == ErrConflict }
func IsValidation(err error) bool { return err != nil && CodeOf(err) == ErrValidation }
