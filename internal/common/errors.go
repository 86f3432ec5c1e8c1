package common

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error codes carried by AppError.
const (
	CodeExtraction     = "EXTRACTION_ERROR"
	CodeStoreWrite     = "STORE_WRITE_ERROR"
	CodeConfig         = "CONFIG_ERROR"
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeUnknownAction  = "UNKNOWN_ACTION"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
	ErrDatabase           = errors.New("database error")
	ErrExtraction         = errors.New("text extraction failed")
	ErrStoreWrite         = errors.New("record store write failed")
	ErrStoreNotConfigured = errors.New("record store credentials missing")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ExtractionError wraps a failure of the text extraction capability.
func ExtractionError(message string, cause error) *AppError {
	if cause == nil {
		cause = ErrExtraction
	} else {
		cause = fmt.Errorf("%w: %w", ErrExtraction, cause)
	}
	return NewAppError(CodeExtraction, message, cause)
}

// StoreWriteError wraps a per-record store failure.
func StoreWriteError(message string, cause error) *AppError {
	if cause == nil {
		cause = ErrStoreWrite
	} else {
		cause = fmt.Errorf("%w: %w", ErrStoreWrite, cause)
	}
	return NewAppError(CodeStoreWrite, message, cause)
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// CodeOf classifies err onto a transport code.
func CodeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return st.Code()
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeInvalidPayload, CodeUnknownAction:
			return codes.InvalidArgument
		case CodeConfig:
			return codes.FailedPrecondition
		case CodeStoreWrite:
			return codes.Unavailable
		}
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return codes.InvalidArgument
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrStoreNotConfigured):
		return codes.FailedPrecondition
	}
	return codes.Internal
}

// HTTPStatus maps a transport code onto an HTTP status.
func HTTPStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
