package upload

import (
	"errors"
	"net/http"
)

// ErrorCode categorizes upload engine errors. Codes flow verbatim from the
// service to the HTTP surface and back into the client.
type ErrorCode string

const (
	CodeUploadNotFound       ErrorCode = "UPLOAD_NOT_FOUND"
	CodeAlreadyCompleted     ErrorCode = "UPLOAD_ALREADY_COMPLETED"
	CodeUploadCanceled       ErrorCode = "UPLOAD_CANCELED"
	CodeChunkOutOfRange      ErrorCode = "CHUNK_OUT_OF_RANGE"
	CodeChunkSizeMismatch    ErrorCode = "CHUNK_SIZE_MISMATCH"
	CodeChunkHashMismatch    ErrorCode = "CHUNK_HASH_MISMATCH"
	CodeChunkAlreadyUploaded ErrorCode = "CHUNK_ALREADY_UPLOADED"
	CodeMissingChunks        ErrorCode = "MISSING_CHUNKS"
	CodeFileHashMismatch     ErrorCode = "FILE_HASH_MISMATCH"
	CodeStorageError         ErrorCode = "STORAGE_ERROR"
	CodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	CodeNetworkError         ErrorCode = "NETWORK_ERROR"
	CodeTimeoutError         ErrorCode = "TIMEOUT_ERROR"
	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
)

// Error is a typed upload engine error. Details carries structured context
// for the wire error body (e.g. expected/actual sizes, missing chunk list).
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error code to its HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUploadNotFound:
		return http.StatusNotFound
	case CodeAlreadyCompleted, CodeUploadCanceled, CodeChunkAlreadyUploaded:
		return http.StatusConflict
	case CodeChunkOutOfRange, CodeChunkSizeMismatch, CodeChunkHashMismatch,
		CodeMissingChunks, CodeFileHashMismatch, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNetworkError, CodeTimeoutError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a typed error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails attaches structured details and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// AsError extracts a typed *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or INTERNAL_ERROR for untyped errors.
func CodeOf(err error) ErrorCode {
	if typed, ok := AsError(err); ok {
		return typed.Code
	}
	return CodeInternalError
}

// Factory helpers for the common cases.

func ErrUploadNotFound(uploadID string) *Error {
	return &Error{
		Code:    CodeUploadNotFound,
		Message: "upload not found: " + uploadID,
	}
}

func ErrAlreadyCompleted(uploadID string) *Error {
	return &Error{
		Code:    CodeAlreadyCompleted,
		Message: "upload already completed: " + uploadID,
	}
}

func ErrCanceled(uploadID string) *Error {
	return &Error{
		Code:    CodeUploadCanceled,
		Message: "upload canceled: " + uploadID,
	}
}

func ErrChunkOutOfRange(index, totalChunks int) *Error {
	return &Error{
		Code:    CodeChunkOutOfRange,
		Message: "chunk index out of range",
		Details: map[string]any{"index": index, "totalChunks": totalChunks},
	}
}

func ErrChunkSizeMismatch(expected, actual int64) *Error {
	return &Error{
		Code:    CodeChunkSizeMismatch,
		Message: "chunk size mismatch",
		Details: map[string]any{"expected": expected, "actual": actual},
	}
}

func ErrChunkHashMismatch(expected, actual string) *Error {
	return &Error{
		Code:    CodeChunkHashMismatch,
		Message: "chunk hash mismatch",
		Details: map[string]any{"expected": expected, "actual": actual},
	}
}

func ErrMissingChunks(missing []int) *Error {
	return &Error{
		Code:    CodeMissingChunks,
		Message: "upload incomplete: missing chunks",
		Details: map[string]any{"missingChunks": missing},
	}
}

func ErrStorage(message string, cause error) *Error {
	return &Error{
		Code:    CodeStorageError,
		Message: message,
		cause:   cause,
	}
}

func ErrInvalidRequest(message string) *Error {
	return &Error{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

func ErrInternal(message string, cause error) *Error {
	return &Error{
		Code:    CodeInternalError,
		Message: message,
		cause:   cause,
	}
}
