// Package errors provides unified error handling with typed error codes.
// Codes map onto gRPC status codes and HTTP statuses so the status surfaces
// report the same classification the capture loop logs.
package errors

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Code classifies an AppError.
type Code int

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeInvalidArgument
	CodeSizeMismatch
	CodeFrameUnavailable
	CodeDeviceOpen
	CodeDeviceClosed
	CodeRecordFailed
	CodeCatalogFailed
	CodeConfigInvalid
	CodeCancelled
	CodeUnavailable
)

var codeNames = map[Code]string{
	CodeUnknown:          "UNKNOWN",
	CodeInternal:         "INTERNAL",
	CodeInvalidArgument:  "INVALID_ARGUMENT",
	CodeSizeMismatch:     "SIZE_MISMATCH",
	CodeFrameUnavailable: "FRAME_UNAVAILABLE",
	CodeDeviceOpen:       "DEVICE_OPEN",
	CodeDeviceClosed:     "DEVICE_CLOSED",
	CodeRecordFailed:     "RECORD_FAILED",
	CodeCatalogFailed:    "CATALOG_FAILED",
	CodeConfigInvalid:    "CONFIG_INVALID",
	CodeCancelled:        "CANCELLED",
	CodeUnavailable:      "UNAVAILABLE",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// grpcCodeMap maps error codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:          codes.Unknown,
	CodeInternal:         codes.Internal,
	CodeInvalidArgument:  codes.InvalidArgument,
	CodeSizeMismatch:     codes.InvalidArgument,
	CodeFrameUnavailable: codes.Unavailable,
	CodeDeviceOpen:       codes.Unavailable,
	CodeDeviceClosed:     codes.FailedPrecondition,
	CodeRecordFailed:     codes.Internal,
	CodeCatalogFailed:    codes.Internal,
	CodeConfigInvalid:    codes.InvalidArgument,
	CodeCancelled:        codes.Canceled,
	CodeUnavailable:      codes.Unavailable,
}

// Sentinels for errors.Is checks. Any AppError with the same code matches.
var (
	ErrSizeMismatch     = New(CodeSizeMismatch, "frame size mismatch")
	ErrFrameUnavailable = New(CodeFrameUnavailable, "frame unavailable")
	ErrDeviceClosed     = New(CodeDeviceClosed, "capture device closed")
)

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the HTTP status used by the status API.
func (e *AppError) HTTPStatus() int {
	switch e.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus returns a gRPC status with code and metadata attached as a Struct detail.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	fields := map[string]any{"code": e.Code.String()}
	for k, v := range e.Metadata {
		fields[k] = v
	}
	detail, err := structpb.NewStruct(fields)
	if err != nil {
		return st
	}
	if withDetail, err := st.WithDetails(detail); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CodeUnknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeFrameUnavailable, CodeDeviceOpen, CodeUnavailable:
		return true
	default:
		return false
	}
}
