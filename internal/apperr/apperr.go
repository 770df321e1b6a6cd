// Package apperr defines the service's error taxonomy and its mapping onto
// HTTP status codes and JSON-RPC error codes at the transport boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Code is one of the taxonomy values every operation's failure is classified
// into.
type Code string

const (
	InvalidArgument     Code = "InvalidArgument"
	Unauthorized        Code = "Unauthorized"
	NotFound            Code = "NotFound"
	QuotaExceeded       Code = "QuotaExceeded"
	Conflict            Code = "Conflict"
	Preconditioned      Code = "Preconditioned"
	DebuggerUnavailable Code = "DebuggerUnavailable"
	TransportLost       Code = "TransportLost"
	Timeout             Code = "Timeout"
	Cancelled           Code = "Cancelled"
	Internal            Code = "Internal"
)

// Error is a typed service error carrying a taxonomy Code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error carrying code, message, and an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// CodeOf returns the taxonomy code of err, defaulting to Internal for
// untyped errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Internal
}

// HTTPStatus maps a taxonomy code to the HTTP status the §6 external
// interface returns for it.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidArgument:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case QuotaExceeded:
		return http.StatusTooManyRequests
	case Conflict:
		return http.StatusConflict
	case Preconditioned:
		return http.StatusPreconditionFailed
	case DebuggerUnavailable:
		return http.StatusServiceUnavailable
	case TransportLost:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	case Cancelled:
		return 499 // client closed request, nginx convention
	default:
		return http.StatusInternalServerError
	}
}

// JSONRPCCode maps a taxonomy code to a JSON-RPC 2.0 error code. Codes
// without a standard JSON-RPC equivalent fall back to RPCInternalError,
// with the taxonomy Code preserved in the error's Data field by the caller.
func JSONRPCCode(code Code) int {
	switch code {
	case InvalidArgument:
		return types.RPCInvalidParams
	case NotFound:
		return types.RPCMethodNotFound
	default:
		return types.RPCInternalError
	}
}

// ToJSONRPCError converts err into a wire JsonRpcError, preserving the
// taxonomy code in Data so clients that understand it can branch on it.
func ToJSONRPCError(err error) *types.JsonRpcError {
	e, ok := As(err)
	if !ok {
		return &types.JsonRpcError{Code: types.RPCInternalError, Message: err.Error()}
	}
	return &types.JsonRpcError{
		Code:    JSONRPCCode(e.Code),
		Message: e.Message,
		Data:    map[string]string{"code": string(e.Code)},
	}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
