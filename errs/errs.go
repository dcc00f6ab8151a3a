// Package errs implements the TsrpcError domain error type shared by every
// layer of the framework: codec failures, handler failures, network
// failures, and peer-reported failures all end up as a TsrpcError so that
// callApi can always resolve with a uniform ApiReturn.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Type is the TsrpcError discriminant described in spec.md §3/§7.
type Type string

const (
	TypeApiError    Type = "ApiError"
	TypeNetwork     Type = "NetworkError"
	TypeServerError Type = "ServerError"
	TypeClientError Type = "ClientError"
	TypeLocalError  Type = "LocalError"
	TypeRemoteError Type = "RemoteError"
)

// Reserved wire error codes (spec.md §6).
const (
	CodeInternal       = "INTERNAL_ERR"
	CodeServerTimeout  = "SERVER_TIMEOUT"
	CodeNotImplemented = "NOT_IMPLEMENTED"
	CodeTimeout        = "TIMEOUT"
	CodeConnRefused    = "ECONNREFUSED"
)

// TsrpcError is the domain error exchanged end-to-end between peers. It is
// constructed at the peer that detects the condition and reconstructed
// verbatim (module Code/Type/Info) on the receiver after the wire crossing.
type TsrpcError struct {
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	Type     Type   `json:"type"`
	Info     any    `json:"info,omitempty"`
	InnerErr string `json:"innerErr,omitempty"`

	// inner carries the original Go error (with stack, via pkg/errors) for
	// local logging. It never crosses the wire; only InnerErr's string form
	// does, and only when the caller opts in (returnInnerError).
	inner error
}

func (e *TsrpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap lets errors.Is/As reach the wrapped Go error, if any.
func (e *TsrpcError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.inner
}

func New(typ Type, code, message string) *TsrpcError {
	return &TsrpcError{Type: typ, Code: code, Message: message}
}

func NewApiError(message string, code string, info any) *TsrpcError {
	return &TsrpcError{Type: TypeApiError, Code: code, Message: message, Info: info}
}

// Wrap promotes an arbitrary Go error (e.g. a panic recovered in a handler)
// into a ServerError, attaching a stack trace via pkg/errors so it can be
// logged even when returnInnerError suppresses it from the wire.
func Wrap(err error, returnInner bool) *TsrpcError {
	if err == nil {
		return nil
	}
	stacked := errors.WithStack(err)
	te := &TsrpcError{
		Type:    TypeServerError,
		Code:    CodeInternal,
		Message: "Internal Server Error",
		inner:   stacked,
	}
	if returnInner {
		te.InnerErr = err.Error()
	}
	return te
}

func Timeout() *TsrpcError {
	return New(TypeNetwork, CodeTimeout, "Request Timeout")
}

func ServerTimeout() *TsrpcError {
	return New(TypeServerError, CodeServerTimeout, "Server Timeout")
}

func NotImplemented() *TsrpcError {
	return New(TypeServerError, CodeNotImplemented, "Api not implemented")
}

func ConnRefused(msg string) *TsrpcError {
	return New(TypeNetwork, CodeConnRefused, msg)
}

func Disconnected() *TsrpcError {
	return New(TypeNetwork, "", "Connection disconnected")
}

func Remote(message string) *TsrpcError {
	return New(TypeRemoteError, "", message)
}

func Local(message string) *TsrpcError {
	return New(TypeLocalError, "", message)
}

func Client(message string) *TsrpcError {
	return New(TypeClientError, "", message)
}
