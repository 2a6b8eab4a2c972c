// Package ipcerr defines the error taxonomy shared by the IPC packages.
package ipcerr

import "fmt"

// Error codes.
const (
	CodeDuplicateTag         = "DUPLICATE_TAG"
	CodeUnknownTag           = "UNKNOWN_TAG"
	CodeUnknownMethod        = "UNKNOWN_METHOD"
	CodeInvalidParams        = "INVALID_PARAMS"
	CodeHandlerError         = "HANDLER_ERROR"
	CodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	CodeTimeout              = "TIMEOUT"
	CodeInvalidHandler       = "INVALID_HANDLER"
	CodeVersionMismatch      = "VERSION_MISMATCH"
	CodeRateLimited          = "RATE_LIMITED"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrDuplicateTag         = &Error{Code: CodeDuplicateTag, Message: "service tag already registered"}
	ErrUnknownTag           = &Error{Code: CodeUnknownTag, Message: "unknown service tag"}
	ErrUnknownMethod        = &Error{Code: CodeUnknownMethod, Message: "unknown service receiver"}
	ErrInvalidParams        = &Error{Code: CodeInvalidParams, Message: "invalid params"}
	ErrHandler              = &Error{Code: CodeHandlerError, Message: "receiver failed"}
	ErrTransportUnavailable = &Error{Code: CodeTransportUnavailable, Message: "transport not available"}
	ErrTimeout              = &Error{Code: CodeTimeout, Message: "call timed out"}
	ErrInvalidHandler       = &Error{Code: CodeInvalidHandler, Message: "invalid receiver"}
	ErrVersionMismatch      = &Error{Code: CodeVersionMismatch, Message: "incompatible version"}
	ErrRateLimited          = &Error{Code: CodeRateLimited, Message: "rate limited"}
)

// Error is a structured IPC error.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RemoteError is the stringified error a peer's receiver produced.
// Error returns the peer's string unchanged.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Is makes every RemoteError match ErrHandler.
func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == CodeHandlerError
}

// Code returns the code of err if it is (or wraps) an *Error, or "" otherwise.
func Code(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
