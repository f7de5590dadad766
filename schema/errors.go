package schema

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrorKind is the short machine-safe class of an error returned to the renderer.
type ErrorKind string

const (
	// KindNotFound marks a registry miss (session, kernel spec, profile, path).
	KindNotFound ErrorKind = "not_found"
	// KindBadArgument marks parameter validation failures.
	KindBadArgument ErrorKind = "bad_argument"
	// KindTransportClosed marks a child exit, closed socket or unexpected EOF.
	KindTransportClosed ErrorKind = "transport_closed"
	// KindProtocol marks framing, correlation or UTF-8 errors.
	KindProtocol ErrorKind = "protocol_error"
	// KindRemote marks an error returned by a language server or debug adapter.
	KindRemote ErrorKind = "remote"
	// KindAuth marks an SSH authentication failure.
	KindAuth ErrorKind = "auth"
	// KindIO marks a file system or socket error.
	KindIO ErrorKind = "io"
	// KindCancelled marks requests cancelled by teardown or explicit cancel.
	KindCancelled ErrorKind = "cancelled"
	// KindTimeout marks an exceeded deadline.
	KindTimeout ErrorKind = "timeout"
	// KindUnsupported marks a feature that is not available here.
	KindUnsupported ErrorKind = "unsupported"
	// KindInternal marks errors that do not belong to the taxonomy.
	KindInternal ErrorKind = "internal"
)

// Error is the error type returned across the IPC surface.
type Error struct {
	Kind    ErrorKind
	Message string
	// What and ID identify the missing object for KindNotFound.
	What string
	ID   string
	// Field names the offending parameter for KindBadArgument.
	Field string
	// Code is the remote-provided error code for KindRemote.
	Code string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

var (
	// ErrNotFound matches every KindNotFound error.
	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}
	// ErrBadArgument matches every KindBadArgument error.
	ErrBadArgument = &Error{Kind: KindBadArgument, Message: "bad argument"}
	// ErrTransportClosed matches every KindTransportClosed error.
	ErrTransportClosed = &Error{Kind: KindTransportClosed, Message: "transport closed"}
	// ErrProtocol matches every KindProtocol error.
	ErrProtocol = &Error{Kind: KindProtocol, Message: "protocol error"}
	// ErrRemote matches every KindRemote error.
	ErrRemote = &Error{Kind: KindRemote, Message: "remote error"}
	// ErrAuth matches every KindAuth error.
	ErrAuth = &Error{Kind: KindAuth, Message: "authentication failed"}
	// ErrIO matches every KindIO error.
	ErrIO = &Error{Kind: KindIO, Message: "i/o error"}
	// ErrCancelled matches every KindCancelled error.
	ErrCancelled = &Error{Kind: KindCancelled, Message: "request cancelled"}
	// ErrTimeout matches every KindTimeout error.
	ErrTimeout = &Error{Kind: KindTimeout, Message: "deadline exceeded"}
	// ErrUnsupported matches every KindUnsupported error.
	ErrUnsupported = &Error{Kind: KindUnsupported, Message: "unsupported"}
)

// NotFound reports a registry miss.
func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, What: what, ID: id, Message: fmt.Sprintf("%s not found: %s", what, id)}
}

// BadArgument reports an invalid parameter.
func BadArgument(field, message string) *Error {
	if message == "" {
		message = "invalid value"
	}
	return &Error{Kind: KindBadArgument, Field: field, Message: fmt.Sprintf("%s: %s", field, message)}
}

// TransportClosed reports a closed stream, wrapping the cause when known.
func TransportClosed(err error) *Error {
	return &Error{Kind: KindTransportClosed, Message: "transport closed", Err: err}
}

// Protocol reports a framing, correlation or encoding failure.
func Protocol(detail string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: "protocol error: " + detail, Err: err}
}

// Remote reports an error produced by the remote side of an RPC session.
func Remote(code, message string) *Error {
	return &Error{Kind: KindRemote, Code: code, Message: message}
}

// Auth reports an authentication failure. reason must not contain secrets.
func Auth(reason string) *Error {
	return &Error{Kind: KindAuth, Message: "authentication failed: " + reason}
}

// IO wraps an operating system error.
func IO(err error) *Error {
	return &Error{Kind: KindIO, Message: "i/o error", Err: err}
}

// Timeout reports an exceeded deadline on what.
func Timeout(what string) *Error {
	return &Error{Kind: KindTimeout, Message: what + " timed out"}
}

// Cancelled reports a request cancelled by teardown.
func Cancelled(what string) *Error {
	return &Error{Kind: KindCancelled, Message: what + " cancelled"}
}

// Unsupported reports a feature that is not available.
func Unsupported(feature string) *Error {
	return &Error{Kind: KindUnsupported, Message: feature + " is not supported"}
}

// KindOf classifies err into the taxonomy. Context errors map to
// KindCancelled and KindTimeout and missing files to KindNotFound.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, os.ErrNotExist):
		return KindNotFound
	case errors.Is(err, os.ErrPermission), errors.Is(err, os.ErrClosed):
		return KindIO
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return KindIO
	}
	return KindInternal
}

// FromContext converts a context error into ErrTimeout or ErrCancelled.
func FromContext(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "deadline exceeded", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: "request cancelled", Err: err}
	default:
		return err
	}
}

// WireError is the IPC rendering of an error.
type WireError struct {
	Kind    ErrorKind `json:"kind" msgpack:"kind"`
	Message string    `json:"message" msgpack:"message"`
	Code    string    `json:"code,omitempty" msgpack:"code,omitempty"`
	Field   string    `json:"field,omitempty" msgpack:"field,omitempty"`
}

// ToWire renders err for the renderer. Nil stays nil.
func ToWire(err error) *WireError {
	if err == nil {
		return nil
	}
	w := &WireError{Kind: KindOf(err), Message: err.Error()}
	var e *Error
	if errors.As(err, &e) {
		w.Code = e.Code
		w.Field = e.Field
	}
	return w
}
