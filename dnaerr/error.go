// Package dnaerr defines the error kinds shared across every layer of
// the core, per spec.md §7: each layer attaches operation/key/cursor
// context without swallowing the underlying kind, and the stream
// service maps kinds to gRPC statuses at the edge.
package dnaerr

import (
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an error the way spec.md §7 names them, independent
// of which transport eventually reports it.
type Kind int

const (
	// Unknown is never constructed directly; it is the zero value
	// returned by KindOf for errors that never passed through New/Wrap.
	Unknown Kind = iota
	// NotFound: object or key missing. Often expected; callers
	// distinguish it from other failures.
	NotFound
	// Precondition: etag mismatch on a conditional write. Retry with a
	// refreshed etag; fatal if the caller is the leader ingestor.
	Precondition
	// Transient: network timeout, 5xx from a provider RPC. Retry with
	// bounded exponential backoff.
	Transient
	// BadInput: malformed filter, unknown fragment id. Surfaced to the
	// client as invalid-argument; the client must not retry verbatim.
	BadInput
	// Fatal: lock lost, canonical invariant violated, corrupt blob.
	// The owning task tears itself down; an operator must investigate.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Precondition:
		return "precondition"
	case Transient:
		return "transient"
	case BadInput:
		return "bad_input"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// dnaError pairs a Kind with a pkg/errors-wrapped cause so that
// %+v still prints a stack trace at the point New/Wrap was called.
type dnaError struct {
	kind  Kind
	cause error
}

func (e *dnaError) Error() string { return e.cause.Error() }
func (e *dnaError) Unwrap() error { return e.cause }

// New creates an error of the given kind with a message.
func New(kind Kind, msg string) error {
	return &dnaError{kind: kind, cause: errors.New(msg)}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &dnaError{kind: kind, cause: errors.New(fmt.Sprintf(format, args...))}
}

// Wrap attaches context to err without losing its kind: if err already
// carries a dnaerr.Kind, that kind is preserved; otherwise the given
// kind is attached.
func Wrap(err error, kind Kind, context string) error {
	if err == nil {
		return nil
	}
	k := kind
	if existing, ok := errors.Cause(err).(*dnaError); ok {
		k = existing.kind
	}
	return &dnaError{kind: k, cause: errors.Wrap(err, context)}
}

// Wrapf is Wrap with a formatted context string.
func Wrapf(err error, kind Kind, format string, args ...interface{}) error {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// KindOf extracts the Kind attached to err, walking the cause chain.
// Returns Unknown if err (or nothing in its chain) was constructed by
// this package.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var de *dnaError
	for e := err; e != nil; e = errors.Unwrap(e) {
		if d, ok := e.(*dnaError); ok {
			de = d
			break
		}
	}
	if de == nil {
		return Unknown
	}
	return de.kind
}

// Is reports whether err's kind equals kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// ToGRPCStatus maps a Kind to the gRPC status code the rpc layer
// reports to clients, per spec.md §7 ("the stream service maps kinds
// to gRPC statuses at the edge").
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch KindOf(err) {
	case NotFound:
		code = codes.NotFound
	case Precondition:
		code = codes.FailedPrecondition
	case Transient:
		code = codes.Unavailable
	case BadInput:
		code = codes.InvalidArgument
	case Fatal:
		code = codes.Internal
	default:
		code = codes.Unknown
	}
	return status.Error(code, err.Error())
}
