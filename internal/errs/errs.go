// Package errs defines the error taxonomy shared by every component of the
// cache-and-sync core. Components never return bare errors across their
// public surface; they wrap them in a *Error carrying one of the Kinds
// below so callers (mainly CacheManager and DataUpdateService) can decide
// how to react without string-matching messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed. It is not itself an error type;
// use Error, which pairs a Kind with an underlying cause.
type Kind int

const (
	// Unknown is the zero value; never construct an Error with it directly.
	Unknown Kind = iota
	// Validation marks bad user input (malformed URL, unknown project).
	Validation
	// DataStoreInaccessible marks the local database being unavailable.
	DataStoreInaccessible
	// RemoteError marks a network/auth/4xx-5xx failure from the remote service.
	RemoteError
	// Cancelled marks a cooperative cancellation observed mid-operation.
	Cancelled
	// Unsupported marks an operation the core deliberately does not implement
	// (e.g. a temporary/unsaved query).
	Unsupported
	// NotFound marks a lookup that found nothing where the caller required a row.
	NotFound
	// InternalInvariant marks a should-be-unreachable assertion failure.
	InternalInvariant
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "Validation"
	case DataStoreInaccessible:
		return "DataStoreInaccessible"
	case RemoteError:
		return "RemoteError"
	case Cancelled:
		return "Cancelled"
	case Unsupported:
		return "Unsupported"
	case NotFound:
		return "NotFound"
	case InternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// Error pairs a Kind with a message and an optional underlying cause and,
// for RemoteError, an optional HTTP status code.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int // 0 if not applicable/unknown
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Remote builds a RemoteError carrying an HTTP status code.
func Remote(status int, message string, cause error) *Error {
	return &Error{Kind: RemoteError, Message: message, HTTPStatus: status, Cause: cause}
}

// Is reports whether the first *Error in err's chain has the given Kind;
// Kinds of *Error values nested deeper in its Cause are not examined.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or Unknown if err is not (or does not
// wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
