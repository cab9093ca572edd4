package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure for retry and surfacing decisions.
type Kind string

const (
	// KindNotFound means no credential exists anywhere. User-facing, not retried.
	KindNotFound Kind = "not_found"
	// KindInvalidFormat means a malformed manual key. User-facing, not retried.
	KindInvalidFormat Kind = "invalid_format"
	// KindAccessDenied means the upstream secure-store access was refused.
	// Sticky: blocks further silent interactive attempts until cleared.
	KindAccessDenied Kind = "access_denied"
	// KindStoreError is an unexpected secure-store failure. Surfaced, not retried.
	KindStoreError Kind = "store_error"
	// KindUnauthorized is an authorization failure that survived the one-shot
	// refresh compensation. User-facing.
	KindUnauthorized Kind = "unauthorized"
	// KindServerError is any unexpected non-200 from the usage endpoint.
	KindServerError Kind = "server_error"
	// KindNetworkError is a transport failure, retried per backoff policy.
	KindNetworkError Kind = "network_error"
	// KindDecodingError means the response body did not match the contract.
	// Surfaced immediately; a contract change is not a transient condition.
	KindDecodingError Kind = "decoding_error"
	// KindTimeout is a deadline hit; treated as transient for retry purposes.
	KindTimeout Kind = "timeout"
	// KindCanceled is cooperative cancellation, never surfaced as a failure.
	KindCanceled Kind = "canceled"
)

// Error carries a classified failure through the resolve/fetch/refresh pipeline.
type Error struct {
	Kind    Kind
	Message string
	Status  int    // HTTP status, set for server_error and unauthorized
	Code    string // OS store status, set for store_error
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification to an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification from err, unwrapping as needed.
// Unclassified errors report the empty kind.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err is expected to resolve on retry.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetworkError, KindTimeout:
		return true
	}
	return false
}

// IsCredential reports whether err came from credential resolution.
// Credential-class errors never trigger the retry loop.
func IsCredential(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindInvalidFormat, KindAccessDenied, KindStoreError:
		return true
	}
	return false
}

// IsCanceled reports cooperative cancellation, including raw context errors.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindCanceled {
		return true
	}
	return stderrors.Is(err, context.Canceled)
}
