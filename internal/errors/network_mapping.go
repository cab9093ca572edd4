package errors

import (
	"context"
	stderrors "errors"
	"net/url"
	"strings"
)

// MapNetworkError classifies a transport failure into the taxonomy.
// Deadline hits become KindTimeout so the retry policy treats them as
// transient; cancellation is kept distinct so it is never surfaced.
func MapNetworkError(err error) *Error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return Wrap(KindCanceled, "request canceled", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "request timed out", err)
	}

	if ue, ok := err.(*url.Error); ok && ue.Timeout() {
		return Wrap(KindTimeout, "request timed out", err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return Wrap(KindTimeout, "request timed out", err)
	case strings.Contains(msg, "connection refused"):
		return Wrap(KindNetworkError, "connection refused", err)
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "EOF"):
		return Wrap(KindNetworkError, "connection lost", err)
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "name resolution"):
		return Wrap(KindNetworkError, "dns resolution failed", err)
	case strings.Contains(msg, "certificate") || strings.Contains(msg, "tls"):
		return Wrap(KindNetworkError, "tls handshake failed", err)
	default:
		return Wrap(KindNetworkError, "network error", err)
	}
}
