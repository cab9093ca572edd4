// Package keyring abstracts the OS secure store behind one interface.
// Items are keyed by service name; values are opaque strings. Failures are
// classified into the app error taxonomy so callers can distinguish absence
// from denial from breakage.
package keyring

import (
	"context"

	apperrors "ccwatch/internal/errors"
)

// PreflightResult is the outcome of probing whether a read would require
// user interaction, without performing the read.
type PreflightResult int

const (
	PreflightAllowed PreflightResult = iota
	PreflightNotFound
	PreflightInteractionRequired
	PreflightFailure
)

func (r PreflightResult) String() string {
	switch r {
	case PreflightAllowed:
		return "allowed"
	case PreflightNotFound:
		return "not_found"
	case PreflightInteractionRequired:
		return "interaction_required"
	case PreflightFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// SecretStore reads and writes secrets in the OS secure store.
//
// Get with allowPrompt=false must never trigger OS interaction: a locked or
// interaction-gated item comes back as an access_denied error instead.
type SecretStore interface {
	Get(ctx context.Context, service string, allowPrompt bool) (string, error)
	Set(ctx context.Context, service, value string) error
	Delete(ctx context.Context, service string) error
	Preflight(ctx context.Context, service string) PreflightResult
}

// New returns the secure store for the current platform.
func New() SecretStore {
	return newPlatformStore()
}

func notFoundErr(service string) error {
	return apperrors.Newf(apperrors.KindNotFound, "no secure-store item for %s", service)
}

func deniedErr(service, reason string) error {
	return apperrors.Newf(apperrors.KindAccessDenied, "secure-store access to %s denied: %s", service, reason)
}

func storeErr(service, code string, err error) error {
	e := apperrors.Wrap(apperrors.KindStoreError, "secure-store operation on "+service+" failed", err)
	e.Code = code
	return e
}
