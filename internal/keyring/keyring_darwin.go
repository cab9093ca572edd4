//go:build darwin

package keyring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"ccwatch/internal/constants"
	apperrors "ccwatch/internal/errors"
)

// securityStore shells out to security(1) against the default keychain.
type securityStore struct{}

func newPlatformStore() SecretStore { return &securityStore{} }

const securityAccount = "ccwatch"

func (s *securityStore) Get(ctx context.Context, service string, allowPrompt bool) (string, error) {
	if !allowPrompt {
		switch s.Preflight(ctx, service) {
		case PreflightNotFound:
			return "", notFoundErr(service)
		case PreflightInteractionRequired:
			return "", deniedErr(service, "interaction required")
		}
	}
	out, stderr, err := runSecurity(ctx, "find-generic-password", "-s", service, "-w")
	if err != nil {
		return "", classifySecurity(service, stderr, err)
	}
	return strings.TrimSpace(out), nil
}

func (s *securityStore) Set(ctx context.Context, service, value string) error {
	// -U updates in place when the item already exists.
	_, stderr, err := runSecurity(ctx, "add-generic-password", "-U", "-s", service, "-a", securityAccount, "-w", value)
	if err != nil {
		return classifySecurity(service, stderr, err)
	}
	return nil
}

func (s *securityStore) Delete(ctx context.Context, service string) error {
	_, stderr, err := runSecurity(ctx, "delete-generic-password", "-s", service)
	if err != nil {
		classified := classifySecurity(service, stderr, err)
		if apperrors.IsKind(classified, apperrors.KindNotFound) {
			return nil
		}
		return classified
	}
	return nil
}

// Preflight probes item metadata only. The CLI cannot ask whether the data
// read would hit an ACL prompt, so a present item counts as allowed and a
// per-item denial is learned from the read itself.
func (s *securityStore) Preflight(ctx context.Context, service string) PreflightResult {
	_, stderr, err := runSecurity(ctx, "find-generic-password", "-s", service)
	if err == nil {
		return PreflightAllowed
	}
	classified := classifySecurity(service, stderr, err)
	switch apperrors.KindOf(classified) {
	case apperrors.KindNotFound:
		return PreflightNotFound
	case apperrors.KindAccessDenied:
		return PreflightInteractionRequired
	default:
		return PreflightFailure
	}
}

func runSecurity(ctx context.Context, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.KeyringTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "security", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// classifySecurity maps a security(1) failure onto the error taxonomy.
// Exit status 44 is errSecItemNotFound; cancellation and "interaction is
// not allowed" both mean the user (or the session) refused access.
func classifySecurity(service, stderr string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindTimeout, "security command timed out", err)
	}
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "could not be found"):
		return notFoundErr(service)
	case strings.Contains(lower, "canceled"), strings.Contains(lower, "cancelled"):
		return deniedErr(service, "user cancelled")
	case strings.Contains(lower, "interaction is not allowed"):
		return deniedErr(service, "interaction required")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 44 {
			return notFoundErr(service)
		}
		return storeErr(service, fmt.Sprintf("security_exit_%d", exitErr.ExitCode()), err)
	}
	return storeErr(service, "security_exec", err)
}
