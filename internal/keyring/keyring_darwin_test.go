//go:build darwin

package keyring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "ccwatch/internal/errors"
)

func TestClassifySecurityStderr(t *testing.T) {
	execErr := errors.New("exit status 1")

	cases := []struct {
		stderr string
		kind   apperrors.Kind
	}{
		{"security: SecKeychainSearchCopyNext: The specified item could not be found in the keychain.", apperrors.KindNotFound},
		{"security: SecKeychainItemCopyContent: User canceled the operation.", apperrors.KindAccessDenied},
		{"security: SecKeychainUnlock: User interaction is not allowed.", apperrors.KindAccessDenied},
		{"security: something unexpected", apperrors.KindStoreError},
	}
	for _, tc := range cases {
		err := classifySecurity("svc", tc.stderr, execErr)
		assert.Equal(t, tc.kind, apperrors.KindOf(err), "stderr %q", tc.stderr)
	}
}
