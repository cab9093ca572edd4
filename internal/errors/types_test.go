package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfUnwraps(t *testing.T) {
	inner := New(KindAccessDenied, "keychain refused")
	wrapped := fmt.Errorf("resolve: %w", inner)

	require.Equal(t, KindAccessDenied, KindOf(wrapped))
	require.True(t, IsKind(wrapped, KindAccessDenied))
	require.Equal(t, Kind(""), KindOf(fmt.Errorf("plain")))
}

func TestClassPredicates(t *testing.T) {
	assert.True(t, IsTransient(New(KindNetworkError, "conn reset")))
	assert.True(t, IsTransient(New(KindTimeout, "deadline")))
	assert.False(t, IsTransient(New(KindNotFound, "nothing")))

	for _, k := range []Kind{KindNotFound, KindInvalidFormat, KindAccessDenied, KindStoreError} {
		assert.True(t, IsCredential(New(k, "x")), "kind %s", k)
	}
	assert.False(t, IsCredential(New(KindUnauthorized, "post-retry")))

	assert.True(t, IsCanceled(context.Canceled))
	assert.True(t, IsCanceled(New(KindCanceled, "stopped")))
	assert.False(t, IsCanceled(New(KindTimeout, "deadline")))
}

func TestMapNetworkError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindCanceled},
		{"refused", fmt.Errorf("dial tcp 127.0.0.1:443: connection refused"), KindNetworkError},
		{"dns", fmt.Errorf("lookup api.example: no such host"), KindNetworkError},
		{"reset", fmt.Errorf("read tcp: connection reset by peer"), KindNetworkError},
		{"io timeout", fmt.Errorf("read tcp: i/o timeout"), KindTimeout},
		{"opaque", fmt.Errorf("something odd"), KindNetworkError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := MapNetworkError(tc.err)
			require.NotNil(t, mapped)
			assert.Equal(t, tc.want, mapped.Kind)
			assert.ErrorIs(t, mapped, tc.err)
		})
	}
}

func TestMapHTTPError(t *testing.T) {
	unauthorized := MapHTTPError(http.StatusUnauthorized, []byte(`{"error":{"message":"token expired"}}`))
	require.Equal(t, KindUnauthorized, unauthorized.Kind)
	assert.Equal(t, http.StatusUnauthorized, unauthorized.Status)
	assert.Contains(t, unauthorized.Message, "token expired")

	server := MapHTTPError(http.StatusServiceUnavailable, []byte("overloaded"))
	require.Equal(t, KindServerError, server.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, server.Status)
	assert.Contains(t, server.Message, "503")
}
