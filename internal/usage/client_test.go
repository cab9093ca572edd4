package usage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccwatch/internal/constants"
	"ccwatch/internal/credential"
	apperrors "ccwatch/internal/errors"
)

type stubCreds struct {
	token       string
	resolveErr  error
	resolves    int
	invalidates int
}

func (s *stubCreds) Resolve(ctx context.Context, allowInteractive bool) (credential.Credential, error) {
	s.resolves++
	if s.resolveErr != nil {
		return credential.Credential{}, s.resolveErr
	}
	return credential.Credential{Token: s.token, Source: credential.SourceMemoryCache}, nil
}

func (s *stubCreds) Invalidate(ctx context.Context) { s.invalidates++ }

const usageBody = `{
	"five_hour": {"utilization": 42.5, "resets_at": "2024-06-01T15:00:00.000000+00:00"},
	"seven_day": {"utilization": 12.0, "resets_at": "2024-06-03T00:00:00Z"}
}`

func TestFetchDecodesSnapshotAndSendsHeaders(t *testing.T) {
	var gotAuth, gotRevision string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRevision = r.Header.Get(constants.APIRevisionHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(usageBody))
	}))
	defer srv.Close()

	creds := &stubCreds{token: "tok-123"}
	client := NewClient(creds, nil, WithEndpoint(srv.URL), WithSettleDelay(0))

	snap, err := client.Fetch(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, snap.FiveHour)
	require.NotNil(t, snap.SevenDay)
	assert.InDelta(t, 42.5, snap.FiveHour.Utilization, 0.001)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), snap.SevenDay.ResetsAt.UTC())
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, constants.APIRevision, gotRevision)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestFetch401RefreshesAndRetriesOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(usageBody))
	}))
	defer srv.Close()

	creds := &stubCreds{token: "tok-123"}
	hookCalls := 0
	hook := func(ctx context.Context) error {
		hookCalls++
		return nil
	}
	client := NewClient(creds, hook, WithEndpoint(srv.URL), WithSettleDelay(0))

	snap, err := client.Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.NotNil(t, snap.FiveHour)
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, 1, creds.invalidates)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchSecond401SurfacesUnauthorized(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &stubCreds{token: "tok-123"}
	hookCalls := 0
	hook := func(ctx context.Context) error {
		hookCalls++
		return nil
	}
	client := NewClient(creds, hook, WithEndpoint(srv.URL), WithSettleDelay(0))

	_, err := client.Fetch(context.Background(), false)
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchServerErrorDoesNotTriggerRefresh(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	hookCalls := 0
	client := NewClient(&stubCreds{token: "t"}, func(ctx context.Context) error {
		hookCalls++
		return nil
	}, WithEndpoint(srv.URL), WithSettleDelay(0))

	_, err := client.Fetch(context.Background(), false)
	assert.Equal(t, apperrors.KindServerError, apperrors.KindOf(err))
	assert.Equal(t, 0, hookCalls)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchDecodingErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"five_hour": {"utilization": "not a number"}}`))
	}))
	defer srv.Close()

	client := NewClient(&stubCreds{token: "t"}, nil, WithEndpoint(srv.URL))
	_, err := client.Fetch(context.Background(), false)
	assert.Equal(t, apperrors.KindDecodingError, apperrors.KindOf(err))
}

func TestFetchCredentialErrorPassesThrough(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	creds := &stubCreds{resolveErr: apperrors.New(apperrors.KindNotFound, "nothing")}
	client := NewClient(creds, nil, WithEndpoint(srv.URL))

	_, err := client.Fetch(context.Background(), false)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	assert.Equal(t, int32(0), hits.Load())
}

func TestStalenessBuckets(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		age  time.Duration
		want Staleness
	}{
		{30 * time.Second, StalenessFresh},
		{5 * time.Minute, StalenessRecent},
		{30 * time.Minute, StalenessStale},
		{2 * time.Hour, StalenessVeryStale},
	}
	for _, tc := range cases {
		snap := &Snapshot{FetchedAt: now.Add(-tc.age)}
		assert.Equal(t, tc.want, snap.Staleness(now), "age %s", tc.age)
	}
}

func TestDecodeSnapshotRejectsEmpty(t *testing.T) {
	_, err := decodeSnapshot([]byte(`{}`), time.Now())
	assert.Equal(t, apperrors.KindDecodingError, apperrors.KindOf(err))
}

func TestParseTimestampForms(t *testing.T) {
	for _, value := range []string{
		"2024-06-01T15:00:00.123456+00:00",
		"2024-06-01T15:00:00Z",
		"2024-06-01T17:00:00+02:00",
	} {
		_, err := parseTimestamp(value)
		assert.NoError(t, err, value)
	}
	_, err := parseTimestamp("June 1st")
	assert.Error(t, err)
}
