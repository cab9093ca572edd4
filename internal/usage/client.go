package usage

import (
	"context"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/constants"
	"ccwatch/internal/credential"
	apperrors "ccwatch/internal/errors"
	"ccwatch/internal/monitoring"
)

// maxBodyBytes bounds how much of a usage response is read.
const maxBodyBytes = 1 << 20

// CredentialSource is the slice of the credential store the client needs.
type CredentialSource interface {
	Resolve(ctx context.Context, allowInteractive bool) (credential.Credential, error)
	Invalidate(ctx context.Context)
}

// RefreshHook forces the upstream tool to refresh its stored credential,
// typically by spawning its CLI. Invoked at most once per fetch.
type RefreshHook func(ctx context.Context) error

// Client fetches the usage snapshot with bearer auth and classifies the
// response. A 401 invalidates caches, runs the refresh hook once and retries
// once; a second 401 surfaces as unauthorized.
type Client struct {
	http        *http.Client
	creds       CredentialSource
	refreshHook RefreshHook
	endpoint    string
	settle      time.Duration
	now         func() time.Time
}

// ClientOption adjusts a Client at construction.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithEndpoint overrides the usage endpoint URL.
func WithEndpoint(url string) ClientOption {
	return func(c *Client) { c.endpoint = url }
}

// WithSettleDelay overrides the pause between the refresh hook and the
// retried fetch.
func WithSettleDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.settle = d }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(creds CredentialSource, hook RefreshHook, opts ...ClientOption) *Client {
	c := &Client{
		http:        &http.Client{},
		creds:       creds,
		refreshHook: hook,
		endpoint:    constants.UsageEndpoint,
		settle:      constants.CLISettleDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch resolves a credential, performs the authenticated read and decodes
// the snapshot. The per-attempt deadline is the caller's; the orchestrator
// wraps each cycle in its own timeout.
func (c *Client) Fetch(ctx context.Context, allowInteractive bool) (*Snapshot, error) {
	start := c.now()
	snap, err := c.fetchOnce(ctx, allowInteractive)
	if err != nil && apperrors.IsKind(err, apperrors.KindUnauthorized) {
		snap, err = c.retryAfterRefresh(ctx, allowInteractive)
	}
	monitoring.UsageFetchDuration.Observe(c.now().Sub(start).Seconds())
	monitoring.UsageFetchTotal.WithLabelValues(fetchOutcome(err)).Inc()
	return snap, err
}

// retryAfterRefresh handles the first 401: drop caches, let the upstream CLI
// rewrite its credential, wait for the write to land, then retry exactly
// once. A second 401 surfaces with no further attempts.
func (c *Client) retryAfterRefresh(ctx context.Context, allowInteractive bool) (*Snapshot, error) {
	log.Info("usage fetch unauthorized, refreshing upstream credential")
	c.creds.Invalidate(ctx)

	if c.refreshHook != nil {
		if err := c.refreshHook(ctx); err != nil {
			if apperrors.IsCanceled(err) {
				return nil, err
			}
			log.WithError(err).Warn("upstream credential refresh failed")
		} else if c.settle > 0 {
			select {
			case <-time.After(c.settle):
			case <-ctx.Done():
				return nil, apperrors.Wrap(apperrors.KindCanceled, "fetch cancelled", ctx.Err())
			}
		}
	}

	return c.fetchOnce(ctx, allowInteractive)
}

func (c *Client) fetchOnce(ctx context.Context, allowInteractive bool) (*Snapshot, error) {
	cred, err := c.creds.Resolve(ctx, allowInteractive)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNetworkError, "could not build usage request", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set(constants.APIRevisionHeader, constants.APIRevision)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.MapNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.MapNetworkError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.MapHTTPError(resp.StatusCode, body)
	}

	snap, err := decodeSnapshot(body, c.now())
	if err != nil {
		return nil, err
	}
	log.WithField("source", cred.Source).Debug("usage snapshot fetched")
	return snap, nil
}

func fetchOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := apperrors.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
