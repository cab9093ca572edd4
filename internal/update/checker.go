// Package update polls the release feed and announces when a newer daemon
// version has been published.
package update

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/constants"
	apperrors "ccwatch/internal/errors"
	"ccwatch/internal/events"
	"ccwatch/internal/monitoring"
	"ccwatch/internal/state"
	"ccwatch/internal/version"
)

const maxReleaseBody = 1 << 20

// Release describes the newest published version.
type Release struct {
	Version     string    `json:"version"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

type releaseWire struct {
	TagName     string `json:"tag_name"`
	HTMLURL     string `json:"html_url"`
	PublishedAt string `json:"published_at"`
	Draft       bool   `json:"draft"`
	Prerelease  bool   `json:"prerelease"`
}

// Checker fetches the latest release and remembers when it last looked.
type Checker struct {
	http     *http.Client
	session  state.Store
	hub      *events.Hub
	endpoint string
	interval time.Duration
	current  string
	now      func() time.Time
}

// CheckerOption customizes a Checker.
type CheckerOption func(*Checker)

// WithHTTPClient substitutes the transport.
func WithHTTPClient(client *http.Client) CheckerOption {
	return func(c *Checker) { c.http = client }
}

// WithEndpoint points the checker at a different release feed.
func WithEndpoint(endpoint string) CheckerOption {
	return func(c *Checker) { c.endpoint = endpoint }
}

// WithInterval sets the minimum spacing between checks.
func WithInterval(d time.Duration) CheckerOption {
	return func(c *Checker) { c.interval = d }
}

// WithCurrentVersion overrides the running version for comparison.
func WithCurrentVersion(v string) CheckerOption {
	return func(c *Checker) { c.current = v }
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

// NewChecker wires a release checker against the session store and hub.
func NewChecker(session state.Store, hub *events.Hub, opts ...CheckerOption) *Checker {
	c := &Checker{
		http:     &http.Client{Timeout: constants.UpdateCheckTimeout},
		session:  session,
		hub:      hub,
		endpoint: constants.ReleaseEndpoint,
		interval: constants.DefaultUpdateInterval,
		current:  version.Version,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaybeCheck runs a check when the last one is older than the interval.
// Failures are logged, never surfaced; update checks are best effort.
func (c *Checker) MaybeCheck(ctx context.Context) {
	if last, ok := c.session.GetTime(state.KeyLastUpdateCheck); ok {
		if c.now().Sub(last) < c.interval {
			return
		}
	}
	if _, err := c.Check(ctx); err != nil && !apperrors.IsCanceled(err) {
		log.WithError(err).Debug("update check failed")
	}
}

// Check fetches the latest release unconditionally, records the attempt,
// and publishes update.available when it is newer than the running build.
func (c *Checker) Check(ctx context.Context) (*Release, error) {
	release, err := c.fetchLatest(ctx)
	if err != nil {
		monitoring.UpdateChecksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if release == nil {
		// Draft or prerelease; nothing stable published yet.
		monitoring.UpdateChecksTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	if err := c.session.Patch(state.KeyLastUpdateCheck, c.now()); err != nil {
		log.WithError(err).Warn("could not persist update check time")
	}
	if err := c.session.Patch(state.KeyLastSeenVersion, release.Version); err != nil {
		log.WithError(err).Warn("could not persist last seen version")
	}

	if IsNewer(release.Version, c.current) {
		monitoring.UpdateChecksTotal.WithLabelValues("update_available").Inc()
		log.WithFields(log.Fields{
			"current": c.current,
			"latest":  release.Version,
		}).Info("newer release available")
		if c.hub != nil {
			c.hub.Publish(ctx, events.TopicUpdateAvailable, release, map[string]string{
				"current": c.current,
			})
		}
	} else {
		monitoring.UpdateChecksTotal.WithLabelValues("up_to_date").Inc()
	}
	return release, nil
}

func (c *Checker) fetchLatest(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNetworkError, "build release request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "ccwatch/"+c.current)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(apperrors.KindCanceled, "release request cancelled", err)
		}
		return nil, apperrors.Wrap(apperrors.KindNetworkError, "release request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReleaseBody))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNetworkError, "read release response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.KindServerError, "release feed returned %d", resp.StatusCode)
	}

	var wire releaseWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDecodingError, "decode release response", err)
	}
	if wire.Draft || wire.Prerelease || wire.TagName == "" {
		return nil, nil
	}

	release := &Release{Version: wire.TagName, URL: wire.HTMLURL}
	if wire.PublishedAt != "" {
		if ts, err := time.Parse(time.RFC3339, wire.PublishedAt); err == nil {
			release.PublishedAt = ts
		}
	}
	return release, nil
}

// IsNewer reports whether remote is a strictly newer semantic version than
// local. Development builds never report pending updates.
func IsNewer(remote, local string) bool {
	if local == "" || local == "dev" {
		return false
	}
	r, okR := parseSemver(remote)
	l, okL := parseSemver(local)
	if !okR || !okL {
		return false
	}
	for i := 0; i < 3; i++ {
		if r[i] != l[i] {
			return r[i] > l[i]
		}
	}
	return false
}

func parseSemver(v string) ([3]int, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return [3]int{}, false
	}
	var out [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return [3]int{}, false
		}
		out[i] = n
	}
	return out, true
}
