package credential

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/config"
	"ccwatch/internal/constants"
	apperrors "ccwatch/internal/errors"
	"ccwatch/internal/events"
	"ccwatch/internal/keyring"
	"ccwatch/internal/state"
)

// Store owns every credential cache tier and the sticky access-denied flag.
// Resolution, invalidation and cache writes are serialized through one mutex
// so a cache-populating write can never race an invalidate.
type Store struct {
	mu      sync.Mutex
	cfg     *config.Config
	secrets keyring.SecretStore
	session state.Store
	hub     *events.Hub

	bearer *memoryCache
	manual *memoryCache
	now    func() time.Time
}

// Option adjusts a Store at construction.
type Option func(*Store)

// WithNow overrides the clock used for cache expiry, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(cfg *config.Config, secrets keyring.SecretStore, session state.Store, hub *events.Hub, opts ...Option) *Store {
	s := &Store{
		cfg:     cfg,
		secrets: secrets,
		session: session,
		hub:     hub,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	clock := func() time.Time { return s.now() }
	s.bearer = newMemoryCache(constants.BearerCacheTTL, clock)
	s.manual = newMemoryCache(constants.ManualKeyCacheTTL, clock)
	return s
}

// Resolve walks the source chain and returns the first usable credential.
// With allowInteractive false, no source that could raise an OS prompt is
// touched while the access-denied flag is set, and the upstream secure-store
// read itself is performed prompt-free.
func (s *Store) Resolve(ctx context.Context, allowInteractive bool) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.resolveLocked(ctx, allowInteractive)
	if err != nil {
		return Credential{}, err
	}
	if !s.session.GetBool(state.KeySetupComplete) {
		if err := s.session.Patch(state.KeySetupComplete, true); err != nil {
			log.WithError(err).Warn("could not persist setup-complete marker")
		}
	}
	s.publish(ctx, events.TopicCredentialResolved, nil, map[string]string{"source": string(cred.Source)})
	return cred, nil
}

func (s *Store) resolveLocked(ctx context.Context, allowInteractive bool) (Credential, error) {
	// 1. Environment override, the documented escape hatch.
	if token := strings.TrimSpace(os.Getenv(constants.EnvTokenVar)); token != "" {
		log.Debug("credential resolved from environment override")
		return Credential{Token: token, Source: SourceEnvironment}, nil
	}

	// 2. In-process cache of the user-entered key.
	if token, ok := s.manual.get(); ok {
		return Credential{Token: token, Source: SourceMemoryCache}, nil
	}

	// 3. User-entered key from the app's own secure-store namespace. Not
	// gated by the access-denied flag; items this app created never prompt.
	token, err := s.secrets.Get(ctx, constants.ManualKeychainService, false)
	switch {
	case err == nil && token != "":
		s.manual.put(token)
		return Credential{Token: token, Source: SourceManualKey}, nil
	case err != nil && !apperrors.IsKind(err, apperrors.KindNotFound):
		log.WithError(err).Debug("manual key lookup failed, falling through")
	}

	// 4. In-process cache of the resolved bearer token.
	if token, ok := s.bearer.get(); ok {
		return Credential{Token: token, Source: SourceMemoryCache}, nil
	}

	// 5. App-owned secure-store cache, a separate namespace from the
	// upstream tool's entry so revoking that entry does not revoke this.
	token, err = s.secrets.Get(ctx, constants.AppKeychainService, false)
	if err == nil && token != "" {
		s.writeBack(ctx, token, false, true)
		return Credential{Token: token, Source: SourceAppCache}, nil
	}
	if err != nil && !apperrors.IsKind(err, apperrors.KindNotFound) {
		log.WithError(err).Debug("app cache lookup failed, falling through")
	}

	// 6. App-owned file cache.
	if token, ok := readFileCache(s.cfg.CredentialCachePath()); ok {
		s.writeBack(ctx, token, true, false)
		return Credential{Token: token, Source: SourceFileCache}, nil
	}

	// 7. With the denied flag up and no permission to prompt, stop before
	// the upstream sources.
	if !allowInteractive && s.accessDenied() {
		return Credential{}, apperrors.New(apperrors.KindAccessDenied, "upstream access previously denied")
	}

	// 8. Credentials file maintained by the upstream tool.
	if token, ok := readUpstreamFile(s.upstreamCredentialsPath()); ok {
		s.writeBack(ctx, token, true, true)
		return Credential{Token: token, Source: SourceUpstreamFile}, nil
	}

	// 9. The upstream tool's own secure-store entry, the only source that
	// can raise an OS prompt.
	blob, err := s.secrets.Get(ctx, constants.UpstreamKeychainService, allowInteractive)
	switch {
	case err == nil:
		if token, ok := extractAccessToken(blob, constants.UpstreamKeychainService); ok {
			s.writeBack(ctx, token, true, true)
			return Credential{Token: token, Source: SourceUpstreamKeychain}, nil
		}
	case apperrors.IsKind(err, apperrors.KindAccessDenied):
		s.setDeniedLocked(ctx)
		return Credential{}, err
	case apperrors.IsKind(err, apperrors.KindNotFound):
		// Absence is not denial; the flag stays as it is.
	default:
		return Credential{}, err
	}

	// 10.
	return Credential{}, apperrors.New(apperrors.KindNotFound, "no credential found in any source")
}

// writeBack populates the cheaper tiers after a successful resolve. Failures
// here are logged, never surfaced; the caller already has a credential.
func (s *Store) writeBack(ctx context.Context, token string, toKeychain, toFile bool) {
	s.bearer.put(token)
	if toKeychain {
		if err := s.secrets.Set(ctx, constants.AppKeychainService, token); err != nil {
			log.WithError(err).Warn("could not cache token in secure store")
		}
	}
	if toFile {
		if err := writeFileCache(s.cfg.CredentialCachePath(), token, s.now()); err != nil {
			log.WithError(err).Warn("could not cache token on disk")
		}
	}
}

// Invalidate drops every cache tier. The access-denied flag and its
// timestamp are left untouched.
func (s *Store) Invalidate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked(ctx)
}

func (s *Store) invalidateLocked(ctx context.Context) {
	s.bearer.clear()
	s.manual.clear()
	if err := s.secrets.Delete(ctx, constants.AppKeychainService); err != nil {
		log.WithError(err).Warn("could not delete cached token from secure store")
	}
	removeFileCache(s.cfg.CredentialCachePath())
	s.publish(ctx, events.TopicCredentialInvalidated, nil, nil)
}

// ResetAuthentication drops every cache tier and clears the access-denied
// flag. The caller is responsible for discarding any usage snapshot it holds.
func (s *Store) ResetAuthentication(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked(ctx)
	s.clearDeniedLocked()
}

// RetryUpstreamAccess clears only the access-denied flag so the next
// resolution may reach the upstream sources again. Cached tokens survive.
func (s *Store) RetryUpstreamAccess(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearDeniedLocked()
}

// PreflightUpstreamAccess probes whether reading the upstream secure-store
// entry would require user interaction, without performing the read.
func (s *Store) PreflightUpstreamAccess(ctx context.Context) keyring.PreflightResult {
	ctx, cancel := context.WithTimeout(ctx, constants.PreflightTimeout)
	defer cancel()
	return s.secrets.Preflight(ctx, constants.UpstreamKeychainService)
}

// AccessDenied reports the sticky denial flag.
func (s *Store) AccessDenied() bool {
	return s.session.GetBool(state.KeyAccessDenied)
}

// AccessDeniedSince returns when the flag was last set.
func (s *Store) AccessDeniedSince() (time.Time, bool) {
	return s.session.GetTime(state.KeyAccessDeniedAt)
}

// HasEnvOverride reports whether the environment escape hatch is set.
func (s *Store) HasEnvOverride() bool {
	return strings.TrimSpace(os.Getenv(constants.EnvTokenVar)) != ""
}

// WarmMemory reports whether either in-process cache holds an unexpired
// token.
func (s *Store) WarmMemory() bool {
	return s.bearer.warm() || s.manual.warm()
}

// HasCachedCredential reports whether any persisted app-owned tier holds a
// token. The probes never prompt.
func (s *Store) HasCachedCredential(ctx context.Context) bool {
	if token, err := s.secrets.Get(ctx, constants.ManualKeychainService, false); err == nil && token != "" {
		return true
	}
	if token, err := s.secrets.Get(ctx, constants.AppKeychainService, false); err == nil && token != "" {
		return true
	}
	if _, ok := readFileCache(s.cfg.CredentialCachePath()); ok {
		return true
	}
	return false
}

// WarmCache resolves without interaction, keeping only the caching side
// effect. Used ahead of host sleep so the post-wake refresh can start from
// memory.
func (s *Store) WarmCache(ctx context.Context) bool {
	_, err := s.Resolve(ctx, false)
	return err == nil
}

// SaveManualKey validates and stores a user-entered key. A successful save
// clears the access-denied flag.
func (s *Store) SaveManualKey(ctx context.Context, raw string) error {
	key := strings.TrimSpace(raw)
	if !strings.HasPrefix(key, constants.ManualKeyPrefix) || len(key) <= len(constants.ManualKeyPrefix) {
		return apperrors.Newf(apperrors.KindInvalidFormat, "manual key must start with %q", constants.ManualKeyPrefix)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.secrets.Set(ctx, constants.ManualKeychainService, key); err != nil {
		return err
	}
	s.manual.put(key)
	s.clearDeniedLocked()
	return nil
}

// ClearManualKey removes the user-entered key and its memory cache.
func (s *Store) ClearManualKey(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manual.clear()
	return s.secrets.Delete(ctx, constants.ManualKeychainService)
}

// HasManualKey reports whether a user-entered key is stored.
func (s *Store) HasManualKey(ctx context.Context) bool {
	token, err := s.secrets.Get(ctx, constants.ManualKeychainService, false)
	return err == nil && token != ""
}

func (s *Store) accessDenied() bool {
	return s.session.GetBool(state.KeyAccessDenied)
}

func (s *Store) setDeniedLocked(ctx context.Context) {
	if err := s.session.Patch(state.KeyAccessDenied, true); err != nil {
		log.WithError(err).Warn("could not persist access-denied flag")
	}
	if err := s.session.Patch(state.KeyAccessDeniedAt, s.now()); err != nil {
		log.WithError(err).Warn("could not persist access-denied timestamp")
	}
	s.publish(ctx, events.TopicAccessDenied, nil, nil)
}

func (s *Store) clearDeniedLocked() {
	if err := s.session.Patch(state.KeyAccessDenied, false); err != nil {
		log.WithError(err).Warn("could not clear access-denied flag")
	}
	if err := s.session.Delete(state.KeyAccessDeniedAt); err != nil {
		log.WithError(err).Warn("could not clear access-denied timestamp")
	}
}

func (s *Store) upstreamCredentialsPath() string {
	if s.cfg.UpstreamCredentialsPath != "" {
		return s.cfg.UpstreamCredentialsPath
	}
	return config.DefaultUpstreamCredentialsPath()
}

func (s *Store) publish(ctx context.Context, topic string, payload any, metadata map[string]string) {
	if s.hub != nil {
		s.hub.Publish(ctx, topic, payload, metadata)
	}
}
