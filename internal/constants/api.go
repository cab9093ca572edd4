package constants

// Upstream usage API.
const (
	// UsageEndpoint is the authenticated usage-report endpoint.
	UsageEndpoint = "https://api.anthropic.com/api/oauth/usage"
	// APIRevisionHeader identifies the API revision on every request.
	APIRevisionHeader = "anthropic-beta"
	// APIRevision is the revision value the usage endpoint expects.
	APIRevision = "oauth-2025-04-20"
)

// Credential sources.
const (
	// EnvTokenVar overrides every other credential source when set.
	// Documented as a troubleshooting escape hatch.
	EnvTokenVar = "CLAUDE_CODE_OAUTH_TOKEN"
	// UpstreamKeychainService is the upstream tool's own secure-store entry.
	UpstreamKeychainService = "Claude Code-credentials"
	// AppKeychainService caches a previously resolved bearer token under a
	// namespace separate from the upstream entry, so revoking upstream does
	// not revoke this cache.
	AppKeychainService = "ccwatch-cached-token"
	// ManualKeychainService stores a user-entered API key.
	ManualKeychainService = "ccwatch-manual-key"
	// AccessTokenPath selects the bearer token inside the upstream JSON blob.
	AccessTokenPath = "claudeAiOauth.accessToken"
	// ManualKeyPrefix is required on user-entered keys.
	ManualKeyPrefix = "sk-ant-"
)

// Update check.
const (
	// ReleaseEndpoint serves the latest published release.
	ReleaseEndpoint = "https://api.github.com/repos/ccwatch/ccwatch/releases/latest"
)
