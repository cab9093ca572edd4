package constants

// File layout. All app-owned paths are relative to the configured data
// directory and written with owner-only permissions.
const (
	// AppDirName is the per-user directory under os.UserConfigDir.
	AppDirName = "ccwatch"
	// ConfigFileName is the default configuration file.
	ConfigFileName = "config.yaml"
	// CredentialCacheFileName holds the app-owned file cache of the last
	// resolved token. Survives a secure-store ACL invalidated by a
	// code-signing change.
	CredentialCacheFileName = "credential.json"
	// StateFileName holds the session state document (denied flag, setup
	// marker, update bookkeeping).
	StateFileName = "state.json"
	// HistoryFileName is the SQLite usage history database.
	HistoryFileName = "history.db"

	// UpstreamCredentialsDir and UpstreamCredentialsFile locate the file the
	// upstream tool writes its own credentials to, relative to $HOME.
	UpstreamCredentialsDir  = ".claude"
	UpstreamCredentialsFile = ".credentials.json"
	// UpstreamBinaryName is the upstream CLI executable, both for spawning
	// a credential refresh and for recognizing agent processes.
	UpstreamBinaryName = "claude"
)

// Directory and file modes for app-owned secrets.
const (
	SecretDirMode  = 0o700
	SecretFileMode = 0o600
)
