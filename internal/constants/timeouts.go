package constants

import "time"

const (
	// FetchTimeout bounds one whole fetch attempt, including the 401
	// compensation path. Distinct from retry backoff; exceeding it counts
	// as a transient error.
	FetchTimeout = 30 * time.Second
	// CLIRefreshTimeout bounds the spawned upstream CLI run.
	CLIRefreshTimeout = 20 * time.Second
	// CLISettleDelay gives the upstream tool time to rewrite its stored
	// credential after the spawned run exits.
	CLISettleDelay = 2 * time.Second
	// KeyringTimeout bounds a single secure-store operation.
	KeyringTimeout = 10 * time.Second
	// PreflightTimeout bounds the non-mutating upstream access probe.
	PreflightTimeout = 5 * time.Second
	// SleepWarmTimeout bounds the cache-warming resolve squeezed into the
	// window before host sleep.
	SleepWarmTimeout = 5 * time.Second
	// WakeStabilizeDelay is how long polling waits after a cold wake before
	// resuming, letting the network stack settle.
	WakeStabilizeDelay = 5 * time.Second
	// DefaultPollInterval separates automatic refresh cycles.
	DefaultPollInterval = 60 * time.Second
	// DefaultUpdateInterval separates update-availability checks.
	DefaultUpdateInterval = 6 * time.Hour
	// UpdateCheckTimeout bounds one release feed request.
	UpdateCheckTimeout = 15 * time.Second
	// AgentSweepInterval separates scans for orphaned agent processes.
	AgentSweepInterval = 5 * time.Minute
	// HistoryPruneInterval separates retention sweeps over recorded usage.
	HistoryPruneInterval = 6 * time.Hour
	// ServerShutdownTimeout bounds graceful HTTP server shutdown.
	ServerShutdownTimeout = 10 * time.Second
	// ServerGracefulWait defines the post-shutdown wait window for cleanup.
	ServerGracefulWait = 2 * time.Second
)
