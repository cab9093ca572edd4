package config

// applyEnv layers CCWATCH_* environment overrides over the loaded file.
// Only knobs that are useful per-invocation get an override; secrets stay
// in the file or the secure store.
func applyEnv(cfg *Config) {
	if v := getenv("CCWATCH_LISTEN", ""); v != "" {
		cfg.Listen = v
	}
	cfg.Debug = getenvBool("CCWATCH_DEBUG", cfg.Debug)
	if v := getenv("CCWATCH_LOG_FILE", ""); v != "" {
		cfg.LogFile = v
	}
	if v := getenv("CCWATCH_LOG_FORMAT", ""); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("CCWATCH_DATA_DIR", ""); v != "" {
		cfg.DataDir = v
	}
	setIntFromEnv("CCWATCH_POLL_INTERVAL_SEC", func(n int) { cfg.PollIntervalSec = n })
	setToggleFromEnv("CCWATCH_HISTORY_ENABLED", func(b bool) { cfg.HistoryEnabled = b })
	setToggleFromEnv("CCWATCH_WATCH_UPSTREAM_FILE", func(b bool) { cfg.WatchUpstreamFile = b })
	setToggleFromEnv("CCWATCH_UPDATE_CHECK_ENABLED", func(b bool) { cfg.UpdateCheckEnabled = b })
	if v := getenv("CCWATCH_UPSTREAM_CREDENTIALS_PATH", ""); v != "" {
		cfg.UpstreamCredentialsPath = v
	}
	if v := getenv("CCWATCH_CLI_PATH", ""); v != "" {
		cfg.CLIPath = v
	}
	if v := getenv("CCWATCH_MANAGEMENT_KEY", ""); v != "" {
		cfg.ManagementKey = v
	}
}
