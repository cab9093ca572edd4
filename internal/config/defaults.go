package config

// applyDefaults fills in zero values after file load and before env overrides.
func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:7633"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = 60
	}
	if cfg.HistoryRetentionDays <= 0 {
		cfg.HistoryRetentionDays = 30
	}
	if cfg.UpdateIntervalHours <= 0 {
		cfg.UpdateIntervalHours = 6
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	if cfg.UpstreamCredentialsPath == "" {
		cfg.UpstreamCredentialsPath = DefaultUpstreamCredentialsPath()
	}
}

// NewDefault returns a configuration with every default applied and the
// toggles that ship enabled turned on.
func NewDefault() *Config {
	cfg := &Config{
		HistoryEnabled:     true,
		WatchUpstreamFile:  true,
		UpdateCheckEnabled: true,
	}
	applyDefaults(cfg)
	return cfg
}
