package config

import (
	"os"
	"path/filepath"

	"ccwatch/internal/constants"
)

// Config is the runtime configuration, loaded from file with environment
// overrides applied on top.
type Config struct {
	// Server settings
	Listen    string `yaml:"listen" json:"listen"`
	Debug     bool   `yaml:"debug" json:"debug"`
	LogFile   string `yaml:"log_file" json:"log_file"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// Storage settings
	DataDir              string `yaml:"data_dir" json:"data_dir"`
	HistoryEnabled       bool   `yaml:"history_enabled" json:"history_enabled"`
	HistoryRetentionDays int    `yaml:"history_retention_days" json:"history_retention_days"`

	// Polling settings
	PollIntervalSec   int  `yaml:"poll_interval_sec" json:"poll_interval_sec"`
	WatchUpstreamFile bool `yaml:"watch_upstream_file" json:"watch_upstream_file"`

	// Credential settings
	UpstreamCredentialsPath string `yaml:"upstream_credentials_path" json:"upstream_credentials_path"`
	CLIPath                 string `yaml:"cli_path" json:"cli_path"`

	// Management API settings
	ManagementKey     string `yaml:"management_key" json:"management_key"`
	ManagementKeyHash string `yaml:"management_key_hash" json:"management_key_hash"`
	RateLimitRPS      int    `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst    int    `yaml:"rate_limit_burst" json:"rate_limit_burst"`

	// Update check settings
	UpdateCheckEnabled  bool `yaml:"update_check_enabled" json:"update_check_enabled"`
	UpdateIntervalHours int  `yaml:"update_interval_hours" json:"update_interval_hours"`
}

// CredentialCachePath is the app-owned file cache of the last resolved token.
func (c *Config) CredentialCachePath() string {
	return filepath.Join(c.DataDir, constants.CredentialCacheFileName)
}

// StatePath is the session state document.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, constants.StateFileName)
}

// HistoryPath is the SQLite usage history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, constants.HistoryFileName)
}

// DefaultDataDir resolves the per-user data directory.
func DefaultDataDir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, constants.AppDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return constants.AppDirName
	}
	return filepath.Join(home, "."+constants.AppDirName)
}

// DefaultConfigPath is the config file inside the default data directory.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), constants.ConfigFileName)
}

// DefaultUpstreamCredentialsPath locates the upstream tool's credentials file.
func DefaultUpstreamCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, constants.UpstreamCredentialsDir, constants.UpstreamCredentialsFile)
}
