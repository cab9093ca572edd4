package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Validate checks invariants and expands user-relative paths in place.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q (want text or json)", c.LogFormat)
	}
	if c.PollIntervalSec < 10 {
		return fmt.Errorf("poll_interval_sec %d too low (minimum 10)", c.PollIntervalSec)
	}

	for _, p := range []*string{&c.DataDir, &c.UpstreamCredentialsPath, &c.CLIPath, &c.LogFile} {
		expanded, err := expandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
