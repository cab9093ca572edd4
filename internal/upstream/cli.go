// Package upstream locates and spawns the upstream CLI binary. Running it
// with a harmless prompt forces it to refresh and rewrite its own stored
// credential, which is the one external side effect this app relies on when
// a fetch comes back unauthorized.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/constants"
	apperrors "ccwatch/internal/errors"
	"ccwatch/internal/monitoring"
)

const binaryName = constants.UpstreamBinaryName

// refreshArgs is a cheap non-interactive invocation; the credential refresh
// happens during CLI startup regardless of the prompt.
var refreshArgs = []string{"-p", "ok"}

// CLI locates and runs the upstream binary. Runs are bounded by a timeout
// and the process is killed on cancellation.
type CLI struct {
	explicitPath string
	runTimeout   time.Duration
	lookPath     func(string) (string, error)
}

// Option adjusts a CLI at construction.
type Option func(*CLI)

// WithRunTimeout overrides the per-run timeout.
func WithRunTimeout(d time.Duration) Option {
	return func(c *CLI) { c.runTimeout = d }
}

// WithLookPath overrides $PATH resolution, for tests.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *CLI) { c.lookPath = fn }
}

// NewCLI builds a locator. explicitPath, when non-empty, wins over every
// other location.
func NewCLI(explicitPath string, opts ...Option) *CLI {
	c := &CLI{
		explicitPath: explicitPath,
		runTimeout:   constants.CLIRefreshTimeout,
		lookPath:     exec.LookPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func conventionalPaths(home string) []string {
	return []string{
		filepath.Join(home, ".claude", "local", binaryName),
		"/usr/local/bin/" + binaryName,
		"/opt/homebrew/bin/" + binaryName,
		filepath.Join(home, ".local", "bin", binaryName),
	}
}

// Locate returns the binary path: the configured path first, then $PATH,
// then conventional install locations.
func (c *CLI) Locate() (string, error) {
	if c.explicitPath != "" {
		if isExecutable(c.explicitPath) {
			return c.explicitPath, nil
		}
		return "", apperrors.Newf(apperrors.KindNotFound, "configured CLI path %s is not executable", c.explicitPath)
	}
	if path, err := c.lookPath(binaryName); err == nil {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err == nil {
		for _, candidate := range conventionalPaths(home) {
			if isExecutable(candidate) {
				return candidate, nil
			}
		}
	}
	return "", apperrors.New(apperrors.KindNotFound, "upstream CLI not found")
}

// Available reports whether the binary can be located.
func (c *CLI) Available() bool {
	_, err := c.Locate()
	return err == nil
}

// RefreshCredentials spawns the CLI and judges success by exit code. The
// subprocess is killed when the timeout elapses or ctx is cancelled.
func (c *CLI) RefreshCredentials(ctx context.Context) error {
	path, err := c.Locate()
	if err != nil {
		monitoring.CLIRefreshTotal.WithLabelValues("not_found").Inc()
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(runCtx, path, refreshArgs...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	// Descendants of the CLI inherit the output pipes; without a wait
	// delay, Wait would block past the timeout until they all exit.
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	entry := log.WithField("path", path).WithField("elapsed", elapsed.Round(time.Millisecond))
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		monitoring.CLIRefreshTotal.WithLabelValues("timeout").Inc()
		entry.Warn("upstream CLI refresh timed out")
		return apperrors.Wrap(apperrors.KindTimeout, "upstream CLI refresh timed out", runCtx.Err())
	case ctx.Err() != nil:
		monitoring.CLIRefreshTotal.WithLabelValues("cancelled").Inc()
		return apperrors.Wrap(apperrors.KindCanceled, "upstream CLI refresh cancelled", ctx.Err())
	case runErr != nil:
		monitoring.CLIRefreshTotal.WithLabelValues("failed").Inc()
		entry.WithError(runErr).Warn("upstream CLI refresh failed")
		return fmt.Errorf("upstream CLI exited abnormally: %w (%s)", runErr, outputExcerpt(&output))
	}

	monitoring.CLIRefreshTotal.WithLabelValues("ok").Inc()
	entry.Info("upstream CLI refresh completed")
	return nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}

func outputExcerpt(buf *bytes.Buffer) string {
	text := strings.TrimSpace(buf.String())
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	if text == "" {
		return "no output"
	}
	return text
}
