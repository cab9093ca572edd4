package upstream

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ccwatch/internal/errors"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func noLookPath(string) (string, error) {
	return "", errors.New("not on PATH")
}

func TestLocatePrefersExplicitPath(t *testing.T) {
	script := writeScript(t, "claude", "exit 0")
	cli := NewCLI(script, WithLookPath(noLookPath))

	path, err := cli.Locate()
	require.NoError(t, err)
	assert.Equal(t, script, path)
}

func TestLocateRejectsNonExecutableExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	cli := NewCLI(path, WithLookPath(noLookPath))
	_, err := cli.Locate()
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestLocateUsesLookPath(t *testing.T) {
	script := writeScript(t, "claude", "exit 0")
	cli := NewCLI("", WithLookPath(func(name string) (string, error) {
		assert.Equal(t, binaryName, name)
		return script, nil
	}))

	path, err := cli.Locate()
	require.NoError(t, err)
	assert.Equal(t, script, path)
}

func TestLocateFallsBackToConventionalDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	script := filepath.Join(home, ".claude", "local", "claude")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0o755))
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	cli := NewCLI("", WithLookPath(noLookPath))
	path, err := cli.Locate()
	require.NoError(t, err)
	assert.Equal(t, script, path)
}

func TestLocateNotFound(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cli := NewCLI("", WithLookPath(noLookPath))

	cli.explicitPath = ""
	_, err := cli.Locate()
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	assert.False(t, cli.Available())
}

func TestRefreshCredentialsSuccessByExitCode(t *testing.T) {
	script := writeScript(t, "claude", "exit 0")
	cli := NewCLI(script, WithLookPath(noLookPath))

	assert.NoError(t, cli.RefreshCredentials(context.Background()))
}

func TestRefreshCredentialsFailureSurfacesExitCode(t *testing.T) {
	script := writeScript(t, "claude", "echo boom >&2; exit 3")
	cli := NewCLI(script, WithLookPath(noLookPath))

	err := cli.RefreshCredentials(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRefreshCredentialsTimeoutKillsProcess(t *testing.T) {
	script := writeScript(t, "claude", "sleep 30")
	cli := NewCLI(script, WithLookPath(noLookPath), WithRunTimeout(100*time.Millisecond))

	start := time.Now()
	err := cli.RefreshCredentials(context.Background())
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRefreshCredentialsCancelled(t *testing.T) {
	script := writeScript(t, "claude", "sleep 30")
	cli := NewCLI(script, WithLookPath(noLookPath))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := cli.RefreshCredentials(ctx)
	assert.True(t, apperrors.IsCanceled(err))
}
