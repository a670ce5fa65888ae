package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/orderdesk-cli/internal/config"
	"github.com/orderdesk/orderdesk-cli/internal/iocontext"
)

func TestMain(m *testing.M) {
	// Keep the developer's shell from changing test output.
	_ = os.Setenv("OD_OUTPUT", "text")
	for _, key := range []string{
		config.EnvRealtimeURL, config.EnvAPIKey, config.EnvUserID, config.EnvProfile,
		config.EnvSnapshotToken, config.EnvPostgresDSN, config.EnvResendAPIKey, config.EnvFromEmail,
	} {
		_ = os.Unsetenv(key)
	}

	ring := keyring.NewArrayKeyring(nil)
	cleanup := config.SetOpenKeyring(func(keyring.Config) (keyring.Keyring, error) {
		return ring, nil
	})
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupTestEnv isolates settings, state and credentials in temp directories
// and returns the state directory.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	stateDir := filepath.Join(home, "state")
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("OD_STORE_BACKEND", "file")
	t.Setenv("OD_STORE_DIR", stateDir)
	t.Setenv("OD_SNAPSHOT_SOURCE", "none")

	ring := keyring.NewArrayKeyring(nil)
	t.Cleanup(config.SetOpenKeyring(func(keyring.Config) (keyring.Keyring, error) {
		return ring, nil
	}))
	return stateDir
}

// useEnvAccount configures credentials through the environment.
func useEnvAccount(t *testing.T, realtimeURL string) {
	t.Helper()
	t.Setenv(config.EnvRealtimeURL, realtimeURL)
	t.Setenv(config.EnvAPIKey, "anon-key")
	t.Setenv(config.EnvUserID, "me")
}

// runCmd executes the CLI with buffered IO and returns stdout and stderr.
func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	streams, out, errOut := iocontext.Buffers("")
	ctx := iocontext.WithIO(context.Background(), streams)
	err := Execute(ctx, args)
	return out.String(), errOut.String(), err
}

// mustRun executes the CLI and fails the test on error.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := runCmd(t, args...)
	require.NoError(t, err, "od %s\nstderr: %s", strings.Join(args, " "), errOut)
	return out
}

// decodeJSON unmarshals command output into v.
func decodeJSON(t *testing.T, out string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out), v), "output: %s", out)
}

// decodeLines unmarshals JSONL output.
func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "line: %s", line)
		records = append(records, rec)
	}
	return records
}
