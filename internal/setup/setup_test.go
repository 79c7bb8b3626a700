package setup

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp-server-lite")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestLoadClientConfig_Missing(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.MCPServers)
}

func TestConfigure_PreservesOtherEntries(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "Claude", "claude_desktop_config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	existing := `{"theme": "dark", "mcpServers": {"other": {"command": "/bin/other"}}}`
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o644))

	binary := fakeBinary(t)
	entry, err := Configure(Options{
		ConfigPath: path,
		BinaryPath: binary,
		DataDir:    "/srv/meditrek",
		Timezone:   "Europe/Berlin",
	})
	require.NoError(t, err)
	assert.Equal(t, binary, entry.Command)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "dark", doc["theme"])

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	require.Contains(t, cfg.MCPServers, "other")
	require.Contains(t, cfg.MCPServers, ServerKey)
	assert.Equal(t, "/srv/meditrek", cfg.MCPServers[ServerKey].Env["MEDITREK_DATA_DIR"])
	assert.Equal(t, "Europe/Berlin", cfg.MCPServers[ServerKey].Env["MEDITREK_TIMEZONE"])
}

func TestLoadClientConfig_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadClientConfig(path)
	assert.Error(t, err)
}

func TestStatusAndValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "claude_desktop_config.json")

	ok, issues := Validate(path)
	assert.False(t, ok)
	assert.Contains(t, strings.Join(issues, "\n"), "not registered")

	dataDir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, EnsureDataDir(dataDir))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "meditrek.db"), nil, 0o600))

	_, err := Configure(Options{ConfigPath: path, BinaryPath: fakeBinary(t), DataDir: dataDir})
	require.NoError(t, err)

	status := GetStatus(path)
	assert.True(t, status.Configured)
	assert.True(t, status.BinaryFound)
	assert.Equal(t, dataDir, status.DataDir)
	assert.True(t, status.DataDirExists)
	assert.True(t, status.DatabasePresent)

	ok, issues = Validate(path)
	assert.True(t, ok, issues)

	_, err = Configure(Options{ConfigPath: path, BinaryPath: "/nonexistent/mcp-server-lite"})
	require.NoError(t, err)
	ok, issues = Validate(path)
	assert.False(t, ok)
	assert.Contains(t, strings.Join(issues, "\n"), "binary not found")
}

func TestCLI(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "claude_desktop_config.json")
	dataDir := filepath.Join(t.TempDir(), "data")

	var out bytes.Buffer
	cli := NewCLIWithIO("lite", strings.NewReader("n\n"), &out)

	// Declining leaves the config untouched.
	require.NoError(t, cli.Run([]string{"claude-desktop", "--config", path, "--binary", fakeBinary(t)}))
	assert.Contains(t, out.String(), "cancelled")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	out.Reset()
	require.NoError(t, cli.Run([]string{"claude-desktop", "--yes", "--config", path, "--binary", fakeBinary(t), "--data-dir", dataDir}))
	assert.Contains(t, out.String(), "Claude Desktop configured")
	_, err = os.Stat(dataDir)
	assert.NoError(t, err, "data directory is created")

	out.Reset()
	require.NoError(t, cli.Run([]string{"status", "--config", path}))
	assert.Contains(t, out.String(), "Registered: yes")

	require.NoError(t, cli.Run([]string{"validate", "--config", path}))

	err = cli.Run([]string{"frobnicate"})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	out.Reset()
	require.NoError(t, cli.Run(nil))
	assert.Contains(t, out.String(), "mcp-server-lite setup")
}
