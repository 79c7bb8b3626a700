// Package setup registers the lite MCP server with desktop MCP clients that
// read a claude_desktop_config.json style file.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/meditrek-engine/internal/config"
)

const (
	// ServerKey is the entry name under mcpServers.
	ServerKey = "meditrek"

	dataDirEnv  = "MEDITREK_DATA_DIR"
	timezoneEnv = "MEDITREK_TIMEZONE"
)

// ServerEntry is one MCP server launched by the client.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ClientConfig is the client's configuration file. Keys other than
// mcpServers are kept as they were read.
type ClientConfig struct {
	MCPServers map[string]ServerEntry
	other      map[string]json.RawMessage
}

// Options controls Configure.
type Options struct {
	ServerType string // "lite" or "full"
	ConfigPath string // defaults to DefaultClientConfigPath
	BinaryPath string // defaults to a lookup of the server binary
	DataDir    string
	Timezone   string
}

// DefaultClientConfigPath returns the platform location of
// claude_desktop_config.json.
func DefaultClientConfigPath() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "Claude")
			break
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".config", "Claude")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
	return filepath.Join(dir, "claude_desktop_config.json"), nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultClientConfigPath()
}

// LoadClientConfig reads the client configuration. A missing file yields an
// empty configuration.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{
		MCPServers: make(map[string]ServerEntry),
		other:      make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.other); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.other["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.other, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]ServerEntry)
	}
	return cfg, nil
}

// SaveClientConfig writes the configuration, creating its directory.
func SaveClientConfig(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	doc := make(map[string]json.RawMessage, len(cfg.other)+1)
	for k, v := range cfg.other {
		doc[k] = v
	}
	servers, err := json.Marshal(cfg.MCPServers)
	if err != nil {
		return fmt.Errorf("failed to marshal mcpServers: %w", err)
	}
	doc["mcpServers"] = servers

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Configure adds or replaces the meditrek entry in the client configuration
// and returns the entry written.
func Configure(opts Options) (*ServerEntry, error) {
	path, err := resolveConfigPath(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}

	binary := opts.BinaryPath
	if binary == "" {
		if binary, err = findBinary(opts.ServerType); err != nil {
			return nil, fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := ServerEntry{Command: binary, Env: make(map[string]string)}
	if opts.DataDir != "" {
		entry.Env[dataDirEnv] = opts.DataDir
	}
	if opts.Timezone != "" {
		entry.Env[timezoneEnv] = opts.Timezone
	}
	cfg.MCPServers[ServerKey] = entry

	if err := SaveClientConfig(path, cfg); err != nil {
		return nil, err
	}
	return &entry, nil
}

func binaryName(serverType string) string {
	if serverType == "full" {
		return "mcp-server"
	}
	return "mcp-server-lite"
}

// findBinary looks for the server binary on PATH and in common install
// locations.
func findBinary(serverType string) (string, error) {
	name := binaryName(serverType)
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./" + name,
		"./build/" + name,
		filepath.Join(home, ".local", "bin", name),
		"/usr/local/bin/" + name,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}
	return "", fmt.Errorf("binary %q not found in common locations", name)
}

// Status describes the current registration.
type Status struct {
	ConfigPath      string
	Configured      bool
	BinaryPath      string
	BinaryFound     bool
	DataDir         string
	DataDirExists   bool
	DatabasePresent bool
	Issues          []string
}

// GetStatus inspects the client configuration at configPath (or the default
// location) and the data directory it points to.
func GetStatus(configPath string) *Status {
	status := &Status{}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("Could not determine client config path: %v", err))
	} else {
		status.ConfigPath = path
		cfg, err := LoadClientConfig(path)
		if err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("Could not load client config: %v", err))
		} else if entry, ok := cfg.MCPServers[ServerKey]; ok {
			status.Configured = true
			status.BinaryPath = entry.Command
			status.DataDir = entry.Env[dataDirEnv]
		}
	}

	if status.BinaryPath != "" {
		if _, err := os.Stat(status.BinaryPath); err == nil {
			status.BinaryFound = true
		} else {
			status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found at: %s", status.BinaryPath))
		}
	}

	lite := config.DefaultLiteConfig()
	if status.DataDir != "" {
		lite.DataDir = status.DataDir
	}
	status.DataDir = lite.DataDir
	if _, err := os.Stat(lite.DataDir); err == nil {
		status.DataDirExists = true
		if _, err := os.Stat(lite.DBPath()); err == nil {
			status.DatabasePresent = true
		}
	}
	return status
}

// Validate reports whether the registration can start the server. A data
// directory that does not exist yet is not an issue: it is created on first
// run.
func Validate(configPath string) (bool, []string) {
	status := GetStatus(configPath)
	issues := append([]string(nil), status.Issues...)
	if status.ConfigPath != "" && !status.Configured {
		issues = append(issues, "meditrek is not registered in the client config")
	}
	if status.BinaryFound {
		if info, err := os.Stat(status.BinaryPath); err == nil && runtime.GOOS != "windows" && info.Mode()&0111 == 0 {
			issues = append(issues, fmt.Sprintf("Server binary is not executable: %s", status.BinaryPath))
		}
	}
	return len(issues) == 0, issues
}

// EnsureDataDir creates dataDir, or the default lite data directory.
func EnsureDataDir(dataDir string) error {
	lite := config.DefaultLiteConfig()
	if dataDir != "" {
		lite.DataDir = dataDir
	}
	if err := lite.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
