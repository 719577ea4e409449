package client

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"

	"github.com/gamegineer/tablenet/pkg/transport"
)

// PasswordEnvVar supplies the table password when no flag is given
const PasswordEnvVar = "TABLENET_PASSWORD"

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	Local      LocalSection      `toml:"local"`
}

type ConnectionSection struct {
	DefaultServer      string `toml:"default_server"`
	PlayerName         string `toml:"player_name"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
}

type LocalSection struct {
	StateDB string `toml:"state_db"`
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Path, e.Message, e.LineNumber)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// getXDGConfigHome returns the XDG config directory
func getXDGConfigHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// getXDGDataHome returns the XDG data directory
func getXDGDataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share")
}

// DefaultConfigPath returns where the client config lives by default
func DefaultConfigPath() string {
	return filepath.Join(getXDGConfigHome(), "tablenet", "client.toml")
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Connection: ConnectionSection{
			DefaultServer:      "localhost:" + transport.DefaultTCPPort,
			DialTimeoutSeconds: int(DefaultDialTimeout / time.Second),
		},
		Local: LocalSection{
			StateDB: filepath.Join(getXDGDataHome(), "tablenet", "state.db"),
		},
	}
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// LoadClientConfig loads configuration from a TOML file, creating it with
// defaults if it does not exist
func LoadClientConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// An unwritable config directory is not fatal; run on defaults
		_ = writeDefaultConfig(path, config)
		return config, nil
	}

	// Start from defaults so omitted keys keep their default values
	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    strings.TrimPrefix(err.Error(), "toml: "),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{Path: path, Message: err.Error()}
	}

	return config, nil
}

var lineNumberPattern = regexp.MustCompile(`line (\d+)`)

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	matches := lineNumberPattern.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

// validateConfig reports every invalid value at once
func validateConfig(config *TOMLConfig) error {
	var err error

	if server := strings.TrimSpace(config.Connection.DefaultServer); server != "" {
		if _, parseErr := transport.ParseAddress(server); parseErr != nil {
			err = multierr.Append(err, fmt.Errorf("default_server: %w", parseErr))
		}
	}

	if name := config.Connection.PlayerName; strings.IndexFunc(name, unicode.IsControl) >= 0 {
		err = multierr.Append(err, fmt.Errorf("player_name: contains control characters"))
	}

	if config.Connection.DialTimeoutSeconds < 0 {
		err = multierr.Append(err, fmt.Errorf("dial_timeout_seconds: cannot be negative"))
	}

	if strings.TrimSpace(config.Local.StateDB) == "" {
		err = multierr.Append(err, fmt.Errorf("state_db: cannot be empty"))
	}

	return err
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# Table client configuration
# The table password is never stored here; pass -password or set ` + PasswordEnvVar + `

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetStateDBPath returns the state database path with ~ expanded
func (c *TOMLConfig) GetStateDBPath() (string, error) {
	return expandHome(c.Local.StateDB)
}

// DialTimeout returns the configured dial timeout
func (c *TOMLConfig) DialTimeout() time.Duration {
	if c.Connection.DialTimeoutSeconds <= 0 {
		return DefaultDialTimeout
	}
	return time.Duration(c.Connection.DialTimeoutSeconds) * time.Second
}

// ResolvePassword returns flagValue if set, otherwise the environment password
func ResolvePassword(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(PasswordEnvVar)
}

// ResetConfigToDefault rewrites the config file with defaults, keeping a
// dated copy of the old file if backup is true
func ResetConfigToDefault(path string, backup bool) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	if backup {
		backupPath := fmt.Sprintf("%s.backup-%s", path, time.Now().Format("2006-01-02"))
		if err := copyFile(path, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}

	if err := writeDefaultConfig(path, DefaultTOMLConfig()); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
