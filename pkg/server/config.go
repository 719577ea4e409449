package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/gamegineer/tablenet/pkg/protocol"
)

// DefaultMaxPlayerNameLength bounds player names when the config is silent.
const DefaultMaxPlayerNameLength = 32

// DefaultMaxConcurrentAuth bounds simultaneous password checks. Each one holds
// auth.KeyMemory (19 MiB) while it runs.
const DefaultMaxConcurrentAuth = 4

// PasswordEnvVar supplies the table password when the flag is not given
const PasswordEnvVar = "TABLENET_PASSWORD"

// ServerConfig holds server configuration
type ServerConfig struct {
	TCPPort                int // 0 picks an ephemeral port
	HTTPPort               int // 0 disables the HTTP listener
	Password               string
	HostPlayer             string
	SupportedVersions      []protocol.ProtocolVersion
	MaxPlayerNameLength    int
	MaxConnections         int // 0 means unlimited
	MaxConcurrentAuth      int
	JournalRetentionHours  int
	CleanupIntervalMinutes int
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:                7465,
		HTTPPort:               7466,
		HostPlayer:             "host",
		SupportedVersions:      []protocol.ProtocolVersion{protocol.CurrentVersion},
		MaxPlayerNameLength:    DefaultMaxPlayerNameLength,
		MaxConnections:         256,
		MaxConcurrentAuth:      DefaultMaxConcurrentAuth,
		JournalRetentionHours:  168, // 7 days
		CleanupIntervalMinutes: 60,
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Table     TableSection     `toml:"table"`
	Limits    LimitsSection    `toml:"limits"`
	Retention RetentionSection `toml:"retention"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`
	DatabasePath string `toml:"database_path"`
}

type TableSection struct {
	Password          string   `toml:"password"`
	HostPlayer        string   `toml:"host_player"`
	SupportedVersions []uint32 `toml:"supported_versions"`
}

type LimitsSection struct {
	MaxPlayerNameLength int `toml:"max_player_name_length"`
	MaxConnections      int `toml:"max_connections"`
	MaxConcurrentAuth   int `toml:"max_concurrent_auth"`
}

type RetentionSection struct {
	JournalRetentionHours  int `toml:"journal_retention_hours"`
	CleanupIntervalMinutes int `toml:"cleanup_interval_minutes"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	defaults := DefaultConfig()
	versions := make([]uint32, len(defaults.SupportedVersions))
	for i, v := range defaults.SupportedVersions {
		versions[i] = uint32(v)
	}

	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      defaults.TCPPort,
			HTTPPort:     defaults.HTTPPort,
			DatabasePath: "~/.tablenet/tablenet.db",
		},
		Table: TableSection{
			Password:          "",
			HostPlayer:        defaults.HostPlayer,
			SupportedVersions: versions,
		},
		Limits: LimitsSection{
			MaxPlayerNameLength: defaults.MaxPlayerNameLength,
			MaxConnections:      defaults.MaxConnections,
			MaxConcurrentAuth:   defaults.MaxConcurrentAuth,
		},
		Retention: RetentionSection{
			JournalRetentionHours:  defaults.JournalRetentionHours,
			CleanupIntervalMinutes: defaults.CleanupIntervalMinutes,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
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

	header := `# Table Server Configuration
# This file was auto-generated with default values
# Set [table] password before inviting players, then restart the server
#
# Every authentication attempt derives an argon2id key using 19 MiB of memory.
# [limits] max_connections caps open connections and max_concurrent_auth caps
# how many of them may be checking a password at the same moment.

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if cfg.HTTPPort < 0 {
		cfg.HTTPPort = 0
	}

	cfg.Password = c.Table.Password

	if strings.TrimSpace(c.Table.HostPlayer) != "" {
		cfg.HostPlayer = c.Table.HostPlayer
	}

	if len(c.Table.SupportedVersions) > 0 {
		cfg.SupportedVersions = make([]protocol.ProtocolVersion, len(c.Table.SupportedVersions))
		for i, v := range c.Table.SupportedVersions {
			cfg.SupportedVersions[i] = protocol.ProtocolVersion(v)
		}
	}

	if c.Limits.MaxPlayerNameLength != 0 {
		cfg.MaxPlayerNameLength = c.Limits.MaxPlayerNameLength
	}

	if c.Limits.MaxConnections != 0 {
		cfg.MaxConnections = c.Limits.MaxConnections
	}

	if c.Limits.MaxConcurrentAuth > 0 {
		cfg.MaxConcurrentAuth = c.Limits.MaxConcurrentAuth
	}

	if c.Retention.JournalRetentionHours != 0 {
		cfg.JournalRetentionHours = c.Retention.JournalRetentionHours
	}

	if c.Retention.CleanupIntervalMinutes != 0 {
		cfg.CleanupIntervalMinutes = c.Retention.CleanupIntervalMinutes
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
