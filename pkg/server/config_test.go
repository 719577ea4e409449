package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gamegineer/tablenet/pkg/protocol"
)

func TestDefaultTOMLConfigIncludesTableSettings(t *testing.T) {
	cfg := DefaultTOMLConfig()

	if cfg.Server.HTTPPort <= 0 {
		t.Fatalf("expected default HTTP port to be positive, got %d", cfg.Server.HTTPPort)
	}

	if cfg.Table.HostPlayer == "" {
		t.Fatal("expected default host player to be set")
	}

	if len(cfg.Table.SupportedVersions) != 1 || cfg.Table.SupportedVersions[0] != uint32(protocol.CurrentVersion) {
		t.Fatalf("expected default supported versions [%d], got %v", protocol.CurrentVersion, cfg.Table.SupportedVersions)
	}
}

func TestToServerConfigMapsTableSettings(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Table.Password = "sesame"
	cfg.Table.HostPlayer = "gm"
	cfg.Table.SupportedVersions = []uint32{1, 2}
	cfg.Limits.MaxConnections = 8
	cfg.Limits.MaxConcurrentAuth = 2

	serverCfg := cfg.ToServerConfig()

	if serverCfg.Password != "sesame" {
		t.Fatalf("expected password sesame, got %q", serverCfg.Password)
	}

	if serverCfg.HostPlayer != "gm" {
		t.Fatalf("expected host player gm, got %s", serverCfg.HostPlayer)
	}

	if len(serverCfg.SupportedVersions) != 2 || serverCfg.SupportedVersions[1] != 2 {
		t.Fatalf("expected supported versions [1 2], got %v", serverCfg.SupportedVersions)
	}

	if serverCfg.MaxConnections != 8 {
		t.Fatalf("expected MaxConnections 8, got %d", serverCfg.MaxConnections)
	}

	if serverCfg.MaxConcurrentAuth != 2 {
		t.Fatalf("expected MaxConcurrentAuth 2, got %d", serverCfg.MaxConcurrentAuth)
	}
}

func TestToServerConfigFallsBackToDefaults(t *testing.T) {
	var cfg TOMLConfig

	serverCfg := cfg.ToServerConfig()

	defaults := DefaultConfig()

	if serverCfg.TCPPort != defaults.TCPPort {
		t.Fatalf("expected fallback TCPPort %d, got %d", defaults.TCPPort, serverCfg.TCPPort)
	}

	if serverCfg.HostPlayer != defaults.HostPlayer {
		t.Fatalf("expected fallback HostPlayer %s, got %s", defaults.HostPlayer, serverCfg.HostPlayer)
	}

	if serverCfg.MaxPlayerNameLength != defaults.MaxPlayerNameLength {
		t.Fatalf("expected fallback MaxPlayerNameLength %d, got %d", defaults.MaxPlayerNameLength, serverCfg.MaxPlayerNameLength)
	}

	if serverCfg.MaxConcurrentAuth != DefaultMaxConcurrentAuth {
		t.Fatalf("expected fallback MaxConcurrentAuth %d, got %d", DefaultMaxConcurrentAuth, serverCfg.MaxConcurrentAuth)
	}

	if serverCfg.JournalRetentionHours != defaults.JournalRetentionHours {
		t.Fatalf("expected fallback JournalRetentionHours %d, got %d", defaults.JournalRetentionHours, serverCfg.JournalRetentionHours)
	}

	if len(serverCfg.SupportedVersions) != 1 || serverCfg.SupportedVersions[0] != protocol.CurrentVersion {
		t.Fatalf("expected fallback supported versions, got %v", serverCfg.SupportedVersions)
	}
}

func TestToServerConfigNegativeHTTPPortDisablesHTTP(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Server.HTTPPort = -1

	if got := cfg.ToServerConfig().HTTPPort; got != 0 {
		t.Fatalf("expected HTTP disabled, got port %d", got)
	}
}

func TestLoadConfigWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.TCPPort != DefaultConfig().TCPPort {
		t.Fatalf("expected default TCP port, got %d", cfg.Server.TCPPort)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reloading written config failed: %v", err)
	}
	if reloaded.Table.HostPlayer != cfg.Table.HostPlayer {
		t.Fatalf("expected host player %s after reload, got %s", cfg.Table.HostPlayer, reloaded.Table.HostPlayer)
	}
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
tcp_port = 9000

[table]
password = "swordfish"
host_player = "alice"
supported_versions = [1]

[limits]
max_player_name_length = 12
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	serverCfg := cfg.ToServerConfig()
	if serverCfg.TCPPort != 9000 || serverCfg.Password != "swordfish" || serverCfg.HostPlayer != "alice" {
		t.Fatalf("unexpected config: %+v", serverCfg)
	}
	if serverCfg.MaxPlayerNameLength != 12 {
		t.Fatalf("expected MaxPlayerNameLength 12, got %d", serverCfg.MaxPlayerNameLength)
	}
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\ntcp_port = "), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}
