package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644), "failed to write test config")
	return cfgPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "generic", cfg.BLE.Topology)
	assert.Equal(t, 15*time.Second, cfg.BLE.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.BLE.OpTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.BLE.SettleDelay)
	assert.Equal(t, 20*time.Millisecond, cfg.OTA.ChunkDelay)
	assert.NotEmpty(t, cfg.Store.Path)
	assert.Equal(t, "127.0.0.1:8765", cfg.Bridge.Listen)
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
log_level: debug
ble:
  topology: split
  device: "AA:BB:CC:DD:EE:FF"
  connect_timeout: 30s
  settle_delay: 250ms
ota:
  chunk_delay: 40ms
store:
  path: /tmp/blecfg.db
bridge:
  listen: ":9000"
`)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "split", cfg.BLE.Topology)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.BLE.Device)
	assert.Equal(t, 30*time.Second, cfg.BLE.ConnectTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.BLE.SettleDelay)
	assert.Equal(t, 5*time.Second, cfg.BLE.OpTimeout, "unset keys keep their defaults")
	assert.Equal(t, 40*time.Millisecond, cfg.OTA.ChunkDelay)
	assert.Equal(t, "/tmp/blecfg.db", cfg.Store.Path)
	assert.Equal(t, ":9000", cfg.Bridge.Listen)
}

func TestLoadCustomTopology(t *testing.T) {
	cfgPath := writeConfig(t, `
ble:
  topology: custom
  service_uuid: 7e3a0000-4c1d-4b6e-9a2f-5d8c1b2e0a10
  channels:
    config: 7e3a0001-4c1d-4b6e-9a2f-5d8c1b2e0a10
    sensor: 7e3a0003-4c1d-4b6e-9a2f-5d8c1b2e0a10
`)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "7e3a0003-4c1d-4b6e-9a2f-5d8c1b2e0a10", cfg.BLE.Channels.Sensor)
	assert.Empty(t, cfg.BLE.Channels.OTA)
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	cfg, err := Load(writeConfig(t, "store:\n  path: ~/data/history.db\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data/history.db"), cfg.Store.Path)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "ble: [unterminated"))
	assert.Error(t, err, "malformed YAML")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "split topology",
			modify:  func(c *Config) { c.BLE.Topology = "split" },
			wantErr: false,
		},
		{
			name:    "unknown topology",
			modify:  func(c *Config) { c.BLE.Topology = "dual" },
			wantErr: true,
		},
		{
			name:    "custom topology without service",
			modify:  func(c *Config) { c.BLE.Topology = "custom" },
			wantErr: true,
		},
		{
			name: "custom topology with bad channel UUID",
			modify: func(c *Config) {
				c.BLE.Topology = "custom"
				c.BLE.ServiceUUID = "7e3a0000-4c1d-4b6e-9a2f-5d8c1b2e0a10"
				c.BLE.Channels.Config = "7e3a0001-4c1d-4b6e-9a2f-5d8c1b2e0a10"
				c.BLE.Channels.OTA = "2A25"
			},
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.BLE.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero op timeout",
			modify:  func(c *Config) { c.BLE.OpTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero settle delay allowed",
			modify:  func(c *Config) { c.BLE.SettleDelay = 0 },
			wantErr: false,
		},
		{
			name:    "negative chunk delay",
			modify:  func(c *Config) { c.OTA.ChunkDelay = -time.Millisecond },
			wantErr: true,
		},
		{
			name:    "empty store path",
			modify:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
		},
		{
			name:    "empty bridge address",
			modify:  func(c *Config) { c.Bridge.Listen = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpHome, ".config", "blecfg", "config.yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# blecfg"), "written config should start with header comment")

	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg), "written config is not valid YAML")
	assert.Equal(t, "generic", cfg.BLE.Topology)
	assert.Equal(t, 15*time.Second, cfg.BLE.ConnectTimeout)
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "blecfg")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, existingContent, 0644))

	path, err := WriteDefault()
	require.NoError(t, err)
	assert.Empty(t, path, "existing file is left alone")

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, existingContent, data, "WriteDefault() should not overwrite existing config file")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.input))
		})
	}
}
