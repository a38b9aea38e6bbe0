package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	BLE      BLEConfig    `yaml:"ble"`
	OTA      OTAConfig    `yaml:"ota"`
	Store    StoreConfig  `yaml:"store"`
	Bridge   BridgeConfig `yaml:"bridge"`
}

// BLEConfig holds peripheral discovery and session settings.
type BLEConfig struct {
	Topology       string         `yaml:"topology"` // "generic", "split" or "custom"
	Device         string         `yaml:"device"`   // address or name; empty picks the strongest signal
	ServiceUUID    string         `yaml:"service_uuid,omitempty"`
	Channels       ChannelsConfig `yaml:"channels,omitempty"`
	ScanTimeout    time.Duration  `yaml:"scan_timeout"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout"`
	OpTimeout      time.Duration  `yaml:"op_timeout"`
	SettleDelay    time.Duration  `yaml:"settle_delay"`
}

// ChannelsConfig maps roles to characteristic UUIDs for the custom topology.
type ChannelsConfig struct {
	Config string `yaml:"config,omitempty"`
	Status string `yaml:"status,omitempty"`
	Sensor string `yaml:"sensor,omitempty"`
	OTA    string `yaml:"ota,omitempty"`
}

// OTAConfig holds firmware upload settings.
type OTAConfig struct {
	ChunkDelay time.Duration `yaml:"chunk_delay"`
}

// StoreConfig holds the local history database settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// BridgeConfig holds the event bridge settings.
type BridgeConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blecfg")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	storePath := filepath.Join(home, ".local", "share", "blecfg", "history.db")

	return &Config{
		LogLevel: "info",
		BLE: BLEConfig{
			Topology:       "generic",
			ScanTimeout:    10 * time.Second,
			ConnectTimeout: 15 * time.Second,
			OpTimeout:      5 * time.Second,
			SettleDelay:    500 * time.Millisecond,
		},
		OTA: OTAConfig{
			ChunkDelay: 20 * time.Millisecond,
		},
		Store: StoreConfig{
			Path: storePath,
		},
		Bridge: BridgeConfig{
			Listen: "127.0.0.1:8765",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)

	return cfg, nil
}

const defaultHeader = `# blecfg configuration
#
# ble.topology selects the characteristic layout:
#   generic  one characteristic carries config, status, sensor and OTA traffic
#   split    one purpose-specific characteristic per role
#   custom   use ble.service_uuid and ble.channels
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" if a config
// already existed.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.BLE.Topology {
	case "generic", "split":
	case "custom":
		if err := checkUUID("ble.service_uuid", c.BLE.ServiceUUID, true); err != nil {
			return err
		}
		if err := checkUUID("ble.channels.config", c.BLE.Channels.Config, true); err != nil {
			return err
		}
		for name, id := range map[string]string{
			"ble.channels.status": c.BLE.Channels.Status,
			"ble.channels.sensor": c.BLE.Channels.Sensor,
			"ble.channels.ota":    c.BLE.Channels.OTA,
		} {
			if err := checkUUID(name, id, false); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("ble.topology must be \"generic\", \"split\" or \"custom\", got %q", c.BLE.Topology)
	}

	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}
	if c.BLE.OpTimeout <= 0 {
		return fmt.Errorf("ble.op_timeout must be > 0")
	}
	if c.BLE.SettleDelay < 0 {
		return fmt.Errorf("ble.settle_delay must be >= 0")
	}
	if c.OTA.ChunkDelay < 0 {
		return fmt.Errorf("ota.chunk_delay must be >= 0")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Bridge.Listen == "" {
		return fmt.Errorf("bridge.listen must not be empty")
	}

	return nil
}

func checkUUID(field, value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s must not be empty for the custom topology", field)
		}
		return nil
	}
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%s is not a valid UUID: %q", field, value)
	}
	return nil
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
