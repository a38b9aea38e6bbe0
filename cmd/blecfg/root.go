package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blecfg/internal/ble"
	"github.com/chaz8081/blecfg/internal/config"
	"github.com/chaz8081/blecfg/internal/store"
)

// app carries the global flags and everything derived from them.
type app struct {
	configPath string
	logLevel   string
	device     string

	cfg  *config.Config
	topo ble.Topology
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "blecfg",
		Short:        "Configure and monitor ESP32 peripherals over Bluetooth LE",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to config file (default: ~/.config/blecfg/config.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	pf.StringVarP(&a.device, "device", "d", "", "device address or name (default: strongest signal)")

	root.AddCommand(
		newInitCmd(),
		newScanCmd(a),
		newConfigCmd(a),
		newWatchCmd(a),
		newWiFiCmd(a),
		newOTACmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, source, err := loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.device != "" {
		cfg.BLE.Device = a.device
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))
	if source != "" {
		slog.Debug("config loaded", "path", source)
	} else {
		slog.Debug("no config file found, using defaults")
	}

	topo, err := ble.NewTopology(cfg.BLE.Topology, cfg.BLE.ServiceUUID, map[ble.Role]string{
		ble.RoleConfig: cfg.BLE.Channels.Config,
		ble.RoleStatus: cfg.BLE.Channels.Status,
		ble.RoleSensor: cfg.BLE.Channels.Sensor,
		ble.RoleOTA:    cfg.BLE.Channels.OTA,
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	a.cfg = cfg
	a.topo = topo
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults. It also returns the
// file that was read, if any.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, nil
	}

	return config.Default(), "", nil
}

func (a *app) clientOptions() ble.ClientOptions {
	opts := ble.DefaultClientOptions()
	opts.Session.ConnectTimeout = a.cfg.BLE.ConnectTimeout
	opts.Session.OpTimeout = a.cfg.BLE.OpTimeout
	opts.SettleDelay = a.cfg.BLE.SettleDelay
	opts.ChunkDelay = a.cfg.OTA.ChunkDelay
	return opts
}

// peripheral is a client bound to the platform adapter but not yet connected,
// so callers can register listeners before the initial config read.
type peripheral struct {
	adapter ble.Adapter
	client  *ble.Client
}

func (a *app) newPeripheral() (*peripheral, error) {
	adapter := ble.NewTinyGoAdapter()
	client, err := ble.NewClient(adapter, a.topo, a.clientOptions())
	if err != nil {
		return nil, err
	}
	return &peripheral{adapter: adapter, client: client}, nil
}

// connect finds the configured device and opens a session to it.
func (a *app) connect(ctx context.Context, p *peripheral) (ble.Device, error) {
	slog.Info("[BLE] scanning", "service", a.topo.Service, "target", a.cfg.BLE.Device, "timeout", a.cfg.BLE.ScanTimeout)
	dev, err := ble.FindDevice(ctx, p.adapter, a.topo, a.cfg.BLE.Device, a.cfg.BLE.ScanTimeout)
	if err != nil {
		return ble.Device{}, err
	}
	if err := p.client.Connect(ctx, dev); err != nil {
		return ble.Device{}, fmt.Errorf("connecting to %s: %w", dev.Address, err)
	}
	slog.Info("[BLE] connected", "name", dev.Name, "address", dev.Address, "session", p.client.Session().ID())
	return dev, nil
}

// dial is newPeripheral followed by connect for commands that need no
// listeners during connection setup.
func (a *app) dial(ctx context.Context) (*ble.Client, ble.Device, error) {
	p, err := a.newPeripheral()
	if err != nil {
		return nil, ble.Device{}, err
	}
	dev, err := a.connect(ctx, p)
	if err != nil {
		return nil, ble.Device{}, err
	}
	return p.client, dev, nil
}

func (a *app) openStore() (*store.DB, error) {
	db, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func disconnect(client *ble.Client) {
	if err := client.Disconnect(); err != nil {
		slog.Warn("[BLE] disconnect failed", "error", err)
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
			return nil
		},
	}
}
