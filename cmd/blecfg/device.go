package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blecfg/internal/ble"
	"github.com/chaz8081/blecfg/internal/device"
	"github.com/chaz8081/blecfg/internal/render"
	"github.com/chaz8081/blecfg/internal/store"
)

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newScanCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List peripherals advertising the configured service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := ble.ScanForDevices(cmd.Context(), ble.NewTinyGoAdapter(), a.topo, a.cfg.BLE.ScanTimeout)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, devices)
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.Devices(devices))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or update the device configuration",
	}
	cmd.AddCommand(newConfigGetCmd(a), newConfigSetCmd(a))
	return cmd
}

func newConfigGetCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the device configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer disconnect(client)

			cfg, err := client.FetchConfig(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, cfg.ForWrite())
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.Config(cfg))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON (password redacted)")
	return cmd
}

// configFields are the config set flags that change a device field.
var configFields = []string{"name", "refresh-rate", "led", "sensor-interval", "calibration", "ssid", "password"}

func newConfigSetCmd(a *app) *cobra.Command {
	var (
		name        string
		refreshRate int
		led         bool
		interval    int
		calibration float64
		ssid        string
		password    string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change device configuration fields",
		Long:  "Reads the current configuration, applies the given flags and writes the result back. Unset flags keep their current value.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if !slices.ContainsFunc(configFields, flags.Changed) {
				return fmt.Errorf("nothing to change; see --help for the available fields")
			}

			client, _, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer disconnect(client)

			cfg, err := client.FetchConfig(cmd.Context())
			if err != nil {
				return err
			}
			if flags.Changed("name") {
				cfg.DeviceName = name
			}
			if flags.Changed("refresh-rate") {
				cfg.RefreshRate = refreshRate
			}
			if flags.Changed("led") {
				cfg.LEDEnabled = led
			}
			if flags.Changed("sensor-interval") {
				cfg.SensorUpdateInterval = interval
			}
			if flags.Changed("calibration") {
				cfg.CalibrationFactor = calibration
			}
			if flags.Changed("ssid") {
				cfg.WiFiSSID = ssid
			}
			if flags.Changed("password") {
				cfg.WiFiPassword = password
			}

			if err := client.UpdateConfig(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.Config(cfg))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "device name (max 32 chars)")
	f.IntVar(&refreshRate, "refresh-rate", 0, "refresh rate in ms (1000-60000)")
	f.BoolVar(&led, "led", false, "enable the status LED")
	f.IntVar(&interval, "sensor-interval", 0, "sensor update interval in seconds (5-3600)")
	f.Float64Var(&calibration, "calibration", 0, "calibration factor (0-10]")
	f.StringVar(&ssid, "ssid", "", "stored WiFi SSID")
	f.StringVar(&password, "password", "", "stored WiFi password (empty keeps the current one)")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var noRecord bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream sensor telemetry and record it to the history store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var db *store.DB
			if !noRecord {
				var err error
				if db, err = a.openStore(); err != nil {
					return err
				}
				defer db.Close()
			}

			p, err := a.newPeripheral()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			p.client.OnSensor(func(r device.SensorReading) {
				fmt.Fprintln(out, render.Sensor(r))
				if db == nil {
					return
				}
				dev, _ := p.client.Session().Device()
				_, err := db.RecordReading(ctx, store.Reading{
					SessionID: p.client.Session().ID(),
					Device:    dev.Address,
					Reading:   r,
				})
				if err != nil {
					slog.Warn("recording reading failed", "error", err)
				}
			})
			p.client.OnDisconnect(func() {
				slog.Warn("[BLE] peripheral disconnected")
				cancel()
			})

			if _, err := a.connect(ctx, p); err != nil {
				return err
			}
			defer disconnect(p.client)

			if _, ok := a.topo.Channel(ble.RoleSensor); ok {
				_, err := p.client.FetchSensor(ctx)
				switch {
				case errors.Is(err, ble.ErrNoReading):
					slog.Debug("[BLE] sensor channel has no reading yet")
				case err != nil:
					slog.Warn("[BLE] initial sensor read failed", "error", err)
				}
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "do not write readings to the history store")
	return cmd
}
