package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blecfg/internal/bridge"
	"github.com/chaz8081/blecfg/internal/device"
	"github.com/chaz8081/blecfg/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		listen   string
		noRecord bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect and stream device events over WebSocket",
		Long:  "Connects to the peripheral and serves GET /events (WebSocket), GET /healthz and POST /ota (firmware image body, optional ?name=).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = a.cfg.Bridge.Listen
			}

			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := a.newPeripheral()
			if err != nil {
				return err
			}
			address := func() string {
				dev, _ := p.client.Session().Device()
				return dev.Address
			}

			bus := bridge.NewEventBus(bridge.DefaultBuffer)
			bridge.Attach(bus, p.client.Router)
			uploads := newOTARecorder(p.client, db, address)

			if !noRecord {
				p.client.OnSensor(func(r device.SensorReading) {
					_, err := db.RecordReading(cmd.Context(), store.Reading{
						SessionID: p.client.Session().ID(),
						Device:    address(),
						Reading:   r,
					})
					if err != nil {
						slog.Warn("recording reading failed", "error", err)
					}
				})
			}
			p.client.OnDisconnect(func() {
				slog.Warn("[BRIDGE] peripheral disconnected; serving until interrupted")
			})

			if _, err := a.connect(cmd.Context(), p); err != nil {
				return err
			}
			defer disconnect(p.client)

			handler := bridge.NewHandler(bus, func() bridge.Health {
				return bridge.Health{
					Connected: p.client.IsConnected(),
					Device:    address(),
					SessionID: p.client.Session().ID(),
				}
			}, uploads)
			return bridge.Serve(cmd.Context(), listen, handler)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: bridge.listen from config)")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "do not write sensor readings to the history store")
	return cmd
}
