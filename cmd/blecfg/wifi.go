package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blecfg/internal/ble/wifiscan"
	"github.com/chaz8081/blecfg/internal/device"
	"github.com/chaz8081/blecfg/internal/render"
)

func newWiFiCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wifi",
		Short: "Scan for and join WiFi networks through the peripheral",
	}
	cmd.AddCommand(newWiFiScanCmd(a), newWiFiJoinCmd(a))
	return cmd
}

func newWiFiScanCmd(a *app) *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Ask the peripheral to scan and print the networks it finds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.newPeripheral()
			if err != nil {
				return err
			}

			result := make(chan wifiscan.Event, 1)
			p.client.OnWiFiScan(func(ev wifiscan.Event) {
				switch ev.Kind {
				case wifiscan.EventComplete, wifiscan.EventEmpty:
					select {
					case result <- ev:
					default:
					}
				default:
					if !asJSON {
						fmt.Fprintln(cmd.ErrOrStderr(), render.Networks(ev))
					}
				}
			})

			if _, err := a.connect(cmd.Context(), p); err != nil {
				return err
			}
			defer disconnect(p.client)

			if err := p.client.ScanWiFi(cmd.Context()); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			select {
			case ev := <-result:
				if asJSON {
					return writeJSON(cmd, ev.Networks)
				}
				fmt.Fprintln(cmd.OutOrStdout(), render.Networks(ev))
				return nil
			case <-ctx.Done():
				return fmt.Errorf("wifi scan: no complete result within %s", timeout)
			}
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for scan results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newWiFiJoinCmd(a *app) *cobra.Command {
	var (
		password string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "join SSID",
		Short: "Send WiFi credentials and follow the connection attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.newPeripheral()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			final := make(chan device.WiFiStatus, 1)
			p.client.OnWiFiStatus(func(st device.WiFiStatus) {
				fmt.Fprintln(out, render.WiFiStatus(st))
				if st.Terminal() {
					select {
					case final <- st:
					default:
					}
				}
			})

			if _, err := a.connect(cmd.Context(), p); err != nil {
				return err
			}
			defer disconnect(p.client)

			if err := p.client.ConnectWiFi(cmd.Context(), args[0], password); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			select {
			case st := <-final:
				if !st.Connected() {
					return fmt.Errorf("wifi join: %s", st.Status)
				}
				return nil
			case <-ctx.Done():
				return fmt.Errorf("wifi join: no final status within %s", timeout)
			}
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "network password")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the connection result")
	return cmd
}
