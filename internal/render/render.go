// Package render formats protocol data for the terminal.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/blecfg/internal/ble"
	"github.com/chaz8081/blecfg/internal/ble/wifiscan"
	"github.com/chaz8081/blecfg/internal/device"
	"github.com/chaz8081/blecfg/internal/store"
)

const timeLayout = "2006-01-02 15:04:05"

// SignalBars maps an RSSI in dBm to a four-step bar glyph.
func SignalBars(rssi int) string {
	switch {
	case rssi >= -50:
		return "▂▄▆█"
	case rssi >= -60:
		return "▂▄▆ "
	case rssi >= -70:
		return "▂▄  "
	default:
		return "▂   "
	}
}

// Devices lists discovered peripherals, strongest first as given.
func Devices(devices []ble.Device) string {
	lines := []string{st.title.Render("Devices"), st.header.Render(fmt.Sprintf("found: %d", len(devices)))}
	if len(devices) == 0 {
		lines = append(lines, st.empty.Render("No devices found."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			SignalBars(d.RSSI),
			st.value.Render(fmt.Sprintf("%-20s", name)),
			st.header.Render(d.Address),
			st.header.Render(fmt.Sprintf("%d dBm", d.RSSI)),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Networks renders a scan event. Only complete and empty events carry a list.
func Networks(ev wifiscan.Event) string {
	switch ev.Kind {
	case wifiscan.EventStarted:
		return st.header.Render("Scanning for networks...")
	case wifiscan.EventProgress:
		return st.header.Render(fmt.Sprintf("Received %d of %d packets", ev.Received, ev.Total))
	case wifiscan.EventEmpty:
		return st.empty.Render("No networks found.")
	}

	lines := []string{st.title.Render("Networks"), st.header.Render(fmt.Sprintf("found: %d", len(ev.Networks)))}
	for _, n := range ev.Networks {
		lock := " "
		if n.Encrypted {
			lock = "*"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			SignalBars(n.RSSI),
			lock,
			st.value.Render(fmt.Sprintf("%-32s", n.SSID)),
			st.header.Render(fmt.Sprintf("%d dBm", n.RSSI)),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Config renders the device configuration. The stored password is never shown.
func Config(cfg device.Config) string {
	password := "(none)"
	if cfg.WiFiPassword != "" {
		password = device.PasswordRedacted
	}
	led := "off"
	if cfg.LEDEnabled {
		led = "on"
	}
	rows := [][2]string{
		{"name", cfg.DeviceName},
		{"id", cfg.DeviceID},
		{"refresh rate", fmt.Sprintf("%d ms", cfg.RefreshRate)},
		{"led", led},
		{"sensor interval", fmt.Sprintf("%d s", cfg.SensorUpdateInterval)},
		{"calibration", strconv.FormatFloat(cfg.CalibrationFactor, 'f', -1, 64)},
		{"wifi ssid", cfg.WiFiSSID},
		{"wifi password", password},
	}
	return keyValues("Device configuration", rows)
}

// Sensor renders one telemetry sample. Missing fields show as n/a.
func Sensor(r device.SensorReading) string {
	uptime := "n/a"
	if r.Timestamp != nil {
		uptime = r.Timestamp.String()
	}
	rows := [][2]string{
		{"temperature", optional(r.Temperature, "%.1f °C")},
		{"humidity", optional(r.Humidity, "%.1f %%")},
		{"battery", optional(r.BatteryLevel, "%.0f %%")},
		{"uptime", uptime},
	}
	return keyValues("Sensor", rows)
}

// WiFiStatus renders one provisioning progress report on a single line.
func WiFiStatus(s device.WiFiStatus) string {
	var line string
	switch {
	case s.Connected():
		line = st.good.Render(fmt.Sprintf("connected to %s", s.SSID))
		if s.IPAddress != "" {
			line += st.header.Render(" (" + s.IPAddress + ")")
		}
	case s.IsError():
		line = st.failure.Render("error")
	default:
		line = st.warning.Render(strings.ReplaceAll(s.Status, "_", " "))
	}
	if s.Message != "" {
		line += " " + st.header.Render(s.Message)
	}
	return line
}

// Progress renders an upload progress bar of the given width.
func Progress(pct, width int) string {
	pct = max(0, min(100, pct))
	if width <= 0 {
		return fmt.Sprintf("%3d%%", pct)
	}
	filled := width * pct / 100
	bar := st.barFill.Render(strings.Repeat("█", filled)) + st.barEmpty.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("[%s] %3d%%", bar, pct)
}

// Readings renders stored telemetry, newest first as given.
func Readings(readings []store.Reading) string {
	lines := []string{st.title.Render("Sensor history")}
	if len(readings) == 0 {
		lines = append(lines, st.empty.Render("No readings recorded."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for _, r := range readings {
		lines = append(lines, fmt.Sprintf("%s  %s  temp=%s hum=%s batt=%s",
			st.header.Render(r.RecordedAt.Local().Format(timeLayout)),
			st.value.Render(r.Device),
			optional(r.Reading.Temperature, "%.1f"),
			optional(r.Reading.Humidity, "%.1f"),
			optional(r.Reading.BatteryLevel, "%.0f"),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Uploads renders stored firmware upload attempts.
func Uploads(uploads []store.Upload) string {
	lines := []string{st.title.Render("Firmware uploads")}
	if len(uploads) == 0 {
		lines = append(lines, st.empty.Render("No uploads recorded."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for _, u := range uploads {
		outcome := st.good.Render("ok")
		detail := u.Message
		if !u.Success {
			outcome = st.failure.Render("failed")
			if u.Error != "" {
				detail = u.Error
			}
		}
		lines = append(lines, fmt.Sprintf("%s  %s  %s  %d bytes  %s  %s %s",
			st.header.Render(u.StartedAt.Local().Format(timeLayout)),
			st.value.Render(u.Device),
			u.ImageName,
			u.SizeBytes,
			st.header.Render(u.Fingerprint),
			outcome,
			st.header.Render(detail),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Duration renders d rounded for humans.
func Duration(d time.Duration) string {
	return d.Round(10 * time.Millisecond).String()
}

func keyValues(title string, rows [][2]string) string {
	lines := []string{st.title.Render(title)}
	for _, row := range rows {
		v := row[1]
		if v == "" {
			v = st.empty.Render("-")
		} else {
			v = st.value.Render(v)
		}
		lines = append(lines, st.key.Render(fmt.Sprintf("%-16s", row[0]+":"))+" "+v)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func optional(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}
