package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chaz8081/blecfg/internal/ble"
	"github.com/chaz8081/blecfg/internal/ble/wifiscan"
	"github.com/chaz8081/blecfg/internal/device"
	"github.com/chaz8081/blecfg/internal/store"
)

func ptr[T any](v T) *T { return &v }

func TestSignalBars(t *testing.T) {
	assert.Equal(t, "▂▄▆█", SignalBars(-40))
	assert.Equal(t, "▂▄▆ ", SignalBars(-60))
	assert.Equal(t, "▂▄  ", SignalBars(-65))
	assert.Equal(t, "▂   ", SignalBars(-90))
}

func TestDevices(t *testing.T) {
	out := Devices([]ble.Device{
		{Name: "ESP32_Device", Address: "AA:BB:CC:DD:EE:FF", RSSI: -48},
		{Address: "11:22:33:44:55:66", RSSI: -80},
	})
	assert.Contains(t, out, "found: 2")
	assert.Contains(t, out, "ESP32_Device")
	assert.Contains(t, out, "(unnamed)")
	assert.Contains(t, out, "-80 dBm")

	assert.Contains(t, Devices(nil), "No devices found.")
}

func TestNetworks(t *testing.T) {
	out := Networks(wifiscan.Event{Kind: wifiscan.EventComplete, Networks: []wifiscan.Network{
		{SSID: "home", RSSI: -45, Encrypted: true},
		{SSID: "guest", RSSI: -75},
	}})
	assert.Contains(t, out, "found: 2")
	assert.Contains(t, out, "home")
	assert.Contains(t, out, "* ")
	assert.Contains(t, out, "-75 dBm")

	assert.Contains(t, Networks(wifiscan.Event{Kind: wifiscan.EventEmpty}), "No networks found.")
	assert.Contains(t, Networks(wifiscan.Event{Kind: wifiscan.EventProgress, Received: 1, Total: 3}), "1 of 3")
}

func TestConfigHidesPassword(t *testing.T) {
	cfg := device.DefaultConfig()
	cfg.WiFiSSID = "home"
	cfg.WiFiPassword = "hunter22"

	out := Config(cfg)
	assert.Contains(t, out, "ESP32_Device")
	assert.Contains(t, out, "5000 ms")
	assert.Contains(t, out, device.PasswordRedacted)
	assert.NotContains(t, out, "hunter22")
}

func TestSensorMissingFields(t *testing.T) {
	up := device.Uptime(time.Hour + 2*time.Minute)
	out := Sensor(device.SensorReading{Temperature: ptr(21.54), Timestamp: &up})
	assert.Contains(t, out, "21.5 °C")
	assert.Contains(t, out, "n/a")
	assert.Contains(t, out, "1h 2m")
}

func TestWiFiStatus(t *testing.T) {
	assert.Contains(t, WiFiStatus(device.WiFiStatus{Status: "wifi_connected", SSID: "home", IPAddress: "10.0.0.5"}), "connected to home")
	assert.Contains(t, WiFiStatus(device.WiFiStatus{Status: "wifi_connecting"}), "wifi connecting")
	assert.Contains(t, WiFiStatus(device.WiFiStatus{Status: "error", Message: "auth failed"}), "auth failed")
}

func TestProgress(t *testing.T) {
	assert.Contains(t, Progress(50, 10), " 50%")
	assert.Contains(t, Progress(150, 10), "100%")
	assert.Equal(t, "  0%", Progress(-5, 0))
}

func TestHistory(t *testing.T) {
	now := time.Now()
	out := Readings([]store.Reading{{Device: "AA:BB", Reading: device.SensorReading{Humidity: ptr(40.0)}, RecordedAt: now}})
	assert.Contains(t, out, "AA:BB")
	assert.Contains(t, out, "hum=40.0")
	assert.Contains(t, out, "temp=n/a")

	out = Uploads([]store.Upload{{Device: "AA:BB", ImageName: "fw.bin", SizeBytes: 1000, Error: "write failed", StartedAt: now}})
	assert.Contains(t, out, "fw.bin")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "write failed")

	assert.Contains(t, Readings(nil), "No readings recorded.")
	assert.Contains(t, Uploads(nil), "No uploads recorded.")
}
