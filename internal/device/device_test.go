package device

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "empty device name", modify: func(c *Config) { c.DeviceName = "" }, wantErr: "deviceName must not be empty"},
		{name: "refresh rate too low", modify: func(c *Config) { c.RefreshRate = 999 }, wantErr: "refreshRate must be >= 1000"},
		{name: "refresh rate too high", modify: func(c *Config) { c.RefreshRate = 60001 }, wantErr: "refreshRate must be <= 60000"},
		{name: "sensor interval too low", modify: func(c *Config) { c.SensorUpdateInterval = 4 }, wantErr: "sensorUpdateInterval must be >= 5"},
		{name: "sensor interval too high", modify: func(c *Config) { c.SensorUpdateInterval = 3601 }, wantErr: "sensorUpdateInterval must be <= 3600"},
		{name: "zero calibration", modify: func(c *Config) { c.CalibrationFactor = 0 }, wantErr: "calibrationFactor must be > 0"},
		{name: "calibration too high", modify: func(c *Config) { c.CalibrationFactor = 10.5 }, wantErr: "calibrationFactor must be <= 10"},
		{name: "ssid too long", modify: func(c *Config) { c.WiFiSSID = "0123456789012345678901234567890123" }, wantErr: "wifiSSID must be at most 32 characters"},
		{name: "boundaries accepted", modify: func(c *Config) {
			c.RefreshRate = 1000
			c.SensorUpdateInterval = 3600
			c.CalibrationFactor = 10
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigJSONRoundTripWithFirmwareShape(t *testing.T) {
	payload := `{"deviceName":"ESP32_Device","deviceId":"AA:BB:CC:DD:EE:FF","refreshRate":5000,` +
		`"ledEnabled":true,"sensorUpdateInterval":60,"calibrationFactor":1.00,"wifiSSID":"home","wifiPassword":"****"}`

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(payload), &cfg))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.DeviceID)
	assert.True(t, cfg.HasStoredPassword())

	out, err := json.Marshal(cfg.ForWrite())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "deviceId")
	assert.Contains(t, string(out), `"wifiPassword":"****"`)
}

func TestForWriteRedactsEmptyPassword(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeviceID = "AA:BB:CC:DD:EE:FF"
	assert.Equal(t, PasswordRedacted, cfg.ForWrite().WiFiPassword)
	assert.Empty(t, cfg.WiFiPassword)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.DeviceID)

	cfg.WiFiPassword = "hunter22"
	assert.Equal(t, "hunter22", cfg.ForWrite().WiFiPassword)
}

func TestUptimeString(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{3*time.Minute + 4*time.Second, "3m 4s"},
		{time.Hour + 2*time.Minute + 30*time.Second, "1h 2m"},
		{26 * time.Hour, "26h 0m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Uptime(tt.in).String())
	}
}

func TestSensorReadingDecode(t *testing.T) {
	var r SensorReading
	require.NoError(t, json.Unmarshal([]byte(`{"timestamp":125000,"temperature":24,"humidity":55.5,"batteryLevel":87}`), &r))

	require.NotNil(t, r.Temperature)
	assert.InDelta(t, 24.0, *r.Temperature, 1e-9)
	assert.InDelta(t, 55.5, *r.Humidity, 1e-9)
	assert.InDelta(t, 87.0, *r.BatteryLevel, 1e-9)
	require.NotNil(t, r.Timestamp)
	assert.Equal(t, 125*time.Second, r.Timestamp.Duration())
	assert.Equal(t, "2m 5s", r.Timestamp.String())
	assert.False(t, r.Empty())

	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"timestamp":125000`)

	assert.True(t, SensorReading{}.Empty())
}

func TestWiFiStatus(t *testing.T) {
	assert.True(t, WiFiStatus{Status: "error"}.IsError())
	assert.True(t, WiFiStatus{Status: "error"}.Terminal())
	assert.True(t, WiFiStatus{Status: "wifi_connected"}.Connected())
	assert.False(t, WiFiStatus{Status: "wifi_connecting"}.Terminal())
	assert.False(t, WiFiStatus{Status: "credentials_received"}.Terminal())
}

func TestOTAResultSuccess(t *testing.T) {
	assert.True(t, OTAResult{Status: "success"}.Success())
	assert.False(t, OTAResult{Status: "failed"}.Success())
	assert.False(t, OTAResult{}.Success())
}
