// Package device defines the JSON payloads exchanged with the peripheral
// firmware: persisted configuration, sensor telemetry, WiFi provisioning
// status and OTA results.
package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chaz8081/blecfg/internal/ble/envelope"
)

// PasswordRedacted is what the firmware reports in place of a stored WiFi
// password. Writing it back means "leave the password unchanged".
const PasswordRedacted = "****"

// Config is the persisted device configuration.
type Config struct {
	DeviceName           string  `json:"deviceName" validate:"required,max=32"`
	DeviceID             string  `json:"deviceId,omitempty"`
	RefreshRate          int     `json:"refreshRate" validate:"min=1000,max=60000"`
	LEDEnabled           bool    `json:"ledEnabled"`
	SensorUpdateInterval int     `json:"sensorUpdateInterval" validate:"min=5,max=3600"`
	CalibrationFactor    float64 `json:"calibrationFactor" validate:"gt=0,lte=10"`
	WiFiSSID             string  `json:"wifiSSID" validate:"max=32"`
	WiFiPassword         string  `json:"wifiPassword" validate:"max=64"`
}

// DefaultConfig mirrors the firmware's factory defaults.
func DefaultConfig() Config {
	return Config{
		DeviceName:           "ESP32_Device",
		RefreshRate:          5000,
		LEDEnabled:           true,
		SensorUpdateInterval: 60,
		CalibrationFactor:    1.0,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			return name
		})
	})
	return validate
}

// Validate checks the ranges the firmware silently clamps or ignores, so
// the caller learns about a rejected value before it is written.
func (c Config) Validate() error {
	err := structValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("device: validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("device: invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be >= %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be <= %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be > %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be <= %s, got %v", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
}

// HasStoredPassword reports whether the device holds a WiFi password.
func (c Config) HasStoredPassword() bool {
	return c.WiFiPassword == PasswordRedacted
}

// ForWrite returns a copy suitable for sending to the device: the read-only
// device id is dropped and an empty password is replaced by the redaction
// sentinel so the stored one is kept.
func (c Config) ForWrite() Config {
	out := c
	out.DeviceID = ""
	if out.WiFiPassword == "" {
		out.WiFiPassword = PasswordRedacted
	}
	return out
}

// Uptime is a device uptime carried on the wire as milliseconds since boot.
type Uptime time.Duration

// Duration returns the underlying time.Duration value.
func (u Uptime) Duration() time.Duration { return time.Duration(u) }

// String formats the uptime as "1h 2m", "3m 4s" or "5s".
func (u Uptime) String() string {
	secs := int64(time.Duration(u) / time.Second)
	mins := secs / 60
	hours := mins / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins%60)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs%60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Uptime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*u = Uptime(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (u Uptime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(u).Milliseconds())
}

// SensorReading is one telemetry notification.
type SensorReading struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	BatteryLevel *float64 `json:"batteryLevel,omitempty"`
	Timestamp    *Uptime  `json:"timestamp,omitempty"`
}

// Empty reports whether the reading carried none of the known fields.
func (r SensorReading) Empty() bool {
	return r.Temperature == nil && r.Humidity == nil && r.BatteryLevel == nil && r.Timestamp == nil
}

// WiFiStatus is a provisioning progress report.
type WiFiStatus struct {
	Status    string `json:"status"`
	SSID      string `json:"wifi_ssid,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	RSSI      *int   `json:"rssi,omitempty"`
	Message   string `json:"message,omitempty"`
}

// IsError reports whether the peripheral reported a provisioning failure.
func (s WiFiStatus) IsError() bool { return s.Status == envelope.StatusError }

// Connected reports whether the peripheral joined the network.
func (s WiFiStatus) Connected() bool { return s.Status == envelope.StatusWiFiConnected }

// Terminal reports whether no further status is expected for this attempt.
func (s WiFiStatus) Terminal() bool {
	return s.IsError() || s.Connected() || s.Status == envelope.StatusWiFiDisconnected
}

// OTAResult is the final report read from the status channel after an upload.
type OTAResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Success reports whether the peripheral accepted the image.
func (r OTAResult) Success() bool { return r.Status == envelope.StatusSuccess }
