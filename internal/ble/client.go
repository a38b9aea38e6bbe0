package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/blecfg/internal/ble/envelope"
	"github.com/chaz8081/blecfg/internal/ble/ota"
	"github.com/chaz8081/blecfg/internal/ble/router"
	"github.com/chaz8081/blecfg/internal/device"
)

// ClientOptions configures the BLE client behavior.
type ClientOptions struct {
	Session     SessionOptions
	SettleDelay time.Duration // pause after each config/command write (default 500ms)
	ChunkDelay  time.Duration // delay between OTA chunk writes (default 20ms)
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Session:     DefaultSessionOptions(),
		SettleDelay: 500 * time.Millisecond,
		ChunkDelay:  ota.DefaultChunkDelay,
	}
}

// Client speaks the config/telemetry protocol over a Session. Listener
// registration (OnConnect, OnData, OnWiFiScan, ...) is promoted from the
// embedded Router.
type Client struct {
	*router.Router

	session *Session
	opts    ClientOptions
}

// NewClient creates a client for the given channel topology.
func NewClient(adapter Adapter, topo Topology, opts ClientOptions) (*Client, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.ChunkDelay <= 0 {
		opts.ChunkDelay = ota.DefaultChunkDelay
	}
	r := router.New()
	return &Client{
		Router:  r,
		session: NewSession(adapter, topo, r, opts.Session),
		opts:    opts,
	}, nil
}

// Session exposes the underlying session.
func (c *Client) Session() *Session { return c.session }

// Connect connects to dev and reads its initial config.
func (c *Client) Connect(ctx context.Context, dev Device) error {
	return c.session.Connect(ctx, dev)
}

// Disconnect closes the session. Safe to call when not connected.
func (c *Client) Disconnect() error {
	return c.session.Disconnect()
}

// IsConnected reports whether the session is Ready and the link is up.
func (c *Client) IsConnected() bool {
	return c.session.IsConnected()
}

// FetchData reads the config channel and notifies data listeners.
func (c *Client) FetchData(ctx context.Context) (envelope.Envelope, error) {
	data, err := c.session.Read(ctx, RoleConfig)
	if err != nil {
		return envelope.Envelope{}, err
	}
	env := envelope.Decode(data)
	slog.Debug("[BLE] received data", "payload", env.String())
	c.EmitData(env)
	return env, nil
}

// SendData encodes payload, writes it to the config channel and gives the
// peripheral the settle delay to process it.
func (c *Client) SendData(ctx context.Context, payload any) error {
	data, err := envelope.Encode(payload)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (c *Client) write(ctx context.Context, data []byte) error {
	slog.Debug("[BLE] sending data", "bytes", len(data))
	if err := c.session.Write(ctx, RoleConfig, data); err != nil {
		return err
	}
	if c.opts.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchConfig reads and decodes the device configuration.
func (c *Client) FetchConfig(ctx context.Context) (device.Config, error) {
	env, err := c.FetchData(ctx)
	if err != nil {
		return device.Config{}, err
	}
	if env.IsText() {
		return device.Config{}, fmt.Errorf("ble: config is not JSON: %q", env.String())
	}
	var cfg device.Config
	if err := env.Unmarshal(&cfg); err != nil {
		return device.Config{}, fmt.Errorf("ble: decode config: %w", err)
	}
	return cfg, nil
}

// UpdateConfig validates cfg and writes it. An empty password is sent as
// the redaction marker so the stored credential is kept.
func (c *Client) UpdateConfig(ctx context.Context, cfg device.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return c.SendData(ctx, cfg.ForWrite())
}

// ScanWiFi asks the peripheral to scan for networks. Results arrive as
// WiFi scan events.
func (c *Client) ScanWiFi(ctx context.Context) error {
	cmd, err := envelope.Command(envelope.CommandScanWiFi, nil)
	if err != nil {
		return err
	}
	return c.write(ctx, cmd)
}

// ConnectWiFi sends network credentials. Progress arrives as WiFi status events.
func (c *Client) ConnectWiFi(ctx context.Context, ssid, password string) error {
	if ssid == "" {
		return errors.New("ble: ssid must not be empty")
	}
	if len(ssid) > 32 {
		return fmt.Errorf("ble: ssid must be at most 32 bytes, got %d", len(ssid))
	}
	cmd, err := envelope.Command(envelope.CommandConnectWiFi, map[string]string{
		"ssid":     ssid,
		"password": password,
	})
	if err != nil {
		return err
	}
	return c.write(ctx, cmd)
}

// FetchSensor reads the sensor channel and notifies sensor listeners. A
// payload without any sensor field yields ErrNoReading; on the single
// characteristic topology that is the config document.
func (c *Client) FetchSensor(ctx context.Context) (device.SensorReading, error) {
	data, err := c.session.Read(ctx, RoleSensor)
	if err != nil {
		return device.SensorReading{}, err
	}
	var reading device.SensorReading
	if err := envelope.Decode(data).Unmarshal(&reading); err != nil {
		return device.SensorReading{}, fmt.Errorf("ble: decode sensor reading: %w", err)
	}
	if reading.Empty() {
		return device.SensorReading{}, ErrNoReading
	}
	c.EmitSensor(reading)
	return reading, nil
}

// UploadFirmware streams image to the OTA channel and reports whether the
// peripheral accepted it. The result is also dispatched to OTA listeners.
func (c *Client) UploadFirmware(ctx context.Context, image []byte, onProgress func(int)) (bool, error) {
	if c.session.State() != StateReady {
		return false, ErrNotConnected
	}
	res, err := ota.Upload(ctx, sessionPort{c.session}, image, ota.Options{ChunkDelay: c.opts.ChunkDelay}, onProgress)
	if err != nil {
		return false, err
	}
	c.EmitOTA(res)
	return res.Success(), nil
}

// sessionPort adapts a Session to the OTA engine.
type sessionPort struct{ s *Session }

func (p sessionPort) WriteChunk(ctx context.Context, chunk []byte) error {
	return p.s.Write(ctx, RoleOTA, chunk)
}

func (p sessionPort) ReadResult(ctx context.Context) ([]byte, error) {
	return p.s.Read(ctx, RoleStatus)
}
