// Package router classifies inbound envelopes by status tag and source
// channel and fans them out to registered observers.
package router

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/blecfg/internal/ble/envelope"
	"github.com/chaz8081/blecfg/internal/ble/wifiscan"
	"github.com/chaz8081/blecfg/internal/device"
)

// Source identifies which kind of channel an envelope arrived on.
type Source int

const (
	// SourceData is the config/command channel.
	SourceData Source = iota
	// SourceSensor is the telemetry channel.
	SourceSensor
	// SourceStatus is the OTA status channel.
	SourceStatus
)

func (s Source) String() string {
	switch s {
	case SourceSensor:
		return "sensor"
	case SourceStatus:
		return "status"
	default:
		return "data"
	}
}

// Category is the observer group an envelope is dispatched to.
type Category int

const (
	CategoryData Category = iota
	CategoryWiFiScan
	CategoryWiFiStatus
	CategorySensor
	CategoryOTA
)

func (c Category) String() string {
	switch c {
	case CategoryWiFiScan:
		return "wifi_scan"
	case CategoryWiFiStatus:
		return "wifi_status"
	case CategorySensor:
		return "sensor"
	case CategoryOTA:
		return "ota"
	default:
		return "data"
	}
}

var statusCategories = map[string]Category{
	envelope.StatusScanResults:  CategoryWiFiScan,
	envelope.StatusScanning:     CategoryWiFiScan,
	envelope.StatusScanComplete: CategoryWiFiScan,

	envelope.StatusCredentialsReceived: CategoryWiFiStatus,
	envelope.StatusWiFiConnecting:      CategoryWiFiStatus,
	envelope.StatusWiFiConnected:       CategoryWiFiStatus,
	envelope.StatusWiFiDisconnected:    CategoryWiFiStatus,
	envelope.StatusError:               CategoryWiFiStatus,
}

// Classify maps an envelope to its category. Every envelope lands in
// exactly one category; anything unrecognized is CategoryData.
//
// The status characteristic only carries OTA results, so SourceStatus is
// always CategoryOTA, including {"status":"error"}. WiFi tags are matched
// on the other sources; a single characteristic peripheral delivers its
// status traffic as SourceData.
func Classify(src Source, env envelope.Envelope) Category {
	if src == SourceStatus {
		return CategoryOTA
	}
	if c, ok := statusCategories[env.Status()]; ok {
		return c
	}
	if src == SourceSensor {
		return CategorySensor
	}
	return CategoryData
}

// Peer identifies the connected peripheral in connection events.
type Peer struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Router owns the per-category listener lists and the scan aggregator.
// Listeners are invoked synchronously, in registration order, outside of
// any lock; a panicking listener is logged and skipped.
type Router struct {
	scans *wifiscan.Aggregator

	mu         sync.RWMutex
	connect    []func(Peer)
	disconnect []func()
	data       []func(envelope.Envelope)
	sensor     []func(device.SensorReading)
	ota        []func(device.OTAResult)
	wifiScan   []func(wifiscan.Event)
	wifiStatus []func(device.WiFiStatus)
}

// New creates a Router with empty listener lists.
func New() *Router {
	return &Router{
		scans:      wifiscan.New(),
		connect:    []func(Peer){},
		disconnect: []func(){},
		data:       []func(envelope.Envelope){},
		sensor:     []func(device.SensorReading){},
		ota:        []func(device.OTAResult){},
		wifiScan:   []func(wifiscan.Event){},
		wifiStatus: []func(device.WiFiStatus){},
	}
}

// Scans exposes the scan aggregator.
func (r *Router) Scans() *wifiscan.Aggregator { return r.scans }

// OnConnect registers a listener fired once a session becomes ready.
func (r *Router) OnConnect(fn func(Peer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connect = append(r.connect, fn)
}

// OnDisconnect registers a listener fired when a ready session ends.
func (r *Router) OnDisconnect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnect = append(r.disconnect, fn)
}

// OnData registers a listener for config and generic data envelopes.
func (r *Router) OnData(fn func(envelope.Envelope)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, fn)
}

// OnSensor registers a telemetry listener.
func (r *Router) OnSensor(fn func(device.SensorReading)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensor = append(r.sensor, fn)
}

// OnOTA registers a listener for firmware upload results.
func (r *Router) OnOTA(fn func(device.OTAResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ota = append(r.ota, fn)
}

// OnWiFiScan registers a listener for scan progress and results.
func (r *Router) OnWiFiScan(fn func(wifiscan.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wifiScan = append(r.wifiScan, fn)
}

// OnWiFiStatus registers a listener for provisioning status.
func (r *Router) OnWiFiStatus(fn func(device.WiFiStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wifiStatus = append(r.wifiStatus, fn)
}

// Route classifies env and dispatches it. It returns the category used.
func (r *Router) Route(src Source, env envelope.Envelope) Category {
	cat := Classify(src, env)
	switch cat {
	case CategoryWiFiScan:
		if ev, ok := r.scans.Handle(env); ok {
			r.EmitWiFiScan(ev)
		}
	case CategoryWiFiStatus:
		var st device.WiFiStatus
		if err := env.Unmarshal(&st); err != nil {
			slog.Warn("[BLE] malformed wifi status, routing as data", "error", err)
			r.EmitData(env)
			return CategoryData
		}
		r.EmitWiFiStatus(st)
	case CategorySensor:
		var reading device.SensorReading
		if err := env.Unmarshal(&reading); err != nil || reading.Empty() {
			r.EmitData(env)
			return CategoryData
		}
		r.EmitSensor(reading)
	case CategoryOTA:
		var res device.OTAResult
		if err := env.Unmarshal(&res); err != nil {
			r.EmitData(env)
			return CategoryData
		}
		r.EmitOTA(res)
	default:
		r.EmitData(env)
	}
	return cat
}

// EmitConnect notifies connection listeners.
func (r *Router) EmitConnect(p Peer) {
	r.mu.RLock()
	fns := append([]func(Peer){}, r.connect...)
	r.mu.RUnlock()
	for _, fn := range fns {
		safeCall("connect", func() { fn(p) })
	}
}

// EmitDisconnect notifies disconnection listeners.
func (r *Router) EmitDisconnect() {
	r.mu.RLock()
	fns := append([]func(){}, r.disconnect...)
	r.mu.RUnlock()
	for _, fn := range fns {
		safeCall("disconnect", fn)
	}
}

// EmitData notifies data listeners.
func (r *Router) EmitData(env envelope.Envelope) {
	r.mu.RLock()
	fns := append([]func(envelope.Envelope){}, r.data...)
	r.mu.RUnlock()
	for _, fn := range fns {
		safeCall("data", func() { fn(env) })
	}
}

// EmitSensor notifies telemetry listeners.
func (r *Router) EmitSensor(reading device.SensorReading) {
	r.mu.RLock()
	fns := append([]func(device.SensorReading){}, r.sensor...)
	r.mu.RUnlock()
	for _, fn := range fns {
		safeCall("sensor", func() { fn(reading) })
	}
}

// EmitOTA notifies OTA listeners.
func (r *Router) EmitOTA(res device.OTAResult) {
	r.mu.RLock()
	fns := append([]func(device.OTAResult){}, r.ota...)
	r.mu.RUnlock()
	for _, fn := range fns {
		safeCall("ota", func() { fn(res) })
	}
}

// EmitWiFiScan notifies scan listeners.
func (r *Router) EmitWiFiScan(ev wifiscan.Event) {
	r.mu.RLock()
	fns := append([]func(wifiscan.Event){}, r.wifiScan...)
	r.mu.RUnlock()
	for _, fn := range fns {
		safeCall("wifi_scan", func() { fn(ev) })
	}
}

// EmitWiFiStatus notifies provisioning status listeners.
func (r *Router) EmitWiFiStatus(st device.WiFiStatus) {
	r.mu.RLock()
	fns := append([]func(device.WiFiStatus){}, r.wifiStatus...)
	r.mu.RUnlock()
	for _, fn := range fns {
		safeCall("wifi_status", func() { fn(st) })
	}
}

func safeCall(category string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[BLE] listener panicked", "category", category, "panic", fmt.Sprint(rec))
		}
	}()
	fn()
}
