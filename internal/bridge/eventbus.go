// Package bridge streams protocol events to WebSocket clients so a
// presentation layer can follow a live session.
package bridge

import (
	"sync"
	"time"

	"github.com/chaz8081/blecfg/internal/ble/envelope"
	"github.com/chaz8081/blecfg/internal/ble/router"
	"github.com/chaz8081/blecfg/internal/ble/wifiscan"
	"github.com/chaz8081/blecfg/internal/device"
)

// EventType classifies an event for WebSocket clients.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventData         EventType = "data"
	EventSensor       EventType = "sensor"
	EventOTA          EventType = "ota"
	EventOTAProgress  EventType = "ota_progress"
	EventWiFiScan     EventType = "wifi_scan"
	EventWiFiStatus   EventType = "wifi_status"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Event is the JSON envelope broadcast to WebSocket clients.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// EventBus fans events out to every subscriber. A subscriber whose buffer
// is full misses the event rather than stalling the publisher.
type EventBus struct {
	buffer int

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewEventBus constructs a ready EventBus. A non-positive buffer uses DefaultBuffer.
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &EventBus{buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a client. The returned function unsubscribes and
// closes the channel; calling it more than once is harmless.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Publish sends e to all current subscribers.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Len returns the current subscriber count.
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Attach registers listeners on r that republish every category on the bus.
func Attach(bus *EventBus, r *router.Router) {
	r.OnConnect(func(p router.Peer) {
		bus.Publish(Event{Type: EventConnected, Data: p})
	})
	r.OnDisconnect(func() {
		bus.Publish(Event{Type: EventDisconnected})
	})
	r.OnData(func(env envelope.Envelope) {
		bus.Publish(Event{Type: EventData, Data: env})
	})
	r.OnSensor(func(reading device.SensorReading) {
		bus.Publish(Event{Type: EventSensor, Data: reading})
	})
	r.OnOTA(func(res device.OTAResult) {
		bus.Publish(Event{Type: EventOTA, Data: res})
	})
	r.OnWiFiScan(func(ev wifiscan.Event) {
		bus.Publish(Event{Type: EventWiFiScan, Data: ev})
	})
	r.OnWiFiStatus(func(st device.WiFiStatus) {
		bus.Publish(Event{Type: EventWiFiStatus, Data: st})
	})
}

// ProgressFunc returns an OTA progress callback that publishes on bus.
func ProgressFunc(bus *EventBus) func(int) {
	return func(pct int) {
		bus.Publish(Event{Type: EventOTAProgress, Data: map[string]int{"percent": pct}})
	}
}
