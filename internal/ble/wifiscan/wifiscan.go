// Package wifiscan reassembles the peripheral's WiFi scan response. The
// firmware splits its network list across several "scan_results"
// notifications, each labelled with a 1-based packet index and the total
// packet count. Packets are buffered by index, so delivery order does not
// matter; the list is finalized once every index is present.
//
// The final list is sorted by RSSI, strongest first. Networks with equal
// RSSI keep their reassembled order: ascending packet index, then their
// position within the packet. Arrival order never affects the result.
package wifiscan

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chaz8081/blecfg/internal/ble/envelope"
)

// DefaultStaleAfter bounds how long a partial scan is kept before a new
// packet is treated as the start of a different scan.
const DefaultStaleAfter = 5 * time.Second

// Network is one access point reported by the peripheral.
type Network struct {
	SSID      string `json:"ssid"`
	RSSI      int    `json:"rssi"`
	Encrypted bool   `json:"encryption"`
}

// State is the aggregator's scan state.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateComplete:
		return "complete"
	default:
		return "idle"
	}
}

// EventKind classifies what an Event reports.
type EventKind int

const (
	// EventStarted means the peripheral began scanning.
	EventStarted EventKind = iota
	// EventProgress means a packet was buffered but the list is incomplete.
	EventProgress
	// EventEmpty means the scan finished without finding any network.
	EventEmpty
	// EventComplete carries the final sorted list.
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventEmpty:
		return "empty"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is delivered to scan observers.
type Event struct {
	Kind     EventKind `json:"kind"`
	Received int       `json:"received,omitempty"`
	Total    int       `json:"total,omitempty"`
	Networks []Network `json:"networks,omitempty"`
}

type resultsPacket struct {
	Packet   int       `json:"packet"`
	Total    int       `json:"total_packets"`
	Networks []Network `json:"networks"`
}

// Aggregator collects scan packets. Safe for concurrent use.
type Aggregator struct {
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	state   State
	total   int
	packets map[int][]Network
	updated time.Time
}

// New creates an Aggregator with DefaultStaleAfter.
func New() *Aggregator {
	return NewWithStaleAfter(DefaultStaleAfter)
}

// NewWithStaleAfter creates an Aggregator with a custom staleness window.
// A non-positive window disables staleness checks.
func NewWithStaleAfter(d time.Duration) *Aggregator {
	return &Aggregator{
		staleAfter: d,
		now:        time.Now,
		packets:    make(map[int][]Network),
	}
}

// State returns the current scan state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Pending returns how many packets are buffered for the scan in progress.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.packets)
}

// Reset discards any partial scan and returns to Idle.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	a.state = StateIdle
}

func (a *Aggregator) resetLocked() {
	a.total = 0
	a.packets = make(map[int][]Network)
	a.updated = time.Time{}
}

// Handle feeds one scan-category envelope into the aggregator. It returns
// the event to publish, or false when the envelope produced none.
func (a *Aggregator) Handle(env envelope.Envelope) (Event, bool) {
	switch env.Status() {
	case envelope.StatusScanning:
		a.mu.Lock()
		a.resetLocked()
		a.state = StateScanning
		a.mu.Unlock()
		return Event{Kind: EventStarted}, true

	case envelope.StatusScanComplete:
		found := env.Get("networks_found")
		if !found.Exists() || found.Int() != 0 {
			return Event{}, false
		}
		a.mu.Lock()
		a.resetLocked()
		a.state = StateComplete
		a.mu.Unlock()
		return Event{Kind: EventEmpty}, true

	case envelope.StatusScanResults:
		var pkt resultsPacket
		if err := env.Unmarshal(&pkt); err != nil {
			slog.Warn("[WIFI] dropping malformed scan packet", "error", err)
			return Event{}, false
		}
		return a.add(pkt)
	}
	return Event{}, false
}

func (a *Aggregator) add(pkt resultsPacket) (Event, bool) {
	if pkt.Total < 1 || pkt.Packet < 1 || pkt.Packet > pkt.Total {
		slog.Warn("[WIFI] dropping scan packet with invalid index",
			"packet", pkt.Packet, "total_packets", pkt.Total)
		return Event{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.startsNewScanLocked(pkt, now) {
		a.resetLocked()
	}

	a.state = StateScanning
	a.total = pkt.Total
	a.packets[pkt.Packet] = append([]Network(nil), pkt.Networks...)
	a.updated = now

	if len(a.packets) < a.total {
		return Event{Kind: EventProgress, Received: len(a.packets), Total: a.total}, true
	}

	nets := make([]Network, 0, len(a.packets))
	for i := 1; i <= a.total; i++ {
		nets = append(nets, a.packets[i]...)
	}
	slices.SortStableFunc(nets, func(x, y Network) int {
		return cmp.Compare(y.RSSI, x.RSSI)
	})

	total := a.total
	a.resetLocked()
	a.state = StateComplete
	return Event{Kind: EventComplete, Received: total, Total: total, Networks: nets}, true
}

// startsNewScanLocked decides whether pkt belongs to a different scan than
// the buffered packets (caller must hold mu).
func (a *Aggregator) startsNewScanLocked(pkt resultsPacket, now time.Time) bool {
	if len(a.packets) == 0 {
		return false
	}
	if a.total != pkt.Total {
		return true
	}
	if a.staleAfter > 0 && now.Sub(a.updated) > a.staleAfter {
		return true
	}
	if pkt.Packet == 1 {
		_, seen := a.packets[1]
		return seen
	}
	return false
}
