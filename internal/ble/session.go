package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/blecfg/internal/ble/envelope"
	"github.com/chaz8081/blecfg/internal/ble/router"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

// SessionOptions bounds how long transport calls may block.
type SessionOptions struct {
	ConnectTimeout time.Duration // whole connect sequence (default 15s)
	OpTimeout      time.Duration // each read or write (default 5s)
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ConnectTimeout: 15 * time.Second,
		OpTimeout:      5 * time.Second,
	}
}

// link groups everything that belongs to one connection so it can be
// replaced or cleared in a single assignment.
type link struct {
	id     string
	device Device
	conn   Connection
	chans  map[Role]Characteristic
	lost   chan struct{}
}

// Session manages one connection to a peripheral: channel resolution,
// notification routing and guarded reads and writes.
type Session struct {
	adapter Adapter
	topo    Topology
	router  *router.Router
	opts    SessionOptions

	mu    sync.Mutex
	state State
	link  *link
}

// NewSession creates an idle session. Notifications are dispatched to r.
func NewSession(adapter Adapter, topo Topology, r *router.Router, opts SessionOptions) *Session {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	return &Session{
		adapter: adapter,
		topo:    topo,
		router:  r,
		opts:    opts,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the identifier of the current connection, or "" when there is none.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return ""
	}
	return s.link.id
}

// Device returns the bound peripheral.
func (s *Session) Device() (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return Device{}, false
	}
	return s.link.device, true
}

// Topology returns the channel topology the session resolves.
func (s *Session) Topology() Topology { return s.topo }

// IsConnected reports whether a device is bound and the transport still
// reports the link up.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	l, ready := s.link, s.state == StateReady
	s.mu.Unlock()
	return ready && l != nil && l.conn.IsConnected()
}

// Connect establishes the link, resolves and subscribes the topology's
// channels, reads the initial config and moves to Ready. On failure every
// partial resource is released and the session returns to Idle.
func (s *Session) Connect(ctx context.Context, dev Device) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateReady {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	l := &link{
		id:     uuid.NewString(),
		device: dev,
		chans:  make(map[Role]Characteristic, len(Roles)),
		lost:   make(chan struct{}),
	}
	s.state = StateConnecting
	s.link = l
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	initial, err := s.establish(ctx, l)
	if err != nil {
		slog.Error("[BLE] connect failed", "address", dev.Address, "error", err)
		if l.conn != nil {
			_ = l.conn.Disconnect()
		}
		s.teardown(l)
		return err
	}

	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.state = StateReady
	s.mu.Unlock()

	slog.Info("[BLE] connected", "name", dev.Name, "address", dev.Address, "session", l.id, "topology", s.topo.Name)
	s.router.EmitConnect(router.Peer{Name: dev.Name, Address: dev.Address})
	s.router.EmitData(initial)
	return nil
}

// establish runs the fallible part of Connect. l.conn is set as soon as the
// transport hands back a connection so the caller can release it.
func (s *Session) establish(ctx context.Context, l *link) (envelope.Envelope, error) {
	if err := s.adapter.Enable(); err != nil {
		return envelope.Envelope{}, &TransportError{Op: "enable adapter", Err: err}
	}

	conn, err := awaitRelease(ctx, l.lost, func() (Connection, error) {
		return s.adapter.Connect(ctx, l.device.Address)
	}, func(late Connection) {
		slog.Warn("[BLE] closing connection that completed after connect was abandoned",
			"address", l.device.Address, "session", l.id)
		_ = late.Disconnect()
	})
	if err != nil {
		return envelope.Envelope{}, transportErr("connect to "+l.device.Address, err)
	}

	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		_ = conn.Disconnect()
		return envelope.Envelope{}, ErrNotConnected
	}
	l.conn = conn
	s.mu.Unlock()

	conn.OnDisconnect(func() {
		slog.Warn("[BLE] link lost", "address", l.device.Address, "session", l.id)
		s.teardown(l)
	})

	resolved := make(map[string]Characteristic)
	for _, rc := range s.topo.Characteristics() {
		char, err := await(ctx, l.lost, func() (Characteristic, error) {
			return conn.DiscoverCharacteristic(s.topo.Service, rc.UUID)
		})
		if err != nil {
			return envelope.Envelope{}, transportErr(fmt.Sprintf("discover %s characteristic", rc.Role), err)
		}
		resolved[strings.ToLower(rc.UUID)] = char

		if rc.Role.Notifies() {
			src := rc.Role.Source()
			if err := char.Subscribe(func(data []byte) { s.notify(l, src, data) }); err != nil {
				return envelope.Envelope{}, &TransportError{Op: fmt.Sprintf("subscribe %s characteristic", rc.Role), Err: err}
			}
		}
	}

	chans := make(map[Role]Characteristic, len(s.topo.Channels))
	for role, id := range s.topo.Channels {
		chans[role] = resolved[strings.ToLower(id)]
	}
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return envelope.Envelope{}, ErrNotConnected
	}
	l.chans = chans
	s.mu.Unlock()

	data, err := await(ctx, l.lost, chans[RoleConfig].Read)
	if err != nil {
		return envelope.Envelope{}, transportErr("read initial config", err)
	}
	return envelope.Decode(data), nil
}

// Disconnect requests a transport disconnect if the link is up and then
// tears the session down. Safe to call repeatedly; disconnection listeners
// fire at most once per connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	l := s.link
	var conn Connection
	if l != nil {
		conn = l.conn
	}
	s.mu.Unlock()
	if l == nil {
		return nil
	}

	var err error
	if conn != nil && conn.IsConnected() {
		if derr := conn.Disconnect(); derr != nil {
			err = &TransportError{Op: "disconnect", Err: derr}
		}
	}
	s.teardown(l)
	return err
}

// teardown clears l if it is still the current link. Listeners fire only
// when the session had reached Ready.
func (s *Session) teardown(l *link) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	wasReady := s.state == StateReady
	s.link = nil
	if wasReady {
		s.state = StateDisconnected
	} else {
		s.state = StateIdle
	}
	close(l.lost)
	s.mu.Unlock()

	s.router.Scans().Reset()
	if wasReady {
		slog.Info("[BLE] disconnected", "address", l.device.Address, "session", l.id)
		s.router.EmitDisconnect()
	}
}

// notify routes one inbound notification. Notifications from a link that
// has since been torn down are dropped.
func (s *Session) notify(l *link, src router.Source, data []byte) {
	s.mu.Lock()
	current := s.link == l && s.state == StateReady
	s.mu.Unlock()
	if !current {
		slog.Debug("[BLE] dropping notification from stale link", "session", l.id)
		return
	}
	env := envelope.Decode(data)
	slog.Debug("[BLE] notification", "source", src, "payload", env.String())
	s.router.Route(src, env)
}

// channel returns the characteristic for role, checking the session is Ready.
func (s *Session) channel(role Role) (Characteristic, *link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady || s.link == nil {
		return nil, nil, ErrNotConnected
	}
	char, ok := s.link.chans[role]
	if !ok || char == nil {
		return nil, nil, fmt.Errorf("%w %q", ErrNoChannel, role)
	}
	return char, s.link, nil
}

// Read reads the current value of role's channel.
func (s *Session) Read(ctx context.Context, role Role) ([]byte, error) {
	char, l, err := s.channel(role)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	data, err := await(ctx, l.lost, char.Read)
	if err != nil {
		return nil, transportErr(fmt.Sprintf("read %s", role), err)
	}
	return data, nil
}

// Write writes data to role's channel.
func (s *Session) Write(ctx context.Context, role Role, data []byte) error {
	char, l, err := s.channel(role)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	_, err = await(ctx, l.lost, func() (struct{}, error) {
		return struct{}{}, char.Write(data)
	})
	if err != nil {
		return transportErr(fmt.Sprintf("write %s", role), err)
	}
	return nil
}

// await runs fn on its own goroutine and waits for it, the context, or the
// loss of the link, whichever comes first. A result that arrives after
// await has returned is discarded.
func await[T any](ctx context.Context, lost <-chan struct{}, fn func() (T, error)) (T, error) {
	return awaitRelease(ctx, lost, fn, nil)
}

// awaitRelease is await for calls that acquire a resource. When await gives
// up first, a successful late result is passed to release.
func awaitRelease[T any](ctx context.Context, lost <-chan struct{}, fn func() (T, error), release func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	abandon := func() {
		if release == nil {
			return
		}
		go func() {
			if r := <-ch; r.err == nil {
				release(r.v)
			}
		}()
	}

	var zero T
	select {
	case r := <-ch:
		return r.v, r.err
	case <-lost:
		abandon()
		return zero, ErrNotConnected
	case <-ctx.Done():
		abandon()
		return zero, ctx.Err()
	}
}

// transportErr wraps err unless it already reports the session was lost.
func transportErr(op string, err error) error {
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
