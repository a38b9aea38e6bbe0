package ble

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/chaz8081/blecfg/internal/ble/router"
)

// Role names what a channel is used for.
type Role string

const (
	// RoleConfig carries config reads/writes, commands and WiFi notifications.
	RoleConfig Role = "config"
	// RoleStatus carries the OTA result.
	RoleStatus Role = "status"
	// RoleSensor carries telemetry notifications.
	RoleSensor Role = "sensor"
	// RoleOTA receives firmware chunks.
	RoleOTA Role = "ota"
)

// Roles lists every role in resolution order.
var Roles = []Role{RoleConfig, RoleStatus, RoleSensor, RoleOTA}

// Source maps a role to the router source its notifications come from.
func (r Role) Source() router.Source {
	switch r {
	case RoleStatus:
		return router.SourceStatus
	case RoleSensor:
		return router.SourceSensor
	default:
		return router.SourceData
	}
}

// Notifies reports whether the role's channel is subscribed for notifications.
func (r Role) Notifies() bool { return r != RoleOTA }

// Topology names
const (
	TopologyGeneric = "generic"
	TopologySplit   = "split"
	TopologyCustom  = "custom"
)

// Generic topology: one characteristic serves every role.
const (
	GenericServiceUUID = "12345678-1234-1234-1234-123456789abc"
	GenericCharUUID    = "abcd1234-5678-90ab-cdef-1234567890ab"
)

// Split topology: one purpose-specific characteristic per role.
const (
	SplitServiceUUID    = "7e3a0000-4c1d-4b6e-9a2f-5d8c1b2e0a10"
	SplitConfigCharUUID = "7e3a0001-4c1d-4b6e-9a2f-5d8c1b2e0a10"
	SplitStatusCharUUID = "7e3a0002-4c1d-4b6e-9a2f-5d8c1b2e0a10"
	SplitSensorCharUUID = "7e3a0003-4c1d-4b6e-9a2f-5d8c1b2e0a10"
	SplitOTACharUUID    = "7e3a0004-4c1d-4b6e-9a2f-5d8c1b2e0a10"
)

// Topology maps roles to characteristic UUIDs within one service. Roles
// may share a characteristic; a role with no entry has no channel.
type Topology struct {
	Name     string
	Service  string
	Channels map[Role]string
}

// GenericTopology returns the single-characteristic preset.
func GenericTopology() Topology {
	return Topology{
		Name:    TopologyGeneric,
		Service: GenericServiceUUID,
		Channels: map[Role]string{
			RoleConfig: GenericCharUUID,
			RoleStatus: GenericCharUUID,
			RoleSensor: GenericCharUUID,
			RoleOTA:    GenericCharUUID,
		},
	}
}

// SplitTopology returns the four-characteristic preset.
func SplitTopology() Topology {
	return Topology{
		Name:    TopologySplit,
		Service: SplitServiceUUID,
		Channels: map[Role]string{
			RoleConfig: SplitConfigCharUUID,
			RoleStatus: SplitStatusCharUUID,
			RoleSensor: SplitSensorCharUUID,
			RoleOTA:    SplitOTACharUUID,
		},
	}
}

// NewTopology builds a topology by preset name. For TopologyCustom the
// service and channel UUIDs are taken from the arguments.
func NewTopology(name, service string, channels map[Role]string) (Topology, error) {
	var t Topology
	switch name {
	case "", TopologyGeneric:
		t = GenericTopology()
	case TopologySplit:
		t = SplitTopology()
	case TopologyCustom:
		t = Topology{Name: TopologyCustom, Service: service, Channels: make(map[Role]string, len(channels))}
		for role, id := range channels {
			if id != "" {
				t.Channels[role] = id
			}
		}
	default:
		return Topology{}, fmt.Errorf("ble: unknown topology %q (want %s, %s or %s)", name, TopologyGeneric, TopologySplit, TopologyCustom)
	}
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

// Validate checks the UUIDs and that a config channel exists.
func (t Topology) Validate() error {
	if _, err := uuid.Parse(t.Service); err != nil {
		return fmt.Errorf("ble: topology %s: invalid service UUID %q: %w", t.Name, t.Service, err)
	}
	if _, ok := t.Channels[RoleConfig]; !ok {
		return fmt.Errorf("ble: topology %s: config channel is required", t.Name)
	}
	for _, role := range Roles {
		id, ok := t.Channels[role]
		if !ok {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("ble: topology %s: invalid %s channel UUID %q: %w", t.Name, role, id, err)
		}
	}
	for role := range t.Channels {
		if !slices.Contains(Roles, role) {
			return fmt.Errorf("ble: topology %s: unknown role %q", t.Name, role)
		}
	}
	return nil
}

// Channel returns the characteristic UUID for role.
func (t Topology) Channel(role Role) (string, bool) {
	id, ok := t.Channels[role]
	return id, ok
}

// Characteristics returns each distinct characteristic UUID once, in role
// order, along with the first role that uses it.
func (t Topology) Characteristics() []RoleChannel {
	var out []RoleChannel
	seen := make(map[string]bool)
	for _, role := range Roles {
		id, ok := t.Channels[role]
		if !ok {
			continue
		}
		key := strings.ToLower(id)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, RoleChannel{Role: role, UUID: id})
	}
	return out
}

// RoleChannel pairs a role with its characteristic UUID.
type RoleChannel struct {
	Role Role
	UUID string
}
