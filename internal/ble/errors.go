package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by channel operations outside the Ready state.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrAlreadyConnected is returned by Connect while a session is connecting or ready.
	ErrAlreadyConnected = errors.New("ble: already connected")
	// ErrNoChannel is returned when the topology has no characteristic for a role.
	ErrNoChannel = errors.New("ble: no channel for role")
	// ErrNoReading is returned by FetchSensor when the payload carries no sensor fields.
	ErrNoReading = errors.New("ble: no sensor reading")
)

// TransportError wraps a failure reported by the BLE stack.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ble: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
