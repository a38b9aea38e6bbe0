package ble

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ScanForDevices scans for peripherals advertising the topology's service,
// strongest signal first.
func ScanForDevices(ctx context.Context, adapter Adapter, topo Topology, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, topo.Service)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	slices.SortStableFunc(devices, func(a, b Device) int { return b.RSSI - a.RSSI })
	return devices, nil
}

// FindDevice scans and returns the device whose address or name matches
// target (case-insensitive). An empty target selects the strongest device.
func FindDevice(ctx context.Context, adapter Adapter, topo Topology, target string, timeout time.Duration) (Device, error) {
	devices, err := ScanForDevices(ctx, adapter, topo, timeout)
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("ble: no device advertising service %s found", topo.Service)
	}
	if target == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if strings.EqualFold(d.Address, target) || strings.EqualFold(d.Name, target) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("ble: device %q not found", target)
}
