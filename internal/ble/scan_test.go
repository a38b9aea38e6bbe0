package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanForDevicesSortsBySignal(t *testing.T) {
	adapter := newMockAdapter([]Device{
		{Name: "far", Address: "AA", RSSI: -90},
		{Name: "near", Address: "BB", RSSI: -40},
		{Name: "mid", Address: "CC", RSSI: -60},
	})
	devices, err := ScanForDevices(context.Background(), adapter, GenericTopology(), time.Second)
	require.NoError(t, err)

	var names []string
	for _, d := range devices {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"near", "mid", "far"}, names)
}

func TestScanForDevicesEnableFailure(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.enableErr = errors.New("bluetooth off")
	_, err := ScanForDevices(context.Background(), adapter, GenericTopology(), time.Second)
	assert.Error(t, err)
}

func TestFindDevice(t *testing.T) {
	adapter := newMockAdapter([]Device{
		{Name: "kitchen", Address: "AA:AA", RSSI: -70},
		{Name: "garage", Address: "BB:BB", RSSI: -50},
	})
	ctx := context.Background()
	topo := GenericTopology()

	tests := []struct {
		target  string
		want    string
		wantErr bool
	}{
		{"", "garage", false},
		{"KITCHEN", "kitchen", false},
		{"aa:aa", "kitchen", false},
		{"attic", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			dev, err := FindDevice(ctx, adapter, topo, tt.target, time.Second)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, dev.Name)
		})
	}

	_, err := FindDevice(ctx, newMockAdapter(nil), topo, "", time.Second)
	assert.Error(t, err, "no devices")
}
