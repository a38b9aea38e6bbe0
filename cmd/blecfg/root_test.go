package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/blecfg/internal/ble"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestSetupDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	a := &app{}
	require.NoError(t, a.setup())
	assert.Equal(t, ble.TopologyGeneric, a.topo.Name)
}

func TestSetupFlagOverrides(t *testing.T) {
	a := &app{
		configPath: writeConfig(t, "log_level: info\nble:\n  topology: split\n"),
		logLevel:   "debug",
		device:     "lab-sensor",
	}
	require.NoError(t, a.setup())
	assert.Equal(t, "debug", a.cfg.LogLevel)
	assert.Equal(t, "lab-sensor", a.cfg.BLE.Device)

	id, ok := a.topo.Channel(ble.RoleOTA)
	require.True(t, ok, "split topology has an OTA channel")
	assert.Equal(t, ble.SplitOTACharUUID, id)
}

func TestSetupCustomTopology(t *testing.T) {
	a := &app{configPath: writeConfig(t, `
ble:
  topology: custom
  service_uuid: 0000ffe0-0000-1000-8000-00805f9b34fb
  channels:
    config: 0000ffe1-0000-1000-8000-00805f9b34fb
`)}
	require.NoError(t, a.setup())

	_, ok := a.topo.Channel(ble.RoleSensor)
	assert.False(t, ok, "custom topology without a sensor channel resolved one")
	assert.Equal(t, a.cfg.BLE.ConnectTimeout, a.clientOptions().Session.ConnectTimeout)
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	a := &app{configPath: writeConfig(t, "ble:\n  topology: custom\n")}
	assert.Error(t, a.setup(), "custom topology without UUIDs")

	a = &app{configPath: writeConfig(t, "log_level: info\n"), logLevel: "loud"}
	assert.Error(t, a.setup(), "invalid --log-level")
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"scan"}, {"config", "get"}, {"config", "set"}, {"watch"},
		{"wifi", "scan"}, {"wifi", "join"}, {"ota"}, {"history"}, {"serve"}, {"init"},
	} {
		cmd, _, err := root.Find(path)
		if assert.NoError(t, err, "command %v", path) {
			assert.NotSame(t, root, cmd, "command %v not registered", path)
		}
	}
}
