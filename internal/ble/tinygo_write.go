//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// writeValue uses an acknowledged write where the platform offers one.
func writeValue(char bluetooth.DeviceCharacteristic, data []byte) (int, error) {
	return char.Write(data)
}
