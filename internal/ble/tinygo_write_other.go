//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// writeValue falls back to write-without-response; BlueZ and the embedded
// stacks expose no acknowledged write.
func writeValue(char bluetooth.DeviceCharacteristic, data []byte) (int, error) {
	return char.WriteWithoutResponse(data)
}
