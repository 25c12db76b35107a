package goble

import (
	"fmt"
	"strings"

	"github.com/srg/blecentral/internal/device"
)

// darwinPoweredOff is what the CoreBluetooth backend reports when the radio is off.
const darwinPoweredOff = "central manager has invalid state: have=4 want=5: is Bluetooth turned on?"

// platformErrors maps lower-cased fragments of go-ble error messages to the
// sentinel they denote. Order matters: the first matching fragment wins.
var platformErrors = []struct {
	fragment string
	sentinel error
}{
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"device already connected", device.ErrAlreadyConnected},
	{"device not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
	{"timed out", device.ErrTimeout},
}

// NormalizeError wraps go-ble errors with the matching sentinel from the device
// package. Unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if msg == darwinPoweredOff {
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	}

	lower := strings.ToLower(msg)
	for _, pe := range platformErrors {
		if strings.Contains(lower, pe.fragment) {
			return fmt.Errorf("%w: %v", pe.sentinel, err)
		}
	}
	return err
}
