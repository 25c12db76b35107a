package main

import (
	"errors"
	"fmt"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/manager"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was still using it.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns library errors into messages for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var connectErr *device.ConnectError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, ErrConnectionLost):
		return "the device disconnected while the command was running"
	case errors.Is(err, device.ErrTimeout) && !errors.As(err, &connectErr):
		return fmt.Sprintf("%v\nMake sure the device is powered on, advertising and in range.", err)
	case errors.As(err, &connectErr):
		return fmt.Sprintf("could not connect to %s: %v", connectErr.Address, connectErr.Err)
	case errors.Is(err, device.ErrNotConnected):
		return fmt.Sprintf("%v\nThe device is not connected.", err)
	case errors.Is(err, manager.ErrClosed):
		return "the BLE manager was shut down"
	default:
		return err.Error()
	}
}
