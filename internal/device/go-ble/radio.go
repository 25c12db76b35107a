package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/device"
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name mirrors the platform constructor it wraps
var DeviceFactory = newPlatformDevice

// bleRadio adapts a ble.Device to device.Radio
type bleRadio struct {
	dev ble.Device
}

// NewRadio opens the platform BLE adapter.
func NewRadio() (device.Radio, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return &bleRadio{dev: dev}, nil
}

// Scan wraps ble.Device.Scan, converting each ble.Advertisement into a device.Advertisement
func (r *bleRadio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := r.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	return NormalizeError(err)
}

// Dial connects to address; the returned ble.Client is the GATT client of the connection
func (r *bleRadio) Dial(ctx context.Context, address string) (device.GATTClient, error) {
	client, err := r.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}

// Stop releases the platform adapter.
func (r *bleRadio) Stop() error {
	return NormalizeError(r.dev.Stop())
}
