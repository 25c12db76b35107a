package connection

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/device"
)

// WriteCharacteristic writes data to a characteristic, or to one of its
// descriptors when descriptorID is not empty. Characteristics that only support
// write-without-response are written that way.
func (h *Handle) WriteCharacteristic(serviceID, charID, descriptorID ble.UUID, data []byte) error {
	client, char, desc, err := h.resolve(serviceID, charID, descriptorID)
	if err != nil {
		return err
	}
	if desc != nil {
		return client.WriteDescriptor(desc, data)
	}

	switch {
	case char.Property&ble.CharWrite != 0:
		return client.WriteCharacteristic(char, data, false)
	case char.Property&ble.CharWriteNR != 0:
		return client.WriteCharacteristic(char, data, true)
	default:
		return fmt.Errorf("%w: characteristic %s is not writable", device.ErrUnsupported, char.UUID)
	}
}

// ReadCharacteristic reads a characteristic, or one of its descriptors when
// descriptorID is not empty.
func (h *Handle) ReadCharacteristic(serviceID, charID, descriptorID ble.UUID) ([]byte, error) {
	client, char, desc, err := h.resolve(serviceID, charID, descriptorID)
	if err != nil {
		return nil, err
	}
	if desc != nil {
		return client.ReadDescriptor(desc)
	}
	if char.Property&ble.CharRead == 0 {
		return nil, fmt.Errorf("%w: characteristic %s is not readable", device.ErrUnsupported, char.UUID)
	}
	return client.ReadCharacteristic(char)
}

// RegisterNotification subscribes handler to value updates of a characteristic.
// Indications are used when the characteristic does not support notifications.
// A non-empty descriptorID must name a descriptor of the characteristic.
func (h *Handle) RegisterNotification(serviceID, charID, descriptorID ble.UUID, handler func(data []byte)) error {
	if handler == nil {
		return fmt.Errorf("%w: notification handler is nil", device.ErrInvalidArgument)
	}
	client, char, _, err := h.resolve(serviceID, charID, descriptorID)
	if err != nil {
		return err
	}
	ind, err := indicationMode(char)
	if err != nil {
		return err
	}

	h.logger.WithField("char_uuid", char.UUID.String()).Debug("Subscribing to characteristic")
	return client.Subscribe(char, ind, handler)
}

// UnregisterNotification cancels a subscription made by RegisterNotification.
func (h *Handle) UnregisterNotification(serviceID, charID, descriptorID ble.UUID) error {
	client, char, _, err := h.resolve(serviceID, charID, descriptorID)
	if err != nil {
		return err
	}
	ind, err := indicationMode(char)
	if err != nil {
		return err
	}
	return client.Unsubscribe(char, ind)
}

func indicationMode(char *ble.Characteristic) (bool, error) {
	switch {
	case char.Property&ble.CharNotify != 0:
		return false, nil
	case char.Property&ble.CharIndicate != 0:
		return true, nil
	default:
		return false, fmt.Errorf("%w: characteristic %s does not support notifications", device.ErrUnsupported, char.UUID)
	}
}

// resolve finds the characteristic and optional descriptor in the discovered
// profile of a connected handle.
func (h *Handle) resolve(serviceID, charID, descriptorID ble.UUID) (device.GATTClient, *ble.Characteristic, *ble.Descriptor, error) {
	if len(serviceID) == 0 || len(charID) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: service and characteristic ids are required", device.ErrInvalidArgument)
	}

	h.mu.RLock()
	state, client, profile := h.state, h.client, h.profile
	h.mu.RUnlock()

	if state != Connected || client == nil || profile == nil {
		return nil, nil, nil, fmt.Errorf("%w: device %s is %s", device.ErrNotConnected, h.Address(), state)
	}

	var svc *ble.Service
	for _, s := range profile.Services {
		if s.UUID.Equal(serviceID) {
			svc = s
			break
		}
	}
	if svc == nil {
		return nil, nil, nil, fmt.Errorf("%w: service %s", device.ErrNotFound, serviceID)
	}

	var char *ble.Characteristic
	for _, c := range svc.Characteristics {
		if c.UUID.Equal(charID) {
			char = c
			break
		}
	}
	if char == nil {
		return nil, nil, nil, fmt.Errorf("%w: characteristic %s in service %s", device.ErrNotFound, charID, serviceID)
	}

	if len(descriptorID) == 0 {
		return client, char, nil, nil
	}
	for _, d := range char.Descriptors {
		if d.UUID.Equal(descriptorID) {
			return client, char, d, nil
		}
	}
	return nil, nil, nil, fmt.Errorf("%w: descriptor %s of characteristic %s", device.ErrNotFound, descriptorID, charID)
}
