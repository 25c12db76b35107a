package main

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/device"
)

// resolveTarget finds an attribute in a discovered profile from command-line
// UUIDs.
//
// Resolution cases:
//  1. serviceUUID given: the characteristic is looked up in that service only
//  2. otherwise every service is searched and the characteristic must be unique
//
// With descUUID the descriptor must belong to the resolved characteristic.
func resolveTarget(profile *ble.Profile, charUUID, serviceUUID, descUUID string) (gattTarget, error) {
	if profile == nil {
		return gattTarget{}, fmt.Errorf("%w: no GATT profile discovered", device.ErrNotConnected)
	}
	wantChar := device.NormalizeUUID(charUUID)
	if wantChar == "" {
		return gattTarget{}, fmt.Errorf("%w: characteristic UUID required", device.ErrInvalidArgument)
	}
	wantService := device.NormalizeUUID(serviceUUID)

	type match struct {
		service *ble.Service
		char    *ble.Characteristic
	}
	var found []match
	serviceSeen := wantService == ""
	for _, svc := range profile.Services {
		if wantService != "" {
			if !sameUUID(svc.UUID, wantService) {
				continue
			}
			serviceSeen = true
		}
		for _, char := range svc.Characteristics {
			if sameUUID(char.UUID, wantChar) {
				found = append(found, match{service: svc, char: char})
			}
		}
	}

	switch {
	case !serviceSeen:
		return gattTarget{}, fmt.Errorf("%w: service %s", device.ErrNotFound, wantService)
	case len(found) == 0 && wantService != "":
		return gattTarget{}, fmt.Errorf("%w: characteristic %s in service %s", device.ErrNotFound, wantChar, wantService)
	case len(found) == 0:
		return gattTarget{}, fmt.Errorf("%w: characteristic %s", device.ErrNotFound, wantChar)
	case len(found) > 1:
		services := make([]string, 0, len(found))
		for _, m := range found {
			services = append(services, m.service.UUID.String())
		}
		return gattTarget{}, fmt.Errorf("%w: characteristic %s found in services %s, specify --service",
			device.ErrInvalidArgument, wantChar, strings.Join(services, ", "))
	}

	target := gattTarget{service: found[0].service.UUID, char: found[0].char.UUID}
	if descUUID == "" {
		return target, nil
	}

	wantDesc := device.NormalizeUUID(descUUID)
	for _, desc := range found[0].char.Descriptors {
		if sameUUID(desc.UUID, wantDesc) {
			target.desc = desc.UUID
			return target, nil
		}
	}
	return gattTarget{}, fmt.Errorf("%w: descriptor %s of characteristic %s", device.ErrNotFound, wantDesc, wantChar)
}

// sameUUID compares a profile UUID with a normalized command-line UUID.
func sameUUID(u ble.UUID, normalized string) bool {
	return device.NormalizeUUID(u.String()) == normalized
}
