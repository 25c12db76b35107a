package device

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID (0000xxxx-0000-1000-8000-00805f9b34fb).
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the BLE library format (lowercase, no dashes).
// A 0x prefix is stripped and SIG base UUIDs are shortened to their 16-bit form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// ParseUUID parses a service, characteristic or descriptor identifier.
func ParseUUID(uuid string) (ble.UUID, error) {
	if strings.TrimSpace(uuid) == "" {
		return nil, fmt.Errorf("%w: UUID cannot be empty", ErrInvalidArgument)
	}
	u, err := ble.Parse(NormalizeUUID(uuid))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid UUID %q: %v", ErrInvalidArgument, uuid, err)
	}
	return u, nil
}
