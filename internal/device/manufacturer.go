package device

import (
	"encoding/binary"
	"fmt"
)

// companyNames holds the Bluetooth SIG company identifiers shown by name.
var companyNames = map[uint16]string{
	0x0006: "Microsoft",
	0x004C: "Apple",
	0x0059: "Nordic Semiconductor",
	0x0075: "Samsung",
	0x00E0: "Google",
	0x0157: "Huami",
	0x02E5: "Espressif",
	0xFFFE: "Test/Internal",
}

// CompanyID extracts the company identifier that, by convention, leads the
// manufacturer-specific advertisement payload (little-endian).
func CompanyID(data []byte) (uint16, bool) {
	if len(data) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(data[:2]), true
}

// Vendor returns a display name for the manufacturer of rec, or "" when the
// record carries no manufacturer data.
func (r *Record) Vendor() string {
	id, ok := CompanyID(r.AdvertisementData)
	if !ok {
		return ""
	}
	if name, known := companyNames[id]; known {
		return name
	}
	return fmt.Sprintf("0x%04X", id)
}
