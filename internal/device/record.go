package device

import (
	"sort"
	"time"
)

// txPowerUnavailable is what platforms report when the TX power AD type is absent.
const txPowerUnavailable = 127

// Record is the identity and advertisement data of one discovered peripheral.
// Records are immutable; a repeated sighting produces a new Record.
// Two records denote the same device when their addresses are equal.
type Record struct {
	Address           string            `json:"address"`
	Name              string            `json:"name,omitempty"`
	RSSI              int               `json:"rssi"`
	TxPower           *int              `json:"txPower,omitempty"`
	Connectable       bool              `json:"connectable"`
	AdvertisementData []byte            `json:"advertisementData,omitempty"`
	Services          []string          `json:"services,omitempty"`
	ServiceData       map[string][]byte `json:"serviceData,omitempty"`
	LastSeen          time.Time         `json:"lastSeen"`
}

// NewRecord creates a Record from a platform advertisement.
// AdvertisementData carries the manufacturer-specific payload.
func NewRecord(adv Advertisement) *Record {
	r := &Record{
		Address:     adv.Addr(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		LastSeen:    time.Now(),
	}

	if data := adv.ManufacturerData(); len(data) > 0 {
		r.AdvertisementData = append([]byte(nil), data...)
	}

	for _, uuid := range adv.Services() {
		r.Services = append(r.Services, NormalizeUUID(uuid))
	}
	sort.Strings(r.Services)

	if sd := adv.ServiceData(); len(sd) > 0 {
		r.ServiceData = make(map[string][]byte, len(sd))
		for _, d := range sd {
			r.ServiceData[NormalizeUUID(d.UUID)] = append([]byte(nil), d.Data...)
		}
	}

	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		r.TxPower = &tx
	}

	return r
}

// SameDevice reports whether both records denote the same physical device.
func (r *Record) SameDevice(other *Record) bool {
	if r == nil || other == nil {
		return false
	}
	return r.Address == other.Address
}

// DisplayName returns the advertised name, falling back to the address.
func (r *Record) DisplayName() string {
	if r.Name == "" {
		return r.Address
	}
	return r.Name
}

// merge returns the record for a repeat sighting: the newer one, keeping the
// earlier name and payload when the new advertisement omits them.
func (r *Record) merge(next *Record) *Record {
	merged := *next
	if merged.Name == "" {
		merged.Name = r.Name
	}
	if len(merged.AdvertisementData) == 0 {
		merged.AdvertisementData = r.AdvertisementData
	}
	if len(merged.Services) == 0 {
		merged.Services = r.Services
	}
	if merged.ServiceData == nil {
		merged.ServiceData = r.ServiceData
	}
	if merged.TxPower == nil {
		merged.TxPower = r.TxPower
	}
	return &merged
}
