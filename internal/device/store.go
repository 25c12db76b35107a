package device

import (
	"encoding/json"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Store is the ordered collection of devices found during one scan pass.
// Records are unique by address; a repeated sighting updates the record in place
// and keeps its original position. Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	devices *orderedmap.OrderedMap[string, *Record]
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{devices: orderedmap.New[string, *Record]()}
}

// Upsert inserts rec, or merges it into the existing entry with the same address.
// Returns the stored record and whether the address was seen before.
func (s *Store) Upsert(rec *Record) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.devices.Get(rec.Address); ok {
		rec = prev.merge(rec)
		s.devices.Set(rec.Address, rec)
		return rec, true
	}
	s.devices.Set(rec.Address, rec)
	return rec, false
}

// Get returns the record stored for address.
func (s *Store) Get(address string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices.Get(address)
}

// Len returns the number of distinct devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices.Len()
}

// Devices returns a snapshot of the records in first-seen order.
func (s *Store) Devices() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, 0, s.devices.Len())
	for pair := s.devices.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// First returns the earliest discovered record, or nil if the store is empty.
func (s *Store) First() *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pair := s.devices.Oldest(); pair != nil {
		return pair.Value
	}
	return nil
}

// MarshalJSON renders the store as an address-keyed object in discovery order.
func (s *Store) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.devices)
}
