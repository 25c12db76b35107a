package device

import (
	"fmt"
	"strings"
)

// NameMatch selects how a name filter compares advertised names.
type NameMatch string

const (
	// NameMatchExact compares names byte for byte.
	NameMatchExact NameMatch = "exact"
	// NameMatchFold compares names with Unicode case folding.
	NameMatchFold NameMatch = "fold"
)

// Valid reports whether m is a known match mode.
func (m NameMatch) Valid() bool {
	return m == NameMatchExact || m == NameMatchFold
}

// Filter selects the single device a filtered scan is looking for.
type Filter interface {
	Match(rec *Record) bool
	String() string
}

type addressFilter string

// AddressFilter matches records whose address equals address exactly.
func AddressFilter(address string) (Filter, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: address filter cannot be empty", ErrInvalidArgument)
	}
	return addressFilter(address), nil
}

func (f addressFilter) Match(rec *Record) bool {
	return rec != nil && rec.Address == string(f)
}

func (f addressFilter) String() string {
	return "address=" + string(f)
}

type nameFilter struct {
	name string
	mode NameMatch
}

// NameFilter matches records by advertised name. Records without a name never match.
func NameFilter(name string, mode NameMatch) (Filter, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name filter cannot be empty", ErrInvalidArgument)
	}
	if mode == "" {
		mode = NameMatchExact
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown name match mode %q", ErrInvalidArgument, mode)
	}
	return &nameFilter{name: name, mode: mode}, nil
}

func (f *nameFilter) Match(rec *Record) bool {
	if rec == nil || rec.Name == "" {
		return false
	}
	if f.mode == NameMatchFold {
		return strings.EqualFold(rec.Name, f.name)
	}
	return rec.Name == f.name
}

func (f *nameFilter) String() string {
	return "name=" + f.name
}
