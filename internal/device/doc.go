// Package device holds the platform-independent model of the BLE central:
// discovered device records, the per-scan device store, scan filters,
// the platform radio interfaces and the error taxonomy shared by the
// scan, connection and manager packages.
package device
