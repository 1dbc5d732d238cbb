// Package device keeps the registry of monitored devices.
//
// A device is one physical habitat (a "cat" in the product). Every snapshot,
// setting, calibration and alert is scoped by device ID. The device with ID
// DefaultID always exists: it is seeded by migration and re-created by
// Registry.EnsureDefault if someone deletes the row.
package device
