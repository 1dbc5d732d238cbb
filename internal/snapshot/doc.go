// Package snapshot owns the authoritative state of every monitored device.
//
// A Manager accepts sensor readings, normalises them (carrying forward
// sub-device statuses, deriving water level from intake, defaulting cat
// presence from weight), hands them to the alert evaluator, derives actuator
// status from the device settings and commits the resulting Snapshot to the
// in-memory latest map, the SQLite store and a bounded history cache.
//
// All mutations for one device are serialised by a Locker. Reads of the
// latest snapshot never take the device lock.
package snapshot
