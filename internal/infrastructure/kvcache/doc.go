// Package kvcache mirrors the latest snapshot of every device into Redis.
//
// Each committed snapshot is stored as JSON under
// "<prefix>:snapshot:<deviceID>" and announced on the
// "<prefix>:events:snapshot" channel, so dashboards and sidecar services
// can read current habitat state without touching the SQLite store.
//
// The mirror is write-behind only: habitat-core never reads its own state
// back from Redis.
package kvcache
