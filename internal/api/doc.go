// Package api implements the HTTP REST API and WebSocket server for habitat-core.
//
// This package provides:
//   - REST endpoints for devices, snapshots, settings and calibration
//   - alert history, XLSX export and custom alert rule CRUD
//   - push target registration and test delivery
//   - the hardware command queue (enqueue, claim, complete)
//   - a WebSocket hub broadcasting snapshots, alerts and commands
//   - a paged audit log of configuration changes
//
// # Architecture
//
// The API sits between the habitat hardware, the dashboard and the domain
// services. Readings posted by the hardware go through the snapshot manager,
// which in turn fans the committed snapshot out to the hub and the other
// observers. Hardware without MQTT polls /commands/claim.
//
// # Security
//
// When api.hardware_key is set, the readings, claim and complete routes
// require a matching X-Hardware-Key header. Everything else is open and
// expected to sit behind the home network or a reverse proxy.
//
// Every failed request answers with {"error":{"code":"...","message":"..."}}.
package api
