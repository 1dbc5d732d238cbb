// Package audit records configuration changes made through the API:
// device registration, settings and calibration updates, alert rule edits
// and command completions.
//
// Entries are queued by Trail.Record without blocking the request and
// written serially by Trail.Run, which also prunes entries older than the
// configured retention. When the queue is full the entry is dropped and
// counted.
package audit
