// Package alert evaluates normalised readings against built-in and
// user-defined policies.
//
// Every candidate alert passes two filters before it is recorded: a per-device
// cooldown keyed by the alert signature, and a duplicate check against the
// device's immediately preceding alert. Surviving alerts are persisted with
// retention, remembered as the preceding alert, and handed to a Sink for
// delivery.
package alert
