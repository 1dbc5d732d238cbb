// Package notify fans recorded alerts out to web-push subscriptions and
// native devices (APNs and FCM).
//
// The Dispatcher implements alert.Sink. Each alert is delivered on its own
// goroutine with a bounded timeout, whatever its severity. Targets that a provider reports as permanently gone are removed
// from the TargetRepository, and per-channel success and failure counts are
// kept for the health endpoint.
package notify
