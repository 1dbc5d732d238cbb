// Package devicelink connects habitat hardware to the core over MQTT.
//
// Inbound, it subscribes to every device's reading topic
// ("habitat/reading/+") and feeds decoded readings to the snapshot manager.
// Outbound, it announces newly queued hardware commands on
// "habitat/command/{deviceId}" and raised alerts on
// "habitat/alert/{deviceId}". Neither outbound message is retained.
//
// The HTTP poll/complete endpoints remain the authoritative command path;
// MQTT announcements only let a connected device poll immediately instead
// of waiting for its next interval.
package devicelink
