// Package mqttbroker runs an optional in-process MQTT broker.
//
// Small installations have a single habitat device and no broker of their
// own. With mqtt.embedded_broker.enabled the core listens for the device
// itself and its own MQTT client connects to the embedded listener like any
// other client.
package mqttbroker
