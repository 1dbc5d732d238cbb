package mqtt

import "strings"

// DefaultPrefix is the topic root used when none is configured.
const DefaultPrefix = "habitat"

// Topics builds habitat topic names under a prefix.
//
//	t := mqtt.Topics{Prefix: "habitat"}
//	t.Command("default") // "habitat/command/default"
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultPrefix
	}
	return p
}

// Reading is the topic a device publishes its readings to.
func (t Topics) Reading(deviceID string) string {
	return t.root() + "/reading/" + deviceID
}

// AllReadings matches every device's reading topic.
func (t Topics) AllReadings() string {
	return t.Reading("+")
}

// Command is the topic queued hardware commands are announced on.
func (t Topics) Command(deviceID string) string {
	return t.root() + "/command/" + deviceID
}

// Alert is the topic raised alerts are published on.
func (t Topics) Alert(deviceID string) string {
	return t.root() + "/alert/" + deviceID
}

// SystemStatus carries the core's retained online/offline status.
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// ParseReading extracts the device ID from a reading topic.
func (t Topics) ParseReading(topic string) (string, bool) {
	return t.parse(topic, "reading")
}

// ParseCommand extracts the device ID from a command topic.
func (t Topics) ParseCommand(topic string) (string, bool) {
	return t.parse(topic, "command")
}

func (t Topics) parse(topic, kind string) (string, bool) {
	prefix := t.root() + "/" + kind + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	id := topic[len(prefix):]
	if id == "" || strings.ContainsAny(id, "/+#") {
		return "", false
	}
	return id, true
}
