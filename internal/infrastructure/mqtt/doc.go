// Package mqtt provides the MQTT client used to talk to habitat devices.
//
// The client wraps paho.mqtt.golang with:
//   - auto-reconnect with exponential backoff
//   - subscriptions that are restored after a reconnect
//   - a retained online/offline status with Last Will and Testament
//   - panic recovery around message handlers
//
// # Topics
//
// Every topic lives under the configured prefix (default "habitat"):
//
//	habitat/reading/{deviceId}   device → core, sensor readings
//	habitat/command/{deviceId}   core → device, queued hardware commands
//	habitat/alert/{deviceId}     core → listeners, raised alerts
//	habitat/system/status        retained core online/offline status
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllReadings(), 1, func(topic string, payload []byte) error {
//	    deviceID, _ := topics.ParseReading(topic)
//	    return handle(deviceID, payload)
//	})
package mqtt
