// Package config loads and validates habitat-core configuration.
//
// Configuration is resolved in three layers: built-in defaults, the YAML
// file, then HABITAT_* environment variables. Secrets (MQTT password,
// InfluxDB token, VAPID keys, APNs/FCM credentials, the hardware API key)
// should come from the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
