package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for habitat-core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Push      PushConfig      `yaml:"push"`
	Commands  CommandsConfig  `yaml:"commands"`
	Audit     AuditConfig     `yaml:"audit"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Broker         MQTTBrokerConfig     `yaml:"broker"`
	Auth           MQTTAuthConfig       `yaml:"auth"`
	QoS            int                  `yaml:"qos"`
	Reconnect      MQTTReconnectConfig  `yaml:"reconnect"`
	TopicPrefix    string               `yaml:"topic_prefix"`
	EmbeddedBroker EmbeddedBrokerConfig `yaml:"embedded_broker"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// EmbeddedBrokerConfig runs an in-process MQTT broker so a device can
// connect without a separately managed broker.
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// HardwareKey, when set, must be presented in X-Hardware-Key by the
	// device-facing routes (readings, command claim and completion).
	HardwareKey string `yaml:"hardware_key"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig configures the optional latest-snapshot mirror.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TTL       int    `yaml:"ttl"` // seconds, 0 keeps keys forever
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SnapshotConfig controls snapshot retention and normalisation.
type SnapshotConfig struct {
	// HistoryLimit is the number of snapshots kept per device in the store.
	HistoryLimit int `yaml:"history_limit"`

	// CacheFloor is the minimum in-memory history cache size per device.
	CacheFloor int `yaml:"cache_floor"`

	// PresenceThresholdKg is the weight at or above which the cat is
	// considered present when the reading does not say so explicitly.
	// A calibration value overrides it.
	PresenceThresholdKg float64 `yaml:"presence_threshold_kg"`
}

// AlertsConfig controls the alert rule engine.
type AlertsConfig struct {
	HistoryLimit          int             `yaml:"history_limit"`
	Cooldown              int             `yaml:"cooldown"`                // seconds
	CooldownSweepInterval int             `yaml:"cooldown_sweep_interval"` // seconds
	Language              string          `yaml:"language"`
	Thresholds            AlertThresholds `yaml:"thresholds"`
}

// AlertThresholds are the limits used by the built-in policies.
type AlertThresholds struct {
	WaterCriticalPercent  float64 `yaml:"water_critical_percent"`
	WaterLowPercent       float64 `yaml:"water_low_percent"`
	BrightnessLowPercent  float64 `yaml:"brightness_low_percent"`
	BrightnessHighPercent float64 `yaml:"brightness_high_percent"`
	AwayFeedingMinutes    float64 `yaml:"away_feeding_minutes"`
}

// PushConfig configures the notification dispatcher.
type PushConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	BatchDelayMs    int           `yaml:"batch_delay_ms"`
	DeliveryTimeout int           `yaml:"delivery_timeout"` // seconds
	DefaultTitle    string        `yaml:"default_title"`
	Web             WebPushConfig `yaml:"web"`
	APNs            APNsConfig    `yaml:"apns"`
	FCM             FCMConfig     `yaml:"fcm"`
}

// WebPushConfig holds VAPID credentials. Web push is disabled when either key is empty.
type WebPushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Contact         string `yaml:"contact"`
	TTL             int    `yaml:"ttl"`
}

// APNsConfig holds token-based APNs credentials.
type APNsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	KeyPath    string `yaml:"key_path"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	Production bool   `yaml:"production"`
}

// FCMConfig holds the Firebase service account used for FCM.
type FCMConfig struct {
	Enabled            bool   `yaml:"enabled"`
	ServiceAccountPath string `yaml:"service_account_path"`
}

// CommandsConfig controls the hardware command queue sweeper.
type CommandsConfig struct {
	StaleCheckInterval int `yaml:"stale_check_interval"` // seconds
	ClaimTimeout       int `yaml:"claim_timeout"`        // seconds
	MaxClaimBatch      int `yaml:"max_claim_batch"`
}

// AuditConfig controls the change audit trail.
type AuditConfig struct {
	BufferSize    int `yaml:"buffer_size"`
	RetentionDays int `yaml:"retention_days"` // 0 keeps everything
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HABITAT_SECTION_KEY
// For example: HABITAT_DATABASE_PATH, HABITAT_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "habitat-001",
			Name:     "Smart Cat Home",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/habitat.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "habitat-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "habitat",
			EmbeddedBroker: EmbeddedBrokerConfig{
				Address: ":1883",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 4000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "habitat",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Snapshot: SnapshotConfig{
			HistoryLimit:        24,
			CacheFloor:          120,
			PresenceThresholdKg: 1,
		},
		Alerts: AlertsConfig{
			HistoryLimit:          50,
			Cooldown:              300,
			CooldownSweepInterval: 60,
			Language:              "en",
			Thresholds: AlertThresholds{
				WaterCriticalPercent:  10,
				WaterLowPercent:       25,
				BrightnessLowPercent:  15,
				BrightnessHighPercent: 90,
				AwayFeedingMinutes:    360,
			},
		},
		Push: PushConfig{
			BatchSize:       10,
			BatchDelayMs:    200,
			DeliveryTimeout: 30,
			DefaultTitle:    "Smart Cat Home Alert",
			Web: WebPushConfig{
				Contact: "mailto:smart-cat-home@example.com",
				TTL:     3600,
			},
		},
		Commands: CommandsConfig{
			StaleCheckInterval: 60,
			ClaimTimeout:       300,
			MaxClaimBatch:      20,
		},
		Audit: AuditConfig{
			BufferSize:    256,
			RetentionDays: 90,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets belong here rather than in the YAML file.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("HABITAT_DATABASE_PATH", &cfg.Database.Path)

	setString("HABITAT_MQTT_HOST", &cfg.MQTT.Broker.Host)
	setString("HABITAT_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	setString("HABITAT_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	if v := os.Getenv("HABITAT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}

	setString("HABITAT_API_HOST", &cfg.API.Host)
	setString("HABITAT_HARDWARE_API_KEY", &cfg.API.HardwareKey)

	setString("HABITAT_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	setString("HABITAT_REDIS_ADDR", &cfg.Redis.Addr)
	setString("HABITAT_REDIS_PASSWORD", &cfg.Redis.Password)

	setString("HABITAT_VAPID_PUBLIC_KEY", &cfg.Push.Web.VAPIDPublicKey)
	setString("HABITAT_VAPID_PRIVATE_KEY", &cfg.Push.Web.VAPIDPrivateKey)
	setString("HABITAT_VAPID_CONTACT", &cfg.Push.Web.Contact)

	setString("HABITAT_APNS_KEY_PATH", &cfg.Push.APNs.KeyPath)
	setString("HABITAT_APNS_KEY_ID", &cfg.Push.APNs.KeyID)
	setString("HABITAT_APNS_TEAM_ID", &cfg.Push.APNs.TeamID)
	setString("HABITAT_APNS_BUNDLE_ID", &cfg.Push.APNs.BundleID)

	setString("HABITAT_FCM_SERVICE_ACCOUNT_PATH", &cfg.Push.FCM.ServiceAccountPath)
}

// Validate checks the configuration for errors.
// All problems are reported together rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}
	if c.MQTT.EmbeddedBroker.Enabled && c.MQTT.EmbeddedBroker.Address == "" {
		errs = append(errs, "mqtt.embedded_broker.address is required when the embedded broker is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Snapshot.HistoryLimit < 1 {
		errs = append(errs, "snapshot.history_limit must be at least 1")
	}
	if c.Snapshot.PresenceThresholdKg < 0 {
		errs = append(errs, "snapshot.presence_threshold_kg must not be negative")
	}

	if c.Alerts.HistoryLimit < 1 {
		errs = append(errs, "alerts.history_limit must be at least 1")
	}
	if c.Alerts.Cooldown < 0 {
		errs = append(errs, "alerts.cooldown must not be negative")
	}
	switch strings.ToLower(c.Alerts.Language) {
	case "en", "zh", "":
	default:
		errs = append(errs, "alerts.language must be en or zh")
	}
	t := c.Alerts.Thresholds
	if t.WaterCriticalPercent > t.WaterLowPercent {
		errs = append(errs, "alerts.thresholds.water_critical_percent must not exceed water_low_percent")
	}
	if t.BrightnessLowPercent > t.BrightnessHighPercent {
		errs = append(errs, "alerts.thresholds.brightness_low_percent must not exceed brightness_high_percent")
	}

	if c.Push.BatchSize < 1 {
		errs = append(errs, "push.batch_size must be at least 1")
	}
	if c.Push.BatchDelayMs < 0 {
		errs = append(errs, "push.batch_delay_ms must not be negative")
	}
	if c.Push.APNs.Enabled {
		if c.Push.APNs.KeyPath == "" || c.Push.APNs.KeyID == "" || c.Push.APNs.TeamID == "" || c.Push.APNs.BundleID == "" {
			errs = append(errs, "push.apns requires key_path, key_id, team_id and bundle_id when enabled")
		}
	}
	if c.Push.FCM.Enabled && c.Push.FCM.ServiceAccountPath == "" {
		errs = append(errs, "push.fcm.service_account_path is required when fcm is enabled")
	}

	if c.Commands.ClaimTimeout < 1 {
		errs = append(errs, "commands.claim_timeout must be at least 1 second")
	}
	if c.Commands.StaleCheckInterval < 1 {
		errs = append(errs, "commands.stale_check_interval must be at least 1 second")
	}
	if c.Commands.MaxClaimBatch < 1 {
		errs = append(errs, "commands.max_claim_batch must be at least 1")
	}

	if c.Audit.BufferSize < 1 {
		errs = append(errs, "audit.buffer_size must be at least 1")
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// WebPushEnabled reports whether both VAPID keys are configured.
func (c *Config) WebPushEnabled() bool {
	return c.Push.Web.VAPIDPublicKey != "" && c.Push.Web.VAPIDPrivateKey != ""
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetAlertCooldown returns the per-signature alert cooldown.
func (c *Config) GetAlertCooldown() time.Duration {
	return time.Duration(c.Alerts.Cooldown) * time.Second
}

// GetCooldownSweepInterval returns how often expired cooldowns are evicted.
func (c *Config) GetCooldownSweepInterval() time.Duration {
	return time.Duration(c.Alerts.CooldownSweepInterval) * time.Second
}

// GetPushBatchDelay returns the pause between web-push batches.
func (c *Config) GetPushBatchDelay() time.Duration {
	return time.Duration(c.Push.BatchDelayMs) * time.Millisecond
}

// GetDeliveryTimeout bounds a single background delivery.
func (c *Config) GetDeliveryTimeout() time.Duration {
	return time.Duration(c.Push.DeliveryTimeout) * time.Second
}

// GetStaleCheckInterval returns how often claimed commands are checked for staleness.
func (c *Config) GetStaleCheckInterval() time.Duration {
	return time.Duration(c.Commands.StaleCheckInterval) * time.Second
}

// GetClaimTimeout returns how long a command may stay claimed before it is re-queued.
func (c *Config) GetClaimTimeout() time.Duration {
	return time.Duration(c.Commands.ClaimTimeout) * time.Second
}

// GetRedisTTL returns the mirror key TTL. Zero means no expiry.
func (c *Config) GetRedisTTL() time.Duration {
	return time.Duration(c.Redis.TTL) * time.Second
}

// GetAuditRetention returns how long audit entries are kept. Zero means forever.
func (c *Config) GetAuditRetention() time.Duration {
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}
