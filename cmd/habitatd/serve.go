package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/api"
	"github.com/smartcat/habitat-core/internal/audit"
	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/device"
	"github.com/smartcat/habitat-core/internal/devicelink"
	"github.com/smartcat/habitat-core/internal/infrastructure/config"
	"github.com/smartcat/habitat-core/internal/infrastructure/database"
	"github.com/smartcat/habitat-core/internal/infrastructure/influxdb"
	"github.com/smartcat/habitat-core/internal/infrastructure/kvcache"
	"github.com/smartcat/habitat-core/internal/infrastructure/logging"
	"github.com/smartcat/habitat-core/internal/infrastructure/mqtt"
	"github.com/smartcat/habitat-core/internal/infrastructure/mqttbroker"
	"github.com/smartcat/habitat-core/internal/notify"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the habitat backend until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, rootOpts)
		},
	}
}

// runServe wires every component and blocks until the command context is
// cancelled. Deferred closes run in reverse start order.
func runServe(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log := logging.Default()
	log.Info("starting habitatd", "version", version, "commit", commit, "build_date", date)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.configPath(), "site", cfg.Site.ID)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("device"))
	if err := registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	if err := registry.EnsureDefault(ctx); err != nil {
		return fmt.Errorf("ensuring default device: %w", err)
	}
	ids := registry.IDs()
	log.Info("device registry initialised", "devices", len(ids))

	queue := command.NewQueue(db.DB, cfg.Commands.MaxClaimBatch)
	queue.SetLogger(log.Component("command"))

	engine := alert.NewEngine(alertConfig(cfg), alert.NewSQLiteRepository(db.DB), alert.NewSQLiteRuleRepository(db.DB))
	engine.SetLogger(log.Component("alert"))
	if err := engine.Load(ctx, ids); err != nil {
		return fmt.Errorf("loading alerts: %w", err)
	}

	snapshots := snapshot.NewManager(snapshot.Config{
		HistoryLimit:        cfg.Snapshot.HistoryLimit,
		CacheFloor:          cfg.Snapshot.CacheFloor,
		PresenceThresholdKg: cfg.Snapshot.PresenceThresholdKg,
	}, snapshot.NewSQLiteRepository(db.DB), registry)
	snapshots.SetLogger(log.Component("snapshot"))
	snapshots.SetEvaluator(func(ctx context.Context, deviceID string, previous *snapshot.Reading, r snapshot.Reading) {
		engine.Evaluate(ctx, deviceID, previous, r)
	})
	snapshots.SetCommandQueue(queue)
	if err := snapshots.Load(ctx, ids); err != nil {
		return fmt.Errorf("loading snapshots: %w", err)
	}

	targets := notify.NewSQLiteTargetRepository(db.DB)
	dispatcher, err := newDispatcher(ctx, cfg, targets)
	if err != nil {
		return err
	}
	dispatcher.SetLogger(log.Component("notify"))
	engine.AddSink(dispatcher)
	log.Info("push dispatcher ready", "enabled", dispatcher.Enabled())

	checks := make(map[string]api.HealthChecker)
	var linkMetrics api.LinkMetricsProvider

	if cfg.MQTT.EmbeddedBroker.Enabled {
		broker, brokerErr := mqttbroker.New(mqttbroker.Config{
			Address:  cfg.MQTT.EmbeddedBroker.Address,
			Username: cfg.MQTT.Auth.Username,
			Password: cfg.MQTT.Auth.Password,
		}, log.Component("mqttbroker").Logger)
		if brokerErr != nil {
			return fmt.Errorf("creating embedded broker: %w", brokerErr)
		}
		if startErr := broker.Start(); startErr != nil {
			return fmt.Errorf("starting embedded broker: %w", startErr)
		}
		defer func() {
			log.Info("stopping embedded MQTT broker")
			if closeErr := broker.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
		log.Info("embedded MQTT broker listening", "address", broker.Address())
	}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT connection lost", "error", err)
		})
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))

		link, linkErr := devicelink.New(devicelink.Options{
			Broker:   mqttClient,
			Topics:   mqttClient.Topics(),
			QoS:      mqttClient.QoS(),
			Readings: snapshots,
			Logger:   log.Component("devicelink"),
		})
		if linkErr != nil {
			return fmt.Errorf("creating device link: %w", linkErr)
		}
		if startErr := link.Start(ctx); startErr != nil {
			return fmt.Errorf("starting device link: %w", startErr)
		}
		defer link.Stop()
		queue.AddNotifier(link)
		engine.AddSink(link)
		checks["mqtt"] = mqttClient
		linkMetrics = link
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		snapshots.AddObserver("influxdb", influxClient.WriteSnapshot)
		engine.AddSink(influxClient)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.Redis.Enabled {
		cache, cacheErr := kvcache.Connect(ctx, cfg.Redis)
		if cacheErr != nil {
			return fmt.Errorf("connecting to Redis: %w", cacheErr)
		}
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := cache.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		snapshots.AddObserver("redis", cache.WriteSnapshot)
		checks["redis"] = cache
		log.Info("Redis connected", "addr", cfg.Redis.Addr)
	}

	trail := audit.NewTrail(audit.NewSQLiteRepository(db.DB), cfg.Audit.BufferSize, cfg.GetAuditRetention())
	trail.SetLogger(log.Component("audit"))
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		trail.Run(ctx)
	}()

	srv, err := api.New(api.Deps{
		Config:            cfg.API,
		WS:                cfg.WebSocket,
		Logger:            log.Component("api"),
		DB:                db,
		Devices:           registry,
		Snapshots:         snapshots,
		Alerts:            engine,
		Commands:          queue,
		Push:              dispatcher,
		PushTargets:       targets,
		VAPIDPublicKey:    cfg.Push.Web.VAPIDPublicKey,
		AlertHistoryLimit: cfg.Alerts.HistoryLimit,
		Link:              linkMetrics,
		Checks:            checks,
		Audit:             trail,
		Version:           version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	hub := srv.Hub()
	snapshots.AddObserver("websocket", hub.BroadcastSnapshot)
	engine.AddSink(hub)
	queue.AddNotifier(hub)

	if err := startupCheck(ctx, db, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	go command.NewSweeper(queue, cfg.GetStaleCheckInterval(), cfg.GetClaimTimeout()).Run(ctx)
	go engine.Start(ctx)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("initialisation complete, waiting for shutdown signal", "address", srv.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := srv.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	dispatcher.Wait()
	<-auditDone

	log.Info("habitatd stopped")
	return nil
}

func alertConfig(cfg *config.Config) alert.Config {
	t := cfg.Alerts.Thresholds
	return alert.Config{
		Thresholds: alert.Thresholds{
			WaterCriticalPercent:  t.WaterCriticalPercent,
			WaterLowPercent:       t.WaterLowPercent,
			BrightnessLowPercent:  t.BrightnessLowPercent,
			BrightnessHighPercent: t.BrightnessHighPercent,
			AwayFeedingMinutes:    t.AwayFeedingMinutes,
		},
		Cooldown:      cfg.GetAlertCooldown(),
		SweepInterval: cfg.GetCooldownSweepInterval(),
		HistoryLimit:  cfg.Alerts.HistoryLimit,
		Language:      alert.Lang(cfg.Alerts.Language),
	}
}

// newDispatcher builds the push dispatcher with whichever channels are
// configured. A dispatcher with no channels accepts alerts and drops them.
func newDispatcher(ctx context.Context, cfg *config.Config, targets notify.TargetRepository) (*notify.Dispatcher, error) {
	var web notify.WebSender
	if cfg.WebPushEnabled() {
		web = notify.NewVAPIDSender(notify.VAPIDConfig{
			PublicKey:  cfg.Push.Web.VAPIDPublicKey,
			PrivateKey: cfg.Push.Web.VAPIDPrivateKey,
			Subscriber: cfg.Push.Web.Contact,
			TTL:        cfg.Push.Web.TTL,
		}, nil)
	}

	var transports []notify.Transport
	if cfg.Push.APNs.Enabled {
		apns, err := notify.NewAPNsTransport(notify.APNsConfig{
			KeyPath:    cfg.Push.APNs.KeyPath,
			KeyID:      cfg.Push.APNs.KeyID,
			TeamID:     cfg.Push.APNs.TeamID,
			BundleID:   cfg.Push.APNs.BundleID,
			Production: cfg.Push.APNs.Production,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring APNs: %w", err)
		}
		transports = append(transports, apns)
	}
	if cfg.Push.FCM.Enabled {
		fcm, err := notify.NewFCMTransport(ctx, cfg.Push.FCM.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("configuring FCM: %w", err)
		}
		transports = append(transports, fcm)
	}

	return notify.NewDispatcher(notify.Config{
		BatchSize:       cfg.Push.BatchSize,
		BatchDelay:      cfg.GetPushBatchDelay(),
		DeliveryTimeout: cfg.GetDeliveryTimeout(),
		Title:           cfg.Push.DefaultTitle,
		Language:        alert.Lang(cfg.Alerts.Language),
	}, targets, web, transports...), nil
}

// startupCheck verifies the database and every optional dependency.
func startupCheck(ctx context.Context, db *database.DB, checks map[string]api.HealthChecker) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
