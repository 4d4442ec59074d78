package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nerrad567/lanwake/internal/api"
	"github.com/nerrad567/lanwake/internal/auth"
	"github.com/nerrad567/lanwake/internal/controller"
	"github.com/nerrad567/lanwake/internal/events"
	"github.com/nerrad567/lanwake/internal/heartbeat"
	"github.com/nerrad567/lanwake/internal/infrastructure/config"
	"github.com/nerrad567/lanwake/internal/infrastructure/database"
	"github.com/nerrad567/lanwake/internal/infrastructure/influxdb"
	"github.com/nerrad567/lanwake/internal/infrastructure/logging"
	"github.com/nerrad567/lanwake/internal/infrastructure/mqtt"
	"github.com/nerrad567/lanwake/internal/kvstore"
	"github.com/nerrad567/lanwake/internal/netstack"
	"github.com/nerrad567/lanwake/internal/panel"
	"github.com/nerrad567/lanwake/internal/provision"
	"github.com/nerrad567/lanwake/internal/ratelimit"
	"github.com/nerrad567/lanwake/internal/registry"
	"github.com/nerrad567/lanwake/internal/scanner"
	"github.com/nerrad567/lanwake/internal/wol"
	"github.com/nerrad567/lanwake/migrations"
)

// run wires the controller and blocks until ctx is cancelled or a task
// fails. A *controller.FatalError in the returned chain is found by
// controller.AsFatal.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting lanwake",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if path == "" {
		log.Warn("no config file, using defaults", "path", getConfigPath())
	} else {
		log.Info("configuration loaded", "path", path)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	store := kvstore.New(db)

	verifier := auth.NewVerifier(time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute)
	workerID, err := provisionAccount(ctx, cfg, store, verifier, log)
	if err != nil {
		return err
	}

	devices := registry.New(registry.NewKVRepository(store), cfg.Registry.Capacity)
	devices.SetLogger(log)
	if loadErr := devices.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	log.Info("device registry loaded", "devices", devices.Len(), "capacity", devices.Cap())

	stack := netstack.NewStack()
	conn := controller.NewConnectivity(stack, cfg.Controller.Interface, cfg.Indicator.FastBlink, cfg.Indicator.SlowBlink)
	link := netstack.NewLinkMonitor(stack, cfg.Controller.Interface, cfg.Watchdog.LinkPollInterval)

	fanout := events.NewFanout()
	fanout.SetLogger(log)

	sc := scanner.New(scanner.Config{
		StepDelay:   cfg.Scanner.StepDelay,
		ResolveWait: cfg.Scanner.ResolveWait,
		RetryDelay:  cfg.Scanner.RetryDelay,
	}, conn, netstack.NewICMPProber(cfg.Scanner.ProbeTimeout), netstack.NewARPResolver(), devices)
	sc.SetLogger(log)
	sc.SetOnAdded(func(d scanner.Discovery) {
		fanout.Publish(events.DeviceAdded, events.Device{MAC: d.MAC.String(), Addr: d.Addr.String()})
	})

	orch := controller.New(controller.NewConfig(cfg), conn, sc, link)
	orch.SetLogger(log)
	orch.SetEvents(fanout)
	if cfg.Indicator.LED != "" {
		orch.SetOutput(controller.NewLEDOutput(cfg.Indicator.LED))
	}

	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Limiter:    ratelimit.New(cfg.Security.RateLimit.Capacity, cfg.Security.RateLimit.SlotTTL),
		Verifier:   verifier,
		Registry:   devices,
		Controller: orch,
		Waker:      wol.NewSender(cfg.WOL.Port),
		Events:     fanout,
		Scanner:    sc,
		DB:         db,
		Version:    version,
	}
	if cfg.API.Panel.Enabled {
		deps.Panel = panel.Handler(cfg.API.Panel.Dir, "/ui")
	}

	if cfg.Heartbeat.Enabled {
		hb := newHeartbeat(cfg, workerID, conn)
		hb.SetLogger(log)
		hb.SetOnResult(func(res heartbeat.Result) {
			fanout.Publish(events.Heartbeat, res)
		})
		orch.SetHeartbeat(hb.Run)
		deps.Heartbeat = hb
	}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := connectMQTT(cfg, workerID, orch, fanout, log)
		if mqttErr != nil {
			// The broker is an optional reporting channel; waking still works.
			log.Warn("MQTT unavailable, continuing without broker", "error", mqttErr)
		} else {
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			deps.MQTT = mqttClient
		}
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB, workerID)
		if influxErr != nil {
			log.Warn("InfluxDB unavailable, continuing without metrics", "error", influxErr)
		} else {
			influxClient.SetOnError(func(err error) {
				log.Warn("influxdb write failed", "error", err)
			})
			defer func() {
				log.Info("closing InfluxDB")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			queue := events.NewQueue(events.InfluxSink(influxClient), 0)
			fanout.Add("influxdb", queue)
			orch.AddTask("influxdb events", queue.Run)
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	fanout.Add("websocket", events.HubSink(srv.Hub()))

	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("lanwake running", "interface", cfg.Controller.Interface, "worker_id", workerID)

	err = orch.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("controller stopped: %w", err)
	}

	log.Info("shutdown signal received, stopping")
	return nil
}

// provisionAccount loads or creates the operator account and installs it
// in verifier. Missing first-boot credentials are not fatal: the API
// answers 503 until an operator restarts with credentials configured.
// It returns the worker id to use for reporting.
func provisionAccount(ctx context.Context, cfg *config.Config, store *kvstore.Store, verifier *auth.Verifier, log *logging.Logger) (string, error) {
	prov := provision.New(store, provision.ConfigSource{
		Provisioning: cfg.Security.Provisioning,
		JWTSecret:    cfg.Security.JWT.Secret,
	})
	prov.SetLogger(log)
	prov.OnReady(verifier.SetCredentials)

	creds, err := prov.Ensure(ctx)
	switch {
	case err == nil:
		return creds.WorkerID, nil
	case errors.Is(err, provision.ErrIncomplete):
		log.Warn("operator account not provisioned; set LANWAKE_ADMIN_USERNAME and LANWAKE_ADMIN_PASSWORD")
		return fallbackWorkerID(cfg), nil
	default:
		return "", fmt.Errorf("provisioning operator account: %w", err)
	}
}

func fallbackWorkerID(cfg *config.Config) string {
	if cfg.Security.Provisioning.WorkerID != "" {
		return cfg.Security.Provisioning.WorkerID
	}
	return hostname(cfg)
}

func hostname(cfg *config.Config) string {
	if cfg.Controller.Hostname != "" {
		return cfg.Controller.Hostname
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "lanwake"
}

func newHeartbeat(cfg *config.Config, workerID string, conn *controller.Connectivity) *heartbeat.Reporter {
	return heartbeat.New(heartbeat.Config{
		URL:              cfg.Heartbeat.URL,
		Hostname:         hostname(cfg),
		WorkerID:         workerID,
		HealthyInterval:  cfg.Heartbeat.HealthyInterval,
		DegradedInterval: cfg.Heartbeat.DegradedInterval,
		Timeout:          cfg.Heartbeat.Timeout,
	}, conn)
}

// connectMQTT connects to the broker, routes events to it through a queue
// and subscribes to the scan command.
func connectMQTT(cfg *config.Config, workerID string, orch *controller.Orchestrator, fanout *events.Fanout, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT, workerID)
	if err != nil {
		return nil, err
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT connection lost", "error", err)
	})

	queue := events.NewQueue(events.MQTTSink(client, log), 0)
	fanout.Add("mqtt", queue)
	orch.AddTask("mqtt events", queue.Run)

	if subErr := client.OnCommand("scan", func() {
		if orch.RequestScan() {
			log.Info("scan requested over MQTT")
		}
	}); subErr != nil {
		log.Warn("subscribing to scan command failed", "error", subErr)
	}

	log.Info("MQTT ready",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"topics", client.Topics().Worker(),
	)
	return client, nil
}
