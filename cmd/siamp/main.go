// SIAMP light server
//
// This is the main entry point for the smart-light backend. It keeps a
// device twin per paired light, sends commands to lights over MQTT,
// reconciles their asynchronous reports, runs user schedules and serves
// the REST and WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/api"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/command"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/control"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/config"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/database"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/influxdb"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/logging"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/metrics"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/mqtt"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/reconcile"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/schedule"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SIAMP light server",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	m := metrics.New()
	twins := device.NewSQLiteRepository(db.DB)
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	dispatcher := command.NewDispatcher(mqttClient, mqttClient.Topics(),
		command.OptionsFromConfig(cfg.MQTT), m, log.Component("command"))

	controlSvc := control.NewService(twins, dispatcher, control.Options{
		LivenessThreshold: cfg.Twin.LivenessThresholdDuration(),
	}, log.Component("control"))
	controlSvc.SetNotifier(hub)

	reconciler := reconcile.New(twins, mqttClient.Topics(), reconcile.Options{
		DedupWindow: cfg.Twin.DedupWindowDuration(),
	}, log.Component("reconcile"))
	reconciler.SetNotifier(hub)
	reconciler.SetRecorder(m)
	if err := reconciler.Subscribe(mqttClient, mqttClient.QoS()); err != nil {
		return fmt.Errorf("subscribing to device events: %w", err)
	}

	watchdog := reconcile.NewWatchdog(twins, cfg.Twin.LivenessThresholdDuration(),
		cfg.Twin.WatchdogIntervalDuration(), log.Component("watchdog"))
	watchdog.SetNotifier(hub)
	watchdog.SetRecorder(m)

	if influxClient != nil {
		reconciler.SetTelemetry(influxClient)
		watchdog.SetTelemetry(influxClient)
	}
	go watchdog.Run(ctx)

	schedules := schedule.NewSQLiteRepository(db.DB)
	scheduleSvc := schedule.NewService(schedules, twins, log.Component("schedule"))
	if cfg.Scheduler.Enabled {
		executor := schedule.NewExecutor(schedules, controlSvc,
			cfg.Scheduler.TickIntervalDuration(), cfg.Scheduler.GraceWindowDuration(),
			log.Component("executor"))
		executor.SetRecorder(m)
		go executor.Run(ctx)
	} else {
		log.Info("schedule executor disabled")
	}

	health := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.Component("api"),
		Devices:   controlSvc,
		Schedules: scheduleSvc,
		Metrics:   m,
		Health:    health,
		Hub:       hub,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path from SIAMP_CONFIG or
// the default.
func getConfigPath() string {
	if path := os.Getenv("SIAMP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
