// pip-core coordinates live sessions between Pip handheld devices and the
// browsers of the users controlling them.
//
// It accepts device and browser WebSockets, tracks which user holds each
// device over the online and serial channels, forwards telemetry and
// commands, and pushes firmware updates to outdated devices.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/pip-core/internal/api"
	"github.com/nerrad567/pip-core/internal/audit"
	"github.com/nerrad567/pip-core/internal/browser"
	"github.com/nerrad567/pip-core/internal/device"
	"github.com/nerrad567/pip-core/internal/dispatch"
	"github.com/nerrad567/pip-core/internal/firmware"
	"github.com/nerrad567/pip-core/internal/infrastructure/config"
	"github.com/nerrad567/pip-core/internal/infrastructure/database"
	"github.com/nerrad567/pip-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pip-core/internal/infrastructure/logging"
	"github.com/nerrad567/pip-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pip-core/internal/session"
	"github.com/nerrad567/pip-core/migrations"
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

// firmwareRefreshTimeout bounds a refresh triggered over MQTT.
const firmwareRefreshTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting pip-core",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Firmware cache (a missing release is not fatal; devices are simply not updated)
	fwCache := firmware.NewCache(firmware.NewSQLiteSource(db.DB), firmware.CacheOptions{
		RefreshAttempts: uint(cfg.Firmware.RefreshAttempts), //nolint:gosec // validated positive by config.Validate
		RefreshDelay:    cfg.FirmwareRefreshDelay(),
		Logger:          log.Component("firmware"),
	})
	if refreshErr := fwCache.Refresh(ctx); refreshErr != nil {
		if !errors.Is(refreshErr, firmware.ErrNoRelease) {
			return fmt.Errorf("loading firmware: %w", refreshErr)
		}
		log.Warn("no firmware release published yet")
	} else {
		log.Info("firmware loaded", "version", fwCache.Version())
	}

	health := map[string]api.HealthChecker{"database": db}
	opts := session.Options{
		PingInterval: cfg.DevicePingInterval(),
		WriteTimeout: cfg.DeviceWriteTimeout(),
		Recorder:     auditRepo,
		Logger:       log.Component("session"),
	}

	// Connect to MQTT broker (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := startMQTT(cfg, fwCache, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		opts.Publisher = mqttClient
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		opts.Telemetry = influxClient
		health["influxdb"] = influxClient
	}

	// Session state: browser registry first, the device registry calls into it.
	browsers := browser.NewRegistry()
	browsers.SetLogger(log.Component("browser-registry"))

	devices := device.NewRegistry(browsers, cfg.ReconnectWindow())
	devices.SetLogger(log.Component("device-registry"))

	dispatcher := dispatch.New(devices, browsers, fwCache, dispatch.Options{
		BroadcastConcurrency: cfg.Devices.BroadcastConcurrency,
		ChunkSize:            cfg.Firmware.ChunkSize,
		Logger:               log.Component("dispatch"),
	})

	coordinator := session.New(devices, browsers, dispatcher, opts)
	defer coordinator.Close()

	server, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Firmware:      cfg.Firmware,
		Logger:        log.Component("api"),
		Sessions:      coordinator,
		FirmwareCache: fwCache,
		Audit:         auditRepo,
		Health:        health,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"device_path", cfg.WebSocket.DevicePath,
		"browser_path", cfg.WebSocket.BrowserPath,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("pip-core stopped")
	return nil
}

// getConfigPath returns the config path from PIPCORE_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv("PIPCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startMQTT connects to the broker and refreshes the firmware cache whenever
// the publisher announces a release.
func startMQTT(cfg *config.Config, fwCache *firmware.Cache, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	topic := mqtt.Topics{}.FirmwarePublished()
	err = client.Subscribe(topic, byte(cfg.MQTT.QoS), func(_ string, _ []byte) error { //nolint:gosec // QoS validated 0-2
		ctx, cancel := context.WithTimeout(context.Background(), firmwareRefreshTimeout)
		defer cancel()
		if refreshErr := fwCache.Refresh(ctx); refreshErr != nil {
			return fmt.Errorf("refreshing firmware: %w", refreshErr)
		}
		log.Info("firmware refreshed by publish notice", "version", fwCache.Version())
		return nil
	})
	if err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return client, nil
}

// healthCheck verifies every dependency once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
