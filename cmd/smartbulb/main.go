// smartbulb - headless smart bulb control core.
//
// Discovers bulbs over Bluetooth LE (or an in-process simulator), keeps at
// most one live session and exposes it over REST, WebSocket and MQTT.
// Bulb history goes to InfluxDB when enabled; settings and the saved-bulb
// cache live in a local SQLite database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/smartbulb-core/internal/account"
	"github.com/nerrad567/smartbulb-core/internal/api"
	"github.com/nerrad567/smartbulb-core/internal/bridges/remote"
	"github.com/nerrad567/smartbulb-core/internal/control"
	"github.com/nerrad567/smartbulb-core/internal/history"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/config"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/database"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartbulb-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/smartbulb-core/internal/settings"
	"github.com/nerrad567/smartbulb-core/internal/transport"
	"github.com/nerrad567/smartbulb-core/internal/transport/ble"
	"github.com/nerrad567/smartbulb-core/internal/transport/simulated"
	"github.com/nerrad567/smartbulb-core/migrations"
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

// run wires every component, blocks until ctx is cancelled and then shuts
// down in reverse order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting smartbulb",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database and settings
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
	if migrateErr := db.Migrate(ctx, migrations.Source()); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	store := settings.New(db.DB, cfg.Control.SimulatorMode)

	// Account backend
	accountClient, err := account.New(account.Options{
		BaseURL:       cfg.Backend.URL,
		Timeout:       cfg.Backend.Timeout,
		HealthTimeout: cfg.Backend.HealthTimeout,
		Breaker: account.BreakerSettings{
			MaxFailures: cfg.Backend.Breaker.FailureThreshold,
			Timeout:     cfg.Backend.Breaker.Timeout,
			Interval:    cfg.Backend.Breaker.Interval,
		},
		Logger: log.Component("account"),
	})
	if err != nil {
		return fmt.Errorf("creating account client: %w", err)
	}
	directory := account.NewDirectory(accountClient, store, log.Component("account"))

	// Transports
	sim := simulated.New(simulated.Options{
		DiscoveryDelay: cfg.Simulator.DiscoveryDelay,
		EmitInterval:   cfg.Simulator.EmitInterval,
		ScanWindow:     cfg.Simulator.ScanWindow,
		ConnectDelay:   cfg.Simulator.ConnectDelay,
		CommandDelay:   cfg.Simulator.CommandDelay,
		Identities:     store,
		Logger:         log.Component("simulator"),
	})
	defer closeTransport(log, "simulated", sim)

	var realTransport transport.Transport
	if cfg.BLE.Enabled {
		bleLog := log.Component("ble")
		bt := ble.New(ble.NewTinyGoRadio(nil), ble.Options{
			ScanWindow:     cfg.BLE.ScanWindow,
			ConnectTimeout: cfg.BLE.ConnectTimeout,
			CommandTimeout: cfg.BLE.CommandTimeout,
			OnPhase: func(deviceID string, from, to ble.Phase) {
				bleLog.Debug("connection phase", "device_id", deviceID, "from", from.String(), "to", to.String())
			},
			Logger: bleLog,
		})
		defer closeTransport(log, "ble", bt)
		realTransport = bt
	} else {
		log.Info("bluetooth disabled, real-mode operations will report unreachable")
	}

	// Control facade
	facade, err := control.New(ctx, control.Options{
		Simulated:         sim,
		Real:              realTransport,
		Mode:              store,
		ScanWindow:        cfg.Control.ScanWindow,
		RediscoveryWindow: cfg.Control.RediscoveryWindow,
		Logger:            log.Component("control"),
	})
	if err != nil {
		return fmt.Errorf("starting control facade: %w", err)
	}
	defer func() {
		log.Info("stopping control facade")
		facade.Close()
	}()

	health := map[string]api.HealthChecker{
		"database": db,
		"account":  api.HealthFunc(accountClient.Ping),
	}

	// History (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled, bulb history not recorded")
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
		recorder := history.Start(facade, influxClient)
		defer recorder.Stop()
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// MQTT remote bridge (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, log.Component("mqtt"))
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		bridge := remote.New(mqttClient, facade, log.Component("remote"))
		if startErr := bridge.Start(); startErr != nil {
			return fmt.Errorf("starting remote bridge: %w", startErr)
		}
		defer bridge.Stop()
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// REST and WebSocket API
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.Component("api"),
		Control:   facade,
		Mode:      store,
		Directory: directory,
		Health:    health,
		Version:   version,
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

	log.Info("smartbulb started",
		"simulator_mode", facade.SimulatorMode(),
		"api", server.Addr(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// getConfigPath returns the configuration file path.
func getConfigPath() string {
	if path := os.Getenv("SMARTBULB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func closeTransport(log *logging.Logger, name string, t transport.Transport) {
	if err := t.Close(); err != nil {
		log.Error("error closing transport", "transport", name, "error", err)
	}
}
