// PlantNode - plant monitor connectivity daemon
//
// PlantNode runs the provisioning and telemetry pipeline for a plant
// monitoring gateway:
//   - BLE provisioning of WiFi credentials and plant parameters
//   - Crash-safe configuration storage (SQLite, WAL)
//   - Credential testing before anything is persisted
//   - TLS MQTT telemetry towards the platform broker
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/plantform/plantnode/migrations"

	"github.com/plantform/plantnode/internal/api"
	"github.com/plantform/plantnode/internal/ble"
	"github.com/plantform/plantnode/internal/configstore"
	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/database"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
	"github.com/plantform/plantnode/internal/orchestrator"
	"github.com/plantform/plantnode/internal/sensor"
	"github.com/plantform/plantnode/internal/telemetry"
	"github.com/plantform/plantnode/internal/wifi"
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

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting PlantNode",
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

	// Database and migrations
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	store := configstore.NewStore(db, log)

	// BLE link to the companion app
	transport, err := ble.New(cfg.BLE, log)
	if err != nil {
		return fmt.Errorf("opening ble transport: %w", err)
	}

	wifiMgr := wifi.NewManager(cfg.WiFi, log)
	sensors := sensor.NewStore()

	// Optional local telemetry mirror
	history, err := telemetry.NewHistory(ctx, cfg.History, log)
	if err != nil {
		// The mirror is a convenience; the daemon runs without it.
		log.Warn("history mirror unavailable", "error", err)
	}
	defer history.Close()

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Logger:    log,
		Store:     store,
		Transport: transport,
		WiFi:      wifiMgr,
		NewPublisher: func(deviceID int) orchestrator.Publisher {
			return telemetry.NewPublisher(cfg.MQTT, deviceID, log)
		},
		History: history,
		Sensors: sensors,
	})

	// Local diagnostics endpoint
	if cfg.API.Enabled {
		apiServer := api.New(api.Deps{
			Config: cfg.API,
			Logger: log,
			Status: orch,
			DB:     db,
		})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("starting diagnostics endpoint: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing diagnostics endpoint", "error", closeErr)
			}
		}()
	}

	log.Info("PlantNode running")
	return orch.Run(ctx)
}

// getConfigPath resolves the config file path from args or environment.
func getConfigPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	if path := os.Getenv("PLANTNODE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
