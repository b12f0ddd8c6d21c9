// Dispense Core - Robotic Glue Dispensing Cell
//
// This is the main entry point for the dispense cell orchestration core.
// It sequences capture, matching, nesting, path generation and dispensing
// over a topic bus, and exposes the command surface over MQTT.
//
// Hardware drivers live outside the core behind the capability interfaces
// in internal/capability. This binary wires the simulated capabilities; a
// vendor driver binary substitutes its own implementations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/plrobotics/dispense-core/migrations"

	"github.com/plrobotics/dispense-core/internal/bus"
	"github.com/plrobotics/dispense-core/internal/capability"
	"github.com/plrobotics/dispense-core/internal/capability/fake"
	"github.com/plrobotics/dispense-core/internal/infrastructure/config"
	"github.com/plrobotics/dispense-core/internal/infrastructure/database"
	"github.com/plrobotics/dispense-core/internal/infrastructure/influxdb"
	"github.com/plrobotics/dispense-core/internal/infrastructure/logging"
	"github.com/plrobotics/dispense-core/internal/infrastructure/mqtt"
	"github.com/plrobotics/dispense-core/internal/motion"
	"github.com/plrobotics/dispense-core/internal/nesting"
	"github.com/plrobotics/dispense-core/internal/orchestrator"
	"github.com/plrobotics/dispense-core/internal/router"
	"github.com/plrobotics/dispense-core/internal/sensing"
	"github.com/plrobotics/dispense-core/internal/telemetry"
	"github.com/plrobotics/dispense-core/internal/tooling"
	"github.com/plrobotics/dispense-core/internal/workpiece"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting dispense core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "cell", cfg.Cell.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	if applied, pending, statusErr := db.GetMigrationStatus(ctx); statusErr == nil {
		log.Info("database migrations complete",
			"applied", len(applied), "pending", len(pending))
	} else {
		log.Warn("migration status unavailable", "error", statusErr)
	}

	// Workpiece repository
	repo := workpiece.NewSQLiteRepository(db.DB)

	// Topic bus - everything in the cell communicates over it
	b := bus.New()
	b.SetLogger(log)

	// Capability layer. The simulated implementations stand in until a
	// hardware driver binary provides real ones.
	motionCap := fake.NewMotion(nil)
	sensingCap := fake.NewSensing(nil)
	toolingCap := fake.NewTooling(nil)
	log.Info("using simulated hardware capabilities")

	// Subsystem services
	motionSvc := motion.NewService(motionCap, b)
	motionSvc.SetLogger(log)
	motionSvc.SetCommandTimeout(cfg.CommandTimeout())
	if err := motionSvc.Start(ctx); err != nil {
		return fmt.Errorf("starting motion service: %w", err)
	}
	defer motionSvc.Stop()

	sensingSvc := sensing.NewService(sensingCap, b)
	sensingSvc.SetLogger(log)
	sensingSvc.SetCaptureAttempts(cfg.Sensing.CaptureAttempts)
	sensingSvc.SetRetryDelay(cfg.RetryDelay())
	if err := sensingSvc.Start(ctx); err != nil {
		return fmt.Errorf("starting sensing service: %w", err)
	}
	defer sensingSvc.Stop()

	toolingSvc := tooling.NewService(toolingCap, b)
	toolingSvc.SetLogger(log)
	toolingSvc.SetPollInterval(cfg.TelemetryInterval())
	if err := toolingSvc.Start(ctx); err != nil {
		return fmt.Errorf("starting tooling service: %w", err)
	}
	defer toolingSvc.Stop()

	// Orchestrator
	matcher := workpiece.NewMatcher(cfg.Cell.MatchThreshold)
	orch, err := orchestrator.New(orchestratorConfig(cfg), b, motionSvc, sensingSvc, toolingSvc, repo, matcher)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	orch.SetLogger(log)
	log.Info("orchestrator ready", "state", orch.State())

	// Request router
	rt := router.New(orch, motionSvc, sensingSvc, toolingSvc, repo)
	rt.SetLogger(log)

	// MQTT bridge (optional)
	if cfg.MQTT.Enabled {
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		// #nosec G115 -- QoS validated to 0..2 by config.Validate
		bridge := telemetry.NewBridge(b, mqttClient, rt, telemetry.BridgeConfig{
			QoS: byte(cfg.MQTT.QoS),
		})
		bridge.SetLogger(log)
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Error("error stopping MQTT bridge", "error", stopErr)
			}
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	// Cycle statistics to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		stats := telemetry.NewStats(b, influxClient, cfg.Cell.ID)
		stats.SetLogger(log)
		if err := stats.Start(); err != nil {
			return fmt.Errorf("starting cycle stats recorder: %w", err)
		}
		defer func() {
			if stopErr := stats.Stop(); stopErr != nil {
				log.Error("error stopping cycle stats recorder", "error", stopErr)
			}
		}()
	} else {
		log.Info("InfluxDB disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"application_state", orch.State())

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls unwind in reverse order: stats, bridge, MQTT,
	// subsystem services, then the database.

	log.Info("dispense core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DISPENSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DISPENSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// orchestratorConfig maps the loaded cell configuration onto the
// orchestrator's runtime configuration.
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		CapturePose:  pose(cfg.Cell.CapturePose),
		CleanPose:    pose(cfg.Cell.CleanPose),
		CleanValveID: cfg.Cell.CleanValveID,
		CleanPulse:   cfg.CleanPulse(),
		TravelSpeed:  cfg.Cell.TravelSpeed,
		Clearance:    cfg.Cell.Clearance,
		PickupZ:      cfg.Cell.PickupZ,
		WorkArea: nesting.Bounds{
			MinX: cfg.Cell.WorkArea.MinX,
			MinY: cfg.Cell.WorkArea.MinY,
			MaxX: cfg.Cell.WorkArea.MaxX,
			MaxY: cfg.Cell.WorkArea.MaxY,
		},
		NestingMargin: cfg.Cell.NestingMargin,
		DefaultGlue: workpiece.GlueSettings{
			ValveID:    cfg.Cell.DefaultGlue.ValveID,
			Speed:      cfg.Cell.DefaultGlue.Speed,
			FlowRate:   cfg.Cell.DefaultGlue.FlowRate,
			BeadHeight: cfg.Cell.DefaultGlue.BeadHeight,
		},
	}
}

func pose(p config.PoseConfig) capability.Pose {
	return capability.Pose{X: p.X, Y: p.Y, Z: p.Z, RX: p.RX, RY: p.RY, RZ: p.RZ}
}
