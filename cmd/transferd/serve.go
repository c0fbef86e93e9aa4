package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/TKAles/transfercontrollerdaemon/internal/api"
	"github.com/TKAles/transfercontrollerdaemon/internal/audit"
	"github.com/TKAles/transfercontrollerdaemon/internal/bridge"
	"github.com/TKAles/transfercontrollerdaemon/internal/history"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/config"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/database"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/influxdb"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/logging"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/mqtt"
	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
	"github.com/TKAles/transfercontrollerdaemon/internal/transfer"
	"github.com/TKAles/transfercontrollerdaemon/migrations"
)

// shutdownTimeout bounds the engine's final output writes on exit.
const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transfer daemon (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath(cmd))
		},
	}
}

// runServe is the daemon lifecycle, separated from the command for testability.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals
//   - path: Configuration file to load
//
// Returns:
//   - error: nil on clean shutdown, or error describing the startup failure
func runServe(ctx context.Context, path string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting transferd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", path,
		"station", cfg.Station.ID,
		"controller", cfg.Controller.Connection,
	)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	store := positions.NewStore(positions.NewSQLiteRepository(db.DB))
	store.SetLogger(log.Component("positions"))
	if bootErr := store.Bootstrap(ctx, cfg.Positions.ImportFile); bootErr != nil {
		return fmt.Errorf("loading zone targets: %w", bootErr)
	}
	targets := store.Load(ctx)
	log.Info("zone targets loaded",
		"robomet_load", targets.RobometLoad,
		"xz_transfer", targets.XZTransfer,
		"sras_load", targets.SrasLoad,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	motionCfg := motion.Config{
		Connection:       cfg.Controller.Connection,
		BaudRate:         cfg.Controller.BaudRate,
		CommandTimeout:   cfg.Controller.CommandTimeout,
		HomePollInterval: cfg.Controller.HomePollInterval,
		Axes:             axisMap(cfg.Controller),
	}
	engine := transfer.New(engineConfig(cfg.Engine), transfer.Deps{
		Dial: func(ctx context.Context) (motion.Controller, error) {
			return motion.Open(ctx, motionCfg)
		},
		Targets:    store,
		Registerer: reg,
		Logger:     log.Component("engine"),
	})
	store.OnChange(engine.SetTargets)

	checks := map[string]api.HealthChecker{}

	// MQTT is optional: the station runs from the HMI alone.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Station.ID)
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Station.ID)
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
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	if err := healthCheck(ctx, db, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	hist := history.NewSQLiteRepository(db.DB)
	auditLog := audit.NewSQLiteRepository(db.DB)

	opts := bridge.Options{
		Engine:    engine,
		Recorder:  hist,
		Audit:     auditLog,
		Logger:    log.Component("bridge"),
		Retention: cfg.Database.HistoryRetention,
	}
	// Typed nils must not reach the interfaces.
	if mqttClient != nil {
		opts.MQTT = mqttClient
		opts.Topics = mqttClient.Topics()
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	relay, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := relay.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Metrics:   cfg.Metrics,
		Logger:    log.Component("api"),
		Engine:    engine,
		Positions: store,
		History:   hist,
		Audit:     auditLog,
		DB:        db,
		Gatherer:  reg,
		Checks:    checks,
		Version:   version,
	})
	if err != nil {
		relay.Stop()
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		relay.Stop()
		return fmt.Errorf("starting API server: %w", startErr)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Engine first: its outputs are cleared while the controller link is up.
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if closeErr := engine.Close(closeCtx); closeErr != nil {
		log.Error("error closing engine", "error", closeErr)
	}
	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}
	relay.Stop()

	log.Info("transferd stopped")
	return nil
}

// openDatabase opens the SQLite state file and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.Source); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}

// healthCheck verifies the database and every optional sink that is enabled.
func healthCheck(ctx context.Context, db *database.DB, checks map[string]api.HealthChecker) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func axisMap(c config.ControllerConfig) motion.AxisMap {
	return motion.AxisMap{
		X:    motion.Address{Device: c.Axes.X.Device, Axis: c.Axes.X.Axis},
		Y:    motion.Address{Device: c.Axes.Y.Device, Axis: c.Axes.Y.Axis},
		Z:    motion.Address{Device: c.Axes.Z.Device, Axis: c.Axes.Z.Axis},
		XY:   c.IODevices.XY,
		ZDev: c.IODevices.Z,
	}
}

func engineConfig(c config.EngineConfig) transfer.Config {
	return transfer.Config{
		PollInterval:      c.PollInterval,
		ZoneTolerance:     c.ZoneTolerance,
		InterlockInterval: c.InterlockInterval,
		SettleDelay:       c.SettleDelay,
		ResettleDelay:     c.ResettleDelay,
		CompletePulse:     c.CompletePulse,
		ScanDuration:      c.ScanDuration,
		SignalTimeout:     c.SignalTimeout,
		ArrivalTimeout:    c.ArrivalTimeout,
		HomeOnConnect:     c.HomeOnConnect,
		ClearToLoad: transfer.SignalSource{
			Output:  c.ClearToLoad.Bank == "output",
			Channel: c.ClearToLoad.Channel,
		},
	}
}
