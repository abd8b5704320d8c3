package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/fixgate/internal/logger"
	"github.com/marmos91/fixgate/internal/telemetry"
	"github.com/marmos91/fixgate/pkg/api"
	"github.com/marmos91/fixgate/pkg/codec/tagvalue"
	"github.com/marmos91/fixgate/pkg/config"
	"github.com/marmos91/fixgate/pkg/metrics"
	"github.com/marmos91/fixgate/pkg/metrics/prometheus"
	"github.com/marmos91/fixgate/pkg/session"
	"github.com/marmos91/fixgate/pkg/store"
	"github.com/marmos91/fixgate/pkg/store/factory"
	sqlstore "github.com/marmos91/fixgate/pkg/store/sql"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the FIX engine",
	Long: `Start the engine with the configured session: connect out and log
on (initiator) or listen for the counterparty (acceptor). Runs in the
foreground until interrupted; SIGINT and SIGTERM trigger a graceful
logout before shutdown.

Examples:
  # Start with the default config location
  fixgate start

  # Start with a custom config file
  fixgate start --config /etc/fixgate/config.yaml

  # Override settings through the environment
  FIXGATE_LOGGING_LEVEL=DEBUG fixgate start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "fixgate",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "fixgate",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	messageStore, err := factory.Open(factory.Config{
		Backend: store.Backend(cfg.Store.Type),
		Path:    cfg.Store.Path,
		Postgres: sqlstore.PostgresConfig{
			Host:     cfg.Store.Postgres.Host,
			Port:     cfg.Store.Postgres.Port,
			Database: cfg.Store.Postgres.Database,
			User:     cfg.Store.Postgres.User,
			Password: cfg.Store.Postgres.Password,
			SSLMode:  cfg.Store.Postgres.SSLMode,
		},
	})
	if err != nil {
		return fmt.Errorf("open message store: %w", err)
	}
	defer func() {
		if err := messageStore.Close(); err != nil {
			logger.Error("store close error", logger.KeyError, err)
		}
	}()
	logger.Info("message store ready", logger.KeyStore, cfg.Store.Type)

	sessCfg := cfg.SessionConfig()
	engine, err := session.NewEngine(ctx, sessCfg, session.Options{
		Store:   messageStore,
		Codec:   tagvalue.New(),
		Metrics: prometheus.NewSessionMetrics(sessCfg.SessionID().String()),
	})
	if err != nil {
		return err
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(api.Config{
			Host:      cfg.API.Host,
			Port:      cfg.API.Port,
			JWTSecret: cfg.API.JWTSecret,
		}, engine)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("admin API error", logger.KeyError, err)
			}
		}()
	}

	if entries := cfg.ScheduleEntries(); len(entries) > 0 {
		scheduler, err := session.NewScheduler(engine, entries, nil)
		if err != nil {
			return err
		}
		go scheduler.Run(ctx)
	}

	// Block until a signal arrives, then log out and shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("signal received; shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()
	if err := engine.Stop(stopCtx, true, cfg.Session.LogoutTimeout); err != nil && err != session.ErrEngineStopped {
		logger.Warn("engine stop error", logger.KeyError, err)
	}
	cancel()
	return nil
}
