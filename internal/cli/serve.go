package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/harun/runcore/internal/config"
	"github.com/harun/runcore/internal/observability"
	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/bus"
	"github.com/harun/runcore/pkg/gateway"
	"github.com/harun/runcore/pkg/history"
	"github.com/spf13/cobra"
)

const (
	recorderBuffer  = 1024
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway and accept runs from clients",
	Long: `Start the runtime: a message bus, the history recorder, the run driver
and the gateway. Clients connect to /ws to watch runs and send run, abort and
manual plan requests. Stops on SIGINT or SIGTERM after active runs are
aborted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.GetZerolog()

	pidFile := getPIDFilePath(cfg.DataDir)
	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tracing.InitOpenTelemetry("runcore"); err != nil {
		logger.Warn().Err(err).Msg("Tracing disabled")
	}
	observability.EnsureRegistered()
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		logger.Warn().Err(err).Msg("Audit log disabled")
	}
	defer observability.GetAuditLogger().Close()

	b := bus.New(logger)

	if cfg.History.Enabled {
		store, err := history.NewStore(cfg.History.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		// The recorder outlives ctx so the stop messages of aborted runs are
		// stored; it ends when the subscription is cancelled.
		events, cancel := b.Subscribe("", recorderBuffer)
		recorded := make(chan struct{})
		go func() {
			defer close(recorded)
			history.NewRecorder(store).Run(context.WithoutCancel(ctx), events)
		}()
		defer func() {
			cancel()
			<-recorded
		}()

		retention := history.NewRetention(store, time.Duration(cfg.History.MaxAgeHours)*time.Hour, cfg.History.PruneSchedule)
		if err := retention.Start(); err != nil {
			return fmt.Errorf("failed to schedule history retention: %w", err)
		}
		defer retention.Stop()
	}

	model, err := newModel(cfg)
	if err != nil {
		return err
	}
	r, err := newRunner(cfg, model, b, logger)
	if err != nil {
		return err
	}
	runCtx, abortRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer abortRuns()
	controller := newRunController(runCtx, r, logger)

	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		gw, err = gateway.NewServer(gateway.Config{
			Addr:         cfg.Gateway.Addr,
			SharedSecret: cfg.Gateway.SharedSecret,
			Bus:          b,
			Controller:   controller,
			Buffer:       cfg.Gateway.Buffer,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		if err := gw.Start(); err != nil {
			return err
		}
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Watch(ctx, func(updated *config.Config) {
		if logLevel != "" {
			return
		}
		if err := log.SetLevel(updated.Logging.Level); err != nil {
			logger.Warn().Err(err).Msg("Ignoring reloaded log level")
			return
		}
		observability.RecordConfigAudit(ctx, "reload", map[string]any{"log_level": updated.Logging.Level})
		logger.Info().Str("level", updated.Logging.Level).Msg("Config reloaded")
	}, func(err error) {
		logger.Warn().Err(err).Msg("Config reload failed")
	}); err != nil {
		logger.Warn().Err(err).Msg("Config watching disabled")
	}

	logger.Info().
		Str("gateway", cfg.Gateway.Addr).
		Bool("history", cfg.History.Enabled).
		Str("provider", cfg.Model.Provider).
		Msg("runcore started")

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	// Active runs end in the stopped phase and publish their final status
	// before the gateway closes.
	abortRuns()
	controller.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if gw != nil {
		if err := gw.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Gateway shutdown incomplete")
		}
	}
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Tracing shutdown failed")
	}
	return nil
}
