package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/elfradio/elfradio/internal/ai"
	"github.com/elfradio/elfradio/internal/audit"
	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/controlplane"
	"github.com/elfradio/elfradio/internal/events"
	"github.com/elfradio/elfradio/internal/hardware"
	"github.com/elfradio/elfradio/internal/netmon"
	"github.com/elfradio/elfradio/internal/registry"
	"github.com/elfradio/elfradio/internal/scheduler"
	"github.com/elfradio/elfradio/internal/session"
	"github.com/elfradio/elfradio/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	eventBufferSize   = 256
	persistQueueSize  = 1024
	shutdownTimeout   = 30 * time.Second
	defaultDBFileName = "elfradio.db"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the ElfRadio engine",
	Long:  `Starts the engine that owns the radio hardware and serves the HTTP API and status stream.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default: network.listen_address)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (default: <config>/elfradio.db)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := logrus.StandardLogger()

	loader := config.NewLoader(configDir)
	if err := loader.WriteDefault(); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	cfg, err := loader.Snapshot()
	if err != nil {
		return err
	}
	if logLevel == "" {
		setupLogger(logger, cfg.Logging.Level)
	}
	logger.WithField("config", loader.Path()).Info("Starting ElfRadio daemon")
	if err := os.MkdirAll(cfg.General.TasksBaseDirectory, 0755); err != nil {
		return fmt.Errorf("create tasks directory: %w", err)
	}

	// Initialize store
	path := dbPath
	if path == "" {
		path = cfg.General.DatabasePath
	}
	if path == "" {
		path = filepath.Join(configDir, defaultDBFileName)
	}
	s, err := store.New(path)
	if err != nil {
		return err
	}
	persister := store.NewAdapter(s, logger, persistQueueSize)

	bus := events.NewBus(eventBufferSize)
	hub := events.NewHub(bus, logger)

	hw := hardware.NewManager(logger, bus)
	hw.SetRxTxSeparation(cfg.Hardware.EnableRxTxSeparation)
	registerPollers(hw, cfg, logger)

	reg := registry.New(registry.Options{
		Config:    loader,
		Store:     s,
		Persister: persister,
		Audit:     audit.NewDecisionWriter(s),
		Hardware:  hw,
		Publisher: bus,
		Logger:    logger,
		Devices:   openDevices,
		Gateway: func(cfg *config.Config) session.Gateway {
			return ai.NewGatewayFromConfig(cfg, bus, logger)
		},
	})

	network := netmon.New(cfg.Network.ConnectivityCheckURLs, nil, bus, logger)

	// Watch the config directory; running tasks keep their snapshot.
	watcher, err := config.NewWatcher(loader, logger)
	if err != nil {
		logger.WithError(err).Warn("Config hot reload disabled")
	} else {
		watcher.OnChange(func() {
			next, err := loader.Snapshot()
			if err != nil {
				logger.WithError(err).Warn("Ignoring invalid configuration change")
				return
			}
			if logLevel == "" {
				setupLogger(logger, next.Logging.Level)
			}
			hw.SetRxTxSeparation(next.Hardware.EnableRxTxSeparation)
			logger.Info("Configuration reloaded")
		})
		watcher.Start()
		defer watcher.Stop()
	}

	// Create and start scheduler
	schedCfg := scheduler.FromSettings(cfg)
	sched := scheduler.New(schedCfg, logger)
	if err := sched.Add(scheduler.Job{
		Name:      "device-poll",
		Interval:  schedCfg.DevicePollInterval,
		Immediate: true,
		Run: func(ctx context.Context) error {
			hw.Poll(ctx)
			return nil
		},
	}); err != nil {
		return err
	}
	if err := sched.Add(scheduler.Job{
		Name:      "network-check",
		Interval:  schedCfg.NetworkCheckInterval,
		Immediate: true,
		Run:       network.Check,
	}); err != nil {
		return err
	}
	sched.Start()

	service := controlplane.NewService(reg, s, hw, loader, network)
	addr := listenAddr
	if addr == "" {
		addr = cfg.Network.ListenAddress
	}
	server := controlplane.NewServer(service, controlplane.ServerOptions{
		Addr:   addr,
		Token:  cfg.Security.APIToken,
		Events: hub,
		Logger: logger,
	})
	if cfg.Security.APIToken == "" {
		logger.Warn("security.api_token is empty; the API accepts unauthenticated requests")
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("Server error")
			runErr = err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Info("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown error")
	}

	logger.Info("Stopping active task")
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Task shutdown error")
	}

	sched.Stop()
	bus.Close()
	persister.Close()
	if dropped, failed := persister.Stats(); dropped > 0 || failed > 0 {
		logger.WithFields(logrus.Fields{"dropped": dropped, "failed": failed}).Warn("Some stage records were not persisted")
	}

	logger.Info("Closing database connection")
	if err := s.Close(); err != nil {
		logger.WithError(err).Warn("Database close error")
	}

	logger.Info("Shutdown complete")
	return runErr
}
