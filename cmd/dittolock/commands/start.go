package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/internal/telemetry"
	"github.com/marmos91/dittolock/pkg/api"
	"github.com/marmos91/dittolock/pkg/concurrency/lock"
	"github.com/marmos91/dittolock/pkg/config"
	"github.com/marmos91/dittolock/pkg/metrics"
	"github.com/marmos91/dittolock/pkg/storage/snapshot"
	"github.com/marmos91/dittolock/pkg/workload"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/dittolock/pkg/metrics/prometheus"
)

var (
	startWorkload bool
	startWatch    bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dittolock server",
	Long: `Start the lock manager with its diagnostics API in the foreground.

The server owns one lock manager, the ticket holder used for throttling and
the badger store backing read snapshots. The diagnostics API exposes the live
lock table, the wait-for graph, ticket usage and Prometheus metrics.

With --workload the configured stress workload runs against the manager in a
loop until shutdown, which is useful for watching the lock table under load.

Changes to logging.level and lock.ticket_capacity in the configuration file
are applied while the server runs.

Examples:
  # Start with default config location
  dittolock start

  # Start with custom config file and a background workload
  dittolock start --config /etc/dittolock/config.yaml --workload

  # Start with environment variable overrides
  DITTOLOCK_LOGGING_LEVEL=DEBUG dittolock start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startWorkload, "workload", false, "Run the configured stress workload in a loop while serving")
	startCmd.Flags().BoolVar(&startWatch, "watch", true, "Reload the configuration file on change")
}

// service holds the components built by runStart.
type service struct {
	cfg      *config.Config
	registry *prometheus.Registry
	manager  *lock.Manager
	tickets  *lock.TicketHolder
	store    *snapshot.Store
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, profilingShutdown, err := initObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		// ctx is cancelled by now; give the exporter its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, api.Dependencies{
			Manager:  svc.manager,
			Tickets:  svc.tickets,
			Store:    svc.store,
			Registry: svc.registry,
		})
		g.Go(func() error { return apiServer.Start(gctx) })
	} else {
		logger.Info("API server disabled")
	}

	if path := watchedConfigPath(); startWatch && path != "" {
		g.Go(func() error { return svc.watch(gctx, path) })
	}

	if startWorkload {
		g.Go(func() error { return svc.loopWorkload(gctx) })
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- g.Wait() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		select {
		case err := <-serverDone:
			if err != nil {
				logger.Error("Server shutdown error", logger.Err(err))
				return err
			}
		case <-time.After(cfg.ShutdownTimeout):
			return fmt.Errorf("shutdown timed out after %s", cfg.ShutdownTimeout)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// initObservability starts tracing and profiling. Both are no-ops when disabled.
func initObservability(ctx context.Context, cfg *config.Config) (func(context.Context) error, func() error, error) {
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.TracingConfig{
		Enabled:    cfg.Telemetry.Enabled,
		Endpoint:   cfg.Telemetry.Endpoint,
		Insecure:   cfg.Telemetry.Insecure,
		SampleRate: cfg.Telemetry.SampleRate,
		Version:    Version,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
		ContentionRate: cfg.Telemetry.Profiling.ContentionRate,
	})
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	return telemetryShutdown, profilingShutdown, nil
}

// newService builds the lock manager and its collaborators from cfg.
func newService(cfg *config.Config) (*service, error) {
	svc := &service{cfg: cfg}

	// The registry must exist before any component asks for metrics.
	var lockMetrics *lock.Metrics
	if cfg.Metrics.Enabled {
		svc.registry = metrics.InitRegistry()
		lockMetrics = lock.NewMetrics(svc.registry)
		logger.Info("Metrics enabled")
	} else {
		logger.Info("Metrics collection disabled")
	}

	svc.manager = lock.NewManager(cfg.Lock, lock.WithMetrics(lockMetrics))
	logger.Info("Lock manager initialized",
		"buckets", cfg.Lock.Buckets,
		"document_level_locking", cfg.Lock.DocumentLevelLocking,
		"deadlock_detection", cfg.Lock.DeadlockDetection)

	if cfg.Lock.Throttling {
		svc.tickets = lock.NewTicketHolder(cfg.Lock.TicketCapacity, lock.WithTicketMetrics(lockMetrics))
		logger.Info("Throttling enabled", logger.Tickets(cfg.Lock.TicketCapacity))
	}

	store, err := snapshot.Open(cfg.Storage, metrics.NewSnapshotMetrics())
	if err != nil {
		svc.close()
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	svc.store = store
	logger.Info("Snapshot store opened", "in_memory", cfg.Storage.InMemory, logger.Path(cfg.Storage.Dir))

	return svc, nil
}

func (s *service) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Error("snapshot store close error", logger.Err(err))
		}
	}
	if s.tickets != nil {
		_ = s.tickets.Close()
	}
}

// watchedConfigPath returns the file the configuration was loaded from, or ""
// when running on built-in defaults.
func watchedConfigPath() string {
	if path := GetConfigFile(); path != "" {
		return path
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}

// watch applies configuration changes until ctx is cancelled.
func (s *service) watch(ctx context.Context, path string) error {
	return config.Watch(ctx, path, func(next *config.Config) {
		if _, err := config.ApplyReload(ctx, s.cfg, next, s.tickets); err != nil {
			logger.Warn("Configuration reload failed", logger.Err(err))
			return
		}
		s.cfg.Logging.Level = next.Logging.Level
		s.cfg.Lock.TicketCapacity = next.Lock.TicketCapacity
	})
}

// loopWorkload runs the configured workload back to back until ctx is done.
// Each round is bounded so that results are logged regularly.
func (s *service) loopWorkload(ctx context.Context) error {
	wcfg := s.cfg.Workload
	if wcfg.Duration == 0 {
		wcfg.Duration = 10 * time.Second
	}

	opts := []workload.Option{workload.WithStore(s.store)}
	if s.tickets != nil {
		opts = append(opts, workload.WithTicketHolder(s.tickets))
	}

	for round := 1; ctx.Err() == nil; round++ {
		res, err := workload.NewRunner(s.manager, wcfg, opts...).Run(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("workload round %d: %w", round, err)
		}
		if res.Violations > 0 {
			return fmt.Errorf("workload round %d: %d exclusivity violations", round, res.Violations)
		}
		logger.Info("Workload round complete", "round", round,
			logger.Operations(res.Operations),
			"throughput", res.Throughput,
			"timeouts", res.Timeouts(),
			"deadlocks", res.Deadlocks())
	}
	return nil
}
