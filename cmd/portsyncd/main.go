// Command portsyncd launches the portfolio synchronization daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/candlelabs/portsync/config"
	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/account"
	"github.com/candlelabs/portsync/internal/bus/eventbus"
	"github.com/candlelabs/portsync/internal/catalog"
	"github.com/candlelabs/portsync/internal/conn"
	"github.com/candlelabs/portsync/internal/engine"
	"github.com/candlelabs/portsync/internal/feed"
	"github.com/candlelabs/portsync/internal/persistence/migrations"
	"github.com/candlelabs/portsync/internal/persistence/postgres"
	"github.com/candlelabs/portsync/internal/sched"
	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/telemetry"
	"github.com/candlelabs/portsync/internal/venue"
	"github.com/candlelabs/portsync/internal/venue/binanceum"
	"github.com/candlelabs/portsync/internal/venue/okx"
	"github.com/candlelabs/portsync/internal/weights"
)

const (
	daemonLoggerPrefix       = "portsyncd "
	feedCommandBuffer        = 8
	shutdownTimeout          = 30 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	busShutdownTimeout       = 2 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	migrateTimeout           = 30 * time.Second
	catalogLoadTimeout       = 60 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()

	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newDaemonLogger()

	cfg, err := config.Load(cfgPathFlag)
	if err != nil {
		logger.Printf("configuration error: %v", err)
		os.Exit(1)
	}
	logger.Printf("configuration loaded: env=%s roster=%s", cfg.Environment, cfg.RosterPath)

	telemetryProvider, err := initTelemetry(ctx, logger, cfg.Environment)
	if err != nil {
		logger.Printf("telemetry error: %v", err)
		os.Exit(1)
	}

	pool, journal, err := initJournal(ctx, logger, cfg.DatabaseDSN)
	if err != nil {
		logger.Printf("order journal error: %v", err)
		os.Exit(1)
	}

	instruments := catalog.New()
	if err := warmCatalog(ctx, logger, cfg, instruments); err != nil {
		logger.Printf("instrument catalog error: %v", err)
		os.Exit(1)
	}
	logger.Printf("instrument catalog loaded: %d instruments", instruments.Len())

	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{
		BufferSize:    cfg.Bus.BufferSize,
		FanoutWorkers: cfg.Bus.FanoutWorkers,
	})

	var lifecycle conc.WaitGroup

	feeds := feed.NewRegistry()
	orchestrator := conn.NewOrchestrator(logger, func(taskID uint64) (conn.Handle, bool) {
		h, ok := feeds.Lookup(taskID)
		if !ok {
			return nil, false
		}
		return h, true
	})
	supervisor := &feedSupervisor{
		orchestrator: orchestrator,
		feeds:        feeds,
		bus:          bus,
		lifecycle:    &lifecycle,
		runCtx:       ctx,
		logger:       logger,
	}

	targets := weights.NewTable()
	reconciler := account.NewReconciler(logger, journal)
	registry := account.NewRegistry(account.RegistryConfig{
		Logger:         logger,
		Factory:        newClientFactory(cfg),
		Connectivity:   supervisor,
		Reconciler:     reconciler,
		Catalog:        instruments,
		Targets:        targets,
		RosterPath:     cfg.RosterPath,
		RefreshWorkers: cfg.RefreshWorkers,
	})
	if err := registry.LoadInitial(); err != nil {
		logger.Printf("account roster error: %v", err)
		os.Exit(1)
	}
	// First REST refresh before any feed traffic so reconciliation starts
	// from observed balances rather than zero state.
	registry.UpdateAll(ctx)

	connectInitialAccounts(ctx, logger, registry, supervisor, orchestrator)

	scheduler := sched.New(bus, logger,
		sched.Task{TaskID: cfg.Schedule.ReloadTaskID, Interval: cfg.Schedule.ReloadInterval.Std()},
		sched.Task{TaskID: cfg.Schedule.UpdateTaskID, Interval: cfg.Schedule.UpdateInterval.Std()},
	)
	lifecycle.Go(func() { scheduler.Run(ctx) })

	loop := engine.New(engine.Config{
		Registry:     registry,
		Bus:          bus,
		Logger:       logger,
		ReloadTaskID: cfg.Schedule.ReloadTaskID,
		UpdateTaskID: cfg.Schedule.UpdateTaskID,
	})
	lifecycle.Go(func() {
		if err := loop.Run(ctx); err != nil {
			logger.Printf("control loop: %v", err)
		}
	})

	logger.Print("portsyncd started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		bus:        bus,
		pool:       pool,
		telemetry:  telemetryProvider,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

// connectInitialAccounts provisions feed runners for every loaded account and
// drives each first handshake directly. The control loop is not subscribed
// yet at this point, so the provisioning announcements the runners publish
// reach no consumer; accounts present at startup connect here.
func connectInitialAccounts(ctx context.Context, logger *log.Logger, registry *account.Registry, supervisor *feedSupervisor, orchestrator *conn.Orchestrator) {
	for _, st := range registry.Accounts() {
		supervisor.provision(st)
	}
	for _, st := range registry.Accounts() {
		if err := orchestrator.ConnectAccount(ctx, st); err != nil {
			logger.Printf("initial feed connect failed for account %s: %v", st.AccountID, err)
		}
	}
}

func parseFlags() string {
	cfgPath := flag.String("config", "", "Path to YAML configuration file (optional)")
	flag.Parse()
	if *cfgPath != "" {
		return *cfgPath
	}
	return strings.TrimSpace(os.Getenv("PORTSYNC_CONFIG"))
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newDaemonLogger() *log.Logger {
	return log.New(os.Stdout, daemonLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Environment = string(env)

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Print("telemetry disabled")
	}
	return provider, nil
}

// initJournal migrates and connects the order journal when a DSN is
// configured. Without one the daemon runs journal-free.
func initJournal(ctx context.Context, logger *log.Logger, dsn string) (*pgxpool.Pool, account.OrderJournal, error) {
	if strings.TrimSpace(dsn) == "" {
		logger.Print("no database configured; order journal disabled")
		return nil, nil, nil
	}

	migrateCtx, cancel := context.WithTimeout(ctx, migrateTimeout)
	defer cancel()
	if err := migrations.Apply(migrateCtx, dsn, logger); err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect order journal: %w", err)
	}
	logger.Print("order journal enabled")
	return pool, postgres.NewJournal(pool), nil
}

func warmCatalog(ctx context.Context, logger *log.Logger, cfg config.Settings, instruments *catalog.Catalog) error {
	binance, err := binanceum.New(binanceum.Options{
		RESTBaseURL: cfg.Venues.BinanceUM.RESTBaseURL,
		WSBaseURL:   cfg.Venues.BinanceUM.WSURL,
	})
	if err != nil {
		return err
	}
	clients := []venue.Client{
		okx.New(okx.Options{
			RESTBaseURL:  cfg.Venues.OKX.RESTBaseURL,
			PrivateWSURL: cfg.Venues.OKX.WSURL,
		}),
		binance,
	}

	loadCtx, cancel := context.WithTimeout(ctx, catalogLoadTimeout)
	defer cancel()
	return instruments.Load(loadCtx, logger, clients...)
}

// newClientFactory builds per-account venue clients from roster credentials
// and the configured endpoint overrides.
func newClientFactory(cfg config.Settings) account.ClientFactory {
	return func(entry account.RosterEntry) (venue.Client, error) {
		v, err := entry.ParsedVenue()
		if err != nil {
			return nil, err
		}
		creds := venue.Credentials{
			APIKey:     entry.APIKey,
			APISecret:  entry.APISecret,
			Passphrase: entry.Passphrase,
		}
		switch v {
		case schema.VenueOKX:
			return okx.New(okx.Options{
				RESTBaseURL:  cfg.Venues.OKX.RESTBaseURL,
				PrivateWSURL: cfg.Venues.OKX.WSURL,
				Credentials:  creds,
			}), nil
		case schema.VenueBinanceUM:
			return binanceum.New(binanceum.Options{
				RESTBaseURL: cfg.Venues.BinanceUM.RESTBaseURL,
				WSBaseURL:   cfg.Venues.BinanceUM.WSURL,
				Credentials: creds,
			})
		default:
			return nil, errs.New(string(v), errs.CodeConfig,
				errs.WithMessage("no client for venue "+string(v)))
		}
	}
}

type gracefulShutdownConfig struct {
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	bus        *eventbus.MemoryBus
	pool       *pgxpool.Pool
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.bus != nil {
		shutdownStep("closing event bus", busShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.bus.Close()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return stepCtx.Err()
			}
		})
	}

	if cfg.pool != nil {
		logger.Print("shutdown: closing order journal pool")
		cfg.pool.Close()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
