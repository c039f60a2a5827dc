// Package main is the entry point for the SommOS yacht cellar management
// server. It wires the databases, event bus, services and background jobs,
// starts the HTTP and WebSocket surfaces, and handles graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/clientdata"
	"github.com/sommos/sommos/internal/clients/aiprovider"
	"github.com/sommos/sommos/internal/clients/openmeteo"
	"github.com/sommos/sommos/internal/config"
	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/events"
	"github.com/sommos/sommos/internal/experiments"
	"github.com/sommos/sommos/internal/inventory"
	"github.com/sommos/sommos/internal/metrics"
	"github.com/sommos/sommos/internal/pairing"
	"github.com/sommos/sommos/internal/realtime"
	"github.com/sommos/sommos/internal/reliability"
	"github.com/sommos/sommos/internal/scheduler"
	syncpkg "github.com/sommos/sommos/internal/sync"
	"github.com/sommos/sommos/internal/server"
	"github.com/sommos/sommos/internal/vintage"
	"github.com/sommos/sommos/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().Msg("Starting SommOS")

	// The cellar database carries the ledger, so it runs the safest
	// profile; the cache database holds replaceable external payloads.
	mainDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath,
		Profile: database.ProfileLedger,
		Name:    database.NameMain,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open main database")
	}
	defer mainDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    cfg.CachePath,
		Profile: database.ProfileCache,
		Name:    database.NameCache,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	if err := mainDB.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply main schema")
	}
	if err := cacheDB.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply cache schema")
	}

	bus := events.NewBus(log)
	tracker := metrics.New(cfg.MetricsWindow, bus, log)

	inv := inventory.NewService(mainDB.Conn(), bus, tracker, log)
	ledgerEngine := inv.Ledger()

	providers, narrator := buildProviders(cfg, log)
	pairingRepo := pairing.NewRepository(mainDB.Conn(), log)
	orchestrator := pairing.NewOrchestrator(inv, providers, pairingRepo, tracker, bus, pairing.Config{
		ProviderTimeout: cfg.ProviderTimeout,
		CacheTTL:        cfg.PairingCacheTTL,
		CacheMax:        cfg.PairingCacheMax,
	}, log)
	defer orchestrator.Stop()

	cacheRepo := clientdata.NewRepository(cacheDB.Conn())
	weather := openmeteo.NewClient(cacheRepo, cfg.WeatherTimeout, cfg.ExternalCallsDisabled, log)
	weather.SetEndpoints(cfg.WeatherBaseURL, cfg.GeocodeBaseURL)

	weatherRepo := vintage.NewRepository(cacheDB.Conn(), log)
	enricher := vintage.NewEnricher(
		weather,
		weatherRepo,
		inv.Vintages(),
		inv.Wines(),
		mainDB.Conn(),
		narrator,
		bus,
		vintage.Config{
			WeatherTimeout:        cfg.WeatherTimeout,
			ExternalCallsDisabled: cfg.ExternalCallsDisabled,
		},
		log,
	)

	reconciler := syncpkg.NewReconciler(mainDB.Conn(), inv, bus, cfg.SyncTiebreak, log)
	appliedOps := syncpkg.NewAppliedOpsRepository(mainDB.Conn(), log)
	expService := experiments.NewService(experiments.NewRepository(mainDB.Conn(), log), log)

	hub := realtime.NewHub(realtime.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxConnections:    cfg.MaxConnections,
	}, log)
	realtime.NewBridge(bus, hub, log).Start()

	sched := scheduler.New(log)

	srv := server.New(server.Config{
		Log:          log,
		Config:       cfg,
		MainDB:       mainDB,
		CacheDB:      cacheDB,
		Inventory:    inv,
		Orchestrator: orchestrator,
		PairingRepo:  pairingRepo,
		Tracker:      tracker,
		Enricher:     enricher,
		Reconciler:   reconciler,
		Experiments:  expService,
		Hub:          hub,
		Scheduler:    sched,
	})

	registerJobs(cfg, srv, sched, mainDB, cacheDB, enricher, cacheRepo, appliedOps, pairingRepo, ledgerEngine, log)
	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Flush pending metrics samples so the final health snapshot is
	// published before the bus goes away.
	tracker.Flush()

	log.Info().Msg("Server stopped")
}

// buildProviders assembles the AI provider chain from configuration.
// The primary and secondary endpoints both speak the OpenAI chat wire
// shape; the first configured client doubles as the vintage narrator.
func buildProviders(cfg *config.Config, log zerolog.Logger) ([]pairing.Provider, aiprovider.Client) {
	var providers []pairing.Provider
	var narrator aiprovider.Client

	if cfg.PrimaryAIEnabled() {
		client := aiprovider.NewOpenAIClient(aiprovider.Config{
			Name:    string(domain.ProviderPrimaryAI),
			BaseURL: cfg.PrimaryAIURL,
			APIKey:  cfg.PrimaryAIKey,
			Model:   cfg.PrimaryAIModel,
			Timeout: cfg.ProviderTimeout,
		}, log)
		providers = append(providers, pairing.Provider{Client: client, Name: domain.ProviderPrimaryAI})
		narrator = client
	}

	if cfg.SecondaryAIEnabled() {
		client := aiprovider.NewOpenAIClient(aiprovider.Config{
			Name:    string(domain.ProviderSecondaryAI),
			BaseURL: cfg.SecondaryAIURL,
			APIKey:  cfg.SecondaryAIKey,
			Model:   cfg.SecondaryAIModel,
			Timeout: cfg.ProviderTimeout,
		}, log)
		providers = append(providers, pairing.Provider{Client: client, Name: domain.ProviderSecondaryAI})
		if narrator == nil {
			narrator = client
		}
	}

	if len(providers) == 0 {
		log.Warn().Msg("No AI providers configured, pairing runs on the heuristic only")
	}
	return providers, narrator
}

// registerJobs schedules the background jobs and exposes them for manual
// triggering through the system API.
func registerJobs(
	cfg *config.Config,
	srv *server.Server,
	sched *scheduler.Scheduler,
	mainDB, cacheDB *database.DB,
	enricher *vintage.Enricher,
	cacheRepo *clientdata.Repository,
	appliedOps *syncpkg.AppliedOpsRepository,
	pairingRepo *pairing.Repository,
	ledgerEngine reliability.LedgerVerifier,
	log zerolog.Logger,
) {
	databases := map[string]*database.DB{
		mainDB.Name():  mainDB,
		cacheDB.Name(): cacheDB,
	}

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		// Nightly weather backfill at 4 AM, after the maintenance pass
		{"0 0 4 * * *", vintage.NewBackfillJob(enricher, 0, log)},
		// Hourly sweep of expired cache payloads
		{"@hourly", clientdata.NewCleanupJob(cacheRepo, log)},
		// Nightly maintenance at 3 AM
		{"0 0 3 * * *", reliability.NewMaintenanceJob(
			databases,
			appliedOps,
			pairingRepo,
			cacheRepo,
			ledgerEngine,
			reliability.MaintenanceConfig{
				AppliedOpsRetention:     time.Duration(cfg.AppliedOpsRetentionDays) * 24 * time.Hour,
				RecommendationRetention: pairing.RetentionDays * 24 * time.Hour,
			},
			log,
		)},
	}

	if cfg.Backup.Enabled {
		remote, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialise backup storage, backups disabled")
		} else {
			backupSvc := reliability.NewBackupService(databases, remote, cfg.DataDir, log)
			jobs = append(jobs, struct {
				schedule string
				job      scheduler.Job
			}{"0 30 2 * * *", reliability.NewBackupJob(backupSvc, cfg.Backup.RetentionDays, log)})
		}
	}

	for _, entry := range jobs {
		if err := sched.AddJob(entry.schedule, entry.job); err != nil {
			log.Error().Err(err).Str("job", entry.job.Name()).Msg("Failed to schedule job")
			continue
		}
		srv.SystemHandlers().RegisterJob(entry.job)
	}
}
