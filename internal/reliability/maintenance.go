package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/ledger"
)

// OpsPurger trims reconciled operation markers past their retention
type OpsPurger interface {
	PurgeBefore(cutoff time.Time) (int64, error)
}

// RecommendationPurger trims stored pairing recommendations
type RecommendationPurger interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// CacheSweeper removes expired external-data cache rows
type CacheSweeper interface {
	DeleteAllExpired() (map[string]int64, error)
}

// LedgerVerifier checks materialized stock against the ledger
type LedgerVerifier interface {
	Verify() ([]ledger.Mismatch, error)
}

// MaintenanceConfig sets the retention windows
type MaintenanceConfig struct {
	AppliedOpsRetention     time.Duration
	RecommendationRetention time.Duration
}

// MaintenanceJob is the nightly upkeep pass: integrity checks, WAL
// checkpoints, retention purges and a ledger drift audit. Individual
// failures are logged and the rest of the pass continues; only an
// integrity failure aborts.
type MaintenanceJob struct {
	databases       map[string]*database.DB
	appliedOps      OpsPurger
	recommendations RecommendationPurger
	caches          CacheSweeper
	ledger          LedgerVerifier
	cfg             MaintenanceConfig
	log             zerolog.Logger
}

// NewMaintenanceJob creates the nightly maintenance job
func NewMaintenanceJob(
	databases map[string]*database.DB,
	appliedOps OpsPurger,
	recommendations RecommendationPurger,
	caches CacheSweeper,
	ledgerVerifier LedgerVerifier,
	cfg MaintenanceConfig,
	log zerolog.Logger,
) *MaintenanceJob {
	if cfg.AppliedOpsRetention <= 0 {
		cfg.AppliedOpsRetention = 14 * 24 * time.Hour
	}
	if cfg.RecommendationRetention <= 0 {
		cfg.RecommendationRetention = 90 * 24 * time.Hour
	}
	return &MaintenanceJob{
		databases:       databases,
		appliedOps:      appliedOps,
		recommendations: recommendations,
		caches:          caches,
		ledger:          ledgerVerifier,
		cfg:             cfg,
		log:             log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance pass
func (j *MaintenanceJob) Run() error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for name, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Integrity check failed")
			return err
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	if j.appliedOps != nil {
		cutoff := time.Now().Add(-j.cfg.AppliedOpsRetention)
		if purged, err := j.appliedOps.PurgeBefore(cutoff); err != nil {
			j.log.Warn().Err(err).Msg("Applied ops purge failed")
		} else if purged > 0 {
			j.log.Info().Int64("purged", purged).Msg("Purged reconciled op markers")
		}
	}

	if j.recommendations != nil {
		cutoff := time.Now().Add(-j.cfg.RecommendationRetention)
		if purged, err := j.recommendations.DeleteOlderThan(cutoff); err != nil {
			j.log.Warn().Err(err).Msg("Recommendation purge failed")
		} else if purged > 0 {
			j.log.Info().Int64("purged", purged).Msg("Purged old pairing recommendations")
		}
	}

	if j.caches != nil {
		if swept, err := j.caches.DeleteAllExpired(); err != nil {
			j.log.Warn().Err(err).Msg("Cache sweep failed")
		} else {
			for table, n := range swept {
				if n > 0 {
					j.log.Debug().Str("table", table).Int64("rows", n).Msg("Swept expired cache rows")
				}
			}
		}
	}

	if j.ledger != nil {
		if mismatches, err := j.ledger.Verify(); err != nil {
			j.log.Warn().Err(err).Msg("Ledger verification failed")
		} else if len(mismatches) > 0 {
			// Drift means a bug or manual edit slipped past the engine;
			// flag it loudly but leave the repair decision to an operator.
			for _, m := range mismatches {
				j.log.Error().
					Int64("vintage_id", m.VintageID).
					Str("location", m.Location).
					Float64("stock_quantity", m.StockQuantity).
					Float64("ledger_quantity", m.LedgerQuantity).
					Msg("Stock does not match ledger")
			}
		}
	}

	j.log.Info().Dur("duration", time.Since(start)).Msg("Maintenance pass done")
	return nil
}
