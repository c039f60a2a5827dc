package vintage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackfillJob enriches vintages that still lack a weather score. It runs
// off-band so the nightly catch-up never competes with request traffic.
type BackfillJob struct {
	enricher  *Enricher
	batchSize int
	timeout   time.Duration
	log       zerolog.Logger
}

// NewBackfillJob creates the scheduled backfill
func NewBackfillJob(enricher *Enricher, batchSize int, log zerolog.Logger) *BackfillJob {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &BackfillJob{
		enricher:  enricher,
		batchSize: batchSize,
		timeout:   10 * time.Minute,
		log:       log.With().Str("job", "vintage_backfill").Logger(),
	}
}

// Name returns the job name
func (j *BackfillJob) Name() string {
	return "vintage_backfill"
}

// Run enriches one batch of pending vintages
func (j *BackfillJob) Run() error {
	pending, err := j.enricher.PendingVintages(j.batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	failures := j.enricher.EnrichBatch(ctx, pending)
	j.log.Info().
		Int("attempted", len(pending)).
		Int("failed", len(failures)).
		Msg("Backfill batch done")
	return nil
}
