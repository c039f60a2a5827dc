package reliability

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/ledger"
	testingpkg "github.com/sommos/sommos/internal/testing"
)

type stubOpsPurger struct {
	cutoff time.Time
	purged int64
	err    error
}

func (s *stubOpsPurger) PurgeBefore(cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.purged, s.err
}

type stubRecPurger struct {
	cutoff time.Time
	purged int64
}

func (s *stubRecPurger) DeleteOlderThan(cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.purged, nil
}

type stubSweeper struct {
	swept  map[string]int64
	called bool
}

func (s *stubSweeper) DeleteAllExpired() (map[string]int64, error) {
	s.called = true
	return s.swept, nil
}

type stubVerifier struct {
	mismatches []ledger.Mismatch
	err        error
	called     bool
}

func (s *stubVerifier) Verify() ([]ledger.Mismatch, error) {
	s.called = true
	return s.mismatches, s.err
}

func TestMaintenanceRun(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	defer cleanup()

	ops := &stubOpsPurger{purged: 4}
	recs := &stubRecPurger{purged: 2}
	sweeper := &stubSweeper{swept: map[string]int64{"weather_cache": 3}}
	verifier := &stubVerifier{}

	job := NewMaintenanceJob(
		map[string]*database.DB{"sommos": db},
		ops, recs, sweeper, verifier,
		MaintenanceConfig{},
		zerolog.Nop(),
	)

	assert.Equal(t, "maintenance", job.Name())
	require.NoError(t, job.Run())

	// Default retention windows: 14 days for op markers, 90 for recommendations.
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -14), ops.cutoff, 5*time.Second)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -90), recs.cutoff, 5*time.Second)
	assert.True(t, sweeper.called)
	assert.True(t, verifier.called)
}

func TestMaintenanceCustomRetention(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	defer cleanup()

	ops := &stubOpsPurger{}
	job := NewMaintenanceJob(
		map[string]*database.DB{"sommos": db},
		ops, nil, nil, nil,
		MaintenanceConfig{AppliedOpsRetention: 48 * time.Hour},
		zerolog.Nop(),
	)

	require.NoError(t, job.Run())
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), ops.cutoff, 5*time.Second)
}

func TestMaintenanceIntegrityFailureAborts(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	defer cleanup()

	ops := &stubOpsPurger{}
	job := NewMaintenanceJob(
		map[string]*database.DB{"sommos": db},
		ops, nil, nil, nil,
		MaintenanceConfig{},
		zerolog.Nop(),
	)

	require.NoError(t, db.Close())
	require.Error(t, job.Run())
	assert.True(t, ops.cutoff.IsZero(), "purges must not run after an integrity failure")
}

func TestMaintenancePurgeFailureIsNonFatal(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	defer cleanup()

	ops := &stubOpsPurger{err: fmt.Errorf("locked")}
	verifier := &stubVerifier{}
	job := NewMaintenanceJob(
		map[string]*database.DB{"sommos": db},
		ops, nil, nil, verifier,
		MaintenanceConfig{},
		zerolog.Nop(),
	)

	require.NoError(t, job.Run())
	assert.True(t, verifier.called, "later steps still run after a purge failure")
}

func TestMaintenanceReportsLedgerDrift(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	defer cleanup()

	verifier := &stubVerifier{mismatches: []ledger.Mismatch{{
		Location:       "main-cellar",
		VintageID:      7,
		StockQuantity:  12,
		LedgerQuantity: 11,
	}}}
	job := NewMaintenanceJob(
		map[string]*database.DB{"sommos": db},
		nil, nil, nil, verifier,
		MaintenanceConfig{},
		zerolog.Nop(),
	)

	// Drift is reported, not treated as a job failure.
	require.NoError(t, job.Run())
	assert.True(t, verifier.called)
}
