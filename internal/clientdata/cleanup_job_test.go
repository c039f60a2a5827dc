package clientdata

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingpkg "github.com/sommos/sommos/internal/testing"
)

func TestCleanupJob_RemovesExpiredEntries(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn())
	require.NoError(t, repo.Store(TableWeather, "old", map[string]string{}, -time.Hour))
	require.NoError(t, repo.Store(TableWeather, "fresh", map[string]string{}, time.Hour))
	require.NoError(t, repo.Store(TableGeocode, "old", map[string]string{}, -time.Hour))

	job := NewCleanupJob(repo, zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, job.Run())

	stale, err := repo.Get(TableWeather, "old")
	require.NoError(t, err)
	assert.Nil(t, stale)

	kept, err := repo.Get(TableWeather, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	gone, err := repo.Get(TableGeocode, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCleanupJob_Name(t *testing.T) {
	job := NewCleanupJob(nil, zerolog.New(nil).Level(zerolog.Disabled))
	assert.Equal(t, "cache_cleanup", job.Name())
}
