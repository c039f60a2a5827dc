package openmeteo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/clientdata"
	"github.com/sommos/sommos/internal/domain"
	testingpkg "github.com/sommos/sommos/internal/testing"
)

var (
	seasonStart = time.Date(2015, 4, 1, 0, 0, 0, 0, time.UTC)
	seasonEnd   = time.Date(2015, 4, 3, 0, 0, 0, 0, time.UTC)
)

func archivePayload() map[string]interface{} {
	return map[string]interface{}{
		"daily": map[string]interface{}{
			"time":                []string{"2015-04-01", "2015-04-02", "2015-04-03"},
			"temperature_2m_max":  []float64{18.2, 21.4, 19.9},
			"temperature_2m_min":  []float64{7.1, 9.3, 8.0},
			"temperature_2m_mean": []float64{12.5, 15.1, 13.8},
			"precipitation_sum":   []float64{0.0, 2.4, 0.1},
		},
	}
}

func cacheRepo(t *testing.T) (*clientdata.Repository, func()) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	return clientdata.NewRepository(db.Conn()), cleanup
}

func TestFetchDailySeries_ParsesAndCaches(t *testing.T) {
	repo, cleanup := cacheRepo(t)
	defer cleanup()

	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		assert.Equal(t, "44.8400", r.URL.Query().Get("latitude"))
		assert.Equal(t, "2015-04-01", r.URL.Query().Get("start_date"))
		assert.Contains(t, r.URL.Query().Get("daily"), "temperature_2m_mean")
		json.NewEncoder(w).Encode(archivePayload())
	}))
	defer server.Close()

	client := NewClient(repo, 0, false, zerolog.Nop())
	client.archiveURL = server.URL

	series, err := client.FetchDailySeries(context.Background(), 44.84, -0.58, seasonStart, seasonEnd)
	require.NoError(t, err)
	require.Len(t, series.Time, 3)
	assert.Equal(t, 21.4, series.TempMax[1])
	assert.Equal(t, 2.4, series.Precipitation[1])

	// Second fetch is served from cache
	series, err = client.FetchDailySeries(context.Background(), 44.84, -0.58, seasonStart, seasonEnd)
	require.NoError(t, err)
	require.Len(t, series.Time, 3)
	assert.Equal(t, 1, callCount)
}

func TestFetchDailySeries_StaleFallbackOnAPIError(t *testing.T) {
	repo, cleanup := cacheRepo(t)
	defer cleanup()

	// Expired cache entry written directly
	cacheKey := "44.8400|-0.5800|2015-04-01|2015-04-03"
	stale := DailySeries{
		Time:          []string{"2015-04-01"},
		TempMax:       []float64{18.2},
		TempMin:       []float64{7.1},
		TempMean:      []float64{12.5},
		Precipitation: []float64{0.0},
	}
	require.NoError(t, repo.Store(clientdata.TableWeather, cacheKey, stale, -time.Hour))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(repo, 0, false, zerolog.Nop())
	client.archiveURL = server.URL

	series, err := client.FetchDailySeries(context.Background(), 44.84, -0.58, seasonStart, seasonEnd)
	require.NoError(t, err)
	assert.Equal(t, []string{"2015-04-01"}, series.Time)
}

func TestFetchDailySeries_APIErrorWithoutCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(nil, 0, false, zerolog.Nop())
	client.archiveURL = server.URL

	_, err := client.FetchDailySeries(context.Background(), 44.84, -0.58, seasonStart, seasonEnd)
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderError, domain.KindOf(err))
}

func TestFetchDailySeries_TimeoutClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(archivePayload())
	}))
	defer server.Close()

	client := NewClient(nil, 50*time.Millisecond, false, zerolog.Nop())
	client.archiveURL = server.URL

	_, err := client.FetchDailySeries(context.Background(), 44.84, -0.58, seasonStart, seasonEnd)
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderTimeout, domain.KindOf(err))
}

func TestFetchDailySeries_DisabledServesOnlyCache(t *testing.T) {
	repo, cleanup := cacheRepo(t)
	defer cleanup()

	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
	}))
	defer server.Close()

	client := NewClient(repo, 0, true, zerolog.Nop())
	client.archiveURL = server.URL

	_, err := client.FetchDailySeries(context.Background(), 44.84, -0.58, seasonStart, seasonEnd)
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderError, domain.KindOf(err))
	assert.Equal(t, 0, callCount)

	// With a stale entry present, disabled mode still serves it
	cacheKey := "44.8400|-0.5800|2015-04-01|2015-04-03"
	stale := DailySeries{Time: []string{"2015-04-01"}, TempMax: []float64{18}, TempMin: []float64{7}, TempMean: []float64{12}, Precipitation: []float64{0}}
	require.NoError(t, repo.Store(clientdata.TableWeather, cacheKey, stale, -time.Hour))

	series, err := client.FetchDailySeries(context.Background(), 44.84, -0.58, seasonStart, seasonEnd)
	require.NoError(t, err)
	assert.Len(t, series.Time, 1)
	assert.Equal(t, 0, callCount)
}

func TestFetchDailySeries_RejectsBadInput(t *testing.T) {
	client := NewClient(nil, 0, false, zerolog.Nop())

	_, err := client.FetchDailySeries(context.Background(), 91, 0, seasonStart, seasonEnd)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	_, err = client.FetchDailySeries(context.Background(), 44.84, -0.58, seasonEnd, seasonStart)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestFetchDailySeries_MismatchedSeriesRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := archivePayload()
		payload["daily"].(map[string]interface{})["precipitation_sum"] = []float64{0.0}
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(nil, 0, false, zerolog.Nop())
	client.archiveURL = server.URL

	_, err := client.FetchDailySeries(context.Background(), 44.84, -0.58, seasonStart, seasonEnd)
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderError, domain.KindOf(err))
}

func TestGeocode_ResolvesAndCaches(t *testing.T) {
	repo, cleanup := cacheRepo(t)
	defer cleanup()

	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		assert.Equal(t, "Margaux", r.URL.Query().Get("name"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []GeocodeResult{
				{Name: "Margaux", Latitude: 45.04, Longitude: -0.67, Country: "France"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(repo, 0, false, zerolog.Nop())
	client.geocodeURL = server.URL

	result, err := client.Geocode(context.Background(), "Margaux")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 45.04, result.Latitude)
	assert.Equal(t, "France", result.Country)

	// Lookup is case-insensitive through the cache key
	result, err = client.Geocode(context.Background(), "  MARGAUX ")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, callCount)
}

func TestGeocode_NoMatchReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer server.Close()

	client := NewClient(nil, 0, false, zerolog.Nop())
	client.geocodeURL = server.URL

	result, err := client.Geocode(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestGeocode_RejectsEmptyName(t *testing.T) {
	client := NewClient(nil, 0, false, zerolog.Nop())

	_, err := client.Geocode(context.Background(), "   ")
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}
