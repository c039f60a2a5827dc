// Package openmeteo provides clients for the Open-Meteo historical weather
// archive and geocoding APIs. Both are cache-first: on an intermittent
// satellite uplink a stale answer beats a dead one.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sommos/sommos/internal/clientdata"
	"github.com/sommos/sommos/internal/domain"
)

const (
	defaultArchiveURL = "https://archive-api.open-meteo.com/v1/archive"
	defaultGeocodeURL = "https://geocoding-api.open-meteo.com/v1/search"

	// DefaultTimeout is the per-request budget for weather calls
	DefaultTimeout = 10 * time.Second

	dailyVariables = "temperature_2m_max,temperature_2m_min,temperature_2m_mean,precipitation_sum"
)

// DailySeries is the raw daily series for one location and date range.
// All slices are index-aligned with Time.
type DailySeries struct {
	Time          []string  `json:"time"`
	TempMax       []float64 `json:"temperature_2m_max"`
	TempMin       []float64 `json:"temperature_2m_min"`
	TempMean      []float64 `json:"temperature_2m_mean"`
	Precipitation []float64 `json:"precipitation_sum"`
}

// GeocodeResult is one resolved place name
type GeocodeResult struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
}

// Client is the Open-Meteo API client.
type Client struct {
	archiveURL string
	geocodeURL string
	httpClient *http.Client
	limiter    *rate.Limiter
	cacheRepo  *clientdata.Repository
	disabled   bool
	log        zerolog.Logger
}

// NewClient creates a new Open-Meteo client.
// cacheRepo is optional - if nil, caching is disabled.
// disabled short-circuits all outbound calls; only cached data is served.
func NewClient(cacheRepo *clientdata.Repository, timeout time.Duration, disabled bool, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		archiveURL: defaultArchiveURL,
		geocodeURL: defaultGeocodeURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		cacheRepo:  cacheRepo,
		disabled:   disabled,
		log:        log.With().Str("client", "openmeteo").Logger(),
	}
}

// SetEndpoints overrides the archive and geocode URLs. Empty strings leave
// the defaults in place. Used for test servers and self-hosted mirrors.
func (c *Client) SetEndpoints(archive, geocode string) {
	if archive != "" {
		c.archiveURL = archive
	}
	if geocode != "" {
		c.geocodeURL = geocode
	}
}

// FetchDailySeries returns the daily weather series for a location and date
// range, serving the persistent cache first. If the API fails, returns
// stale cached data if available.
func (c *Client) FetchDailySeries(ctx context.Context, lat, lon float64, start, end time.Time) (*DailySeries, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, domain.InvalidArgument("coordinates out of range: %.4f, %.4f", lat, lon)
	}
	if end.Before(start) {
		return nil, domain.InvalidArgument("end date before start date")
	}

	startDay := start.Format("2006-01-02")
	endDay := end.Format("2006-01-02")
	cacheKey := fmt.Sprintf("%.4f|%.4f|%s|%s", lat, lon, startDay, endDay)

	if data, ok := c.fromCache(clientdata.TableWeather, cacheKey, true); ok {
		var series DailySeries
		if err := json.Unmarshal(data, &series); err == nil {
			c.log.Debug().Str("key", cacheKey).Msg("Weather cache hit")
			return &series, nil
		}
	}

	if c.disabled {
		if series, ok := c.staleSeries(cacheKey); ok {
			c.log.Warn().Str("key", cacheKey).Msg("External calls disabled, using stale cached weather")
			return series, nil
		}
		return nil, domain.Errorf(domain.KindProviderError, "external calls disabled and no cached weather for %s", cacheKey)
	}

	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%.4f", lat))
	query.Set("longitude", fmt.Sprintf("%.4f", lon))
	query.Set("start_date", startDay)
	query.Set("end_date", endDay)
	query.Set("daily", dailyVariables)
	query.Set("timezone", "UTC")

	var payload struct {
		Daily DailySeries `json:"daily"`
	}
	if err := c.getJSON(ctx, c.archiveURL+"?"+query.Encode(), &payload); err != nil {
		if series, ok := c.staleSeries(cacheKey); ok {
			c.log.Warn().Err(err).Str("key", cacheKey).Msg("Weather API failed, using stale cached data")
			return series, nil
		}
		return nil, err
	}

	series := payload.Daily
	n := len(series.Time)
	if n == 0 {
		return nil, domain.Errorf(domain.KindProviderError, "weather response has no daily data")
	}
	if len(series.TempMax) != n || len(series.TempMin) != n || len(series.TempMean) != n || len(series.Precipitation) != n {
		return nil, domain.Errorf(domain.KindProviderError, "weather series lengths disagree")
	}

	c.setCache(clientdata.TableWeather, cacheKey, series, clientdata.TTLWeatherArchive)

	c.log.Info().
		Str("key", cacheKey).
		Int("days", n).
		Msg("Fetched weather series")

	return &series, nil
}

// Geocode resolves a place name to coordinates. Returns nil, nil when the
// API has no match, so callers can fall through to coarser resolution.
func (c *Client) Geocode(ctx context.Context, name string) (*GeocodeResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.InvalidArgument("geocode name is empty")
	}

	cacheKey := strings.ToLower(name)

	if data, ok := c.fromCache(clientdata.TableGeocode, cacheKey, true); ok {
		var result GeocodeResult
		if err := json.Unmarshal(data, &result); err == nil {
			c.log.Debug().Str("name", name).Msg("Geocode cache hit")
			return &result, nil
		}
	}

	if c.disabled {
		if result, ok := c.staleGeocode(cacheKey); ok {
			return result, nil
		}
		return nil, domain.Errorf(domain.KindProviderError, "external calls disabled and no cached geocode for %q", name)
	}

	query := url.Values{}
	query.Set("name", name)
	query.Set("count", "1")
	query.Set("language", "en")
	query.Set("format", "json")

	var payload struct {
		Results []GeocodeResult `json:"results"`
	}
	if err := c.getJSON(ctx, c.geocodeURL+"?"+query.Encode(), &payload); err != nil {
		if result, ok := c.staleGeocode(cacheKey); ok {
			c.log.Warn().Err(err).Str("name", name).Msg("Geocode API failed, using stale cached data")
			return result, nil
		}
		return nil, err
	}

	if len(payload.Results) == 0 {
		return nil, nil
	}

	result := payload.Results[0]
	c.setCache(clientdata.TableGeocode, cacheKey, result, clientdata.TTLGeocode)

	c.log.Info().
		Str("name", name).
		Float64("lat", result.Latitude).
		Float64("lon", result.Longitude).
		Msg("Geocoded place name")

	return &result, nil
}

// getJSON performs a rate-limited GET and decodes the JSON body
func (c *Client) getJSON(ctx context.Context, rawURL string, v interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classifyTransport(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.Errorf(domain.KindProviderError, "failed to build request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Errorf(domain.KindProviderError, "open-meteo returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return domain.Errorf(domain.KindProviderError, "failed to parse response: %v", err)
	}

	return nil
}

// classifyTransport maps transport failures onto provider kinds
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.KindProviderTimeout, "weather call exceeded deadline", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindCancelled, "weather call cancelled", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return domain.NewError(domain.KindProviderTimeout, "weather call timed out", err)
	}
	return domain.NewError(domain.KindProviderError, "weather call failed", err)
}

// fromCache reads a cached payload, fresh-only or any age
func (c *Client) fromCache(table, key string, freshOnly bool) (json.RawMessage, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var data json.RawMessage
	var err error
	if freshOnly {
		data, err = c.cacheRepo.GetIfFresh(table, key)
	} else {
		data, err = c.cacheRepo.Get(table, key)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to read cache")
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	return data, true
}

// staleSeries retrieves a cached series even if expired
func (c *Client) staleSeries(key string) (*DailySeries, bool) {
	data, ok := c.fromCache(clientdata.TableWeather, key, false)
	if !ok {
		return nil, false
	}
	var series DailySeries
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, false
	}
	return &series, true
}

// staleGeocode retrieves a cached geocode result even if expired
func (c *Client) staleGeocode(key string) (*GeocodeResult, bool) {
	data, ok := c.fromCache(clientdata.TableGeocode, key, false)
	if !ok {
		return nil, false
	}
	var result GeocodeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// setCache stores a payload in the persistent cache
func (c *Client) setCache(table, key string, data interface{}, ttl time.Duration) {
	if c.cacheRepo == nil {
		return
	}
	if err := c.cacheRepo.Store(table, key, data, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache payload")
	}
}
