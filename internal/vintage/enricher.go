// Package vintage implements the weather enrichment pipeline: coordinate
// resolution, historical daily-data fetch, score derivation and the
// narrative written back onto the vintage row.
package vintage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/clients/aiprovider"
	"github.com/sommos/sommos/internal/clients/openmeteo"
	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/events"
	"github.com/sommos/sommos/internal/inventory"
)

const moduleName = "vintage"

// Batch enrichment shape: groups of five with a one-second pause between
// groups, respecting the upstream archive rate limits.
const (
	batchGroupSize    = 5
	batchGroupSpacing = time.Second
)

// Config tunes the enricher
type Config struct {
	WeatherTimeout        time.Duration
	ExternalCallsDisabled bool
}

// Enricher derives weather scores for vintages, best-effort. Failures
// never block inventory operations.
type Enricher struct {
	weather   *openmeteo.Client
	repo      *Repository
	vintages  *inventory.VintageRepository
	wines     *inventory.WineRepository
	db        *sql.DB
	narrator  aiprovider.Client // optional; nil falls back to the template
	emitter   events.Emitter
	cfg       Config
	log       zerolog.Logger
}

// NewEnricher wires the enrichment pipeline
func NewEnricher(
	weather *openmeteo.Client,
	repo *Repository,
	vintages *inventory.VintageRepository,
	wines *inventory.WineRepository,
	db *sql.DB,
	narrator aiprovider.Client,
	emitter events.Emitter,
	cfg Config,
	log zerolog.Logger,
) *Enricher {
	if cfg.WeatherTimeout <= 0 {
		cfg.WeatherTimeout = 10 * time.Second
	}
	return &Enricher{
		weather:  weather,
		repo:     repo,
		vintages: vintages,
		wines:    wines,
		db:       db,
		narrator: narrator,
		emitter:  emitter,
		cfg:      cfg,
		log:      log.With().Str("component", "weather_enricher").Logger(),
	}
}

// Repo exposes the weather repository for the analysis read model
func (e *Enricher) Repo() *Repository { return e.repo }

// resolution is the outcome of the coordinate chain
type resolution struct {
	source string
	coords coordinates
}

// resolveCoordinates walks the chain: built-in region table, geocode API,
// country centroid, reference region.
func (e *Enricher) resolveCoordinates(ctx context.Context, region, country string) resolution {
	normalized := NormalizeRegion(region)

	if c, ok := lookupBuiltin(normalized); ok {
		return resolution{source: SourceBuiltin, coords: c}
	}

	if normalized != "" {
		if geo, err := e.weather.Geocode(ctx, region); err != nil {
			e.log.Debug().Err(err).Str("region", region).Msg("Geocode fallback failed")
		} else if geo != nil {
			return resolution{source: SourceGeocode, coords: coordinates{Lat: geo.Latitude, Lon: geo.Longitude}}
		}
	}

	if c, ok := lookupCountry(country); ok {
		return resolution{source: SourceCountry, coords: c}
	}

	return resolution{source: SourceReference, coords: referenceRegion}
}

// EnrichRegionYear produces (or returns the cached) weather derivation
// for a growing region and harvest year.
func (e *Enricher) EnrichRegionYear(ctx context.Context, region, country string, year int) (*domain.WeatherVintage, error) {
	normalized := NormalizeRegion(region)
	if normalized == "" && country == "" {
		return nil, domain.InvalidArgument("region or country is required")
	}
	currentYear := time.Now().Year()
	if year < 1800 || year > currentYear+1 {
		return nil, domain.InvalidArgument("year %d outside [1800, %d]", year, currentYear+1)
	}

	existing, err := e.repo.Get(normalized, year)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Immutable() {
		return existing, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.WeatherTimeout)
	defer cancel()

	res := e.resolveCoordinates(fetchCtx, region, country)
	start, end := GrowingSeason(year, res.coords.Lat)

	series, err := e.weather.FetchDailySeries(fetchCtx, res.coords.Lat, res.coords.Lon, start, end)
	if err != nil {
		if existing != nil {
			// Keep the lower-confidence row rather than fail the caller.
			return existing, nil
		}
		return nil, err
	}

	wv := Derive(normalized, year, res.coords.Lat, res.source, series)
	if err := e.repo.Upsert(&wv); err != nil {
		return nil, err
	}

	if e.emitter != nil {
		e.emitter.Emit(moduleName, &events.VintageEnrichedData{
			Region:       wv.Region,
			Year:         wv.Year,
			OverallScore: wv.OverallScore,
			Confidence:   wv.Confidence,
		})
	}
	return &wv, nil
}

// EnrichVintage derives weather for one vintage row and writes the score
// and production notes back onto it.
func (e *Enricher) EnrichVintage(ctx context.Context, vintageID int64) (*domain.WeatherVintage, error) {
	vtg, err := e.vintages.GetByID(vintageID)
	if err != nil {
		return nil, err
	}
	if vtg == nil {
		return nil, domain.NotFound("vintage %d not found", vintageID)
	}
	wine, err := e.wines.GetByID(vtg.WineID)
	if err != nil {
		return nil, err
	}
	if wine == nil {
		return nil, domain.NotFound("wine %d not found", vtg.WineID)
	}

	wv, err := e.EnrichRegionYear(ctx, wine.Region, wine.Country, vtg.Year)
	if err != nil {
		return nil, err
	}

	notes := e.productionNotes(ctx, wine, vtg, wv)
	encoded, err := json.Marshal(notes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode production notes: %w", err)
	}

	sync := domain.SyncMeta{
		UpdatedAt: time.Now().Unix(),
		UpdatedBy: "weather_enricher",
		Origin:    domain.OriginServer,
	}
	err = database.WithTransaction(e.db, func(tx *sql.Tx) error {
		return e.vintages.SetWeatherTx(tx, vintageID, wv.OverallScore, string(encoded), sync)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Int64("vintage_id", vintageID).
		Str("region", wv.Region).
		Float64("score", wv.OverallScore).
		Msg("Vintage enriched")
	return wv, nil
}

// EnrichBatch enriches vintages in groups of five with a one-second pause
// between groups. Per-vintage failures are collected, not fatal.
func (e *Enricher) EnrichBatch(ctx context.Context, vintageIDs []int64) map[int64]error {
	failures := make(map[int64]error)

	for i, id := range vintageIDs {
		if i > 0 && i%batchGroupSize == 0 {
			select {
			case <-time.After(batchGroupSpacing):
			case <-ctx.Done():
				for _, rest := range vintageIDs[i:] {
					failures[rest] = domain.NewError(domain.KindCancelled, "batch enrichment cancelled", ctx.Err())
				}
				return failures
			}
		}
		if _, err := e.EnrichVintage(ctx, id); err != nil {
			e.log.Warn().Err(err).Int64("vintage_id", id).Msg("Batch enrichment item failed")
			failures[id] = err
		}
	}
	return failures
}

// PendingVintages lists vintages without a weather score, oldest first
func (e *Enricher) PendingVintages(limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.db.Query(`
		SELECT id FROM vintages WHERE weather_score = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, domain.StorageError("failed to list pending vintages", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.StorageError("failed to scan pending vintage", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// productionNotes builds the tagged notes blob: AI narrative when a
// narrator is configured, deterministic template otherwise.
func (e *Enricher) productionNotes(ctx context.Context, wine *domain.Wine, vtg *domain.Vintage, wv *domain.WeatherVintage) domain.ProductionNotes {
	summary := weatherSummary(wv)
	notes := domain.ProductionNotes{
		Narrative:      templateNarrative(wine, vtg, wv),
		Procurement:    procurementAdvice(wv),
		WeatherSummary: summary,
	}

	if e.narrator == nil || e.cfg.ExternalCallsDisabled {
		return notes
	}

	narrativeCtx, cancel := context.WithTimeout(ctx, e.cfg.WeatherTimeout)
	defer cancel()

	reply, err := e.narrator.Complete(narrativeCtx, []aiprovider.ChatMessage{
		{Role: "system", Content: "You are a wine educator. Write one short paragraph, no lists, no headings."},
		{Role: "user", Content: fmt.Sprintf(
			"Describe the %d growing season for %s from %s. Conditions: %s Overall vintage score %.0f/100.",
			vtg.Year, wine.Name, wine.Region, summary, wv.OverallScore)},
	})
	if err != nil {
		e.log.Debug().Err(err).Msg("AI narrative failed, keeping template")
		return notes
	}
	if trimmed := strings.TrimSpace(reply); trimmed != "" {
		notes.Narrative = trimmed
	}
	return notes
}

// templateNarrative is the deterministic fallback narrative
func templateNarrative(wine *domain.Wine, vtg *domain.Vintage, wv *domain.WeatherVintage) string {
	quality := "a challenging"
	switch {
	case wv.OverallScore >= 80:
		quality = "an excellent"
	case wv.OverallScore >= 60:
		quality = "a very good"
	case wv.OverallScore >= 40:
		quality = "a solid"
	}
	return fmt.Sprintf(
		"%d was %s growing season in %s. The season accumulated %.0f growing degree days with an average diurnal range of %.1f°C, %d heatwave days and %d frost days. %s",
		vtg.Year, quality, wine.Region, wv.GDD, wv.DiurnalRange, wv.HeatwaveDays, wv.FrostDays,
		diseaseSentence(wv))
}

func diseaseSentence(wv *domain.WeatherVintage) string {
	if wv.DiseaseScore >= 4 {
		return fmt.Sprintf("Frequent rain (%d wet days) kept disease pressure high.", wv.WetDays)
	}
	if wv.DiseaseScore >= 3 {
		return "Intermittent rain demanded attentive canopy work."
	}
	return "A dry season kept the fruit clean through harvest."
}

// procurementAdvice derives the buy/hold recommendation from the scores
func procurementAdvice(wv *domain.WeatherVintage) domain.Procurement {
	switch {
	case wv.OverallScore >= 80:
		return domain.Procurement{
			Action:    "buy",
			Priority:  "high",
			Reasoning: "outstanding season; expect strong demand and ageability",
		}
	case wv.OverallScore >= 60:
		return domain.Procurement{
			Action:    "buy",
			Priority:  "medium",
			Reasoning: "reliable season; good value while the market catches up",
		}
	case wv.OverallScore >= 40:
		return domain.Procurement{
			Action:    "hold",
			Priority:  "low",
			Reasoning: "mixed season; taste before committing volume",
		}
	default:
		return domain.Procurement{
			Action:    "avoid",
			Priority:  "low",
			Reasoning: "difficult season; restrict to proven producers only",
		}
	}
}

func weatherSummary(wv *domain.WeatherVintage) string {
	return fmt.Sprintf("GDD %.0f, Huglin %.0f, diurnal %.1f°C, %d heatwave days, %d frost days, %.0fmm rain over %d wet days.",
		wv.GDD, wv.HuglinIndex, wv.DiurnalRange, wv.HeatwaveDays, wv.FrostDays, wv.PrecipitationTotal, wv.WetDays)
}
