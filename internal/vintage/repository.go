package vintage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// Repository persists weather derivations keyed (region_normalized, year)
// and mirrors them in process for hot paths.
type Repository struct {
	db     *sql.DB
	mirror map[string]*domain.WeatherVintage
	log    zerolog.Logger
	mu     sync.RWMutex
}

// NewRepository creates a weather vintage repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:     db,
		mirror: make(map[string]*domain.WeatherVintage),
		log:    log.With().Str("repo", "weather_vintage").Logger(),
	}
}

func mirrorKey(region string, year int) string {
	return fmt.Sprintf("%s|%d", region, year)
}

// Get returns the derivation for (region, year), nil when absent. The
// in-process mirror is consulted first.
func (r *Repository) Get(region string, year int) (*domain.WeatherVintage, error) {
	normalized := NormalizeRegion(region)
	key := mirrorKey(normalized, year)

	r.mu.RLock()
	cached, ok := r.mirror[key]
	r.mu.RUnlock()
	if ok {
		copied := *cached
		return &copied, nil
	}

	row := r.db.QueryRow(`
		SELECT id, region, year, gdd, huglin_index, diurnal_range, heatwave_days, frost_days,
		       precipitation_total, wet_days, ripeness_score, acidity_score, tannin_score,
		       disease_pressure, overall_score, confidence, resolution_source, retrieved_at
		FROM weather_vintage WHERE region = ? AND year = ?`, normalized, year)

	wv, err := scanWeatherVintage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("failed to load weather vintage", err)
	}

	r.mu.Lock()
	r.mirror[key] = wv
	r.mu.Unlock()

	copied := *wv
	return &copied, nil
}

// Upsert stores a derivation and refreshes the mirror. An existing
// immutable row (confidence >= 0.8) is never overwritten.
func (r *Repository) Upsert(wv *domain.WeatherVintage) error {
	existing, err := r.Get(wv.Region, wv.Year)
	if err != nil {
		return err
	}
	if existing != nil && existing.Immutable() {
		return nil
	}

	if wv.RetrievedAt.IsZero() {
		wv.RetrievedAt = time.Now().UTC()
	}

	_, err = r.db.Exec(`
		INSERT INTO weather_vintage (region, year, gdd, huglin_index, diurnal_range, heatwave_days,
			frost_days, precipitation_total, wet_days, ripeness_score, acidity_score, tannin_score,
			disease_pressure, overall_score, confidence, resolution_source, retrieved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (region, year) DO UPDATE SET
			gdd = excluded.gdd,
			huglin_index = excluded.huglin_index,
			diurnal_range = excluded.diurnal_range,
			heatwave_days = excluded.heatwave_days,
			frost_days = excluded.frost_days,
			precipitation_total = excluded.precipitation_total,
			wet_days = excluded.wet_days,
			ripeness_score = excluded.ripeness_score,
			acidity_score = excluded.acidity_score,
			tannin_score = excluded.tannin_score,
			disease_pressure = excluded.disease_pressure,
			overall_score = excluded.overall_score,
			confidence = excluded.confidence,
			resolution_source = excluded.resolution_source,
			retrieved_at = excluded.retrieved_at`,
		wv.Region, wv.Year, wv.GDD, wv.HuglinIndex, wv.DiurnalRange, wv.HeatwaveDays,
		wv.FrostDays, wv.PrecipitationTotal, wv.WetDays, wv.RipenessScore, wv.AcidityScore,
		wv.TanninScore, wv.DiseaseScore, wv.OverallScore, wv.Confidence, wv.ResolutionSource,
		wv.RetrievedAt.Format(time.RFC3339),
	)
	if err != nil {
		return domain.StorageError("failed to upsert weather vintage", err)
	}

	r.mu.Lock()
	copied := *wv
	r.mirror[mirrorKey(wv.Region, wv.Year)] = &copied
	r.mu.Unlock()
	return nil
}

func scanWeatherVintage(row *sql.Row) (*domain.WeatherVintage, error) {
	var wv domain.WeatherVintage
	var retrievedAt string
	err := row.Scan(&wv.ID, &wv.Region, &wv.Year, &wv.GDD, &wv.HuglinIndex, &wv.DiurnalRange,
		&wv.HeatwaveDays, &wv.FrostDays, &wv.PrecipitationTotal, &wv.WetDays, &wv.RipenessScore,
		&wv.AcidityScore, &wv.TanninScore, &wv.DiseaseScore, &wv.OverallScore, &wv.Confidence,
		&wv.ResolutionSource, &retrievedAt)
	if err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339, retrievedAt); err == nil {
		wv.RetrievedAt = ts
	}
	return &wv, nil
}
