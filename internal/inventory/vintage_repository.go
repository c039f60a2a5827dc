package inventory

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

const vintageColumns = `id, wine_id, year, quality_score, critic_score, weather_score,
	peak_drinking_start, peak_drinking_end, production_notes,
	updated_at, updated_by, op_id, origin, created_at`

// vintageMetadataColumns are the fields a sync metadata update may touch
var vintageMetadataColumns = map[string]bool{
	"quality_score":       true,
	"critic_score":        true,
	"peak_drinking_start": true,
	"peak_drinking_end":   true,
	"production_notes":    true,
}

// VintageRepository handles vintage persistence
type VintageRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewVintageRepository creates a new vintage repository
func NewVintageRepository(db *sql.DB, log zerolog.Logger) *VintageRepository {
	return &VintageRepository{
		db:  db,
		log: log.With().Str("repo", "vintage").Logger(),
	}
}

// CreateTx inserts a vintage inside the caller's transaction
func (r *VintageRepository) CreateTx(tx *sql.Tx, vintage *domain.Vintage) (int64, error) {
	result, err := tx.Exec(`
		INSERT INTO vintages (wine_id, year, quality_score, critic_score, weather_score,
			peak_drinking_start, peak_drinking_end, production_notes,
			updated_at, updated_by, op_id, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vintage.WineID, vintage.Year, vintage.QualityScore, vintage.CriticScore, vintage.WeatherScore,
		vintage.PeakDrinkingStart, vintage.PeakDrinkingEnd, vintage.ProductionNotes,
		vintage.Sync.UpdatedAt, vintage.Sync.UpdatedBy, vintage.Sync.OpID, vintage.Sync.Origin)
	if err != nil {
		return 0, fmt.Errorf("failed to create vintage: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get vintage id: %w", err)
	}
	return id, nil
}

// GetByID returns a vintage by id, or nil if it does not exist
func (r *VintageRepository) GetByID(id int64) (*domain.Vintage, error) {
	return scanVintage(r.db.QueryRow(`SELECT `+vintageColumns+` FROM vintages WHERE id = ?`, id))
}

// GetTx returns a vintage by id inside the caller's transaction
func (r *VintageRepository) GetTx(tx *sql.Tx, id int64) (*domain.Vintage, error) {
	return scanVintage(tx.QueryRow(`SELECT `+vintageColumns+` FROM vintages WHERE id = ?`, id))
}

// FindByWineYearTx looks a vintage up by its (wine_id, year) identity pair
func (r *VintageRepository) FindByWineYearTx(tx *sql.Tx, wineID int64, year int) (*domain.Vintage, error) {
	return scanVintage(tx.QueryRow(`SELECT `+vintageColumns+` FROM vintages WHERE wine_id = ? AND year = ?`, wineID, year))
}

// UpdateFieldsTx applies a metadata update to allow-listed columns and
// stamps the sync columns with the winning writer's metadata.
func (r *VintageRepository) UpdateFieldsTx(tx *sql.Tx, id int64, updates map[string]interface{}, sync domain.SyncMeta) error {
	if len(updates) == 0 {
		return domain.InvalidArgument("metadata update carries no fields")
	}

	setClauses := make([]string, 0, len(updates)+4)
	args := make([]interface{}, 0, len(updates)+5)
	for column, value := range updates {
		if !vintageMetadataColumns[column] {
			return domain.InvalidArgument("field %q is not updatable vintage metadata", column)
		}
		setClauses = append(setClauses, column+" = ?")
		args = append(args, value)
	}

	setClauses = append(setClauses, "updated_at = ?", "updated_by = ?", "op_id = ?", "origin = ?")
	args = append(args, sync.UpdatedAt, sync.UpdatedBy, sync.OpID, sync.Origin, id)

	result, err := tx.Exec(`UPDATE vintages SET `+strings.Join(setClauses, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update vintage %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check vintage update: %w", err)
	}
	if affected == 0 {
		return domain.NotFound("vintage %d not found", id)
	}
	return nil
}

// SyncMetaTx reads the current reconciliation columns of a vintage row
func (r *VintageRepository) SyncMetaTx(tx *sql.Tx, id int64) (*domain.SyncMeta, error) {
	var meta domain.SyncMeta
	err := tx.QueryRow(`SELECT updated_at, updated_by, op_id, origin FROM vintages WHERE id = ?`, id).
		Scan(&meta.UpdatedAt, &meta.UpdatedBy, &meta.OpID, &meta.Origin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vintage sync metadata: %w", err)
	}
	return &meta, nil
}

// SetWeatherTx stores the enrichment results on the vintage row. The
// weather pipeline is a server-side writer, so the sync columns get
// server origin with the current clock.
func (r *VintageRepository) SetWeatherTx(tx *sql.Tx, id int64, weatherScore float64, productionNotes string, sync domain.SyncMeta) error {
	result, err := tx.Exec(`
		UPDATE vintages SET weather_score = ?, production_notes = ?,
			updated_at = ?, updated_by = ?, op_id = ?, origin = ?
		WHERE id = ?`,
		weatherScore, productionNotes,
		sync.UpdatedAt, sync.UpdatedBy, sync.OpID, sync.Origin, id)
	if err != nil {
		return fmt.Errorf("failed to store weather results for vintage %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check weather update: %w", err)
	}
	if affected == 0 {
		return domain.NotFound("vintage %d not found", id)
	}
	return nil
}

// ListByWine returns all vintages of a wine, newest year first
func (r *VintageRepository) ListByWine(wineID int64) ([]domain.Vintage, error) {
	rows, err := r.db.Query(`SELECT `+vintageColumns+` FROM vintages WHERE wine_id = ? ORDER BY year DESC`, wineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vintages for wine %d: %w", wineID, err)
	}
	defer rows.Close()
	return collectVintages(rows)
}

// ListChangedSince returns vintages whose sync timestamp is strictly newer
// than the given client clock seconds.
func (r *VintageRepository) ListChangedSince(since int64) ([]domain.Vintage, error) {
	rows, err := r.db.Query(`SELECT `+vintageColumns+` FROM vintages WHERE updated_at > ? ORDER BY id`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed vintages: %w", err)
	}
	defer rows.Close()
	return collectVintages(rows)
}

func scanVintage(row *sql.Row) (*domain.Vintage, error) {
	var v domain.Vintage
	err := row.Scan(&v.ID, &v.WineID, &v.Year, &v.QualityScore, &v.CriticScore, &v.WeatherScore,
		&v.PeakDrinkingStart, &v.PeakDrinkingEnd, &v.ProductionNotes,
		&v.Sync.UpdatedAt, &v.Sync.UpdatedBy, &v.Sync.OpID, &v.Sync.Origin, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan vintage: %w", err)
	}
	return &v, nil
}

func collectVintages(rows *sql.Rows) ([]domain.Vintage, error) {
	var vintages []domain.Vintage
	for rows.Next() {
		var v domain.Vintage
		err := rows.Scan(&v.ID, &v.WineID, &v.Year, &v.QualityScore, &v.CriticScore, &v.WeatherScore,
			&v.PeakDrinkingStart, &v.PeakDrinkingEnd, &v.ProductionNotes,
			&v.Sync.UpdatedAt, &v.Sync.UpdatedBy, &v.Sync.OpID, &v.Sync.Origin, &v.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vintage: %w", err)
		}
		vintages = append(vintages, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vintages: %w", err)
	}
	return vintages, nil
}
