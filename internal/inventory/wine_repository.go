// Package inventory implements cellar stock management: wine and vintage
// identity, intake orders, and every stock mutation. All quantity changes
// flow through the ledger; the repositories here never touch balances
// except through the materialized stock table inside a transaction that
// also appended the journal rows.
package inventory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// wineColumns is the scan list shared by every wine query
const wineColumns = `id, name, producer, region, country, wine_type, grape_varieties, style,
	tasting_notes, food_pairings, serving_temp_min, serving_temp_max,
	updated_at, updated_by, op_id, origin, created_at`

// wineMetadataColumns are the fields a sync metadata update may touch.
// Identity (name, producer) and timestamps are excluded.
var wineMetadataColumns = map[string]bool{
	"region":           true,
	"country":          true,
	"wine_type":        true,
	"grape_varieties":  true,
	"style":            true,
	"tasting_notes":    true,
	"food_pairings":    true,
	"serving_temp_min": true,
	"serving_temp_max": true,
}

// WineRepository handles wine identity persistence
type WineRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewWineRepository creates a new wine repository
func NewWineRepository(db *sql.DB, log zerolog.Logger) *WineRepository {
	return &WineRepository{
		db:  db,
		log: log.With().Str("repo", "wine").Logger(),
	}
}

// CreateTx inserts a wine inside the caller's transaction
func (r *WineRepository) CreateTx(tx *sql.Tx, wine *domain.Wine) (int64, error) {
	varieties, err := json.Marshal(wine.GrapeVarieties)
	if err != nil {
		return 0, fmt.Errorf("failed to encode grape varieties: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO wines (name, producer, region, country, wine_type, grape_varieties, style,
			tasting_notes, food_pairings, serving_temp_min, serving_temp_max,
			updated_at, updated_by, op_id, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wine.Name, wine.Producer, wine.Region, wine.Country, string(wine.WineType),
		string(varieties), wine.Style, wine.TastingNotes, wine.FoodPairings,
		wine.ServingTempMin, wine.ServingTempMax,
		wine.Sync.UpdatedAt, wine.Sync.UpdatedBy, wine.Sync.OpID, wine.Sync.Origin)
	if err != nil {
		return 0, fmt.Errorf("failed to create wine: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get wine id: %w", err)
	}
	return id, nil
}

// GetByID returns a wine by id, or nil if it does not exist
func (r *WineRepository) GetByID(id int64) (*domain.Wine, error) {
	row := r.db.QueryRow(`SELECT `+wineColumns+` FROM wines WHERE id = ?`, id)
	return scanWine(row)
}

// GetTx returns a wine by id inside the caller's transaction
func (r *WineRepository) GetTx(tx *sql.Tx, id int64) (*domain.Wine, error) {
	row := tx.QueryRow(`SELECT `+wineColumns+` FROM wines WHERE id = ?`, id)
	return scanWine(row)
}

// FindByIdentityTx looks a wine up by its (name, producer) identity pair
func (r *WineRepository) FindByIdentityTx(tx *sql.Tx, name, producer string) (*domain.Wine, error) {
	row := tx.QueryRow(`SELECT `+wineColumns+` FROM wines WHERE name = ? AND producer = ?`, name, producer)
	return scanWine(row)
}

// UpdateFieldsTx applies a metadata update to allow-listed columns and
// stamps the sync columns with the winning writer's metadata.
func (r *WineRepository) UpdateFieldsTx(tx *sql.Tx, id int64, updates map[string]interface{}, sync domain.SyncMeta) error {
	if len(updates) == 0 {
		return domain.InvalidArgument("metadata update carries no fields")
	}

	setClauses := make([]string, 0, len(updates)+4)
	args := make([]interface{}, 0, len(updates)+5)
	for column, value := range updates {
		if !wineMetadataColumns[column] {
			return domain.InvalidArgument("field %q is not updatable wine metadata", column)
		}
		if column == "grape_varieties" {
			encoded, err := encodeVarieties(value)
			if err != nil {
				return err
			}
			value = encoded
		}
		if column == "wine_type" {
			t, ok := value.(string)
			if !ok || !domain.ValidWineType(domain.WineType(t)) {
				return domain.InvalidArgument("invalid wine_type %v", value)
			}
		}
		setClauses = append(setClauses, column+" = ?")
		args = append(args, value)
	}

	setClauses = append(setClauses, "updated_at = ?", "updated_by = ?", "op_id = ?", "origin = ?")
	args = append(args, sync.UpdatedAt, sync.UpdatedBy, sync.OpID, sync.Origin, id)

	result, err := tx.Exec(`UPDATE wines SET `+strings.Join(setClauses, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update wine %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check wine update: %w", err)
	}
	if affected == 0 {
		return domain.NotFound("wine %d not found", id)
	}
	return nil
}

// SyncMetaTx reads the current reconciliation columns of a wine row
func (r *WineRepository) SyncMetaTx(tx *sql.Tx, id int64) (*domain.SyncMeta, error) {
	var meta domain.SyncMeta
	err := tx.QueryRow(`SELECT updated_at, updated_by, op_id, origin FROM wines WHERE id = ?`, id).
		Scan(&meta.UpdatedAt, &meta.UpdatedBy, &meta.OpID, &meta.Origin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read wine sync metadata: %w", err)
	}
	return &meta, nil
}

// ListChangedSince returns wines whose sync timestamp is strictly newer
// than the given client clock seconds. Used by the pull side of sync.
func (r *WineRepository) ListChangedSince(since int64) ([]domain.Wine, error) {
	rows, err := r.db.Query(`SELECT `+wineColumns+` FROM wines WHERE updated_at > ? ORDER BY id`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed wines: %w", err)
	}
	defer rows.Close()

	var wines []domain.Wine
	for rows.Next() {
		wine, err := scanWineRow(rows)
		if err != nil {
			return nil, err
		}
		wines = append(wines, *wine)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate changed wines: %w", err)
	}
	return wines, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWineFrom(s rowScanner) (*domain.Wine, error) {
	var wine domain.Wine
	var wineType, varieties string
	err := s.Scan(&wine.ID, &wine.Name, &wine.Producer, &wine.Region, &wine.Country, &wineType,
		&varieties, &wine.Style, &wine.TastingNotes, &wine.FoodPairings,
		&wine.ServingTempMin, &wine.ServingTempMax,
		&wine.Sync.UpdatedAt, &wine.Sync.UpdatedBy, &wine.Sync.OpID, &wine.Sync.Origin, &wine.CreatedAt)
	if err != nil {
		return nil, err
	}
	wine.WineType = domain.WineType(wineType)
	if err := json.Unmarshal([]byte(varieties), &wine.GrapeVarieties); err != nil {
		return nil, fmt.Errorf("failed to decode grape varieties for wine %d: %w", wine.ID, err)
	}
	return &wine, nil
}

func scanWine(row *sql.Row) (*domain.Wine, error) {
	wine, err := scanWineFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan wine: %w", err)
	}
	return wine, nil
}

func scanWineRow(rows *sql.Rows) (*domain.Wine, error) {
	wine, err := scanWineFrom(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan wine: %w", err)
	}
	return wine, nil
}

// encodeVarieties normalizes the two shapes a grape_varieties update may
// arrive in: a JSON-ready []string, or []interface{} from a decoded body.
func encodeVarieties(value interface{}) (string, error) {
	switch v := value.(type) {
	case []string:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode grape varieties: %w", err)
		}
		return string(encoded), nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return "", domain.InvalidArgument("grape_varieties must be a list of strings")
			}
			out = append(out, s)
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("failed to encode grape varieties: %w", err)
		}
		return string(encoded), nil
	case string:
		// Already JSON from an internal caller
		var check []string
		if err := json.Unmarshal([]byte(v), &check); err != nil {
			return "", domain.InvalidArgument("grape_varieties must be a list of strings")
		}
		return v, nil
	default:
		return "", domain.InvalidArgument("grape_varieties must be a list of strings")
	}
}
