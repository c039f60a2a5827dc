package inventory

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/domain"
)

// StockFilter narrows a stock listing. Zero values mean "no filter".
type StockFilter struct {
	WineType      domain.WineType
	Region        string
	Location      string
	Search        string
	Limit         int
	Offset        int
	AvailableOnly bool
}

const (
	defaultStockLimit = 50
	maxStockLimit     = 200
)

// StockRepository handles the materialized stock table
type StockRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *sql.DB, log zerolog.Logger) *StockRepository {
	return &StockRepository{
		db:  db,
		log: log.With().Str("repo", "stock").Logger(),
	}
}

// Get returns the stock row for a vintage at a location, or nil if absent
func (r *StockRepository) Get(vintageID int64, location string) (*domain.Stock, error) {
	return scanStock(r.db.QueryRow(`
		SELECT vintage_id, location, quantity, reserved_quantity, cost_per_bottle,
			updated_at, updated_by, op_id, origin
		FROM stock WHERE vintage_id = ? AND location = ?`, vintageID, location))
}

// GetTx returns the stock row inside the caller's transaction
func (r *StockRepository) GetTx(tx *sql.Tx, vintageID int64, location string) (*domain.Stock, error) {
	return scanStock(tx.QueryRow(`
		SELECT vintage_id, location, quantity, reserved_quantity, cost_per_bottle,
			updated_at, updated_by, op_id, origin
		FROM stock WHERE vintage_id = ? AND location = ?`, vintageID, location))
}

// ApplyDeltaTx adjusts a balance inside the caller's transaction, creating
// the row if needed. costPerBottle <= 0 keeps the stored cost. The DDL
// CHECK constraints are the hard floor: a delta that would drive quantity
// or reserved negative, or reserved above quantity, fails here and is
// mapped to an inventory conflict by the caller.
//
// The update and insert paths are separate statements: an upsert would
// check the row constraints against the raw delta values before conflict
// resolution runs, so a negative delta against a healthy row would abort.
func (r *StockRepository) ApplyDeltaTx(tx *sql.Tx, vintageID int64, location string, deltaQty, deltaReserved, costPerBottle float64, sync domain.SyncMeta) (*domain.Stock, error) {
	res, err := tx.Exec(`
		UPDATE stock SET
			quantity = quantity + ?,
			reserved_quantity = reserved_quantity + ?,
			cost_per_bottle = CASE WHEN ? > 0 THEN ? ELSE cost_per_bottle END,
			updated_at = ?,
			updated_by = ?,
			op_id = ?,
			origin = ?
		WHERE vintage_id = ? AND location = ?`,
		deltaQty, deltaReserved, costPerBottle, costPerBottle,
		sync.UpdatedAt, sync.UpdatedBy, sync.OpID, sync.Origin,
		vintageID, location)
	if err != nil {
		if database.IsConstraintViolation(err) {
			return nil, domain.InventoryConflict("stock invariant violated for vintage %d at %s", vintageID, location)
		}
		return nil, fmt.Errorf("failed to apply stock delta: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to apply stock delta: %w", err)
	}
	if affected == 0 {
		// No row yet: the delta itself must form a valid first balance,
		// so a negative delta here is a genuine conflict.
		_, err = tx.Exec(`
			INSERT INTO stock (vintage_id, location, quantity, reserved_quantity, cost_per_bottle,
				updated_at, updated_by, op_id, origin)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			vintageID, location, deltaQty, deltaReserved, maxFloat(costPerBottle, 0),
			sync.UpdatedAt, sync.UpdatedBy, sync.OpID, sync.Origin)
		if err != nil {
			if database.IsConstraintViolation(err) {
				return nil, domain.InventoryConflict("stock invariant violated for vintage %d at %s", vintageID, location)
			}
			return nil, fmt.Errorf("failed to apply stock delta: %w", err)
		}
	}

	stock, err := r.GetTx(tx, vintageID, location)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return nil, fmt.Errorf("stock row missing after delta for vintage %d at %s", vintageID, location)
	}
	return stock, nil
}

// List returns the joined stock view with filters applied, ordered by
// wine name then year then location for stable pagination.
func (r *StockRepository) List(filter StockFilter) ([]domain.StockView, error) {
	query := `
		SELECT w.id, w.name, w.producer, w.region, w.country, w.wine_type,
			v.id, v.year, v.weather_score,
			s.location, s.quantity, s.reserved_quantity, s.cost_per_bottle
		FROM stock s
		JOIN vintages v ON v.id = s.vintage_id
		JOIN wines w ON w.id = v.wine_id`

	var conditions []string
	var args []interface{}

	if filter.WineType != "" {
		if !domain.ValidWineType(filter.WineType) {
			return nil, domain.InvalidArgument("unknown wine type %q", filter.WineType)
		}
		conditions = append(conditions, "w.wine_type = ?")
		args = append(args, string(filter.WineType))
	}
	if filter.Region != "" {
		conditions = append(conditions, "w.region = ? COLLATE NOCASE")
		args = append(args, filter.Region)
	}
	if filter.Location != "" {
		conditions = append(conditions, "s.location = ?")
		args = append(args, filter.Location)
	}
	if filter.Search != "" {
		conditions = append(conditions, "(w.name LIKE ? OR w.producer LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	if filter.AvailableOnly {
		conditions = append(conditions, "s.quantity - s.reserved_quantity > 0")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultStockLimit
	}
	if limit > maxStockLimit {
		limit = maxStockLimit
	}
	query += " ORDER BY w.name, v.year, s.location LIMIT ? OFFSET ?"
	args = append(args, limit, maxInt(filter.Offset, 0))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock: %w", err)
	}
	defer rows.Close()

	var views []domain.StockView
	for rows.Next() {
		var view domain.StockView
		var wineType string
		err := rows.Scan(&view.WineID, &view.Name, &view.Producer, &view.Region, &view.Country, &wineType,
			&view.VintageID, &view.Year, &view.WeatherScore,
			&view.Location, &view.Quantity, &view.ReservedQuantity, &view.CostPerBottle)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock view: %w", err)
		}
		view.WineType = domain.WineType(wineType)
		view.Available = view.Quantity - view.ReservedQuantity
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock views: %w", err)
	}

	return views, nil
}

// ListAvailable returns every position with bottles available, without
// pagination. The pairing orchestrator filters provider picks against
// this set, so a truncated page would wrongly discard valid picks.
func (r *StockRepository) ListAvailable() ([]domain.StockView, error) {
	rows, err := r.db.Query(`
		SELECT w.id, w.name, w.producer, w.region, w.country, w.wine_type,
			v.id, v.year, v.weather_score,
			s.location, s.quantity, s.reserved_quantity, s.cost_per_bottle
		FROM stock s
		JOIN vintages v ON v.id = s.vintage_id
		JOIN wines w ON w.id = v.wine_id
		WHERE s.quantity - s.reserved_quantity > 0
		ORDER BY w.name, v.year, s.location`)
	if err != nil {
		return nil, fmt.Errorf("failed to list available stock: %w", err)
	}
	defer rows.Close()

	var views []domain.StockView
	for rows.Next() {
		var view domain.StockView
		var wineType string
		err := rows.Scan(&view.WineID, &view.Name, &view.Producer, &view.Region, &view.Country, &wineType,
			&view.VintageID, &view.Year, &view.WeatherScore,
			&view.Location, &view.Quantity, &view.ReservedQuantity, &view.CostPerBottle)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock view: %w", err)
		}
		view.WineType = domain.WineType(wineType)
		view.Available = view.Quantity - view.ReservedQuantity
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock views: %w", err)
	}

	return views, nil
}

// TopAvailable returns the available positions with the highest balances,
// used to build the inventory signature for pairing fingerprints.
func (r *StockRepository) TopAvailable(limit int) ([]domain.StockView, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(`
		SELECT w.id, w.name, w.producer, w.region, w.country, w.wine_type,
			v.id, v.year, v.weather_score,
			s.location, s.quantity, s.reserved_quantity, s.cost_per_bottle
		FROM stock s
		JOIN vintages v ON v.id = s.vintage_id
		JOIN wines w ON w.id = v.wine_id
		WHERE s.quantity - s.reserved_quantity > 0
		ORDER BY s.quantity - s.reserved_quantity DESC, v.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top available stock: %w", err)
	}
	defer rows.Close()

	var views []domain.StockView
	for rows.Next() {
		var view domain.StockView
		var wineType string
		err := rows.Scan(&view.WineID, &view.Name, &view.Producer, &view.Region, &view.Country, &wineType,
			&view.VintageID, &view.Year, &view.WeatherScore,
			&view.Location, &view.Quantity, &view.ReservedQuantity, &view.CostPerBottle)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock view: %w", err)
		}
		view.WineType = domain.WineType(wineType)
		view.Available = view.Quantity - view.ReservedQuantity
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock views: %w", err)
	}

	return views, nil
}

// ListChangedSince returns stock rows whose sync timestamp is strictly
// newer than the given client clock seconds.
func (r *StockRepository) ListChangedSince(since int64) ([]domain.Stock, error) {
	rows, err := r.db.Query(`
		SELECT vintage_id, location, quantity, reserved_quantity, cost_per_bottle,
			updated_at, updated_by, op_id, origin
		FROM stock WHERE updated_at > ? ORDER BY vintage_id, location`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed stock: %w", err)
	}
	defer rows.Close()

	var stocks []domain.Stock
	for rows.Next() {
		var s domain.Stock
		err := rows.Scan(&s.VintageID, &s.Location, &s.Quantity, &s.ReservedQuantity, &s.CostPerBottle,
			&s.Sync.UpdatedAt, &s.Sync.UpdatedBy, &s.Sync.OpID, &s.Sync.Origin)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}
		stocks = append(stocks, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock rows: %w", err)
	}
	return stocks, nil
}

func scanStock(row *sql.Row) (*domain.Stock, error) {
	var s domain.Stock
	err := row.Scan(&s.VintageID, &s.Location, &s.Quantity, &s.ReservedQuantity, &s.CostPerBottle,
		&s.Sync.UpdatedAt, &s.Sync.UpdatedBy, &s.Sync.OpID, &s.Sync.Origin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stock: %w", err)
	}
	return &s, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
