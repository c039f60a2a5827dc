package inventory

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// SupplierRepository handles supplier persistence
type SupplierRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSupplierRepository creates a new supplier repository
func NewSupplierRepository(db *sql.DB, log zerolog.Logger) *SupplierRepository {
	return &SupplierRepository{
		db:  db,
		log: log.With().Str("repo", "supplier").Logger(),
	}
}

// UpsertByNameTx returns the id of the supplier with the given name,
// creating it as active when it does not exist yet.
func (r *SupplierRepository) UpsertByNameTx(tx *sql.Tx, name string) (int64, error) {
	if name == "" {
		return 0, domain.InvalidArgument("supplier name is required")
	}

	var id int64
	err := tx.QueryRow(`SELECT id FROM suppliers WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up supplier %q: %w", name, err)
	}

	result, err := tx.Exec(`INSERT INTO suppliers (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create supplier %q: %w", name, err)
	}
	id, err = result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get supplier id: %w", err)
	}
	return id, nil
}

// GetByID returns a supplier by id, or nil if it does not exist
func (r *SupplierRepository) GetByID(id int64) (*domain.Supplier, error) {
	var s domain.Supplier
	var active int
	err := r.db.QueryRow(`
		SELECT id, name, contact, rating, active, created_at FROM suppliers WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &s.Contact, &s.Rating, &active, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get supplier %d: %w", id, err)
	}
	s.Active = active != 0
	return &s, nil
}

// List returns suppliers ordered by name
func (r *SupplierRepository) List(activeOnly bool) ([]domain.Supplier, error) {
	query := `SELECT id, name, contact, rating, active, created_at FROM suppliers`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []domain.Supplier
	for rows.Next() {
		var s domain.Supplier
		var active int
		if err := rows.Scan(&s.ID, &s.Name, &s.Contact, &s.Rating, &active, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		s.Active = active != 0
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suppliers: %w", err)
	}
	return suppliers, nil
}

// Update stores contact, rating and active flag for a supplier
func (r *SupplierRepository) Update(id int64, contact string, rating float64, active bool) error {
	activeInt := 0
	if active {
		activeInt = 1
	}
	result, err := r.db.Exec(`UPDATE suppliers SET contact = ?, rating = ?, active = ? WHERE id = ?`,
		contact, rating, activeInt, id)
	if err != nil {
		return fmt.Errorf("failed to update supplier %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check supplier update: %w", err)
	}
	if affected == 0 {
		return domain.NotFound("supplier %d not found", id)
	}
	return nil
}
