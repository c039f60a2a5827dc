package inventory

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// IntakeRepository handles intake orders and their line items
type IntakeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewIntakeRepository creates a new intake repository
func NewIntakeRepository(db *sql.DB, log zerolog.Logger) *IntakeRepository {
	return &IntakeRepository{
		db:  db,
		log: log.With().Str("repo", "intake").Logger(),
	}
}

// CreateOrderTx inserts an intake order inside the caller's transaction
func (r *IntakeRepository) CreateOrderTx(tx *sql.Tx, order *domain.IntakeOrder) (int64, error) {
	var expected interface{}
	if !order.ExpectedDelivery.IsZero() {
		expected = order.ExpectedDelivery.UTC()
	}

	result, err := tx.Exec(`
		INSERT INTO intake_orders (supplier_id, status, order_date, expected_delivery, notes)
		VALUES (?, ?, ?, ?, ?)`,
		order.SupplierID, string(order.Status), order.OrderDate.UTC(), expected, order.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to create intake order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get intake order id: %w", err)
	}
	return id, nil
}

// CreateItemTx inserts an order line inside the caller's transaction.
// outstanding_quantity starts equal to expected_quantity.
func (r *IntakeRepository) CreateItemTx(tx *sql.Tx, item *domain.IntakeItem) (int64, error) {
	result, err := tx.Exec(`
		INSERT INTO intake_items (order_id, vintage_id, expected_quantity, outstanding_quantity, unit_cost, location)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.OrderID, item.VintageID, item.ExpectedQuantity, item.ExpectedQuantity, item.UnitCost, item.Location)
	if err != nil {
		return 0, fmt.Errorf("failed to create intake item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get intake item id: %w", err)
	}
	return id, nil
}

// GetOrder returns an intake order with its items, or nil if absent
func (r *IntakeRepository) GetOrder(id int64) (*domain.IntakeOrder, error) {
	order, err := r.scanOrder(r.db.QueryRow(`
		SELECT id, supplier_id, status, order_date, expected_delivery, notes, created_at
		FROM intake_orders WHERE id = ?`, id))
	if err != nil || order == nil {
		return order, err
	}

	rows, err := r.db.Query(`
		SELECT id, order_id, vintage_id, expected_quantity, outstanding_quantity, unit_cost, location
		FROM intake_items WHERE order_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query intake items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.IntakeItem
		err := rows.Scan(&item.ID, &item.OrderID, &item.VintageID,
			&item.ExpectedQuantity, &item.OutstandingQuantity, &item.UnitCost, &item.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intake item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intake items: %w", err)
	}

	return order, nil
}

// GetOrderTx returns the order header inside the caller's transaction,
// without items.
func (r *IntakeRepository) GetOrderTx(tx *sql.Tx, id int64) (*domain.IntakeOrder, error) {
	return r.scanOrder(tx.QueryRow(`
		SELECT id, supplier_id, status, order_date, expected_delivery, notes, created_at
		FROM intake_orders WHERE id = ?`, id))
}

// GetItemTx returns one order line inside the caller's transaction
func (r *IntakeRepository) GetItemTx(tx *sql.Tx, id int64) (*domain.IntakeItem, error) {
	var item domain.IntakeItem
	err := tx.QueryRow(`
		SELECT id, order_id, vintage_id, expected_quantity, outstanding_quantity, unit_cost, location
		FROM intake_items WHERE id = ?`, id).
		Scan(&item.ID, &item.OrderID, &item.VintageID,
			&item.ExpectedQuantity, &item.OutstandingQuantity, &item.UnitCost, &item.Location)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intake item %d: %w", id, err)
	}
	return &item, nil
}

// ReduceOutstandingTx decrements an item's outstanding quantity after a
// receipt. The CHECK constraint rejects receiving more than is expected.
func (r *IntakeRepository) ReduceOutstandingTx(tx *sql.Tx, itemID int64, quantity float64) error {
	result, err := tx.Exec(`
		UPDATE intake_items SET outstanding_quantity = outstanding_quantity - ?
		WHERE id = ?`, quantity, itemID)
	if err != nil {
		return fmt.Errorf("failed to reduce outstanding quantity for item %d: %w", itemID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check outstanding update: %w", err)
	}
	if affected == 0 {
		return domain.NotFound("intake item %d not found", itemID)
	}
	return nil
}

// RecomputeStatusTx derives the order status from its items' outstanding
// quantities: fully received, partially received, or still ordered.
// Cancelled orders are left alone.
func (r *IntakeRepository) RecomputeStatusTx(tx *sql.Tx, orderID int64) (domain.IntakeStatus, error) {
	var current string
	err := tx.QueryRow(`SELECT status FROM intake_orders WHERE id = ?`, orderID).Scan(&current)
	if err == sql.ErrNoRows {
		return "", domain.NotFound("intake order %d not found", orderID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read intake order status: %w", err)
	}
	if domain.IntakeStatus(current) == domain.IntakeCancelled {
		return domain.IntakeCancelled, nil
	}

	var outstanding, expected float64
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(outstanding_quantity), 0), COALESCE(SUM(expected_quantity), 0)
		FROM intake_items WHERE order_id = ?`, orderID).Scan(&outstanding, &expected)
	if err != nil {
		return "", fmt.Errorf("failed to sum intake items: %w", err)
	}

	status := domain.IntakeOrdered
	switch {
	case expected > 0 && outstanding == 0:
		status = domain.IntakeReceived
	case outstanding < expected:
		status = domain.IntakePartiallyReceived
	}

	if _, err := tx.Exec(`UPDATE intake_orders SET status = ? WHERE id = ?`, string(status), orderID); err != nil {
		return "", fmt.Errorf("failed to update intake order status: %w", err)
	}
	return status, nil
}

// ListOrders returns intake orders, newest first, optionally by status
func (r *IntakeRepository) ListOrders(status domain.IntakeStatus, limit int) ([]domain.IntakeOrder, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, supplier_id, status, order_date, expected_delivery, notes, created_at FROM intake_orders`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list intake orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.IntakeOrder
	for rows.Next() {
		order, err := r.scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intake orders: %w", err)
	}
	return orders, nil
}

func (r *IntakeRepository) scanOrder(row *sql.Row) (*domain.IntakeOrder, error) {
	var order domain.IntakeOrder
	var status string
	var expected sql.NullTime
	err := row.Scan(&order.ID, &order.SupplierID, &status, &order.OrderDate, &expected, &order.Notes, &order.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan intake order: %w", err)
	}
	order.Status = domain.IntakeStatus(status)
	if expected.Valid {
		order.ExpectedDelivery = expected.Time
	}
	return &order, nil
}

func (r *IntakeRepository) scanOrderRows(rows *sql.Rows) (*domain.IntakeOrder, error) {
	var order domain.IntakeOrder
	var status string
	var expected sql.NullTime
	err := rows.Scan(&order.ID, &order.SupplierID, &status, &order.OrderDate, &expected, &order.Notes, &order.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan intake order: %w", err)
	}
	order.Status = domain.IntakeStatus(status)
	if expected.Valid {
		order.ExpectedDelivery = expected.Time
	}
	return &order, nil
}
