// Package ledger implements the append-only movement journal that is the
// source of truth for every stock balance. Rows are never updated or
// deleted; balances are sums over the journal and the stock table is a
// materialization that must always agree with it.
package ledger

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// balanceTolerance absorbs float accumulation noise when comparing the
// materialized stock table against journal sums.
const balanceTolerance = 1e-6

// Engine appends movements and derives balances from the journal.
type Engine struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewEngine creates a ledger engine on the main database
func NewEngine(db *sql.DB, log zerolog.Logger) *Engine {
	return &Engine{
		db:  db,
		log: log.With().Str("component", "ledger").Logger(),
	}
}

// Balance is the derived position of a vintage at a location
type Balance struct {
	Quantity         float64
	ReservedQuantity float64
}

// Available returns the quantity a new consume or reserve may claim
func (b Balance) Available() float64 {
	return b.Quantity - b.ReservedQuantity
}

// HistoryFilter narrows a journal listing. Zero values mean "no filter".
type HistoryFilter struct {
	Location        string
	TransactionType domain.TransactionType
	VintageID       int64
	Limit           int
}

// Mismatch reports a stock row that disagrees with the journal
type Mismatch struct {
	Location       string
	VintageID      int64
	StockQuantity  float64
	LedgerQuantity float64
	StockReserved  float64
	LedgerReserved float64
}

// Validate checks that an entry respects the sign convention before it is
// written. INTAKE, RECEIVE, MOVE_IN and UNRESERVE rows must be positive;
// CONSUME, MOVE_OUT and RESERVE rows must be negative; ADJUST rows carry
// their own sign but must be non-zero.
func Validate(entry domain.LedgerEntry) error {
	if entry.VintageID <= 0 {
		return domain.InvalidArgument("ledger entry requires a vintage_id")
	}
	if entry.Location == "" {
		return domain.InvalidArgument("ledger entry requires a location")
	}
	if !domain.ValidTransactionType(entry.TransactionType) {
		return domain.InvalidArgument("unknown transaction type %q", entry.TransactionType)
	}
	if entry.Quantity == 0 {
		return domain.InvalidArgument("ledger entry quantity must be non-zero")
	}
	switch sign := entry.TransactionType.Sign(); {
	case sign > 0 && entry.Quantity < 0:
		return domain.InvalidArgument("%s entries must carry a positive quantity", entry.TransactionType)
	case sign < 0 && entry.Quantity > 0:
		return domain.InvalidArgument("%s entries must carry a negative quantity", entry.TransactionType)
	}
	return nil
}

// Append validates and inserts one movement inside the caller's transaction.
// Returns the journal id assigned to the row.
func (e *Engine) Append(tx *sql.Tx, entry domain.LedgerEntry) (int64, error) {
	if err := Validate(entry); err != nil {
		return 0, err
	}

	result, err := tx.Exec(`
		INSERT INTO ledger (vintage_id, transaction_type, location, quantity, unit_cost, reference_id, notes, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.VintageID, string(entry.TransactionType), entry.Location, entry.Quantity,
		entry.UnitCost, entry.ReferenceID, entry.Notes, entry.CreatedBy)
	if err != nil {
		return 0, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get ledger entry id: %w", err)
	}

	e.log.Debug().
		Int64("ledger_id", id).
		Int64("vintage_id", entry.VintageID).
		Str("location", entry.Location).
		Str("type", string(entry.TransactionType)).
		Float64("quantity", entry.Quantity).
		Msg("Ledger entry appended")

	return id, nil
}

// quantity excludes reservation movements; reserved negates them, so a
// RESERVE row stored as -q contributes +q to reserved_quantity.
const balanceQuery = `
	SELECT
		COALESCE(SUM(CASE WHEN transaction_type IN ('RESERVE','UNRESERVE') THEN 0 ELSE quantity END), 0),
		COALESCE(SUM(CASE WHEN transaction_type IN ('RESERVE','UNRESERVE') THEN -quantity ELSE 0 END), 0)
	FROM ledger
	WHERE vintage_id = ? AND location = ?`

// Balance derives the current position of a vintage at a location
func (e *Engine) Balance(vintageID int64, location string) (Balance, error) {
	var b Balance
	err := e.db.QueryRow(balanceQuery, vintageID, location).Scan(&b.Quantity, &b.ReservedQuantity)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to derive balance: %w", err)
	}
	return b, nil
}

// BalanceTx derives the position inside an open transaction, so a service
// can check availability and append in the same atomic step.
func (e *Engine) BalanceTx(tx *sql.Tx, vintageID int64, location string) (Balance, error) {
	var b Balance
	err := tx.QueryRow(balanceQuery, vintageID, location).Scan(&b.Quantity, &b.ReservedQuantity)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to derive balance: %w", err)
	}
	return b, nil
}

// History lists journal entries, most recent first
func (e *Engine) History(filter HistoryFilter) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, vintage_id, transaction_type, location, quantity, unit_cost, reference_id, notes, created_by, created_at
		FROM ledger`

	var conditions []string
	var args []interface{}

	if filter.VintageID > 0 {
		conditions = append(conditions, "vintage_id = ?")
		args = append(args, filter.VintageID)
	}
	if filter.Location != "" {
		conditions = append(conditions, "location = ?")
		args = append(args, filter.Location)
	}
	if filter.TransactionType != "" {
		if !domain.ValidTransactionType(filter.TransactionType) {
			return nil, domain.InvalidArgument("unknown transaction type %q", filter.TransactionType)
		}
		conditions = append(conditions, "transaction_type = ?")
		args = append(args, string(filter.TransactionType))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := e.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger history: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		var txType string
		err := rows.Scan(&entry.ID, &entry.VintageID, &txType, &entry.Location, &entry.Quantity,
			&entry.UnitCost, &entry.ReferenceID, &entry.Notes, &entry.CreatedBy, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.TransactionType = domain.TransactionType(txType)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}

	return entries, nil
}

// RebuildStock rewrites the stock table from journal sums inside the
// caller's transaction. Existing rows are zeroed first so locations whose
// movements net out keep a row instead of a stale balance.
func (e *Engine) RebuildStock(tx *sql.Tx) error {
	if _, err := tx.Exec(`UPDATE stock SET quantity = 0, reserved_quantity = 0`); err != nil {
		return fmt.Errorf("failed to zero stock balances: %w", err)
	}

	aggregates, err := journalAggregates(tx)
	if err != nil {
		return err
	}

	for _, agg := range aggregates {
		_, err := tx.Exec(`
			INSERT INTO stock (vintage_id, location, quantity, reserved_quantity)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (vintage_id, location) DO UPDATE SET
				quantity = excluded.quantity,
				reserved_quantity = excluded.reserved_quantity`,
			agg.VintageID, agg.Location, agg.Quantity, agg.Reserved)
		if err != nil {
			return fmt.Errorf("failed to rebuild stock for vintage %d at %s: %w", agg.VintageID, agg.Location, err)
		}
	}

	e.log.Info().Int("positions", len(aggregates)).Msg("Stock rebuilt from ledger")
	return nil
}

// Verify compares every stock row against journal sums and returns the
// positions that disagree. An empty result means the materialization holds.
func (e *Engine) Verify() ([]Mismatch, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin verify transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	aggregates, err := journalAggregates(tx)
	if err != nil {
		return nil, err
	}

	type position struct {
		vintageID int64
		location  string
	}
	ledgerByPos := make(map[position]journalAggregate, len(aggregates))
	for _, agg := range aggregates {
		ledgerByPos[position{agg.VintageID, agg.Location}] = agg
	}

	rows, err := tx.Query(`SELECT vintage_id, location, quantity, reserved_quantity FROM stock`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock for verification: %w", err)
	}
	defer rows.Close()

	var mismatches []Mismatch
	seen := make(map[position]bool)
	for rows.Next() {
		var pos position
		var quantity, reserved float64
		if err := rows.Scan(&pos.vintageID, &pos.location, &quantity, &reserved); err != nil {
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}
		seen[pos] = true

		agg := ledgerByPos[position{pos.vintageID, pos.location}]
		if differs(quantity, agg.Quantity) || differs(reserved, agg.Reserved) {
			mismatches = append(mismatches, Mismatch{
				VintageID:      pos.vintageID,
				Location:       pos.location,
				StockQuantity:  quantity,
				LedgerQuantity: agg.Quantity,
				StockReserved:  reserved,
				LedgerReserved: agg.Reserved,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock rows: %w", err)
	}

	// Journal positions with no stock row at all
	for _, agg := range aggregates {
		pos := position{agg.VintageID, agg.Location}
		if seen[pos] {
			continue
		}
		if differs(agg.Quantity, 0) || differs(agg.Reserved, 0) {
			mismatches = append(mismatches, Mismatch{
				VintageID:      agg.VintageID,
				Location:       agg.Location,
				LedgerQuantity: agg.Quantity,
				LedgerReserved: agg.Reserved,
			})
		}
	}

	return mismatches, nil
}

type journalAggregate struct {
	Location  string
	VintageID int64
	Quantity  float64
	Reserved  float64
}

// journalAggregates sums the journal per position. Rows are collected
// before any writes because a transaction is pinned to one connection.
func journalAggregates(tx *sql.Tx) ([]journalAggregate, error) {
	rows, err := tx.Query(`
		SELECT vintage_id, location,
			COALESCE(SUM(CASE WHEN transaction_type IN ('RESERVE','UNRESERVE') THEN 0 ELSE quantity END), 0),
			COALESCE(SUM(CASE WHEN transaction_type IN ('RESERVE','UNRESERVE') THEN -quantity ELSE 0 END), 0)
		FROM ledger
		GROUP BY vintage_id, location`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ledger: %w", err)
	}
	defer rows.Close()

	var aggregates []journalAggregate
	for rows.Next() {
		var agg journalAggregate
		if err := rows.Scan(&agg.VintageID, &agg.Location, &agg.Quantity, &agg.Reserved); err != nil {
			return nil, fmt.Errorf("failed to scan ledger aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger aggregates: %w", err)
	}

	return aggregates, nil
}

func differs(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff > balanceTolerance
}
