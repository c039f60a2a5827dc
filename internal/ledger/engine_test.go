package ledger

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/domain"

	_ "modernc.org/sqlite"
)

func setupLedgerDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vintage_id INTEGER NOT NULL,
			transaction_type TEXT NOT NULL,
			location TEXT NOT NULL,
			quantity REAL NOT NULL,
			unit_cost REAL NOT NULL DEFAULT 0,
			reference_id TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE stock (
			vintage_id INTEGER NOT NULL,
			location TEXT NOT NULL,
			quantity REAL NOT NULL DEFAULT 0 CHECK (quantity >= 0),
			reserved_quantity REAL NOT NULL DEFAULT 0 CHECK (reserved_quantity >= 0),
			cost_per_bottle REAL NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0,
			updated_by TEXT NOT NULL DEFAULT '',
			op_id TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL DEFAULT 'server',
			PRIMARY KEY (vintage_id, location),
			CHECK (reserved_quantity <= quantity)
		)
	`)
	require.NoError(t, err)

	return db
}

func newTestEngine(t *testing.T) (*Engine, *sql.DB) {
	db := setupLedgerDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewEngine(db, log), db
}

func appendEntry(t *testing.T, engine *Engine, db *sql.DB, entry domain.LedgerEntry) int64 {
	t.Helper()
	var id int64
	err := database.WithTransaction(db, func(tx *sql.Tx) error {
		var appendErr error
		id, appendErr = engine.Append(tx, entry)
		return appendErr
	})
	require.NoError(t, err)
	return id
}

func TestEngine_AppendAndBalance(t *testing.T) {
	engine, db := newTestEngine(t)
	defer db.Close()

	id1 := appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 12, CreatedBy: "chief-stew",
	})
	id2 := appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionConsume, Quantity: -3, CreatedBy: "sommelier",
	})
	assert.Greater(t, id2, id1)

	balance, err := engine.Balance(1, "main-cellar")
	require.NoError(t, err)
	assert.Equal(t, 9.0, balance.Quantity)
	assert.Equal(t, 0.0, balance.ReservedQuantity)
	assert.Equal(t, 9.0, balance.Available())
}

func TestEngine_ReserveAffectsReservedNotQuantity(t *testing.T) {
	engine, db := newTestEngine(t)
	defer db.Close()

	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 10,
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionReserve, Quantity: -4,
	})

	balance, err := engine.Balance(1, "main-cellar")
	require.NoError(t, err)
	assert.Equal(t, 10.0, balance.Quantity)
	assert.Equal(t, 4.0, balance.ReservedQuantity)
	assert.Equal(t, 6.0, balance.Available())

	// Releasing part of the reservation restores availability
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionUnreserve, Quantity: 3,
	})

	balance, err = engine.Balance(1, "main-cellar")
	require.NoError(t, err)
	assert.Equal(t, 10.0, balance.Quantity)
	assert.Equal(t, 1.0, balance.ReservedQuantity)
	assert.Equal(t, 9.0, balance.Available())
}

func TestEngine_AdjustCarriesOwnSign(t *testing.T) {
	engine, db := newTestEngine(t)
	defer db.Close()

	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 2, Location: "service-bar", TransactionType: domain.TransactionIntake, Quantity: 6,
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 2, Location: "service-bar", TransactionType: domain.TransactionAdjust, Quantity: -2, Notes: "breakage",
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 2, Location: "service-bar", TransactionType: domain.TransactionAdjust, Quantity: 1, Notes: "found behind rack",
	})

	balance, err := engine.Balance(2, "service-bar")
	require.NoError(t, err)
	assert.Equal(t, 5.0, balance.Quantity)
}

func TestEngine_BalanceIsPerLocation(t *testing.T) {
	engine, db := newTestEngine(t)
	defer db.Close()

	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 10,
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionMoveOut, Quantity: -4,
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "deck-fridge", TransactionType: domain.TransactionMoveIn, Quantity: 4,
	})

	cellar, err := engine.Balance(1, "main-cellar")
	require.NoError(t, err)
	fridge, err := engine.Balance(1, "deck-fridge")
	require.NoError(t, err)

	assert.Equal(t, 6.0, cellar.Quantity)
	assert.Equal(t, 4.0, fridge.Quantity)
}

func TestEngine_ValidateRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry domain.LedgerEntry
	}{
		{
			name:  "missing vintage",
			entry: domain.LedgerEntry{Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 1},
		},
		{
			name:  "missing location",
			entry: domain.LedgerEntry{VintageID: 1, TransactionType: domain.TransactionIntake, Quantity: 1},
		},
		{
			name:  "unknown type",
			entry: domain.LedgerEntry{VintageID: 1, Location: "main-cellar", TransactionType: "TRANSFER", Quantity: 1},
		},
		{
			name:  "zero quantity",
			entry: domain.LedgerEntry{VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 0},
		},
		{
			name:  "intake with negative quantity",
			entry: domain.LedgerEntry{VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: -5},
		},
		{
			name:  "consume with positive quantity",
			entry: domain.LedgerEntry{VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionConsume, Quantity: 5},
		},
		{
			name:  "reserve with positive quantity",
			entry: domain.LedgerEntry{VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionReserve, Quantity: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.entry)
			require.Error(t, err)
			assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
		})
	}
}

func TestEngine_HistoryFiltersAndOrder(t *testing.T) {
	engine, db := newTestEngine(t)
	defer db.Close()

	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 10,
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionConsume, Quantity: -2,
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 2, Location: "service-bar", TransactionType: domain.TransactionIntake, Quantity: 6,
	})

	// All entries, most recent first
	all, err := engine.History(HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Greater(t, all[0].ID, all[1].ID)
	assert.Greater(t, all[1].ID, all[2].ID)
	assert.False(t, all[0].CreatedAt.IsZero())

	// By vintage
	byVintage, err := engine.History(HistoryFilter{VintageID: 1})
	require.NoError(t, err)
	assert.Len(t, byVintage, 2)

	// By location
	byLocation, err := engine.History(HistoryFilter{Location: "service-bar"})
	require.NoError(t, err)
	require.Len(t, byLocation, 1)
	assert.Equal(t, int64(2), byLocation[0].VintageID)

	// By type
	byType, err := engine.History(HistoryFilter{TransactionType: domain.TransactionConsume})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, -2.0, byType[0].Quantity)

	// Limit
	limited, err := engine.History(HistoryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// Unknown type filter is rejected
	_, err = engine.History(HistoryFilter{TransactionType: "TRANSFER"})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestEngine_RebuildStockFromLedger(t *testing.T) {
	engine, db := newTestEngine(t)
	defer db.Close()

	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 30,
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionConsume, Quantity: -3,
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionReserve, Quantity: -2,
	})
	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 2, Location: "deck-fridge", TransactionType: domain.TransactionIntake, Quantity: 6,
	})

	// Corrupt the materialized balances
	_, err := db.Exec(`INSERT INTO stock (vintage_id, location, quantity, reserved_quantity) VALUES (1, 'main-cellar', 99, 0)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO stock (vintage_id, location, quantity, reserved_quantity) VALUES (3, 'owner-suite', 5, 0)`)
	require.NoError(t, err)

	err = database.WithTransaction(db, func(tx *sql.Tx) error {
		return engine.RebuildStock(tx)
	})
	require.NoError(t, err)

	var quantity, reserved float64
	err = db.QueryRow(`SELECT quantity, reserved_quantity FROM stock WHERE vintage_id = 1 AND location = 'main-cellar'`).Scan(&quantity, &reserved)
	require.NoError(t, err)
	assert.Equal(t, 27.0, quantity)
	assert.Equal(t, 2.0, reserved)

	err = db.QueryRow(`SELECT quantity, reserved_quantity FROM stock WHERE vintage_id = 2 AND location = 'deck-fridge'`).Scan(&quantity, &reserved)
	require.NoError(t, err)
	assert.Equal(t, 6.0, quantity)
	assert.Equal(t, 0.0, reserved)

	// A stock row with no journal entries is zeroed, not deleted
	err = db.QueryRow(`SELECT quantity, reserved_quantity FROM stock WHERE vintage_id = 3 AND location = 'owner-suite'`).Scan(&quantity, &reserved)
	require.NoError(t, err)
	assert.Equal(t, 0.0, quantity)
	assert.Equal(t, 0.0, reserved)
}

func TestEngine_VerifyDetectsDrift(t *testing.T) {
	engine, db := newTestEngine(t)
	defer db.Close()

	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 12,
	})

	// Stock row disagrees with the journal
	_, err := db.Exec(`INSERT INTO stock (vintage_id, location, quantity, reserved_quantity) VALUES (1, 'main-cellar', 10, 0)`)
	require.NoError(t, err)

	mismatches, err := engine.Verify()
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, int64(1), mismatches[0].VintageID)
	assert.Equal(t, 10.0, mismatches[0].StockQuantity)
	assert.Equal(t, 12.0, mismatches[0].LedgerQuantity)

	// Rebuild clears the drift
	err = database.WithTransaction(db, func(tx *sql.Tx) error {
		return engine.RebuildStock(tx)
	})
	require.NoError(t, err)

	mismatches, err = engine.Verify()
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestEngine_VerifyDetectsMissingStockRow(t *testing.T) {
	engine, db := newTestEngine(t)
	defer db.Close()

	appendEntry(t, engine, db, domain.LedgerEntry{
		VintageID: 7, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 4,
	})

	mismatches, err := engine.Verify()
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, int64(7), mismatches[0].VintageID)
	assert.Equal(t, 0.0, mismatches[0].StockQuantity)
	assert.Equal(t, 4.0, mismatches[0].LedgerQuantity)
}
