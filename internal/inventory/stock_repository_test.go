package inventory

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/domain"
	testingpkg "github.com/sommos/sommos/internal/testing"
)

func setupStockRepo(t *testing.T) (*StockRepository, *sql.DB, int64, func()) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	log := zerolog.New(nil).Level(zerolog.Disabled)

	svc := NewService(db.Conn(), testingpkg.NewMockEmitter(), nil, log)
	order, err := svc.Intake(testIntakeRequest())
	require.NoError(t, err)

	repo := NewStockRepository(db.Conn(), log)
	return repo, db.Conn(), order.Items[0].VintageID, cleanup
}

func applyDelta(t *testing.T, db *sql.DB, repo *StockRepository, vintageID int64, location string, deltaQty, deltaReserved float64) (*domain.Stock, error) {
	t.Helper()

	var stock *domain.Stock
	err := database.WithTransaction(db, func(tx *sql.Tx) error {
		var err error
		stock, err = repo.ApplyDeltaTx(tx, vintageID, location, deltaQty, deltaReserved, 0,
			fillSync(domain.SyncMeta{}, "sommelier"))
		return err
	})
	return stock, err
}

// seedManyPositions inserts n wines, one vintage and one stock row each.
// Wine n-1 gets the far largest balance and a name that sorts last.
func seedManyPositions(t *testing.T, db *sql.DB, n int) int64 {
	t.Helper()

	var bigVintage int64
	for i := 0; i < n; i++ {
		res, err := db.Exec(`INSERT INTO wines (name, producer, region, country, wine_type)
			VALUES (?, ?, 'Loire', 'France', 'White')`,
			fmt.Sprintf("Wine %02d", i), fmt.Sprintf("Producer %02d", i))
		require.NoError(t, err)
		wineID, err := res.LastInsertId()
		require.NoError(t, err)

		res, err = db.Exec(`INSERT INTO vintages (wine_id, year) VALUES (?, 2019)`, wineID)
		require.NoError(t, err)
		vintageID, err := res.LastInsertId()
		require.NoError(t, err)

		qty := 2.0
		if i == n-1 {
			qty = 500
			bigVintage = vintageID
		}
		_, err = db.Exec(`INSERT INTO stock (vintage_id, location, quantity)
			VALUES (?, 'main-cellar', ?)`, vintageID, qty)
		require.NoError(t, err)
	}
	return bigVintage
}

func TestListAvailableReturnsWholeCellar(t *testing.T) {
	repo, db, _, cleanup := setupStockRepo(t)
	defer cleanup()

	bigVintage := seedManyPositions(t, db, 55)

	views, err := repo.ListAvailable()
	require.NoError(t, err)
	assert.Len(t, views, 55)

	found := false
	for _, v := range views {
		if v.VintageID == bigVintage {
			found = true
			assert.Equal(t, 500.0, v.Available)
		}
	}
	assert.True(t, found, "largest balance must not fall off a page")
}

func TestServiceAvailableInventoryIsUnpaginated(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	defer cleanup()

	log := zerolog.New(nil).Level(zerolog.Disabled)
	svc := NewService(db.Conn(), testingpkg.NewMockEmitter(), nil, log)

	bigVintage := seedManyPositions(t, db.Conn(), 55)

	views, err := svc.AvailableInventory()
	require.NoError(t, err)
	assert.Len(t, views, 55)

	top, err := svc.TopAvailable(10)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, bigVintage, top[0].VintageID)
}

func TestTopAvailableLeadsWithLargestBalance(t *testing.T) {
	repo, db, _, cleanup := setupStockRepo(t)
	defer cleanup()

	bigVintage := seedManyPositions(t, db, 55)

	top, err := repo.TopAvailable(10)
	require.NoError(t, err)
	require.Len(t, top, 10)
	assert.Equal(t, bigVintage, top[0].VintageID)
	assert.Equal(t, 500.0, top[0].Available)
}

func TestApplyDeltaTx_NegativeDeltaOnExistingRow(t *testing.T) {
	repo, db, vintageID, cleanup := setupStockRepo(t)
	defer cleanup()

	_, err := applyDelta(t, db, repo, vintageID, "main-cellar", 10, 0)
	require.NoError(t, err)

	stock, err := applyDelta(t, db, repo, vintageID, "main-cellar", -2, 0)
	require.NoError(t, err)
	assert.Equal(t, 8.0, stock.Quantity)
}

func TestApplyDeltaTx_ConsumeToExactlyZero(t *testing.T) {
	repo, db, vintageID, cleanup := setupStockRepo(t)
	defer cleanup()

	_, err := applyDelta(t, db, repo, vintageID, "main-cellar", 3, 0)
	require.NoError(t, err)

	stock, err := applyDelta(t, db, repo, vintageID, "main-cellar", -3, 0)
	require.NoError(t, err)
	assert.Zero(t, stock.Quantity)
}

func TestApplyDeltaTx_OneBottlePastZeroConflicts(t *testing.T) {
	repo, db, vintageID, cleanup := setupStockRepo(t)
	defer cleanup()

	_, err := applyDelta(t, db, repo, vintageID, "main-cellar", 3, 0)
	require.NoError(t, err)

	_, err = applyDelta(t, db, repo, vintageID, "main-cellar", -4, 0)
	require.Error(t, err)
	assert.Equal(t, domain.KindInventoryConflict, domain.KindOf(err))

	// The rejected delta left the row untouched
	stock, err := repo.Get(vintageID, "main-cellar")
	require.NoError(t, err)
	require.NotNil(t, stock)
	assert.Equal(t, 3.0, stock.Quantity)
}

func TestApplyDeltaTx_NegativeDeltaWithoutRowConflicts(t *testing.T) {
	repo, db, vintageID, cleanup := setupStockRepo(t)
	defer cleanup()

	_, err := applyDelta(t, db, repo, vintageID, "empty-locker", -1, 0)
	require.Error(t, err)
	assert.Equal(t, domain.KindInventoryConflict, domain.KindOf(err))
}

func TestApplyDeltaTx_ReservedAboveQuantityConflicts(t *testing.T) {
	repo, db, vintageID, cleanup := setupStockRepo(t)
	defer cleanup()

	_, err := applyDelta(t, db, repo, vintageID, "main-cellar", 2, 0)
	require.NoError(t, err)

	_, err = applyDelta(t, db, repo, vintageID, "main-cellar", 0, 3)
	require.Error(t, err)
	assert.Equal(t, domain.KindInventoryConflict, domain.KindOf(err))
}

func TestApplyDeltaTx_CreatesRowOnFirstReceipt(t *testing.T) {
	repo, db, vintageID, cleanup := setupStockRepo(t)
	defer cleanup()

	stock, err := applyDelta(t, db, repo, vintageID, "deck-fridge", 6, 0)
	require.NoError(t, err)
	assert.Equal(t, 6.0, stock.Quantity)
	assert.Equal(t, "deck-fridge", stock.Location)
}
