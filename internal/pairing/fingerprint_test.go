package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sommos/sommos/internal/domain"
)

func stockView(vintageID int64, available float64) domain.StockView {
	return domain.StockView{
		VintageID: vintageID,
		Available: available,
		Quantity:  available,
		WineType:  domain.WineTypeRed,
		Region:    "Bordeaux",
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	req := Request{
		Dish:        "Grilled Salmon",
		Preferences: "dry whites",
		Context:     Context{Occasion: "casual-dining", GuestCount: 4},
	}
	inv := []domain.StockView{stockView(1, 5), stockView(2, 3)}

	assert.Equal(t, Fingerprint(req, inv), Fingerprint(req, inv))
}

func TestFingerprintNormalizesText(t *testing.T) {
	inv := []domain.StockView{stockView(1, 5)}

	a := Fingerprint(Request{Dish: "  Grilled   SALMON "}, inv)
	b := Fingerprint(Request{Dish: "grilled salmon"}, inv)
	assert.Equal(t, a, b)
}

func TestFingerprintIgnoresInventoryOrder(t *testing.T) {
	req := Request{Dish: "steak"}

	a := Fingerprint(req, []domain.StockView{stockView(1, 5), stockView(2, 3)})
	b := Fingerprint(req, []domain.StockView{stockView(2, 3), stockView(1, 5)})
	assert.Equal(t, a, b)
}

func TestFingerprintOnlyTopNMatters(t *testing.T) {
	req := Request{Dish: "steak"}

	// Eleven vintages: the eleventh by bottle count is outside the signature.
	base := make([]domain.StockView, 0, 11)
	for i := int64(1); i <= 11; i++ {
		base = append(base, stockView(i, float64(100-i)))
	}
	changed := append([]domain.StockView(nil), base...)
	changed[10].Available = 1 // still rank 11

	assert.Equal(t, Fingerprint(req, base), Fingerprint(req, changed))
}

func TestFingerprintChangesWithDish(t *testing.T) {
	inv := []domain.StockView{stockView(1, 5)}
	assert.NotEqual(t, Fingerprint(Request{Dish: "steak"}, inv), Fingerprint(Request{Dish: "salmon"}, inv))
}

func TestFingerprintChangesWithTopInventory(t *testing.T) {
	req := Request{Dish: "steak"}
	a := Fingerprint(req, []domain.StockView{stockView(1, 5)})
	b := Fingerprint(req, []domain.StockView{stockView(1, 4)})
	assert.NotEqual(t, a, b)
}
