package testing

import (
	"time"

	"github.com/sommos/sommos/internal/domain"
)

// NewWineFixtures returns a set of test wines for use in tests
func NewWineFixtures() []domain.Wine {
	return []domain.Wine{
		{
			ID:       1,
			Name:     "Chateau Margaux",
			Producer: "Chateau Margaux",
			Region:   "Margaux",
			Country:  "France",
			WineType: domain.WineTypeRed,
			GrapeVarieties: []string{
				"Cabernet Sauvignon",
				"Merlot",
			},
			TastingNotes: "Violets, cassis, graphite. Fine-grained tannins.",
			FoodPairings: "Roast lamb, aged beef, truffle dishes",
		},
		{
			ID:       2,
			Name:     "Cloudy Bay Sauvignon Blanc",
			Producer: "Cloudy Bay",
			Region:   "Marlborough",
			Country:  "New Zealand",
			WineType: domain.WineTypeWhite,
			GrapeVarieties: []string{
				"Sauvignon Blanc",
			},
			TastingNotes: "Passionfruit, lime zest, fresh cut grass.",
			FoodPairings: "Shellfish, goat cheese, green salads",
		},
		{
			ID:       3,
			Name:     "Dom Perignon",
			Producer: "Moet et Chandon",
			Region:   "Champagne",
			Country:  "France",
			WineType: domain.WineTypeSparkling,
			GrapeVarieties: []string{
				"Chardonnay",
				"Pinot Noir",
			},
			TastingNotes: "Brioche, citrus, fine mousse.",
			FoodPairings: "Oysters, caviar, fried appetizers",
		},
		{
			ID:       4,
			Name:     "Barolo Monfortino",
			Producer: "Giacomo Conterno",
			Region:   "Piedmont",
			Country:  "Italy",
			WineType: domain.WineTypeRed,
			GrapeVarieties: []string{
				"Nebbiolo",
			},
			TastingNotes: "Tar, roses, dried cherry. Formidable structure.",
			FoodPairings: "Braised beef, game, hard cheeses",
		},
	}
}

// NewVintageFixtures returns a set of test vintages for use in tests.
// Vintage IDs line up with the wine fixtures: vintages 1 and 2 belong to
// wine 1, vintage 3 to wine 2, vintage 4 to wine 3.
func NewVintageFixtures() []domain.Vintage {
	return []domain.Vintage{
		{ID: 1, WineID: 1, Year: 2015, QualityScore: 96, WeatherScore: 91},
		{ID: 2, WineID: 1, Year: 2018},
		{ID: 3, WineID: 2, Year: 2022, QualityScore: 88},
		{ID: 4, WineID: 3, Year: 2012, QualityScore: 93, WeatherScore: 85},
	}
}

// NewStockFixtures returns a set of test stock rows for use in tests
func NewStockFixtures() []domain.Stock {
	return []domain.Stock{
		{
			VintageID:        1,
			Location:         "main-cellar",
			Quantity:         24,
			ReservedQuantity: 2,
			CostPerBottle:    450.0,
		},
		{
			VintageID:        1,
			Location:         "service-bar",
			Quantity:         3,
			ReservedQuantity: 0,
			CostPerBottle:    450.0,
		},
		{
			VintageID:        3,
			Location:         "main-cellar",
			Quantity:         36,
			ReservedQuantity: 0,
			CostPerBottle:    28.5,
		},
		{
			VintageID:        4,
			Location:         "deck-fridge",
			Quantity:         6,
			ReservedQuantity: 1,
			CostPerBottle:    180.0,
		},
	}
}

// NewLedgerFixtures returns a set of test ledger entries for use in tests.
// Applied in order they replay to the stock fixtures above.
func NewLedgerFixtures() []domain.LedgerEntry {
	return []domain.LedgerEntry{
		{VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 30, CreatedBy: "chief-stew", Notes: "initial provisioning"},
		{VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionConsume, Quantity: -3, CreatedBy: "sommelier"},
		{VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionMoveOut, Quantity: -3, CreatedBy: "sommelier"},
		{VintageID: 1, Location: "service-bar", TransactionType: domain.TransactionMoveIn, Quantity: 3, CreatedBy: "sommelier"},
		{VintageID: 1, Location: "main-cellar", TransactionType: domain.TransactionReserve, Quantity: -2, CreatedBy: "charter-guest"},
		{VintageID: 3, Location: "main-cellar", TransactionType: domain.TransactionIntake, Quantity: 36, CreatedBy: "chief-stew"},
		{VintageID: 4, Location: "deck-fridge", TransactionType: domain.TransactionIntake, Quantity: 6, CreatedBy: "chief-stew"},
		{VintageID: 4, Location: "deck-fridge", TransactionType: domain.TransactionReserve, Quantity: -1, CreatedBy: "charter-guest"},
	}
}

// NewSupplierFixtures returns a set of test suppliers for use in tests
func NewSupplierFixtures() []domain.Supplier {
	return []domain.Supplier{
		{ID: 1, Name: "Riviera Fine Wines", Contact: "orders@rivierafinewines.example", Rating: 4.8, Active: true},
		{ID: 2, Name: "Pacific Cellar Supply", Contact: "sales@pacificcellar.example", Rating: 4.2, Active: true},
		{ID: 3, Name: "Dockside Beverages", Rating: 3.1, Active: false},
	}
}

// NewWeatherVintageFixtures returns a set of test weather analyses for use in tests
func NewWeatherVintageFixtures() []domain.WeatherVintage {
	return []domain.WeatherVintage{
		{
			ID:                 1,
			Region:             "margaux",
			Year:               2015,
			GDD:                1480,
			HuglinIndex:        2210,
			DiurnalRange:       11.2,
			HeatwaveDays:       4,
			FrostDays:          0,
			PrecipitationTotal: 540,
			WetDays:            38,
			RipenessScore:      4.6,
			AcidityScore:       3.9,
			TanninScore:        4.3,
			DiseaseScore:       4.4,
			OverallScore:       91,
			Confidence:         0.92,
			ResolutionSource:   "builtin",
		},
		{
			ID:                 2,
			Region:             "marlborough",
			Year:               2022,
			GDD:                1120,
			HuglinIndex:        1750,
			DiurnalRange:       9.8,
			HeatwaveDays:       0,
			FrostDays:          3,
			PrecipitationTotal: 810,
			WetDays:            74,
			RipenessScore:      3.4,
			AcidityScore:       4.7,
			TanninScore:        2.8,
			DiseaseScore:       2.9,
			OverallScore:       74,
			Confidence:         0.61,
			ResolutionSource:   "geocode",
		},
	}
}

// NewLocationFixtures returns the storage locations used across tests
func NewLocationFixtures() []string {
	return []string{"main-cellar", "service-bar", "deck-fridge", "owner-suite"}
}

// NewDishFixtures returns dish descriptions used in pairing tests
func NewDishFixtures() []string {
	return []string{
		"Pan-seared duck breast with cherry reduction",
		"Grilled Mediterranean sea bass with lemon and capers",
		"Beef wellington with truffle jus",
		"Oysters on the half shell",
	}
}

// NewPairingContextFixture returns a representative pairing context
func NewPairingContextFixture() map[string]string {
	return map[string]string{
		"occasion":  "dinner",
		"guests":    "8",
		"season":    "summer",
		"formality": "formal",
	}
}

// TimeRef returns a fixed reference time for tests that compare timestamps
func TimeRef() time.Time {
	return time.Date(2024, 6, 15, 18, 30, 0, 0, time.UTC)
}
