// Package domain provides core domain models and types.
package domain

import "time"

// WineType represents the broad style category of a wine
type WineType string

const (
	WineTypeRed       WineType = "Red"
	WineTypeWhite     WineType = "White"
	WineTypeRose      WineType = "Rosé"
	WineTypeSparkling WineType = "Sparkling"
	WineTypeDessert   WineType = "Dessert"
	WineTypeFortified WineType = "Fortified"
)

// ValidWineType reports whether t is one of the recognized categories
func ValidWineType(t WineType) bool {
	switch t {
	case WineTypeRed, WineTypeWhite, WineTypeRose, WineTypeSparkling, WineTypeDessert, WineTypeFortified:
		return true
	}
	return false
}

// TransactionType represents a ledger movement kind
type TransactionType string

const (
	TransactionIntake    TransactionType = "INTAKE"
	TransactionReceive   TransactionType = "RECEIVE"
	TransactionConsume   TransactionType = "CONSUME"
	TransactionMoveOut   TransactionType = "MOVE_OUT"
	TransactionMoveIn    TransactionType = "MOVE_IN"
	TransactionReserve   TransactionType = "RESERVE"
	TransactionUnreserve TransactionType = "UNRESERVE"
	TransactionAdjust    TransactionType = "ADJUST"
)

// Sign returns the ledger sign convention for the movement kind:
// +1 increases available stock, -1 decreases it. ADJUST entries carry
// their own sign and return 0 here.
func (t TransactionType) Sign() int {
	switch t {
	case TransactionIntake, TransactionReceive, TransactionMoveIn, TransactionUnreserve:
		return +1
	case TransactionConsume, TransactionMoveOut, TransactionReserve:
		return -1
	}
	return 0
}

// AffectsReserved reports whether the movement changes reserved_quantity
// instead of quantity. RESERVE rows are stored with -q and UNRESERVE with
// +q, so reserved_quantity is the negated sum over these kinds.
func (t TransactionType) AffectsReserved() bool {
	return t == TransactionReserve || t == TransactionUnreserve
}

// ValidTransactionType reports whether t is a known movement kind
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TransactionIntake, TransactionReceive, TransactionConsume, TransactionMoveOut,
		TransactionMoveIn, TransactionReserve, TransactionUnreserve, TransactionAdjust:
		return true
	}
	return false
}

// IntakeStatus represents the receipt state of an intake order
type IntakeStatus string

const (
	IntakeOrdered           IntakeStatus = "ORDERED"
	IntakePartiallyReceived IntakeStatus = "PARTIALLY_RECEIVED"
	IntakeReceived          IntakeStatus = "RECEIVED"
	IntakeCancelled         IntakeStatus = "CANCELLED"
)

// Provider identifies which pairing provider produced a recommendation
type Provider string

const (
	ProviderPrimaryAI   Provider = "primary_ai"
	ProviderSecondaryAI Provider = "secondary_ai"
	ProviderHeuristic   Provider = "heuristic"
)

// SyncMeta carries the reconciliation columns present on every mutable row.
// UpdatedAt is client/server clock seconds; Origin is "server" or a client id.
type SyncMeta struct {
	UpdatedBy string `json:"updated_by"`
	OpID      string `json:"op_id"`
	Origin    string `json:"origin"`
	UpdatedAt int64  `json:"updated_at"`
}

// OriginServer is the origin recorded on server-side mutations
const OriginServer = "server"

// Wine is the identity of a producer/label. Identity fields are immutable;
// metadata fields participate in LWW reconciliation.
type Wine struct {
	CreatedAt       time.Time `json:"created_at"`
	Name            string    `json:"name"`
	Producer        string    `json:"producer"`
	Region          string    `json:"region"`
	Country         string    `json:"country"`
	WineType        WineType  `json:"wine_type"`
	Style           string    `json:"style,omitempty"`
	TastingNotes    string    `json:"tasting_notes,omitempty"`
	FoodPairings    string    `json:"food_pairings,omitempty"`
	GrapeVarieties  []string  `json:"grape_varieties"`
	Sync            SyncMeta  `json:"sync"`
	ID              int64     `json:"id"`
	ServingTempMin  float64   `json:"serving_temp_min,omitempty"`
	ServingTempMax  float64   `json:"serving_temp_max,omitempty"`
}

// Vintage is a Wine x year. Unique on (wine_id, year).
type Vintage struct {
	CreatedAt         time.Time `json:"created_at"`
	ProductionNotes   string    `json:"production_notes,omitempty"` // opaque JSON blob; see ProductionNotes
	Sync              SyncMeta  `json:"sync"`
	ID                int64     `json:"id"`
	WineID            int64     `json:"wine_id"`
	Year              int       `json:"year"`
	QualityScore      float64   `json:"quality_score,omitempty"`
	CriticScore       float64   `json:"critic_score,omitempty"`
	WeatherScore      float64   `json:"weather_score,omitempty"`
	PeakDrinkingStart int       `json:"peak_drinking_start,omitempty"` // years after vintage
	PeakDrinkingEnd   int       `json:"peak_drinking_end,omitempty"`
}

// Stock is the materialized balance for a Vintage x location. The ledger is
// the source of truth; this row must always equal the ledger sum.
type Stock struct {
	Location         string   `json:"location"`
	Sync             SyncMeta `json:"sync"`
	VintageID        int64    `json:"vintage_id"`
	Quantity         float64  `json:"quantity"`
	ReservedQuantity float64  `json:"reserved_quantity"`
	CostPerBottle    float64  `json:"cost_per_bottle,omitempty"`
}

// Available returns the quantity a new consume or reserve may claim
func (s Stock) Available() float64 {
	return s.Quantity - s.ReservedQuantity
}

// StockView is the joined read model returned by stock listings
type StockView struct {
	Name             string   `json:"name"`
	Producer         string   `json:"producer"`
	Region           string   `json:"region"`
	Country          string   `json:"country"`
	WineType         WineType `json:"wine_type"`
	Location         string   `json:"location"`
	WineID           int64    `json:"wine_id"`
	VintageID        int64    `json:"vintage_id"`
	Year             int      `json:"year"`
	Quantity         float64  `json:"quantity"`
	ReservedQuantity float64  `json:"reserved_quantity"`
	Available        float64  `json:"available"`
	WeatherScore     float64  `json:"weather_score,omitempty"`
	CostPerBottle    float64  `json:"cost_per_bottle,omitempty"`
}

// LedgerEntry is one append-only movement record. Never updated or deleted.
type LedgerEntry struct {
	CreatedAt       time.Time       `json:"created_at"`
	TransactionType TransactionType `json:"transaction_type"`
	Location        string          `json:"location"`
	Notes           string          `json:"notes,omitempty"`
	CreatedBy       string          `json:"created_by"`
	ReferenceID     string          `json:"reference_id,omitempty"` // intake/order id
	ID              int64           `json:"id"`
	VintageID       int64           `json:"vintage_id"`
	Quantity        float64         `json:"quantity"` // signed per TransactionType.Sign
	UnitCost        float64         `json:"unit_cost,omitempty"`
}

// Supplier is an external source of stock
type Supplier struct {
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact,omitempty"`
	ID        int64     `json:"id"`
	Rating    float64   `json:"rating,omitempty"`
	Active    bool      `json:"active"`
}

// IntakeOrder is a planned receipt from a supplier
type IntakeOrder struct {
	OrderDate        time.Time    `json:"order_date"`
	ExpectedDelivery time.Time    `json:"expected_delivery,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	Status           IntakeStatus `json:"status"`
	Notes            string       `json:"notes,omitempty"`
	ID               int64        `json:"id"`
	SupplierID       int64        `json:"supplier_id"`
	Items            []IntakeItem `json:"items,omitempty"`
}

// IntakeItem is one expected line of an intake order. OutstandingQuantity is
// derived from ledger RECEIVE entries referencing the item.
type IntakeItem struct {
	Location            string  `json:"location,omitempty"`
	ID                  int64   `json:"id"`
	OrderID             int64   `json:"order_id"`
	VintageID           int64   `json:"vintage_id"`
	ExpectedQuantity    float64 `json:"expected_quantity"`
	OutstandingQuantity float64 `json:"outstanding_quantity"`
	UnitCost            float64 `json:"unit_cost,omitempty"`
}

// WineSelection is one ranked wine in a pairing recommendation
type WineSelection struct {
	Reasoning  string  `json:"reasoning,omitempty"`
	VintageID  int64   `json:"vintage_id"`
	Confidence float64 `json:"confidence"` // [0,1]
}

// PairingRecommendation is a produced pairing, persisted for feedback and
// retention (90 days).
type PairingRecommendation struct {
	CreatedAt      time.Time       `json:"created_at"`
	ID             string          `json:"id"`
	Fingerprint    string          `json:"fingerprint"`
	Dish           string          `json:"dish"`
	ContextJSON    string          `json:"context,omitempty"` // request context snapshot
	Provider       Provider        `json:"provider"`
	WineSelections []WineSelection `json:"wine_selections"`
}

// FeedbackRatings is the optional per-aspect rating set, each value in [1,5]
type FeedbackRatings struct {
	Overall           float64 `json:"overall,omitempty"`
	FlavorHarmony     float64 `json:"flavor_harmony,omitempty"`
	TextureBalance    float64 `json:"texture_balance,omitempty"`
	AcidityMatch      float64 `json:"acidity_match,omitempty"`
	TanninBalance     float64 `json:"tannin_balance,omitempty"`
	BodyMatch         float64 `json:"body_match,omitempty"`
	RegionalTradition float64 `json:"regional_tradition,omitempty"`
}

// PairingFeedback is a user rating of a recommendation
type PairingFeedback struct {
	CreatedAt        time.Time       `json:"created_at"`
	RecommendationID string          `json:"recommendation_id"`
	Notes            string          `json:"notes,omitempty"`
	Ratings          FeedbackRatings `json:"ratings"`
	ID               int64           `json:"id"`
	TimeToSelectMs   int64           `json:"time_to_select_ms,omitempty"`
	Selected         bool            `json:"selected"`
}

// WeatherVintage is the cached meteorological derivation for (region, year)
type WeatherVintage struct {
	RetrievedAt        time.Time `json:"retrieved_at"`
	Region             string    `json:"region"` // normalized
	ResolutionSource   string    `json:"resolution_source,omitempty"`
	ID                 int64     `json:"id"`
	Year               int       `json:"year"`
	GDD                float64   `json:"gdd"`
	HuglinIndex        float64   `json:"huglin_index"`
	DiurnalRange       float64   `json:"diurnal_range"`
	HeatwaveDays       int       `json:"heatwave_days"`
	FrostDays          int       `json:"frost_days"`
	PrecipitationTotal float64   `json:"precipitation_total"`
	WetDays            int       `json:"wet_days"`
	RipenessScore      float64   `json:"ripeness_score"`       // [1,5]
	AcidityScore       float64   `json:"acidity_score"`        // [1,5]
	TanninScore        float64   `json:"tannin_score"`         // [1,5]
	DiseaseScore       float64   `json:"disease_pressure"`     // [1,5]
	OverallScore       float64   `json:"overall_score"`        // [0,100]
	Confidence         float64   `json:"confidence"`           // [0,1]
}

// Immutable reports whether the row may no longer be recomputed
func (w WeatherVintage) Immutable() bool {
	return w.Confidence >= 0.8
}

// Procurement is the buy/hold advice attached to a vintage narrative
type Procurement struct {
	Action    string `json:"action"`
	Priority  string `json:"priority"`
	Reasoning string `json:"reasoning"`
}

// ProductionNotes is the tagged form of the opaque production_notes blob
// exposed at the API boundary.
type ProductionNotes struct {
	Narrative      string      `json:"narrative"`
	Procurement    Procurement `json:"procurement"`
	WeatherSummary string      `json:"weather_summary"`
}
