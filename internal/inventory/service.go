package inventory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/database"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/events"
	"github.com/sommos/sommos/internal/ledger"
)

// Inventory action names carried on realtime frames
const (
	ActionAdd       = "add"
	ActionRemove    = "remove"
	ActionMove      = "move"
	ActionReserve   = "reserve"
	ActionUnreserve = "unreserve"
)

const moduleName = "inventory"

// OperationRecorder receives one sample per completed mutation. The
// metrics tracker implements it; a nil recorder disables sampling.
type OperationRecorder interface {
	RecordOperation(op string, duration time.Duration, err error)
}

// Service executes every inventory mutation as a single transaction that
// appends to the ledger and adjusts the materialized stock, then publishes
// events for the realtime layer.
type Service struct {
	db        *sql.DB
	engine    *ledger.Engine
	wines     *WineRepository
	vintages  *VintageRepository
	stock     *StockRepository
	intake    *IntakeRepository
	suppliers *SupplierRepository
	emitter   events.Emitter
	recorder  OperationRecorder
	log       zerolog.Logger
}

// NewService creates the inventory service with its repositories
func NewService(db *sql.DB, emitter events.Emitter, recorder OperationRecorder, log zerolog.Logger) *Service {
	return &Service{
		db:        db,
		engine:    ledger.NewEngine(db, log),
		wines:     NewWineRepository(db, log),
		vintages:  NewVintageRepository(db, log),
		stock:     NewStockRepository(db, log),
		intake:    NewIntakeRepository(db, log),
		suppliers: NewSupplierRepository(db, log),
		emitter:   emitter,
		recorder:  recorder,
		log:       log.With().Str("service", "inventory").Logger(),
	}
}

// Wines exposes the wine repository for sync reconciliation
func (s *Service) Wines() *WineRepository { return s.wines }

// Vintages exposes the vintage repository for sync and enrichment
func (s *Service) Vintages() *VintageRepository { return s.vintages }

// Stock exposes the stock repository for read models
func (s *Service) Stock() *StockRepository { return s.stock }

// Ledger exposes the journal engine
func (s *Service) Ledger() *ledger.Engine { return s.engine }

// DB exposes the main database handle for callers that manage their own
// transactions around repository Tx methods.
func (s *Service) DB() *sql.DB { return s.db }

// IntakeItemRequest is one expected line of a new intake order. Wine
// identity is (name, producer); both wine and vintage are upserted.
type IntakeItemRequest struct {
	Wine             domain.Wine `json:"wine"`
	Year             int         `json:"year"`
	ExpectedQuantity float64     `json:"expected_quantity"`
	UnitCost         float64     `json:"unit_cost"`
	Location         string      `json:"location"`
}

// IntakeRequest creates a planned receipt from a supplier
type IntakeRequest struct {
	Supplier         string              `json:"supplier"`
	OrderDate        time.Time           `json:"order_date"`
	ExpectedDelivery time.Time           `json:"expected_delivery"`
	Notes            string              `json:"notes"`
	CreatedBy        string              `json:"created_by"`
	Items            []IntakeItemRequest `json:"items"`
}

// Receipt is one received line against an intake order item
type Receipt struct {
	ItemID   int64   `json:"item_id"`
	Quantity float64 `json:"quantity"`
	Location string  `json:"location"`
}

// MutationRequest captures the shared inputs of the simple stock ops
type MutationRequest struct {
	VintageID int64           `json:"vintage_id"`
	Location  string          `json:"location"`
	Quantity  float64         `json:"quantity"`
	Notes     string          `json:"notes"`
	CreatedBy string          `json:"created_by"`
	Sync      domain.SyncMeta `json:"-"`
}

// MoveRequest moves bottles between two locations atomically
type MoveRequest struct {
	VintageID int64           `json:"vintage_id"`
	From      string          `json:"from_location"`
	To        string          `json:"to_location"`
	Quantity  float64         `json:"quantity"`
	Notes     string          `json:"notes"`
	CreatedBy string          `json:"created_by"`
	Sync      domain.SyncMeta `json:"-"`
}

// ReceiveStockRequest is a direct receipt outside an intake order, used by
// the sync reconciler for client-originated RECEIVE deltas.
type ReceiveStockRequest struct {
	VintageID int64           `json:"vintage_id"`
	Location  string          `json:"location"`
	Quantity  float64         `json:"quantity"`
	UnitCost  float64         `json:"unit_cost"`
	Notes     string          `json:"notes"`
	CreatedBy string          `json:"created_by"`
	Sync      domain.SyncMeta `json:"-"`
}

// fillSync stamps server defaults onto an incomplete sync envelope.
// Reconciled client ops arrive with all four fields set and pass through.
func fillSync(meta domain.SyncMeta, by string) domain.SyncMeta {
	if meta.OpID == "" {
		meta.OpID = uuid.NewString()
	}
	if meta.Origin == "" {
		meta.Origin = domain.OriginServer
	}
	if meta.UpdatedAt == 0 {
		meta.UpdatedAt = time.Now().Unix()
	}
	if meta.UpdatedBy == "" {
		meta.UpdatedBy = by
	}
	return meta
}

func (s *Service) record(op string, start time.Time, err error) {
	if s.recorder != nil {
		s.recorder.RecordOperation(op, time.Since(start), err)
	}
}

// Intake upserts wine and vintage identities and creates an ORDERED intake
// order. Stock is untouched until the order is received.
func (s *Service) Intake(req IntakeRequest) (order *domain.IntakeOrder, err error) {
	start := time.Now()
	defer func() { s.record("intake", start, err) }()

	if req.Supplier == "" {
		return nil, domain.InvalidArgument("intake requires a supplier")
	}
	if len(req.Items) == 0 {
		return nil, domain.InvalidArgument("intake requires at least one item")
	}
	for i, item := range req.Items {
		if item.Wine.Name == "" || item.Wine.Producer == "" {
			return nil, domain.InvalidArgument("item %d: wine name and producer are required", i)
		}
		if !domain.ValidWineType(item.Wine.WineType) {
			return nil, domain.InvalidArgument("item %d: invalid wine type %q", i, item.Wine.WineType)
		}
		if item.Year < 1800 || item.Year > 2100 {
			return nil, domain.InvalidArgument("item %d: year %d out of range", i, item.Year)
		}
		if item.ExpectedQuantity <= 0 {
			return nil, domain.InvalidArgument("item %d: expected quantity must be positive", i)
		}
	}

	orderDate := req.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}

	var orderID int64
	var createdVintages []events.VintageCreatedData

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		supplierID, err := s.suppliers.UpsertByNameTx(tx, req.Supplier)
		if err != nil {
			return err
		}

		orderID, err = s.intake.CreateOrderTx(tx, &domain.IntakeOrder{
			SupplierID:       supplierID,
			Status:           domain.IntakeOrdered,
			OrderDate:        orderDate,
			ExpectedDelivery: req.ExpectedDelivery,
			Notes:            req.Notes,
		})
		if err != nil {
			return err
		}

		for _, item := range req.Items {
			vintageID, created, err := s.upsertWineVintageTx(tx, item, req.CreatedBy)
			if err != nil {
				return err
			}
			if created != nil {
				createdVintages = append(createdVintages, *created)
			}

			_, err = s.intake.CreateItemTx(tx, &domain.IntakeItem{
				OrderID:          orderID,
				VintageID:        vintageID,
				ExpectedQuantity: item.ExpectedQuantity,
				UnitCost:         item.UnitCost,
				Location:         item.Location,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range createdVintages {
		s.emit(&createdVintages[i])
	}

	s.log.Info().Int64("order_id", orderID).Int("items", len(req.Items)).Str("supplier", req.Supplier).Msg("Intake order created")
	return s.intake.GetOrder(orderID)
}

// upsertWineVintageTx resolves or creates the wine and vintage for an
// intake item. Returns the vintage id and, when a vintage was created, the
// event announcing it.
func (s *Service) upsertWineVintageTx(tx *sql.Tx, item IntakeItemRequest, createdBy string) (int64, *events.VintageCreatedData, error) {
	wine, err := s.wines.FindByIdentityTx(tx, item.Wine.Name, item.Wine.Producer)
	if err != nil {
		return 0, nil, err
	}

	var wineID int64
	if wine != nil {
		wineID = wine.ID
	} else {
		newWine := item.Wine
		newWine.Sync = fillSync(domain.SyncMeta{}, createdBy)
		if newWine.GrapeVarieties == nil {
			newWine.GrapeVarieties = []string{}
		}
		wineID, err = s.wines.CreateTx(tx, &newWine)
		if err != nil {
			return 0, nil, err
		}
	}

	vintage, err := s.vintages.FindByWineYearTx(tx, wineID, item.Year)
	if err != nil {
		return 0, nil, err
	}
	if vintage != nil {
		return vintage.ID, nil, nil
	}

	vintageID, err := s.vintages.CreateTx(tx, &domain.Vintage{
		WineID: wineID,
		Year:   item.Year,
		Sync:   fillSync(domain.SyncMeta{}, createdBy),
	})
	if err != nil {
		return 0, nil, err
	}

	region := item.Wine.Region
	if wine != nil {
		region = wine.Region
	}
	return vintageID, &events.VintageCreatedData{
		VintageID: vintageID,
		WineID:    wineID,
		Year:      item.Year,
		Region:    region,
	}, nil
}

// ReceiveOrder records receipts against an intake order: one RECEIVE
// journal entry and stock increment per receipt, then the order status is
// recomputed. The whole receipt set is one transaction.
func (s *Service) ReceiveOrder(orderID int64, receipts []Receipt, notes, createdBy string) (order *domain.IntakeOrder, err error) {
	start := time.Now()
	defer func() { s.record("receive", start, err) }()

	if len(receipts) == 0 {
		return nil, domain.InvalidArgument("receive requires at least one receipt")
	}

	type receivedLine struct {
		stock  domain.Stock
		action events.InventoryActionData
	}
	var lines []receivedLine

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		header, err := s.intake.GetOrderTx(tx, orderID)
		if err != nil {
			return err
		}
		if header == nil {
			return domain.NotFound("intake order %d not found", orderID)
		}
		if header.Status == domain.IntakeCancelled {
			return domain.InvalidArgument("intake order %d is cancelled", orderID)
		}

		for _, receipt := range receipts {
			if receipt.Quantity <= 0 {
				return domain.InvalidArgument("receipt quantity must be positive")
			}

			item, err := s.intake.GetItemTx(tx, receipt.ItemID)
			if err != nil {
				return err
			}
			if item == nil || item.OrderID != orderID {
				return domain.NotFound("intake item %d not found on order %d", receipt.ItemID, orderID)
			}

			location := receipt.Location
			if location == "" {
				location = item.Location
			}
			if location == "" {
				return domain.InvalidArgument("receipt for item %d has no location", receipt.ItemID)
			}

			if receipt.Quantity > item.OutstandingQuantity {
				return domain.InventoryConflict("receipt of %.1f exceeds outstanding %.1f on item %d",
					receipt.Quantity, item.OutstandingQuantity, receipt.ItemID)
			}
			if err := s.intake.ReduceOutstandingTx(tx, item.ID, receipt.Quantity); err != nil {
				if database.IsConstraintViolation(err) {
					return domain.InventoryConflict("receipt exceeds outstanding quantity on item %d", item.ID)
				}
				return err
			}

			sync := fillSync(domain.SyncMeta{}, createdBy)
			_, err = s.engine.Append(tx, domain.LedgerEntry{
				VintageID:       item.VintageID,
				TransactionType: domain.TransactionReceive,
				Location:        location,
				Quantity:        receipt.Quantity,
				UnitCost:        item.UnitCost,
				ReferenceID:     fmt.Sprintf("intake_item:%d", item.ID),
				Notes:           notes,
				CreatedBy:       createdBy,
			})
			if err != nil {
				return err
			}

			stock, err := s.stock.ApplyDeltaTx(tx, item.VintageID, location, receipt.Quantity, 0, item.UnitCost, sync)
			if err != nil {
				return err
			}

			lines = append(lines, receivedLine{
				stock: *stock,
				action: events.InventoryActionData{
					Action:    ActionAdd,
					VintageID: item.VintageID,
					Location:  location,
					Quantity:  receipt.Quantity,
					CreatedBy: createdBy,
				},
			})
		}

		_, err = s.intake.RecomputeStatusTx(tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range lines {
		s.emit(&lines[i].action)
		s.emitStock(lines[i].stock)
	}

	return s.intake.GetOrder(orderID)
}

// ReceiveStockTx applies a direct receipt inside the caller's transaction.
// The sync envelope must already be filled.
func (s *Service) ReceiveStockTx(tx *sql.Tx, req ReceiveStockRequest) (*domain.Stock, error) {
	if req.Quantity <= 0 {
		return nil, domain.InvalidArgument("receive quantity must be positive")
	}
	if err := s.requireVintageTx(tx, req.VintageID); err != nil {
		return nil, err
	}

	_, err := s.engine.Append(tx, domain.LedgerEntry{
		VintageID:       req.VintageID,
		TransactionType: domain.TransactionReceive,
		Location:        req.Location,
		Quantity:        req.Quantity,
		UnitCost:        req.UnitCost,
		Notes:           req.Notes,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	return s.stock.ApplyDeltaTx(tx, req.VintageID, req.Location, req.Quantity, 0, req.UnitCost, req.Sync)
}

// ReceiveStock records a direct receipt with no intake order behind it
func (s *Service) ReceiveStock(req ReceiveStockRequest) (stock *domain.Stock, err error) {
	start := time.Now()
	defer func() { s.record("receive", start, err) }()

	req.Sync = fillSync(req.Sync, req.CreatedBy)
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stock, err = s.ReceiveStockTx(tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.PublishAction(events.InventoryActionData{
		Action:    ActionAdd,
		VintageID: req.VintageID,
		Location:  req.Location,
		Quantity:  req.Quantity,
		CreatedBy: req.CreatedBy,
	}, *stock)
	return stock, nil
}

// ConsumeTx applies a consume inside the caller's transaction. Rejected
// with a conflict when the location's available balance is insufficient.
func (s *Service) ConsumeTx(tx *sql.Tx, req MutationRequest) (*domain.Stock, error) {
	if req.Quantity <= 0 {
		return nil, domain.InvalidArgument("consume quantity must be positive")
	}
	if err := s.requireVintageTx(tx, req.VintageID); err != nil {
		return nil, err
	}

	balance, err := s.engine.BalanceTx(tx, req.VintageID, req.Location)
	if err != nil {
		return nil, err
	}
	if balance.Available() < req.Quantity {
		return nil, domain.InventoryConflict("insufficient available stock: have %.1f, want %.1f",
			balance.Available(), req.Quantity)
	}

	_, err = s.engine.Append(tx, domain.LedgerEntry{
		VintageID:       req.VintageID,
		TransactionType: domain.TransactionConsume,
		Location:        req.Location,
		Quantity:        -req.Quantity,
		Notes:           req.Notes,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	return s.stock.ApplyDeltaTx(tx, req.VintageID, req.Location, -req.Quantity, 0, 0, req.Sync)
}

// Consume removes bottles from a location
func (s *Service) Consume(req MutationRequest) (stock *domain.Stock, err error) {
	start := time.Now()
	defer func() { s.record("consume", start, err) }()

	req.Sync = fillSync(req.Sync, req.CreatedBy)
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stock, err = s.ConsumeTx(tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.PublishAction(events.InventoryActionData{
		Action:    ActionRemove,
		VintageID: req.VintageID,
		Location:  req.Location,
		Quantity:  req.Quantity,
		CreatedBy: req.CreatedBy,
	}, *stock)
	return stock, nil
}

// MoveTx applies a transfer inside the caller's transaction: a MOVE_OUT at
// the source and a MOVE_IN at the destination.
func (s *Service) MoveTx(tx *sql.Tx, req MoveRequest) (fromStock, toStock *domain.Stock, err error) {
	if req.Quantity <= 0 {
		return nil, nil, domain.InvalidArgument("move quantity must be positive")
	}
	if req.From == "" || req.To == "" {
		return nil, nil, domain.InvalidArgument("move requires source and destination locations")
	}
	if req.From == req.To {
		return nil, nil, domain.InvalidArgument("move source and destination are the same location")
	}
	if err := s.requireVintageTx(tx, req.VintageID); err != nil {
		return nil, nil, err
	}

	balance, err := s.engine.BalanceTx(tx, req.VintageID, req.From)
	if err != nil {
		return nil, nil, err
	}
	if balance.Available() < req.Quantity {
		return nil, nil, domain.InventoryConflict("insufficient available stock at %s: have %.1f, want %.1f",
			req.From, balance.Available(), req.Quantity)
	}

	_, err = s.engine.Append(tx, domain.LedgerEntry{
		VintageID:       req.VintageID,
		TransactionType: domain.TransactionMoveOut,
		Location:        req.From,
		Quantity:        -req.Quantity,
		Notes:           req.Notes,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		return nil, nil, err
	}
	_, err = s.engine.Append(tx, domain.LedgerEntry{
		VintageID:       req.VintageID,
		TransactionType: domain.TransactionMoveIn,
		Location:        req.To,
		Quantity:        req.Quantity,
		Notes:           req.Notes,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		return nil, nil, err
	}

	fromStock, err = s.stock.ApplyDeltaTx(tx, req.VintageID, req.From, -req.Quantity, 0, 0, req.Sync)
	if err != nil {
		return nil, nil, err
	}
	// Destination inherits the source row's cost
	toStock, err = s.stock.ApplyDeltaTx(tx, req.VintageID, req.To, req.Quantity, 0, fromStock.CostPerBottle, req.Sync)
	if err != nil {
		return nil, nil, err
	}
	return fromStock, toStock, nil
}

// Move transfers bottles between locations atomically
func (s *Service) Move(req MoveRequest) (err error) {
	start := time.Now()
	defer func() { s.record("move", start, err) }()

	var fromStock, toStock *domain.Stock
	req.Sync = fillSync(req.Sync, req.CreatedBy)
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		fromStock, toStock, err = s.MoveTx(tx, req)
		return err
	})
	if err != nil {
		return err
	}

	s.emit(&events.InventoryActionData{
		Action:     ActionMove,
		VintageID:  req.VintageID,
		Location:   req.From,
		ToLocation: req.To,
		Quantity:   req.Quantity,
		CreatedBy:  req.CreatedBy,
	})
	s.emitStock(*fromStock)
	s.emitStock(*toStock)
	return nil
}

// ReserveTx applies a hold inside the caller's transaction. Rejected with
// a conflict when the hold would exceed the location's available balance.
func (s *Service) ReserveTx(tx *sql.Tx, req MutationRequest) (*domain.Stock, error) {
	if req.Quantity <= 0 {
		return nil, domain.InvalidArgument("reserve quantity must be positive")
	}
	if err := s.requireVintageTx(tx, req.VintageID); err != nil {
		return nil, err
	}

	balance, err := s.engine.BalanceTx(tx, req.VintageID, req.Location)
	if err != nil {
		return nil, err
	}
	if balance.Available() < req.Quantity {
		return nil, domain.InventoryConflict("insufficient available stock to reserve: have %.1f, want %.1f",
			balance.Available(), req.Quantity)
	}

	_, err = s.engine.Append(tx, domain.LedgerEntry{
		VintageID:       req.VintageID,
		TransactionType: domain.TransactionReserve,
		Location:        req.Location,
		Quantity:        -req.Quantity,
		Notes:           req.Notes,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	return s.stock.ApplyDeltaTx(tx, req.VintageID, req.Location, 0, req.Quantity, 0, req.Sync)
}

// Reserve holds bottles for later service
func (s *Service) Reserve(req MutationRequest) (stock *domain.Stock, err error) {
	start := time.Now()
	defer func() { s.record("reserve", start, err) }()

	req.Sync = fillSync(req.Sync, req.CreatedBy)
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stock, err = s.ReserveTx(tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.PublishAction(events.InventoryActionData{
		Action:    ActionReserve,
		VintageID: req.VintageID,
		Location:  req.Location,
		Quantity:  req.Quantity,
		CreatedBy: req.CreatedBy,
	}, *stock)
	return stock, nil
}

// UnreserveTx releases part of a hold inside the caller's transaction.
// Rejected with a conflict when more than the reserved amount would be
// released.
func (s *Service) UnreserveTx(tx *sql.Tx, req MutationRequest) (*domain.Stock, error) {
	if req.Quantity <= 0 {
		return nil, domain.InvalidArgument("unreserve quantity must be positive")
	}
	if err := s.requireVintageTx(tx, req.VintageID); err != nil {
		return nil, err
	}

	balance, err := s.engine.BalanceTx(tx, req.VintageID, req.Location)
	if err != nil {
		return nil, err
	}
	if balance.ReservedQuantity < req.Quantity {
		return nil, domain.InventoryConflict("cannot release %.1f, only %.1f reserved",
			req.Quantity, balance.ReservedQuantity)
	}

	_, err = s.engine.Append(tx, domain.LedgerEntry{
		VintageID:       req.VintageID,
		TransactionType: domain.TransactionUnreserve,
		Location:        req.Location,
		Quantity:        req.Quantity,
		Notes:           req.Notes,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	return s.stock.ApplyDeltaTx(tx, req.VintageID, req.Location, 0, -req.Quantity, 0, req.Sync)
}

// Unreserve releases part of a hold
func (s *Service) Unreserve(req MutationRequest) (stock *domain.Stock, err error) {
	start := time.Now()
	defer func() { s.record("unreserve", start, err) }()

	req.Sync = fillSync(req.Sync, req.CreatedBy)
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stock, err = s.UnreserveTx(tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.PublishAction(events.InventoryActionData{
		Action:    ActionUnreserve,
		VintageID: req.VintageID,
		Location:  req.Location,
		Quantity:  req.Quantity,
		CreatedBy: req.CreatedBy,
	}, *stock)
	return stock, nil
}

// PublishAction emits the action frame and the fresh stock snapshot for a
// committed mutation. The sync reconciler calls this after its own
// transaction commits.
func (s *Service) PublishAction(action events.InventoryActionData, stock domain.Stock) {
	s.emit(&action)
	s.emitStock(stock)
}

// PublishStock emits a stock snapshot on its own, for mutations that touch
// more than one row.
func (s *Service) PublishStock(stock domain.Stock) {
	s.emitStock(stock)
}

// GetStock lists the joined stock view with filters
func (s *Service) GetStock(filter StockFilter) ([]domain.StockView, error) {
	return s.stock.List(filter)
}

// AvailableInventory lists every position with bottles on hand, for the
// pairing orchestrator. Unpaginated: pick filtering must see the whole
// cellar.
func (s *Service) AvailableInventory() ([]domain.StockView, error) {
	return s.stock.ListAvailable()
}

// TopAvailable returns the highest-balance available positions, used for
// the pairing cache fingerprint.
func (s *Service) TopAvailable(limit int) ([]domain.StockView, error) {
	return s.stock.TopAvailable(limit)
}

// LedgerHistory lists journal entries, most recent first
func (s *Service) LedgerHistory(filter ledger.HistoryFilter) ([]domain.LedgerEntry, error) {
	return s.engine.History(filter)
}

// GetIntakeOrder returns an order with its items
func (s *Service) GetIntakeOrder(id int64) (*domain.IntakeOrder, error) {
	order, err := s.intake.GetOrder(id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.NotFound("intake order %d not found", id)
	}
	return order, nil
}

// ListSuppliers returns suppliers ordered by name
func (s *Service) ListSuppliers(activeOnly bool) ([]domain.Supplier, error) {
	return s.suppliers.List(activeOnly)
}

// RebuildStock repairs the materialized stock table from the journal
func (s *Service) RebuildStock() error {
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		return s.engine.RebuildStock(tx)
	})
}

// requireVintageTx maps an unknown vintage id to a not_found error
func (s *Service) requireVintageTx(tx *sql.Tx, vintageID int64) error {
	vintage, err := s.vintages.GetTx(tx, vintageID)
	if err != nil {
		return err
	}
	if vintage == nil {
		return domain.NotFound("vintage %d not found", vintageID)
	}
	return nil
}

func (s *Service) emit(data events.EventData) {
	if s.emitter != nil {
		s.emitter.Emit(moduleName, data)
	}
}

func (s *Service) emitStock(stock domain.Stock) {
	s.emit(&events.StockChangedData{
		VintageID:        stock.VintageID,
		Location:         stock.Location,
		Quantity:         stock.Quantity,
		ReservedQuantity: stock.ReservedQuantity,
		Available:        stock.Available(),
	})
}
