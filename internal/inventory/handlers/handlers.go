// Package handlers provides HTTP handlers for inventory operations.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/inventory"
	"github.com/sommos/sommos/internal/ledger"
)

// Handler handles inventory HTTP requests
type Handler struct {
	service *inventory.Service
	log     zerolog.Logger
}

// NewHandler creates a new inventory handler
func NewHandler(service *inventory.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "inventory").Logger(),
	}
}

// HandleGetStock returns the filtered joined stock view
func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	limit, err := api.QueryInt(r, "limit", 0)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	offset, err := api.QueryInt(r, "offset", 0)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	q := r.URL.Query()
	filter := inventory.StockFilter{
		WineType:      domain.WineType(q.Get("wine_type")),
		Region:        q.Get("region"),
		Location:      q.Get("location"),
		Search:        q.Get("search"),
		Limit:         limit,
		Offset:        offset,
		AvailableOnly: api.QueryBool(r, "available_only"),
	}

	stock, err := h.service.GetStock(filter)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"items": stock,
		"count": len(stock),
	})
}

type intakeItemPayload struct {
	Wine             domain.Wine `json:"wine"`
	Year             int         `json:"year"`
	ExpectedQuantity float64     `json:"expected_quantity"`
	UnitCost         float64     `json:"unit_cost"`
	Location         string      `json:"location"`
}

type intakePayload struct {
	Supplier         string              `json:"supplier"`
	OrderDate        string              `json:"order_date,omitempty"`
	ExpectedDelivery string              `json:"expected_delivery,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	Items            []intakeItemPayload `json:"items"`
}

// HandleIntake creates an intake order, upserting wine and vintage identities
func (h *Handler) HandleIntake(w http.ResponseWriter, r *http.Request) {
	var payload intakePayload
	if err := api.Decode(r, &payload); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	req := inventory.IntakeRequest{
		Supplier:  payload.Supplier,
		Notes:     payload.Notes,
		CreatedBy: api.UserID(r),
	}
	if payload.OrderDate != "" {
		t, err := time.Parse(time.RFC3339, payload.OrderDate)
		if err != nil {
			api.WriteError(w, h.log, domain.InvalidArgument("order_date must be RFC3339"))
			return
		}
		req.OrderDate = t
	}
	if payload.ExpectedDelivery != "" {
		t, err := time.Parse(time.RFC3339, payload.ExpectedDelivery)
		if err != nil {
			api.WriteError(w, h.log, domain.InvalidArgument("expected_delivery must be RFC3339"))
			return
		}
		req.ExpectedDelivery = t
	}
	for _, item := range payload.Items {
		req.Items = append(req.Items, inventory.IntakeItemRequest{
			Wine:             item.Wine,
			Year:             item.Year,
			ExpectedQuantity: item.ExpectedQuantity,
			UnitCost:         item.UnitCost,
			Location:         item.Location,
		})
	}

	order, err := h.service.Intake(req)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusCreated, order)
}

type receivePayload struct {
	Receipts []inventory.Receipt `json:"receipts"`
	Notes    string              `json:"notes,omitempty"`
}

// HandleReceive records receipts against an intake order
func (h *Handler) HandleReceive(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	var payload receivePayload
	if err := api.Decode(r, &payload); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	order, err := h.service.ReceiveOrder(orderID, payload.Receipts, payload.Notes, api.UserID(r))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, order)
}

// HandleIntakeStatus returns an order with outstanding quantities per item
func (h *Handler) HandleIntakeStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	order, err := h.service.GetIntakeOrder(orderID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, order)
}

type mutationPayload struct {
	VintageID int64           `json:"vintage_id"`
	Location  string          `json:"location"`
	Quantity  float64         `json:"quantity"`
	Notes     string          `json:"notes,omitempty"`
	Sync      domain.SyncMeta `json:"sync,omitempty"`
}

func (p mutationPayload) toRequest(r *http.Request) inventory.MutationRequest {
	return inventory.MutationRequest{
		VintageID: p.VintageID,
		Location:  p.Location,
		Quantity:  p.Quantity,
		Notes:     p.Notes,
		CreatedBy: api.UserID(r),
		Sync:      p.Sync,
	}
}

// HandleConsume removes bottles from a location
func (h *Handler) HandleConsume(w http.ResponseWriter, r *http.Request) {
	var payload mutationPayload
	if err := api.Decode(r, &payload); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	stock, err := h.service.Consume(payload.toRequest(r))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, stock)
}

type movePayload struct {
	VintageID int64           `json:"vintage_id"`
	From      string          `json:"from_location"`
	To        string          `json:"to_location"`
	Quantity  float64         `json:"quantity"`
	Notes     string          `json:"notes,omitempty"`
	Sync      domain.SyncMeta `json:"sync,omitempty"`
}

// HandleMove transfers bottles between locations
func (h *Handler) HandleMove(w http.ResponseWriter, r *http.Request) {
	var payload movePayload
	if err := api.Decode(r, &payload); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	err := h.service.Move(inventory.MoveRequest{
		VintageID: payload.VintageID,
		From:      payload.From,
		To:        payload.To,
		Quantity:  payload.Quantity,
		Notes:     payload.Notes,
		CreatedBy: api.UserID(r),
		Sync:      payload.Sync,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"vintage_id":    payload.VintageID,
		"from_location": payload.From,
		"to_location":   payload.To,
		"quantity":      payload.Quantity,
	})
}

// HandleReserve places a hold on bottles
func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	var payload mutationPayload
	if err := api.Decode(r, &payload); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	stock, err := h.service.Reserve(payload.toRequest(r))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, stock)
}

// HandleUnreserve releases part of a hold
func (h *Handler) HandleUnreserve(w http.ResponseWriter, r *http.Request) {
	var payload mutationPayload
	if err := api.Decode(r, &payload); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	stock, err := h.service.Unreserve(payload.toRequest(r))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, stock)
}

// HandleGetLedger returns movement history, most recent first
func (h *Handler) HandleGetLedger(w http.ResponseWriter, r *http.Request) {
	limit, err := api.QueryInt(r, "limit", 0)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	vintageID, err := api.QueryInt(r, "vintage_id", 0)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	q := r.URL.Query()
	entries, err := h.service.LedgerHistory(ledger.HistoryFilter{
		Location:        q.Get("location"),
		TransactionType: domain.TransactionType(q.Get("type")),
		VintageID:       int64(vintageID),
		Limit:           limit,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// HandleRebuildStock repairs the materialized stock table from the ledger
func (h *Handler) HandleRebuildStock(w http.ResponseWriter, r *http.Request) {
	if err := api.RequireRole(r, "admin"); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	if err := h.service.RebuildStock(); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	h.log.Info().Str("user", api.UserID(r)).Msg("Stock rebuilt from ledger")
	api.WriteJSON(w, h.log, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// HandleGetSuppliers returns the supplier list
func (h *Handler) HandleGetSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.service.ListSuppliers(api.QueryBool(r, "active_only"))
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"suppliers": suppliers,
		"count":     len(suppliers),
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.InvalidArgument("path parameter %q must be a positive integer", name)
	}
	return id, nil
}
