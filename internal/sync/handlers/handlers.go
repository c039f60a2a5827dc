// Package handlers provides HTTP handlers for sync reconciliation.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/sync"
)

// Reasonable ceiling so one request cannot monopolize the writer
const maxBatchSize = 500

// Handler handles sync HTTP requests
type Handler struct {
	reconciler *sync.Reconciler
	log        zerolog.Logger
}

// NewHandler creates a new sync handler
func NewHandler(reconciler *sync.Reconciler, log zerolog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		log:        log.With().Str("handler", "sync").Logger(),
	}
}

// RegisterRoutes registers all sync routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sync", func(r chi.Router) {
		r.Post("/apply", h.HandleApply)
		r.Get("/changes", h.HandleChanges)
	})
}

type applyPayload struct {
	Operations []sync.Operation `json:"operations"`
}

// HandleApply reconciles a batch of client mutations and returns per-op
// outcomes. The response is 200 even when individual ops are rejected; the
// outcome list is the contract.
func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	var payload applyPayload
	if err := api.Decode(r, &payload); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	if len(payload.Operations) == 0 {
		api.WriteError(w, h.log, domain.InvalidArgument("batch requires at least one operation"))
		return
	}
	if len(payload.Operations) > maxBatchSize {
		api.WriteError(w, h.log, domain.InvalidArgument("batch exceeds %d operations", maxBatchSize))
		return
	}

	result := h.reconciler.ApplyBatch(payload.Operations)
	api.WriteJSON(w, h.log, http.StatusOK, result)
}

// HandleChanges returns rows touched since the given unix-seconds clock
func (h *Handler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			api.WriteError(w, h.log, domain.InvalidArgument("query parameter \"since\" must be unix seconds"))
			return
		}
		since = parsed
	}

	changes, err := h.reconciler.ChangesSince(since)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, changes)
}
