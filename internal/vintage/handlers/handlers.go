// Package handlers provides HTTP handlers for vintage weather analysis.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/inventory"
	"github.com/sommos/sommos/internal/vintage"
)

// RoleAdmin is required for explicit enrichment requests
const RoleAdmin = "admin"

// Handler handles vintage HTTP requests
type Handler struct {
	enricher *vintage.Enricher
	vintages *inventory.VintageRepository
	wines    *inventory.WineRepository
	log      zerolog.Logger
}

// NewHandler creates a new vintage handler
func NewHandler(enricher *vintage.Enricher, vintages *inventory.VintageRepository, wines *inventory.WineRepository, log zerolog.Logger) *Handler {
	return &Handler{
		enricher: enricher,
		vintages: vintages,
		wines:    wines,
		log:      log.With().Str("handler", "vintage").Logger(),
	}
}

// vintageAnalysis is one vintage with its weather derivation unpacked
type vintageAnalysis struct {
	Vintage domain.Vintage          `json:"vintage"`
	Weather *domain.WeatherVintage  `json:"weather,omitempty"`
	Notes   *domain.ProductionNotes `json:"notes,omitempty"`
}

// HandleAnalysis returns the weather analysis for every vintage of a wine
func (h *Handler) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	wineID, err := strconv.ParseInt(chi.URLParam(r, "wine_id"), 10, 64)
	if err != nil || wineID <= 0 {
		api.WriteError(w, h.log, domain.InvalidArgument("path parameter \"wine_id\" must be a positive integer"))
		return
	}

	wine, err := h.wines.GetByID(wineID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	if wine == nil {
		api.WriteError(w, h.log, domain.NotFound("wine %d not found", wineID))
		return
	}

	vintages, err := h.vintages.ListByWine(wineID)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	region := vintage.NormalizeRegion(wine.Region)
	analyses := make([]vintageAnalysis, 0, len(vintages))
	for _, v := range vintages {
		entry := vintageAnalysis{Vintage: v}
		if wv, err := h.enricher.Repo().Get(region, v.Year); err != nil {
			h.log.Warn().Err(err).Int("year", v.Year).Msg("Weather lookup failed")
		} else {
			entry.Weather = wv
		}
		if v.ProductionNotes != "" {
			var notes domain.ProductionNotes
			if err := json.Unmarshal([]byte(v.ProductionNotes), &notes); err == nil {
				entry.Notes = &notes
			}
		}
		analyses = append(analyses, entry)
	}

	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"wine":     wine,
		"analyses": analyses,
	})
}

type enrichPayload struct {
	VintageIDs []int64 `json:"vintage_ids,omitempty"`
	AllPending bool    `json:"all_pending,omitempty"`
	Limit      int     `json:"limit,omitempty"`
}

// HandleEnrich triggers enrichment for explicit vintages or the pending
// backlog. Admin only.
func (h *Handler) HandleEnrich(w http.ResponseWriter, r *http.Request) {
	if err := api.RequireRole(r, RoleAdmin); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	var payload enrichPayload
	if err := api.Decode(r, &payload); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	ids := payload.VintageIDs
	if payload.AllPending {
		pending, err := h.enricher.PendingVintages(payload.Limit)
		if err != nil {
			api.WriteError(w, h.log, err)
			return
		}
		ids = append(ids, pending...)
	}
	if len(ids) == 0 {
		api.WriteError(w, h.log, domain.InvalidArgument("vintage_ids or all_pending is required"))
		return
	}

	failures := h.enricher.EnrichBatch(r.Context(), ids)
	failed := make(map[string]string, len(failures))
	for id, err := range failures {
		failed[strconv.FormatInt(id, 10)] = err.Error()
	}

	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"attempted": len(ids),
		"enriched":  len(ids) - len(failures),
		"failed":    failed,
	})
}
