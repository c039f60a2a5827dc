package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all vintage routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/vintage", func(r chi.Router) {
		r.Get("/analysis/{wine_id}", h.HandleAnalysis)
		r.Post("/enrich", h.HandleEnrich)
	})
}
