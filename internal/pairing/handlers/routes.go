package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all pairing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/pairing", func(r chi.Router) {
		r.Post("/recommend", h.HandleRecommend)
		r.Post("/feedback", h.HandleFeedback)
		r.Get("/metrics", h.HandleMetrics)
	})
}
