package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all inventory routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/stock", h.HandleGetStock)
		r.Post("/stock/rebuild", h.HandleRebuildStock)

		r.Post("/intake", h.HandleIntake)
		r.Post("/intake/{id}/receive", h.HandleReceive)
		r.Get("/intake/{id}/status", h.HandleIntakeStatus)

		r.Post("/consume", h.HandleConsume)
		r.Post("/move", h.HandleMove)
		r.Post("/reserve", h.HandleReserve)
		r.Post("/unreserve", h.HandleUnreserve)

		r.Get("/ledger", h.HandleGetLedger)
		r.Get("/suppliers", h.HandleGetSuppliers)
	})
}
