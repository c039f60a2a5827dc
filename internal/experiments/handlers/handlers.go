// Package handlers provides HTTP handlers for experiment allocation.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/experiments"
)

// RoleAdmin is required to define experiments
const RoleAdmin = "admin"

// Handler handles experiment HTTP requests
type Handler struct {
	service *experiments.Service
	log     zerolog.Logger
}

// NewHandler creates a new experiments handler
func NewHandler(service *experiments.Service, log zerolog.Logger) *Handler {
	return &Handler{service: service, log: log.With().Str("handler", "experiments").Logger()}
}

// RegisterRoutes registers all experiment routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/experiments", func(r chi.Router) {
		r.Get("/allocate", h.HandleAllocate)
		r.Get("/summary", h.HandleSummary)
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleDefine)
	})
}

// HandleAllocate assigns the subject to a variant
func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	experiment := r.URL.Query().Get("experiment")
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		subject = api.UserID(r)
	}
	if experiment == "" {
		api.WriteError(w, h.log, domain.InvalidArgument("query parameter \"experiment\" is required"))
		return
	}

	assignment, err := h.service.Allocate(experiment, subject)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, assignment)
}

// HandleSummary reports per-variant outcome aggregates
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	experiment := r.URL.Query().Get("experiment")
	if experiment == "" {
		api.WriteError(w, h.log, domain.InvalidArgument("query parameter \"experiment\" is required"))
		return
	}

	stats, err := h.service.Summary(experiment)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"experiment": experiment,
		"variants":   stats,
	})
}

// HandleList returns every experiment definition
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List()
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"experiments": list})
}

// HandleDefine creates or updates an experiment. Admin only.
func (h *Handler) HandleDefine(w http.ResponseWriter, r *http.Request) {
	if err := api.RequireRole(r, RoleAdmin); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	var exp experiments.Experiment
	if err := api.Decode(r, &exp); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	if err := h.service.Define(&exp); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	api.WriteJSON(w, h.log, http.StatusCreated, exp)
}
