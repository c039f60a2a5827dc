// Package handlers provides HTTP handlers for pairing operations.
package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/metrics"
	"github.com/sommos/sommos/internal/pairing"
)

// ConversionRecorder records experiment conversions derived from
// pairing feedback. May be nil when no experiments are running.
type ConversionRecorder interface {
	RecordConversion(experiment, subject string, value float64) error
}

// Handler handles pairing HTTP requests
type Handler struct {
	orchestrator *pairing.Orchestrator
	repo         *pairing.Repository
	tracker      *metrics.Tracker
	conversions  ConversionRecorder
	log          zerolog.Logger
}

// NewHandler creates a new pairing handler
func NewHandler(orchestrator *pairing.Orchestrator, repo *pairing.Repository, tracker *metrics.Tracker, conversions ConversionRecorder, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		repo:         repo,
		tracker:      tracker,
		conversions:  conversions,
		log:          log.With().Str("handler", "pairing").Logger(),
	}
}

// HandleRecommend produces a pairing recommendation for a dish
func (h *Handler) HandleRecommend(w http.ResponseWriter, r *http.Request) {
	var req pairing.Request
	if err := api.Decode(r, &req); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	result, err := h.orchestrator.Recommend(r.Context(), req)
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	api.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"recommendation": result.Recommendation,
		"cache_hit":      result.CacheHit,
	})
}

type feedbackPayload struct {
	RecommendationID string                 `json:"recommendation_id"`
	Ratings          domain.FeedbackRatings `json:"ratings"`
	Notes            string                 `json:"notes,omitempty"`
	TimeToSelectMs   int64                  `json:"time_to_select_ms,omitempty"`
	Selected         bool                   `json:"selected"`
	Experiment       string                 `json:"experiment,omitempty"`
	Subject          string                 `json:"subject,omitempty"`
}

// HandleFeedback records a user rating of a recommendation
func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var payload feedbackPayload
	if err := api.Decode(r, &payload); err != nil {
		api.WriteError(w, h.log, err)
		return
	}
	if payload.RecommendationID == "" {
		api.WriteError(w, h.log, domain.InvalidArgument("recommendation_id is required"))
		return
	}
	if err := validateRatings(payload.Ratings); err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	id, err := h.repo.SaveFeedback(&domain.PairingFeedback{
		RecommendationID: payload.RecommendationID,
		Ratings:          payload.Ratings,
		Selected:         payload.Selected,
		TimeToSelectMs:   payload.TimeToSelectMs,
		Notes:            payload.Notes,
	})
	if err != nil {
		api.WriteError(w, h.log, err)
		return
	}

	// Feedback doubles as the conversion signal for any pairing
	// experiment the client was enrolled in. Best effort: a recording
	// failure never fails the feedback write.
	if h.conversions != nil && payload.Experiment != "" && payload.Subject != "" {
		value := payload.Ratings.Overall
		if value == 0 && payload.Selected {
			value = 1
		}
		if err := h.conversions.RecordConversion(payload.Experiment, payload.Subject, value); err != nil {
			h.log.Warn().Err(err).
				Str("experiment", payload.Experiment).
				Msg("Failed to record experiment conversion")
		}
	}

	api.WriteJSON(w, h.log, http.StatusCreated, map[string]interface{}{"id": id})
}

// HandleMetrics returns the pairing metrics summary
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, h.log, http.StatusOK, h.tracker.Summary())
}

// validateRatings checks every supplied rating is in [1,5]; zero means absent
func validateRatings(r domain.FeedbackRatings) error {
	for name, v := range map[string]float64{
		"overall":            r.Overall,
		"flavor_harmony":     r.FlavorHarmony,
		"texture_balance":    r.TextureBalance,
		"acidity_match":      r.AcidityMatch,
		"tannin_balance":     r.TanninBalance,
		"body_match":         r.BodyMatch,
		"regional_tradition": r.RegionalTradition,
	} {
		if v != 0 && (v < 1 || v > 5) {
			return domain.InvalidArgument("rating %s must be between 1 and 5", name)
		}
	}
	return nil
}
