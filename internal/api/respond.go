// Package api provides the JSON envelope shared by every HTTP handler.
// All responses are {success, data?, error?, code?, timestamp} so clients
// can branch on success and code without inspecting status lines.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// Response is the wire envelope
type Response struct {
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp string      `json:"timestamp"`
	Success   bool        `json:"success"`
}

// WriteJSON writes a success envelope with the given status
func WriteJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	write(w, log, status, Response{
		Success: true,
		Data:    data,
	})
}

// WriteError classifies err and writes the failure envelope. The status
// comes from the error kind, so handlers never pick status codes by hand.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	kind := domain.KindOf(err)
	status := kind.HTTPStatus()

	if status >= 500 {
		log.Error().Err(err).Str("code", string(kind)).Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("code", string(kind)).Msg("Request rejected")
	}

	write(w, log, status, Response{
		Success: false,
		Error:   err.Error(),
		Code:    string(kind),
	})
}

func write(w http.ResponseWriter, log zerolog.Logger, status int, resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// Decode parses a JSON request body, rejecting unknown fields and trailing
// garbage so malformed client payloads fail loudly.
func Decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.InvalidArgument("invalid request body: %v", err)
	}
	if dec.More() {
		return domain.InvalidArgument("invalid request body: unexpected trailing data")
	}
	return nil
}

// QueryInt parses an optional integer query parameter
func QueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.InvalidArgument("query parameter %q must be an integer", name)
	}
	return v, nil
}

// QueryBool parses an optional boolean query parameter ("true"/"1")
func QueryBool(r *http.Request, name string) bool {
	raw := r.URL.Query().Get(name)
	return raw == "true" || raw == "1"
}
