package aiprovider

import (
	"encoding/json"
	"strings"

	"github.com/sommos/sommos/internal/domain"
)

// Selection is one wine pick in a provider's pairing reply
type Selection struct {
	VintageID  int64   `json:"vintage_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

type selectionEnvelope struct {
	Selections []Selection `json:"selections"`
}

// ParseSelections extracts the selection list from a model reply. The
// reply must be a JSON object {"selections": [{vintage_id, confidence,
// reasoning}]}; markdown code fences are tolerated, anything else is a
// provider_error.
func ParseSelections(raw string) ([]Selection, error) {
	cleaned := stripFences(raw)

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()

	var envelope selectionEnvelope
	if err := dec.Decode(&envelope); err != nil {
		return nil, domain.Errorf(domain.KindProviderError, "reply is not a selection object: %v", err)
	}
	if dec.More() {
		return nil, domain.Errorf(domain.KindProviderError, "reply has trailing content after the selection object")
	}
	if len(envelope.Selections) == 0 {
		return nil, domain.Errorf(domain.KindProviderError, "reply contains no selections")
	}

	for i, sel := range envelope.Selections {
		if sel.VintageID <= 0 {
			return nil, domain.Errorf(domain.KindProviderError, "selection %d has invalid vintage_id %d", i, sel.VintageID)
		}
		if sel.Confidence < 0 || sel.Confidence > 1 {
			return nil, domain.Errorf(domain.KindProviderError, "selection %d confidence %.2f outside [0,1]", i, sel.Confidence)
		}
	}

	return envelope.Selections, nil
}

// stripFences removes a surrounding markdown code fence if present
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
