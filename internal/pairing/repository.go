package pairing

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// RetentionDays is how long produced recommendations are kept
const RetentionDays = 90

// Repository persists produced recommendations and their feedback
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a pairing repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "pairing").Logger(),
	}
}

// Save stores one produced recommendation
func (r *Repository) Save(rec *domain.PairingRecommendation) error {
	selections, err := json.Marshal(rec.WineSelections)
	if err != nil {
		return fmt.Errorf("failed to encode selections: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO pairing_recommendations (id, fingerprint, dish, context_json, provider, selections, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Fingerprint, rec.Dish, rec.ContextJSON, string(rec.Provider), string(selections),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return domain.StorageError("failed to save recommendation", err)
	}
	return nil
}

// Get loads one recommendation by id
func (r *Repository) Get(id string) (*domain.PairingRecommendation, error) {
	row := r.db.QueryRow(`
		SELECT id, fingerprint, dish, context_json, provider, selections, created_at
		FROM pairing_recommendations WHERE id = ?`, id)

	var rec domain.PairingRecommendation
	var provider, selections, createdAt string
	err := row.Scan(&rec.ID, &rec.Fingerprint, &rec.Dish, &rec.ContextJSON, &provider, &selections, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("failed to load recommendation", err)
	}

	rec.Provider = domain.Provider(provider)
	if err := json.Unmarshal([]byte(selections), &rec.WineSelections); err != nil {
		return nil, fmt.Errorf("failed to decode selections for %s: %w", rec.ID, err)
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = ts
	}
	return &rec, nil
}

// SaveFeedback stores a user rating against a known recommendation
func (r *Repository) SaveFeedback(fb *domain.PairingFeedback) (int64, error) {
	rec, err := r.Get(fb.RecommendationID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, domain.NotFound("recommendation %q not found", fb.RecommendationID)
	}

	ratings, err := json.Marshal(fb.Ratings)
	if err != nil {
		return 0, fmt.Errorf("failed to encode ratings: %w", err)
	}

	result, err := r.db.Exec(`
		INSERT INTO pairing_feedback (recommendation_id, ratings, selected, time_to_select_ms, notes)
		VALUES (?, ?, ?, ?, ?)`,
		fb.RecommendationID, string(ratings), boolToInt(fb.Selected), fb.TimeToSelectMs, fb.Notes,
	)
	if err != nil {
		return 0, domain.StorageError("failed to save feedback", err)
	}
	return result.LastInsertId()
}

// DeleteOlderThan removes recommendations (and their feedback) past the
// retention horizon. Returns the number of recommendations removed.
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	boundary := cutoff.UTC().Format(time.RFC3339)

	if _, err := r.db.Exec(`
		DELETE FROM pairing_feedback WHERE recommendation_id IN
		(SELECT id FROM pairing_recommendations WHERE created_at < ?)`, boundary); err != nil {
		return 0, domain.StorageError("failed to purge feedback", err)
	}

	result, err := r.db.Exec(`DELETE FROM pairing_recommendations WHERE created_at < ?`, boundary)
	if err != nil {
		return 0, domain.StorageError("failed to purge recommendations", err)
	}
	return result.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
