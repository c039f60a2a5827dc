package experiments

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// Outcome event kinds
const (
	KindExposure   = "exposure"
	KindConversion = "conversion"
)

// OutcomeEvent is one recorded exposure or conversion
type OutcomeEvent struct {
	ID         string  `json:"id"`
	Experiment string  `json:"experiment"`
	Variant    string  `json:"variant"`
	Subject    string  `json:"subject"`
	Kind       string  `json:"kind"`
	Value      float64 `json:"value,omitempty"`
	CreatedAt  int64   `json:"created_at"`
}

// VariantStats aggregates outcomes for one arm
type VariantStats struct {
	Variant        string  `json:"variant"`
	Exposures      int     `json:"exposures"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Repository persists experiment definitions and outcome events
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an experiments repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "experiments").Logger()}
}

// Upsert stores an experiment definition
func (r *Repository) Upsert(exp *Experiment) error {
	if exp.Name == "" {
		return domain.InvalidArgument("experiment name is empty")
	}
	if exp.Traffic < 0 || exp.Traffic > 1 {
		return domain.InvalidArgument("traffic must be in [0,1], got %g", exp.Traffic)
	}
	variants, err := json.Marshal(exp.Variants)
	if err != nil {
		return domain.StorageError("failed to encode variants", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO experiments (name, variants, traffic, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			variants = excluded.variants,
			traffic = excluded.traffic,
			active = excluded.active`,
		exp.Name, string(variants), exp.Traffic, boolToInt(exp.Active))
	if err != nil {
		return domain.StorageError("failed to upsert experiment", err)
	}
	return nil
}

// Get loads one experiment, nil when absent
func (r *Repository) Get(name string) (*Experiment, error) {
	row := r.db.QueryRow(`SELECT name, variants, traffic, active FROM experiments WHERE name = ?`, name)

	var exp Experiment
	var variants string
	var active int
	err := row.Scan(&exp.Name, &variants, &exp.Traffic, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("failed to load experiment", err)
	}
	if err := json.Unmarshal([]byte(variants), &exp.Variants); err != nil {
		return nil, domain.StorageError("corrupt variants for experiment "+name, err)
	}
	exp.Active = active != 0
	return &exp, nil
}

// List returns every experiment definition
func (r *Repository) List() ([]Experiment, error) {
	rows, err := r.db.Query(`SELECT name, variants, traffic, active FROM experiments ORDER BY name`)
	if err != nil {
		return nil, domain.StorageError("failed to list experiments", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		var exp Experiment
		var variants string
		var active int
		if err := rows.Scan(&exp.Name, &variants, &exp.Traffic, &active); err != nil {
			return nil, domain.StorageError("failed to scan experiment", err)
		}
		if err := json.Unmarshal([]byte(variants), &exp.Variants); err != nil {
			return nil, domain.StorageError("corrupt variants for experiment "+exp.Name, err)
		}
		exp.Active = active != 0
		out = append(out, exp)
	}
	return out, rows.Err()
}

// RecordEvent stores one outcome event
func (r *Repository) RecordEvent(ev *OutcomeEvent) error {
	if ev.Experiment == "" || ev.Variant == "" || ev.Subject == "" {
		return domain.InvalidArgument("experiment, variant and subject are required")
	}
	if ev.Kind != KindExposure && ev.Kind != KindConversion {
		return domain.InvalidArgument("unknown event kind %q", ev.Kind)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().Unix()
	}

	_, err := r.db.Exec(`
		INSERT INTO experiment_events (id, experiment, variant, subject, kind, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Experiment, ev.Variant, ev.Subject, ev.Kind, ev.Value, ev.CreatedAt)
	if err != nil {
		return domain.StorageError("failed to record experiment event", err)
	}
	return nil
}

// VariantStats aggregates outcome events per variant
func (r *Repository) VariantStats(experiment string) ([]VariantStats, error) {
	rows, err := r.db.Query(`
		SELECT variant,
		       SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END)
		FROM experiment_events
		WHERE experiment = ?
		GROUP BY variant
		ORDER BY variant`, KindExposure, KindConversion, experiment)
	if err != nil {
		return nil, domain.StorageError("failed to aggregate experiment events", err)
	}
	defer rows.Close()

	var out []VariantStats
	for rows.Next() {
		var s VariantStats
		if err := rows.Scan(&s.Variant, &s.Exposures, &s.Conversions); err != nil {
			return nil, domain.StorageError("failed to scan variant stats", err)
		}
		if s.Exposures > 0 {
			s.ConversionRate = float64(s.Conversions) / float64(s.Exposures)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
