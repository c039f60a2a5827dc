package experiments

import (
	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// Service is the allocation and outcome-recording API
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates an experiments service
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log.With().Str("component", "experiments").Logger()}
}

// Allocate assigns a subject to a variant and records an exposure when
// the subject is enrolled. Assignments are stable across restarts.
func (s *Service) Allocate(experiment, subject string) (Assignment, error) {
	exp, err := s.repo.Get(experiment)
	if err != nil {
		return Assignment{}, err
	}
	if exp == nil {
		return Assignment{}, domain.NotFound("experiment %q not found", experiment)
	}

	assignment, err := allocate(*exp, subject)
	if err != nil {
		return Assignment{}, err
	}

	if assignment.Enrolled {
		if err := s.repo.RecordEvent(&OutcomeEvent{
			Experiment: experiment,
			Variant:    assignment.Variant,
			Subject:    subject,
			Kind:       KindExposure,
		}); err != nil {
			// Allocation still stands; the exposure log is best-effort.
			s.log.Warn().Err(err).Str("experiment", experiment).Msg("Exposure recording failed")
		}
	}
	return assignment, nil
}

// RecordConversion records a conversion for an enrolled subject. The
// variant is re-derived so callers cannot misattribute outcomes.
func (s *Service) RecordConversion(experiment, subject string, value float64) error {
	exp, err := s.repo.Get(experiment)
	if err != nil {
		return err
	}
	if exp == nil {
		return domain.NotFound("experiment %q not found", experiment)
	}

	assignment, err := allocate(*exp, subject)
	if err != nil {
		return err
	}
	if !assignment.Enrolled {
		return nil
	}

	return s.repo.RecordEvent(&OutcomeEvent{
		Experiment: experiment,
		Variant:    assignment.Variant,
		Subject:    subject,
		Kind:       KindConversion,
		Value:      value,
	})
}

// Summary reports per-variant outcome aggregates
func (s *Service) Summary(experiment string) ([]VariantStats, error) {
	exp, err := s.repo.Get(experiment)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, domain.NotFound("experiment %q not found", experiment)
	}
	return s.repo.VariantStats(experiment)
}

// Define creates or updates an experiment
func (s *Service) Define(exp *Experiment) error {
	if _, err := allocate(*exp, "probe"); err != nil {
		// Validates name, variants and weights before persisting.
		return err
	}
	return s.repo.Upsert(exp)
}

// List returns every experiment definition
func (s *Service) List() ([]Experiment, error) {
	return s.repo.List()
}
