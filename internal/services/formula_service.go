package services

import (
	"context"
	"time"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/internal/repository"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// FormulaService handles formula creation, versioning, and activation
type FormulaService struct {
	repo    repository.ReferenceRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewFormulaService creates a new formula service
func NewFormulaService(repo repository.ReferenceRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *FormulaService {
	return &FormulaService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Create validates an expression against the engine's variable scope and
// stores it as the next inactive formula version. Invalid formulas are
// rejected; nothing is persisted.
func (s *FormulaService) Create(ctx context.Context, expression string, variables []string, notes, createdBy string) (*models.FormulaVersion, error) {
	if _, err := ValidateFormula(expression, variables); err != nil {
		s.logger.Warn(ctx, "[FORMULA_REJECTED] Formula failed validation", logging.Fields{
			"expression": expression,
			"error":      err.Error(),
		})
		return nil, err
	}

	formula := &models.FormulaVersion{
		Expression: expression,
		Variables:  models.StringList(variables),
		Notes:      notes,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.CreateFormulaVersion(ctx, formula); err != nil {
		return nil, err
	}

	return formula, nil
}

// Activate makes the target version the single active formula
func (s *FormulaService) Activate(ctx context.Context, id int64) (*models.FormulaVersion, error) {
	return s.repo.ActivateFormulaVersion(ctx, id)
}

// GetActive returns the active formula version
func (s *FormulaService) GetActive(ctx context.Context) (*models.FormulaVersion, error) {
	return s.repo.GetActiveFormula(ctx)
}

// List returns formula versions newest first
func (s *FormulaService) List(ctx context.Context, limit, offset int) ([]*models.FormulaVersion, int, error) {
	return s.repo.ListFormulaVersions(ctx, limit, offset)
}
