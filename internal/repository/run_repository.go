package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/pkg/database"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// RunRepository provides append-only access to calculation audit records
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.CalculationRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.CalculationRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*models.CalculationRun, int, error)
}

// runRepository implements RunRepository
type runRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) RunRepository {
	return &runRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CreateRun appends a calculation run. Runs are never updated or deleted.
func (r *runRepository) CreateRun(ctx context.Context, run *models.CalculationRun) error {
	query := `
		INSERT INTO calculation_runs (
			id, run_ts, inputs, environment, factors, dataset_versions,
			formula_version, dose_gy, dose_per_100mu_gy, boundary_clamped, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, "insert_run", query,
		run.ID,
		run.RunTS,
		run.Inputs,
		run.Environment,
		run.Factors,
		run.DatasetVersions,
		run.FormulaVersion,
		run.DoseGy,
		run.DosePer100MUGy,
		run.BoundaryClamped,
		run.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to record calculation run: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_RUN] Calculation run recorded", logging.Fields{
		"run_id":  run.ID.String(),
		"dose_gy": run.DoseGy,
	})

	return nil
}

// GetRun retrieves a calculation run by id
func (r *runRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.CalculationRun, error) {
	query := `
		SELECT id, run_ts, inputs, environment, factors, dataset_versions,
		       formula_version, dose_gy, dose_per_100mu_gy, boundary_clamped, created_at
		FROM calculation_runs
		WHERE id = $1
	`

	var run models.CalculationRun
	err := r.db.GetContext(ctx, "get_run", &run, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "calculation_run", ID: id.String()}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get calculation run: %w", err)
	}

	return &run, nil
}

// ListRuns retrieves calculation runs newest first with pagination
func (r *runRepository) ListRuns(ctx context.Context, limit, offset int) ([]*models.CalculationRun, int, error) {
	var totalCount int
	err := r.db.GetContext(ctx, "count_runs", &totalCount,
		`SELECT COUNT(*) FROM calculation_runs`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count calculation runs: %w", err)
	}

	query := `
		SELECT id, run_ts, inputs, environment, factors, dataset_versions,
		       formula_version, dose_gy, dose_per_100mu_gy, boundary_clamped, created_at
		FROM calculation_runs
		ORDER BY run_ts DESC
		LIMIT $1 OFFSET $2
	`

	var runs []*models.CalculationRun
	err = r.db.SelectContext(ctx, "list_runs", &runs, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list calculation runs: %w", err)
	}

	return runs, totalCount, nil
}
