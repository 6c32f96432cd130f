package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/pkg/database"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// ReferenceRepository provides data access for versioned datasets and formulas
type ReferenceRepository interface {
	// Dataset version operations
	CreateDatasetVersion(ctx context.Context, v *models.DatasetVersion) error
	ActivateDatasetVersion(ctx context.Context, id int64) (*models.DatasetVersion, error)
	GetActiveDataset(ctx context.Context, t models.DatasetType) (*models.DatasetVersion, error)
	GetDatasetVersion(ctx context.Context, id int64) (*models.DatasetVersion, error)
	ListDatasetVersions(ctx context.Context, filter DatasetVersionFilter) ([]*models.DatasetVersion, int, error)

	// Formula version operations
	CreateFormulaVersion(ctx context.Context, f *models.FormulaVersion) error
	ActivateFormulaVersion(ctx context.Context, id int64) (*models.FormulaVersion, error)
	GetActiveFormula(ctx context.Context) (*models.FormulaVersion, error)
	GetFormulaVersion(ctx context.Context, id int64) (*models.FormulaVersion, error)
	ListFormulaVersions(ctx context.Context, limit, offset int) ([]*models.FormulaVersion, int, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// DatasetVersionFilter defines filters for listing dataset versions
type DatasetVersionFilter struct {
	DatasetType *models.DatasetType
	ActiveOnly  bool
	Limit       int
	Offset      int
}

// referenceRepository implements ReferenceRepository
type referenceRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewReferenceRepository creates a new reference repository
func NewReferenceRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ReferenceRepository {
	return &referenceRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CreateDatasetVersion stores a validated dataset as the next version of its
// type. Version numbers are allocated inside the insert; new versions start
// inactive.
func (r *referenceRepository) CreateDatasetVersion(ctx context.Context, v *models.DatasetVersion) error {
	query := `
		INSERT INTO dataset_versions (
			dataset_type, version, is_active, dataset_rows, row_count, checksum, notes, created_by, created_at
		)
		VALUES (
			$1,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM dataset_versions WHERE dataset_type = $1),
			false, $2, $3, $4, $5, $6, $7
		)
		RETURNING id, version
	`

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	err := r.db.DB().QueryRowContext(ctx, query,
		v.DatasetType,
		[]byte(v.Rows),
		v.RowCount,
		v.Checksum,
		v.Notes,
		v.CreatedBy,
		v.CreatedAt,
	).Scan(&v.ID, &v.Version)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("concurrent upload allocated the same version for %s: %w", v.DatasetType, err)
		}
		return fmt.Errorf("failed to create dataset version: %w", err)
	}

	r.logger.Info(ctx, "[REPO_CREATE_DATASET] Dataset version created", logging.Fields{
		"dataset_type": v.DatasetType,
		"version":      v.Version,
		"row_count":    v.RowCount,
	})

	return nil
}

// ActivateDatasetVersion atomically makes the target version the single
// active version of its dataset type. Readers never observe two active
// versions or a gap.
func (r *referenceRepository) ActivateDatasetVersion(ctx context.Context, id int64) (*models.DatasetVersion, error) {
	var activated models.DatasetVersion

	err := r.db.WithinTx(ctx, "activate_dataset_version", func(tx *sqlx.Tx) error {
		var datasetType models.DatasetType
		err := tx.QueryRowContext(ctx,
			`SELECT dataset_type FROM dataset_versions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&datasetType)
		if err == sql.ErrNoRows {
			return &NotFoundError{Resource: "dataset_version", ID: fmt.Sprintf("%d", id)}
		}
		if err != nil {
			return fmt.Errorf("failed to load dataset version: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE dataset_versions SET is_active = false WHERE dataset_type = $1 AND is_active`, datasetType,
		); err != nil {
			return fmt.Errorf("failed to deactivate prior versions: %w", err)
		}

		return tx.GetContext(ctx, &activated, `
			UPDATE dataset_versions SET is_active = true
			WHERE id = $1
			RETURNING id, dataset_type, version, is_active, dataset_rows, row_count, checksum, notes, created_by, created_at
		`, id)
	})

	if err != nil {
		return nil, err
	}

	r.metrics.RecordActivation(string(activated.DatasetType))
	r.logger.Info(ctx, "[REPO_ACTIVATE_DATASET] Dataset version activated", logging.Fields{
		"dataset_type": activated.DatasetType,
		"version":      activated.Version,
	})

	return &activated, nil
}

// GetActiveDataset retrieves the single active version of a dataset type.
// Returns NoActiveVersionError if no version has ever been activated.
func (r *referenceRepository) GetActiveDataset(ctx context.Context, t models.DatasetType) (*models.DatasetVersion, error) {
	query := `
		SELECT id, dataset_type, version, is_active, dataset_rows, row_count, checksum, notes, created_by, created_at
		FROM dataset_versions
		WHERE dataset_type = $1 AND is_active
	`

	var v models.DatasetVersion
	err := r.db.GetContext(ctx, "get_active_dataset", &v, query, t)

	if err == sql.ErrNoRows {
		return nil, &NoActiveVersionError{Entity: string(t)}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get active dataset: %w", err)
	}

	return &v, nil
}

// GetDatasetVersion retrieves a dataset version by id
func (r *referenceRepository) GetDatasetVersion(ctx context.Context, id int64) (*models.DatasetVersion, error) {
	query := `
		SELECT id, dataset_type, version, is_active, dataset_rows, row_count, checksum, notes, created_by, created_at
		FROM dataset_versions
		WHERE id = $1
	`

	var v models.DatasetVersion
	err := r.db.GetContext(ctx, "get_dataset_version", &v, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "dataset_version", ID: fmt.Sprintf("%d", id)}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get dataset version: %w", err)
	}

	return &v, nil
}

// ListDatasetVersions retrieves dataset versions with filtering and pagination
func (r *referenceRepository) ListDatasetVersions(ctx context.Context, filter DatasetVersionFilter) ([]*models.DatasetVersion, int, error) {
	query := `
		SELECT id, dataset_type, version, is_active, dataset_rows, row_count, checksum, notes, created_by, created_at
		FROM dataset_versions
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.DatasetType != nil {
		query += fmt.Sprintf(" AND dataset_type = $%d", argNum)
		args = append(args, *filter.DatasetType)
		argNum++
	}

	if filter.ActiveOnly {
		query += " AND is_active"
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_dataset_versions", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count dataset versions: %w", err)
	}

	query += " ORDER BY dataset_type, version DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var versions []*models.DatasetVersion
	err = r.db.SelectContext(ctx, "list_dataset_versions", &versions, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list dataset versions: %w", err)
	}

	return versions, totalCount, nil
}

// CreateFormulaVersion stores a validated formula as the next version.
// New versions start inactive.
func (r *referenceRepository) CreateFormulaVersion(ctx context.Context, f *models.FormulaVersion) error {
	query := `
		INSERT INTO formula_versions (
			version, expression, variables, is_active, notes, created_by, created_at
		)
		VALUES (
			(SELECT COALESCE(MAX(version), 0) + 1 FROM formula_versions),
			$1, $2, false, $3, $4, $5
		)
		RETURNING id, version
	`

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	err := r.db.DB().QueryRowContext(ctx, query,
		f.Expression,
		f.Variables,
		f.Notes,
		f.CreatedBy,
		f.CreatedAt,
	).Scan(&f.ID, &f.Version)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("concurrent upload allocated the same formula version: %w", err)
		}
		return fmt.Errorf("failed to create formula version: %w", err)
	}

	r.logger.Info(ctx, "[REPO_CREATE_FORMULA] Formula version created", logging.Fields{
		"version":    f.Version,
		"expression": f.Expression,
	})

	return nil
}

// ActivateFormulaVersion atomically makes the target version the single
// active formula
func (r *referenceRepository) ActivateFormulaVersion(ctx context.Context, id int64) (*models.FormulaVersion, error) {
	var activated models.FormulaVersion

	err := r.db.WithinTx(ctx, "activate_formula_version", func(tx *sqlx.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT true FROM formula_versions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&exists)
		if err == sql.ErrNoRows {
			return &NotFoundError{Resource: "formula_version", ID: fmt.Sprintf("%d", id)}
		}
		if err != nil {
			return fmt.Errorf("failed to load formula version: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE formula_versions SET is_active = false WHERE is_active`,
		); err != nil {
			return fmt.Errorf("failed to deactivate prior versions: %w", err)
		}

		return tx.GetContext(ctx, &activated, `
			UPDATE formula_versions SET is_active = true
			WHERE id = $1
			RETURNING id, version, expression, variables, is_active, notes, created_by, created_at
		`, id)
	})

	if err != nil {
		return nil, err
	}

	r.metrics.RecordActivation("formula")
	r.logger.Info(ctx, "[REPO_ACTIVATE_FORMULA] Formula version activated", logging.Fields{
		"version": activated.Version,
	})

	return &activated, nil
}

// GetActiveFormula retrieves the single active formula version.
// Returns NoActiveVersionError if no version has ever been activated.
func (r *referenceRepository) GetActiveFormula(ctx context.Context) (*models.FormulaVersion, error) {
	query := `
		SELECT id, version, expression, variables, is_active, notes, created_by, created_at
		FROM formula_versions
		WHERE is_active
	`

	var f models.FormulaVersion
	err := r.db.GetContext(ctx, "get_active_formula", &f, query)

	if err == sql.ErrNoRows {
		return nil, &NoActiveVersionError{Entity: "formula"}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get active formula: %w", err)
	}

	return &f, nil
}

// GetFormulaVersion retrieves a formula version by id
func (r *referenceRepository) GetFormulaVersion(ctx context.Context, id int64) (*models.FormulaVersion, error) {
	query := `
		SELECT id, version, expression, variables, is_active, notes, created_by, created_at
		FROM formula_versions
		WHERE id = $1
	`

	var f models.FormulaVersion
	err := r.db.GetContext(ctx, "get_formula_version", &f, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "formula_version", ID: fmt.Sprintf("%d", id)}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get formula version: %w", err)
	}

	return &f, nil
}

// ListFormulaVersions retrieves formula versions with pagination
func (r *referenceRepository) ListFormulaVersions(ctx context.Context, limit, offset int) ([]*models.FormulaVersion, int, error) {
	var totalCount int
	err := r.db.GetContext(ctx, "count_formula_versions", &totalCount,
		`SELECT COUNT(*) FROM formula_versions`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count formula versions: %w", err)
	}

	query := `
		SELECT id, version, expression, variables, is_active, notes, created_by, created_at
		FROM formula_versions
		ORDER BY version DESC
		LIMIT $1 OFFSET $2
	`

	var versions []*models.FormulaVersion
	err = r.db.SelectContext(ctx, "list_formula_versions", &versions, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list formula versions: %w", err)
	}

	return versions, totalCount, nil
}

// HealthCheck performs a repository health check
func (r *referenceRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}

// NoActiveVersionError reports a dataset type or formula that has never had
// a version activated. Calculations treat this as a blocking precondition.
type NoActiveVersionError struct {
	Entity string
}

func (e *NoActiveVersionError) Error() string {
	return fmt.Sprintf("no active version for %s", e.Entity)
}

func (e *NoActiveVersionError) IsTransient() bool {
	return false
}
