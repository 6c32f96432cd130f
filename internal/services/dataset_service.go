package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/internal/repository"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// DatasetService handles dataset uploads, versioning, and activation
type DatasetService struct {
	repo    repository.ReferenceRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewDatasetService creates a new dataset service
func NewDatasetService(repo repository.ReferenceRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *DatasetService {
	return &DatasetService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CreateVersionFromUpload decodes an uploaded CSV or XLSX file, validates it
// against the dataset type's schema, and stores it as the next inactive
// version. A validation failure rejects the upload; nothing is persisted.
func (s *DatasetService) CreateVersionFromUpload(ctx context.Context, t models.DatasetType, filename string, file io.Reader, notes, createdBy string) (*models.DatasetVersion, error) {
	timer := time.Now()
	defer func() {
		s.metrics.UploadDuration.Observe(time.Since(timer).Seconds())
	}()

	header, records, err := decodeTable(filename, file)
	if err != nil {
		s.metrics.RecordUploadRejection(string(t))
		return nil, err
	}

	version, err := s.CreateVersion(ctx, t, header, records, notes, createdBy)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "[DATASET_UPLOAD] Upload stored as new version", logging.Fields{
		"dataset_type": t,
		"version":      version.Version,
		"row_count":    version.RowCount,
		"filename":     filename,
	})

	return version, nil
}

// CreateVersion validates tabular rows and stores them as the next inactive
// version of the dataset type.
func (s *DatasetService) CreateVersion(ctx context.Context, t models.DatasetType, header []string, records [][]string, notes, createdBy string) (*models.DatasetVersion, error) {
	rows, rowCount, err := models.ParseDatasetRows(t, header, records)
	if err != nil {
		var schemaErr *models.SchemaError
		if errors.As(err, &schemaErr) {
			s.metrics.RecordUploadRejection(string(t))
			s.logger.Warn(ctx, "[DATASET_REJECTED] Upload failed schema validation", logging.Fields{
				"dataset_type": t,
				"violations":   schemaErr.Violations,
			})
		}
		return nil, err
	}

	version := &models.DatasetVersion{
		DatasetType: t,
		Rows:        rows,
		RowCount:    rowCount,
		Checksum:    models.RowsChecksum(rows),
		Notes:       notes,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.CreateDatasetVersion(ctx, version); err != nil {
		return nil, err
	}

	s.metrics.UploadRowsTotal.WithLabelValues(string(t)).Add(float64(rowCount))

	return version, nil
}

// Activate makes the target version the single active version of its type
func (s *DatasetService) Activate(ctx context.Context, id int64) (*models.DatasetVersion, error) {
	return s.repo.ActivateDatasetVersion(ctx, id)
}

// GetActive returns the active version of a dataset type
func (s *DatasetService) GetActive(ctx context.Context, t models.DatasetType) (*models.DatasetVersion, error) {
	return s.repo.GetActiveDataset(ctx, t)
}

// List returns dataset versions matching the filter
func (s *DatasetService) List(ctx context.Context, filter repository.DatasetVersionFilter) ([]*models.DatasetVersion, int, error) {
	return s.repo.ListDatasetVersions(ctx, filter)
}

// decodeTable reads an uploaded spreadsheet into a header row and records
func decodeTable(filename string, file io.Reader) ([]string, [][]string, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".csv":
		return decodeCSV(file)
	case ".xlsx", ".xlsm":
		return decodeXLSX(file)
	default:
		return nil, nil, &models.ValidationError{
			Field:   "file",
			Value:   filename,
			Message: fmt.Sprintf("unsupported file extension %q, expected .csv or .xlsx", ext),
		}
	}
}

func decodeCSV(file io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, &models.ValidationError{Field: "file", Message: "file is empty"}
	}

	return all[0], all[1:], nil
}

func decodeXLSX(file io.Reader) ([]string, [][]string, error) {
	workbook, err := excelize.OpenReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer workbook.Close()

	sheet := workbook.GetSheetName(0)
	if sheet == "" {
		return nil, nil, &models.ValidationError{Field: "file", Message: "workbook has no sheets"}
	}

	all, err := workbook.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(all) == 0 {
		return nil, nil, &models.ValidationError{Field: "file", Message: "sheet is empty"}
	}

	return all[0], all[1:], nil
}
