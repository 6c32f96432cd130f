package services

import (
	"context"
	"testing"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/internal/repository"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// Shared across the package: prometheus collectors register globally, so the
// test binary builds exactly one collector.
var (
	testLogger  = logging.NewStructuredLogger("test", "test", logging.ErrorLevel)
	testMetrics = metrics.NewCollector("dosimetry_test")
)

// fakeRefRepo serves canned active versions. Unused interface methods are
// inherited from the embedded nil interface and panic if reached.
type fakeRefRepo struct {
	repository.ReferenceRepository
	datasets map[models.DatasetType]*models.DatasetVersion
	formula  *models.FormulaVersion
}

func (f *fakeRefRepo) GetActiveDataset(ctx context.Context, t models.DatasetType) (*models.DatasetVersion, error) {
	if v, ok := f.datasets[t]; ok {
		return v, nil
	}
	return nil, &repository.NoActiveVersionError{Entity: string(t)}
}

func (f *fakeRefRepo) GetActiveFormula(ctx context.Context) (*models.FormulaVersion, error) {
	if f.formula != nil {
		return f.formula, nil
	}
	return nil, &repository.NoActiveVersionError{Entity: "formula"}
}

type fakeSettingsRepo struct {
	source models.EnvironmentSource
	err    error
}

func (f *fakeSettingsRepo) GetEnvironmentSource(ctx context.Context) (models.EnvironmentSource, error) {
	return f.source, f.err
}

func (f *fakeSettingsRepo) SetEnvironmentSource(ctx context.Context, source models.EnvironmentSource) error {
	f.source = source
	return nil
}

type fakeGeo struct {
	locate func(ctx context.Context, query string) (*GeoPoint, error)
}

func (f *fakeGeo) Locate(ctx context.Context, query string) (*GeoPoint, error) {
	return f.locate(ctx, query)
}

type fakeWeather struct {
	current func(ctx context.Context, point GeoPoint) (*CurrentConditions, error)
}

func (f *fakeWeather) Current(ctx context.Context, point GeoPoint) (*CurrentConditions, error) {
	return f.current(ctx, point)
}

// mustDataset builds an active DatasetVersion from tabular data
func mustDataset(t *testing.T, datasetType models.DatasetType, version int, header []string, records [][]string) *models.DatasetVersion {
	t.Helper()

	data, count, err := models.ParseDatasetRows(datasetType, header, records)
	if err != nil {
		t.Fatalf("ParseDatasetRows(%s) error = %v", datasetType, err)
	}

	return &models.DatasetVersion{
		ID:          int64(version),
		DatasetType: datasetType,
		Version:     version,
		IsActive:    true,
		Rows:        data,
		RowCount:    count,
		Checksum:    models.RowsChecksum(data),
	}
}

// fixtureRepo returns a reference store covering the full calculation path
func fixtureRepo(t *testing.T) *fakeRefRepo {
	t.Helper()

	return &fakeRefRepo{
		datasets: map[models.DatasetType]*models.DatasetVersion{
			models.DatasetKQTable: mustDataset(t, models.DatasetKQTable, 3,
				[]string{"chamber_type", "beam_quality", "kq"},
				[][]string{
					{"FarmerA", "6MV", "0.98"},
					{"FarmerB", "6MV", "0.992"},
				}),
			models.DatasetChamberDefaults: mustDataset(t, models.DatasetChamberDefaults, 2,
				[]string{"chamber_type", "ndw_60co", "rcav_cm", "reference_polarity"},
				[][]string{
					{"FarmerA", "5.2", "0.6", "1.0"},
					{"FarmerB", "5.35", "0.6", "-1.0"},
				}),
			models.DatasetPDDTable: mustDataset(t, models.DatasetPDDTable, 4,
				[]string{"energy_mv", "field_size_cm", "depth_cm", "value"},
				[][]string{
					{"6", "10", "1.5", "1.00"},
					{"6", "10", "5", "0.80"},
					{"6", "10", "10", "0.65"},
				}),
			models.DatasetEnvironmentalData: mustDataset(t, models.DatasetEnvironmentalData, 7,
				[]string{"location", "temperature_c", "pressure_kpa"},
				[][]string{
					{"Lagos", "28", "100.9"},
					{"New York", "22", "101.3"},
				}),
		},
		formula: &models.FormulaVersion{
			ID:         1,
			Version:    1,
			Expression: models.DefaultFormulaExpression,
			Variables:  models.DefaultFormulaVariables,
			IsActive:   true,
		},
	}
}
