package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/internal/repository"
)

func newCalcService(repo *fakeRefRepo, settings repository.SettingsRepository, geo GeolocationProvider, weather WeatherProvider) *CalculationService {
	env := NewEnvironmentService(repo, geo, weather, testLogger, testMetrics)
	return NewCalculationService(repo, settings, env, testLogger, testMetrics)
}

func baseRequest() *models.CalculationRequest {
	return &models.CalculationRequest{
		ChamberType: "FarmerA",
		BeamQuality: "6MV",
		TableType:   models.TableTypePDD,
		EnergyMV:    6,
		FieldSizeCM: 10,
		DepthCM:     7.5,
		Location:    "Lagos",
	}
}

func TestCalculate_DatasetMode(t *testing.T) {
	repo := fixtureRepo(t)
	service := newCalcService(repo, &fakeSettingsRepo{source: models.SourceDataset}, nil, nil)

	run, err := service.Calculate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}

	// Lagos row: 28 C, 100.9 kPa against reference 20 C, 101.325 kPa
	wantPTP := (273.15 + 28) * models.DefaultP0KPa / ((273.15 + models.DefaultT0C) * 100.9)
	if math.Abs(run.Factors.PTP-wantPTP) > 1e-12 {
		t.Errorf("PTP = %v, want %v", run.Factors.PTP, wantPTP)
	}

	// No meter block: every meter correction stays neutral and m_q is p_tp
	if run.Factors.MRawC != 1 || run.Factors.PIon != 1 || run.Factors.PPol != 1 || run.Factors.PElec != 1 {
		t.Errorf("meterless factors = %+v, want neutral corrections", run.Factors)
	}
	if math.Abs(run.Factors.MQ-wantPTP) > 1e-12 {
		t.Errorf("MQ = %v, want %v", run.Factors.MQ, wantPTP)
	}

	if run.Factors.KQ != 0.98 {
		t.Errorf("KQ = %v, want 0.98", run.Factors.KQ)
	}
	if run.Factors.NDw60Co != 5.2 {
		t.Errorf("NDw60Co = %v, want 5.2", run.Factors.NDw60Co)
	}
	if math.Abs(run.Factors.PddOrTpr-0.725) > 1e-12 {
		t.Errorf("PddOrTpr = %v, want 0.725 (interpolated between depths 5 and 10)", run.Factors.PddOrTpr)
	}

	wantDose := wantPTP * 5.2 * 0.98 * run.Factors.PddOrTpr
	if math.Abs(run.DoseGy-wantDose) > 1e-9 {
		t.Errorf("DoseGy = %v, want %v", run.DoseGy, wantDose)
	}
	if run.DosePer100MUGy != nil {
		t.Errorf("DosePer100MUGy = %v, want nil without mu_meas", *run.DosePer100MUGy)
	}

	wantVersions := models.VersionMap{
		"kq_table":           3,
		"chamber_defaults":   2,
		"pdd_table":          4,
		"environmental_data": 7,
	}
	if len(run.DatasetVersions) != len(wantVersions) {
		t.Fatalf("DatasetVersions = %v, want %v", run.DatasetVersions, wantVersions)
	}
	for name, version := range wantVersions {
		if run.DatasetVersions[name] != version {
			t.Errorf("DatasetVersions[%s] = %d, want %d", name, run.DatasetVersions[name], version)
		}
	}
	if run.FormulaVersion != 1 {
		t.Errorf("FormulaVersion = %d, want 1", run.FormulaVersion)
	}

	if run.BoundaryClamped {
		t.Error("BoundaryClamped = true for an in-range depth")
	}
	if run.ID == uuid.Nil {
		t.Error("run ID not assigned")
	}
	if run.RunTS.IsZero() || run.CreatedAt.IsZero() {
		t.Error("run timestamps not assigned")
	}
	if run.Environment.Location != "Lagos" || run.Environment.Source != models.SourceDataset {
		t.Errorf("Environment = %+v, want Lagos dataset reading", run.Environment)
	}
	if run.Inputs.ChamberType != "FarmerA" || run.Inputs.DepthCM != 7.5 {
		t.Errorf("Inputs = %+v, want request echoed", run.Inputs)
	}
}

func TestCalculate_BoundaryClamp(t *testing.T) {
	repo := fixtureRepo(t)
	service := newCalcService(repo, &fakeSettingsRepo{source: models.SourceDataset}, nil, nil)

	req := baseRequest()
	req.DepthCM = 25

	run, err := service.Calculate(context.Background(), req)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	if !run.BoundaryClamped {
		t.Error("BoundaryClamped = false for depth beyond the table")
	}
	if run.Factors.PddOrTpr != 0.65 {
		t.Errorf("PddOrTpr = %v, want boundary value 0.65", run.Factors.PddOrTpr)
	}
}

func TestCalculate_MeterCorrections(t *testing.T) {
	repo := fixtureRepo(t)
	service := newCalcService(repo, &fakeSettingsRepo{source: models.SourceDataset}, nil, nil)

	req := baseRequest()
	req.Meter = &models.MeterReading{
		MRaw:        20.5,
		ReadingUnit: models.UnitNanocoulomb,
		MUMeas:      floatPtr(100),
		MHigh:       floatPtr(20.5),
		MLow:        floatPtr(20.2),
		VHigh:       floatPtr(300),
		VLow:        floatPtr(150),
		MPos:        floatPtr(20.5),
		MNeg:        floatPtr(-20.3),
		PElec:       floatPtr(1.002),
	}

	run, err := service.Calculate(context.Background(), req)
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}

	wantMRawC := 20.5e-9
	wantPTP := (273.15 + 28) * models.DefaultP0KPa / ((273.15 + models.DefaultT0C) * 100.9)
	wantPIon := (1 - 300.0/150.0) / (20.5/20.2 - 300.0/150.0)
	wantPPol := (20.5 + 20.3) / (2 * 20.5)
	wantMQ := wantMRawC * wantPTP * wantPIon * wantPPol * 1.002

	if math.Abs(run.Factors.MRawC-wantMRawC) > 1e-18 {
		t.Errorf("MRawC = %v, want %v", run.Factors.MRawC, wantMRawC)
	}
	if math.Abs(run.Factors.PIon-wantPIon) > 1e-12 {
		t.Errorf("PIon = %v, want %v", run.Factors.PIon, wantPIon)
	}
	if math.Abs(run.Factors.PPol-wantPPol) > 1e-12 {
		t.Errorf("PPol = %v, want %v", run.Factors.PPol, wantPPol)
	}
	if run.Factors.PElec != 1.002 {
		t.Errorf("PElec = %v, want 1.002", run.Factors.PElec)
	}
	if math.Abs(run.Factors.MQ-wantMQ)/wantMQ > 1e-12 {
		t.Errorf("MQ = %v, want %v", run.Factors.MQ, wantMQ)
	}

	wantDose := wantMQ * 5.2 * 0.98 * run.Factors.PddOrTpr
	if math.Abs(run.DoseGy-wantDose)/wantDose > 1e-9 {
		t.Errorf("DoseGy = %v, want %v", run.DoseGy, wantDose)
	}

	if run.DosePer100MUGy == nil {
		t.Fatal("DosePer100MUGy = nil, want value when mu_meas supplied")
	}
	wantPer100 := wantDose * 100 / 100
	if math.Abs(*run.DosePer100MUGy-wantPer100)/wantPer100 > 1e-9 {
		t.Errorf("DosePer100MUGy = %v, want %v", *run.DosePer100MUGy, wantPer100)
	}
}

func TestCalculate_FailureTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(repo *fakeRefRepo, req *models.CalculationRequest)
		check   func(t *testing.T, err error)
	}{
		{
			name: "invalid request",
			prepare: func(repo *fakeRefRepo, req *models.CalculationRequest) {
				req.ChamberType = ""
			},
			check: func(t *testing.T, err error) {
				var validationErr *models.ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("error = %T, want *models.ValidationError", err)
				}
				if validationErr.Field != "chamber_type" {
					t.Errorf("Field = %q, want chamber_type", validationErr.Field)
				}
			},
		},
		{
			name: "no active kq table",
			prepare: func(repo *fakeRefRepo, req *models.CalculationRequest) {
				delete(repo.datasets, models.DatasetKQTable)
			},
			check: func(t *testing.T, err error) {
				var noActive *repository.NoActiveVersionError
				if !errors.As(err, &noActive) {
					t.Fatalf("error = %T, want *repository.NoActiveVersionError", err)
				}
			},
		},
		{
			name: "no active formula",
			prepare: func(repo *fakeRefRepo, req *models.CalculationRequest) {
				repo.formula = nil
			},
			check: func(t *testing.T, err error) {
				var noActive *repository.NoActiveVersionError
				if !errors.As(err, &noActive) {
					t.Fatalf("error = %T, want *repository.NoActiveVersionError", err)
				}
			},
		},
		{
			name: "unknown chamber",
			prepare: func(repo *fakeRefRepo, req *models.CalculationRequest) {
				req.ChamberType = "SemiflexZ"
			},
			check: func(t *testing.T, err error) {
				var miss *LookupMissError
				if !errors.As(err, &miss) {
					t.Fatalf("error = %T, want *LookupMissError", err)
				}
				if miss.Table != "kq_table" {
					t.Errorf("Table = %q, want kq_table", miss.Table)
				}
			},
		},
		{
			name: "unknown beam quality",
			prepare: func(repo *fakeRefRepo, req *models.CalculationRequest) {
				req.BeamQuality = "18MV"
			},
			check: func(t *testing.T, err error) {
				var miss *LookupMissError
				if !errors.As(err, &miss) {
					t.Fatalf("error = %T, want *LookupMissError", err)
				}
			},
		},
		{
			name: "location not in dataset",
			prepare: func(repo *fakeRefRepo, req *models.CalculationRequest) {
				req.Location = "Tokyo"
			},
			check: func(t *testing.T, err error) {
				var unavailable *EnvironmentalDataUnavailableError
				if !errors.As(err, &unavailable) {
					t.Fatalf("error = %T, want *EnvironmentalDataUnavailableError", err)
				}
				if unavailable.IsTransient() {
					t.Error("dataset miss must not be transient")
				}
			},
		},
		{
			name: "formula needs mu_meas but no meter supplied",
			prepare: func(repo *fakeRefRepo, req *models.CalculationRequest) {
				repo.formula = &models.FormulaVersion{
					Version:    2,
					Expression: "m_q * ndw_60co * kq * pdd_or_tpr * 100 / mu_meas",
					Variables:  models.StringList{"m_q", "ndw_60co", "kq", "pdd_or_tpr", "mu_meas"},
					IsActive:   true,
				}
			},
			check: func(t *testing.T, err error) {
				var validationErr *models.ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("error = %T, want *models.ValidationError", err)
				}
				if validationErr.Field != "formula" {
					t.Errorf("Field = %q, want formula", validationErr.Field)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := fixtureRepo(t)
			req := baseRequest()
			tt.prepare(repo, req)

			service := newCalcService(repo, &fakeSettingsRepo{source: models.SourceDataset}, nil, nil)
			run, err := service.Calculate(context.Background(), req)
			if run != nil {
				t.Fatalf("run = %+v, want nil on failure", run)
			}
			if err == nil {
				t.Fatal("Calculate() error = nil, want failure")
			}
			tt.check(t, err)
		})
	}
}

func TestCalculate_LiveModeFailureAbortsRun(t *testing.T) {
	repo := fixtureRepo(t)
	geo := &fakeGeo{locate: func(ctx context.Context, query string) (*GeoPoint, error) {
		return nil, errors.New("connection refused")
	}}
	service := newCalcService(repo, &fakeSettingsRepo{source: models.SourceLive}, geo, nil)

	run, err := service.Calculate(context.Background(), baseRequest())
	if run != nil {
		t.Fatalf("run = %+v, want nil", run)
	}

	var unavailable *EnvironmentalDataUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %T, want *EnvironmentalDataUnavailableError", err)
	}
	if !unavailable.IsTransient() {
		t.Error("live provider failure must be transient")
	}
}

func TestCalculate_LiveModeOmitsEnvironmentVersion(t *testing.T) {
	repo := fixtureRepo(t)
	geo := &fakeGeo{locate: func(ctx context.Context, query string) (*GeoPoint, error) {
		return &GeoPoint{Name: "Lagos", Latitude: 6.45, Longitude: 3.39}, nil
	}}
	weather := &fakeWeather{current: func(ctx context.Context, p GeoPoint) (*CurrentConditions, error) {
		return &CurrentConditions{TemperatureC: 28, PressureKPa: 100.9}, nil
	}}
	service := newCalcService(repo, &fakeSettingsRepo{source: models.SourceLive}, geo, weather)

	run, err := service.Calculate(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	if _, ok := run.DatasetVersions["environmental_data"]; ok {
		t.Errorf("DatasetVersions = %v, must not pin environmental_data in live mode", run.DatasetVersions)
	}
	if run.Environment.Source != models.SourceLive {
		t.Errorf("Environment.Source = %q, want %q", run.Environment.Source, models.SourceLive)
	}
	if run.Environment.Latitude == nil || run.Environment.Longitude == nil {
		t.Error("live reading must carry coordinates")
	}
}

func TestComputeCorrections(t *testing.T) {
	reading := &models.EnvironmentalReading{Location: "Lagos", TemperatureC: 28, PressureKPa: 100.9}

	tests := []struct {
		name    string
		req     *models.CalculationRequest
		reading *models.EnvironmentalReading
		wantErr bool
		check   func(t *testing.T, factors models.ResolvedFactors)
	}{
		{
			name:    "no meter yields neutral corrections",
			req:     baseRequest(),
			reading: reading,
			check: func(t *testing.T, factors models.ResolvedFactors) {
				want := (273.15 + 28) * models.DefaultP0KPa / ((273.15 + models.DefaultT0C) * 100.9)
				if math.Abs(factors.PTP-want) > 1e-12 {
					t.Errorf("PTP = %v, want %v", factors.PTP, want)
				}
				if factors.MRawC != 1 || factors.PIon != 1 || factors.PPol != 1 || factors.PElec != 1 {
					t.Errorf("factors = %+v, want neutral meter corrections", factors)
				}
				if math.Abs(factors.MQ-want) > 1e-12 {
					t.Errorf("MQ = %v, want %v", factors.MQ, want)
				}
			},
		},
		{
			name: "reference condition overrides",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.T0C = floatPtr(22)
				r.P0KPa = floatPtr(100)
				return r
			}(),
			reading: reading,
			check: func(t *testing.T, factors models.ResolvedFactors) {
				want := (273.15 + 28) * 100.0 / ((273.15 + 22) * 100.9)
				if math.Abs(factors.PTP-want) > 1e-12 {
					t.Errorf("PTP = %v, want %v", factors.PTP, want)
				}
			},
		},
		{
			name:    "non-positive pressure rejected",
			req:     baseRequest(),
			reading: &models.EnvironmentalReading{TemperatureC: 20, PressureKPa: 0},
			wantErr: true,
		},
		{
			name: "t0 at absolute zero rejected",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.T0C = floatPtr(-273.15)
				return r
			}(),
			reading: reading,
			wantErr: true,
		},
		{
			name: "picocoulomb reading converted",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.Meter = &models.MeterReading{MRaw: 20500, ReadingUnit: models.UnitPicocoulomb}
				return r
			}(),
			reading: reading,
			check: func(t *testing.T, factors models.ResolvedFactors) {
				if math.Abs(factors.MRawC-20500e-12) > 1e-18 {
					t.Errorf("MRawC = %v, want 20500e-12", factors.MRawC)
				}
			},
		},
		{
			name: "unknown reading unit rejected",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.Meter = &models.MeterReading{MRaw: 20, ReadingUnit: "mC"}
				return r
			}(),
			reading: reading,
			wantErr: true,
		},
		{
			name: "two-voltage inputs swapped when given low first",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.Meter = &models.MeterReading{
					MRaw: 20.5, MHigh: floatPtr(20.2), MLow: floatPtr(20.5),
					VHigh: floatPtr(150), VLow: floatPtr(300),
				}
				return r
			}(),
			reading: reading,
			check: func(t *testing.T, factors models.ResolvedFactors) {
				want := (1 - 300.0/150.0) / (20.5/20.2 - 300.0/150.0)
				if math.Abs(factors.PIon-want) > 1e-12 {
					t.Errorf("PIon = %v, want %v", factors.PIon, want)
				}
			},
		},
		{
			name: "two-voltage zero reading rejected",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.Meter = &models.MeterReading{
					MRaw: 20.5, MHigh: floatPtr(20.5), MLow: floatPtr(0),
					VHigh: floatPtr(300), VLow: floatPtr(150),
				}
				return r
			}(),
			reading: reading,
			wantErr: true,
		},
		{
			name: "two-voltage equal voltages rejected",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.Meter = &models.MeterReading{
					MRaw: 20.5, MHigh: floatPtr(20.5), MLow: floatPtr(20.2),
					VHigh: floatPtr(300), VLow: floatPtr(300),
				}
				return r
			}(),
			reading: reading,
			wantErr: true,
		},
		{
			name: "two-voltage degenerate ratios rejected",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.Meter = &models.MeterReading{
					MRaw: 20.5, MHigh: floatPtr(40), MLow: floatPtr(20),
					VHigh: floatPtr(300), VLow: floatPtr(150),
				}
				return r
			}(),
			reading: reading,
			wantErr: true,
		},
		{
			name: "polarity correction uses explicit reference",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.Meter = &models.MeterReading{
					MRaw: 20.5, MPos: floatPtr(20.5), MNeg: floatPtr(-20.3), MRef: floatPtr(20.4),
				}
				return r
			}(),
			reading: reading,
			check: func(t *testing.T, factors models.ResolvedFactors) {
				want := (20.5 + 20.3) / (2 * 20.4)
				if math.Abs(factors.PPol-want) > 1e-12 {
					t.Errorf("PPol = %v, want %v", factors.PPol, want)
				}
			},
		},
		{
			name: "polarity zero reference rejected",
			req: func() *models.CalculationRequest {
				r := baseRequest()
				r.Meter = &models.MeterReading{
					MRaw: 20.5, MPos: floatPtr(0), MNeg: floatPtr(-20.3),
				}
				return r
			}(),
			reading: reading,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factors, err := ComputeCorrections(tt.req, tt.reading)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ComputeCorrections() error = nil, want failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("ComputeCorrections() error = %v", err)
			}
			if tt.check != nil {
				tt.check(t, factors)
			}
		})
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
