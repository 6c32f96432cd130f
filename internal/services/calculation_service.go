package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/internal/repository"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// CalculationService orchestrates dose calculations: environment resolution,
// reference table lookups, meter corrections, and formula evaluation. The
// stages run strictly in order and the first failure aborts the request
// with no audit record written.
type CalculationService struct {
	refRepo  repository.ReferenceRepository
	settings repository.SettingsRepository
	env      *EnvironmentService
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewCalculationService creates a new calculation service
func NewCalculationService(refRepo repository.ReferenceRepository, settings repository.SettingsRepository, env *EnvironmentService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CalculationService {
	return &CalculationService{
		refRepo:  refRepo,
		settings: settings,
		env:      env,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Calculate runs one dose calculation and returns the populated run record.
// The run is not yet persisted; the caller hands it to the run recorder.
func (s *CalculationService) Calculate(ctx context.Context, req *models.CalculationRequest) (*models.CalculationRun, error) {
	timer := s.metrics.NewTimer(s.metrics.CalculationDuration)
	run, err := s.calculate(ctx, req)
	timer.ObserveDuration()

	if err != nil {
		s.metrics.RecordCalculation(classifyCalculationFailure(err))
		return nil, err
	}

	s.metrics.RecordCalculation("success")
	return run, nil
}

func (s *CalculationService) calculate(ctx context.Context, req *models.CalculationRequest) (*models.CalculationRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "[CALC_START] Starting dose calculation", logging.Fields{
		"chamber_type": req.ChamberType,
		"beam_quality": req.BeamQuality,
		"table_type":   req.TableType,
		"depth_cm":     req.DepthCM,
		"location":     req.Location,
	})

	source, err := s.settings.GetEnvironmentSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read environment source: %w", err)
	}

	reading, envVersion, err := s.env.Resolve(ctx, source, req.Location)
	if err != nil {
		return nil, err
	}

	depthTable, err := models.DepthDoseDatasetType(req.TableType)
	if err != nil {
		return nil, err
	}

	kqVersion, err := s.refRepo.GetActiveDataset(ctx, models.DatasetKQTable)
	if err != nil {
		return nil, err
	}
	chamberVersion, err := s.refRepo.GetActiveDataset(ctx, models.DatasetChamberDefaults)
	if err != nil {
		return nil, err
	}
	depthVersion, err := s.refRepo.GetActiveDataset(ctx, depthTable)
	if err != nil {
		return nil, err
	}
	formula, err := s.refRepo.GetActiveFormula(ctx)
	if err != nil {
		return nil, err
	}

	kqRows, err := kqVersion.KQRows()
	if err != nil {
		return nil, err
	}
	chamberRows, err := chamberVersion.ChamberDefaultRows()
	if err != nil {
		return nil, err
	}
	depthRows, err := depthVersion.DepthDoseRows()
	if err != nil {
		return nil, err
	}

	kq, err := LookupKQ(kqRows, req.ChamberType, req.BeamQuality)
	if err != nil {
		s.metrics.RecordLookupMiss(string(models.DatasetKQTable))
		return nil, err
	}

	chamber, err := LookupChamberDefaults(chamberRows, req.ChamberType)
	if err != nil {
		s.metrics.RecordLookupMiss(string(models.DatasetChamberDefaults))
		return nil, err
	}

	depthResult, err := LookupDepthDose(depthTable, depthRows, req.EnergyMV, req.FieldSizeCM, req.DepthCM)
	if err != nil {
		s.metrics.RecordLookupMiss(string(depthTable))
		return nil, err
	}

	if depthResult.Clamped {
		s.metrics.BoundaryClampsTotal.Inc()
		s.logger.Warn(ctx, "[CALC_CLAMPED] Depth outside table range, boundary value used", logging.Fields{
			"table":    depthTable,
			"depth_cm": req.DepthCM,
		})
	}

	factors, err := ComputeCorrections(req, reading)
	if err != nil {
		return nil, err
	}

	factors.KQ = kq
	factors.NDw60Co = chamber.NDw60Co
	factors.RcavCM = chamber.RcavCM
	factors.ReferencePolarity = chamber.ReferencePolarity
	factors.PddOrTpr = depthResult.Value

	expr, err := ParseExpression(formula.Expression)
	if err != nil {
		return nil, fmt.Errorf("active formula v%d is not parseable: %w", formula.Version, err)
	}

	scope := map[string]float64{
		"kq":                 factors.KQ,
		"pdd_or_tpr":         factors.PddOrTpr,
		"ndw_60co":           factors.NDw60Co,
		"rcav_cm":            factors.RcavCM,
		"reference_polarity": factors.ReferencePolarity,
		"temperature_c":      reading.TemperatureC,
		"pressure_kpa":       reading.PressureKPa,
		"p_tp":               factors.PTP,
		"p_ion":              factors.PIon,
		"p_pol":              factors.PPol,
		"p_elec":             factors.PElec,
		"m_raw_c":            factors.MRawC,
		"m_q":                factors.MQ,
	}
	if req.Meter != nil && req.Meter.MUMeas != nil {
		scope["mu_meas"] = *req.Meter.MUMeas
	}

	dose, err := expr.Evaluate(scope)
	if err != nil {
		return nil, &models.ValidationError{
			Field:   "formula",
			Message: fmt.Sprintf("formula v%d could not be evaluated: %v", formula.Version, err),
		}
	}

	versions := models.VersionMap{
		string(models.DatasetKQTable):         kqVersion.Version,
		string(models.DatasetChamberDefaults): chamberVersion.Version,
		string(depthTable):                    depthVersion.Version,
	}
	if envVersion > 0 {
		versions[string(models.DatasetEnvironmentalData)] = envVersion
	}

	run := &models.CalculationRun{
		ID:    uuid.New(),
		RunTS: time.Now().UTC(),
		Inputs: models.CalculationInputs{
			ChamberType: req.ChamberType,
			BeamQuality: req.BeamQuality,
			TableType:   req.TableType,
			EnergyMV:    req.EnergyMV,
			FieldSizeCM: req.FieldSizeCM,
			DepthCM:     req.DepthCM,
			Location:    req.Location,
			Meter:       req.Meter,
		},
		Environment:     *reading,
		Factors:         factors,
		DatasetVersions: versions,
		FormulaVersion:  formula.Version,
		DoseGy:          dose,
		BoundaryClamped: depthResult.Clamped,
		CreatedAt:       time.Now().UTC(),
	}

	if req.Meter != nil && req.Meter.MUMeas != nil {
		per100 := dose * 100.0 / *req.Meter.MUMeas
		run.DosePer100MUGy = &per100
	}

	s.logger.Info(ctx, "[CALC_COMPLETE] Dose calculation completed", logging.Fields{
		"run_id":           run.ID.String(),
		"dose_gy":          run.DoseGy,
		"formula_version":  run.FormulaVersion,
		"dataset_versions": versions,
		"boundary_clamped": run.BoundaryClamped,
	})

	return run, nil
}

// ComputeCorrections derives the measurement correction chain from the
// request's optional meter block and the resolved environment. Missing
// blocks contribute neutral factors.
func ComputeCorrections(req *models.CalculationRequest, reading *models.EnvironmentalReading) (models.ResolvedFactors, error) {
	factors := models.ResolvedFactors{
		PIon:  1.0,
		PPol:  1.0,
		PElec: 1.0,
		MRawC: 1.0,
	}

	t0 := models.DefaultT0C
	if req.T0C != nil {
		t0 = *req.T0C
	}
	p0 := models.DefaultP0KPa
	if req.P0KPa != nil {
		p0 = *req.P0KPa
	}

	if reading.PressureKPa <= 0 {
		return factors, fmt.Errorf("environmental pressure must be positive, got %g", reading.PressureKPa)
	}
	if t0 <= -273.15 {
		return factors, &models.ValidationError{Field: "t0_c", Message: "t0_c must be above absolute zero"}
	}

	factors.PTP = (273.15 + reading.TemperatureC) * p0 / ((273.15 + t0) * reading.PressureKPa)

	if m := req.Meter; m != nil {
		coulombs, err := m.Coulombs()
		if err != nil {
			return factors, err
		}
		factors.MRawC = coulombs

		if m.MHigh != nil {
			pion, err := twoVoltagePIon(*m.MHigh, *m.MLow, *m.VHigh, *m.VLow)
			if err != nil {
				return factors, err
			}
			factors.PIon = pion
		}

		if m.MPos != nil {
			ppol, err := polarityPPol(*m.MPos, *m.MNeg, m.MRef)
			if err != nil {
				return factors, err
			}
			factors.PPol = ppol
		}

		if m.PElec != nil {
			factors.PElec = *m.PElec
		}
	}

	factors.MQ = factors.MRawC * factors.PTP * factors.PIon * factors.PPol * factors.PElec

	return factors, nil
}

// twoVoltagePIon computes the ion recombination correction from paired
// readings at two polarizing voltages.
func twoVoltagePIon(mHigh, mLow, vHigh, vLow float64) (float64, error) {
	if vHigh < vLow {
		vHigh, vLow = vLow, vHigh
		mHigh, mLow = mLow, mHigh
	}

	if vLow == 0 || mLow == 0 {
		return 0, &models.ValidationError{Field: "meter", Message: "two-voltage readings must be non-zero"}
	}

	voltageRatio := vHigh / vLow
	readingRatio := mHigh / mLow

	if voltageRatio == 1 {
		return 0, &models.ValidationError{Field: "meter", Message: "two-voltage correction requires distinct voltages"}
	}
	if readingRatio == voltageRatio {
		return 0, &models.ValidationError{Field: "meter", Message: "two-voltage readings are degenerate"}
	}

	return (1 - voltageRatio) / (readingRatio - voltageRatio), nil
}

// polarityPPol computes the polarity correction from readings at both
// polarities, referenced to mRef (or the positive reading when absent).
func polarityPPol(mPos, mNeg float64, mRef *float64) (float64, error) {
	ref := mPos
	if mRef != nil {
		ref = *mRef
	}
	if ref == 0 {
		return 0, &models.ValidationError{Field: "meter", Message: "polarity reference reading must be non-zero"}
	}

	return (math.Abs(mPos) + math.Abs(mNeg)) / (2 * math.Abs(ref)), nil
}

// classifyCalculationFailure maps an error to a metrics outcome label
func classifyCalculationFailure(err error) string {
	var validationErr *models.ValidationError
	var schemaErr *models.SchemaError
	var noActive *repository.NoActiveVersionError
	var envErr *EnvironmentalDataUnavailableError
	var miss *LookupMissError

	switch {
	case errors.As(err, &validationErr), errors.As(err, &schemaErr):
		return "invalid_request"
	case errors.As(err, &noActive):
		return "no_active_version"
	case errors.As(err, &envErr):
		return "environment_unavailable"
	case errors.As(err, &miss):
		return "lookup_miss"
	default:
		return "error"
	}
}
