package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reference conditions for the temperature/pressure correction
const (
	DefaultT0C   = 20.0
	DefaultP0KPa = 101.325
)

// Meter reading units accepted for m_raw
const (
	UnitNanocoulomb = "nC"
	UnitPicocoulomb = "pC"
	UnitCoulomb     = "C"
)

// MeterReading carries optional electrometer inputs. When supplied, the raw
// reading is converted to coulombs and the ion-recombination, polarity, and
// electrometer corrections are derived from the optional sub-blocks.
type MeterReading struct {
	MRaw        float64  `json:"m_raw"`
	ReadingUnit string   `json:"reading_unit"`
	MUMeas      *float64 `json:"mu_meas,omitempty"`

	// Two-voltage ion recombination inputs
	MHigh *float64 `json:"m_high,omitempty"`
	MLow  *float64 `json:"m_low,omitempty"`
	VHigh *float64 `json:"v_high,omitempty"`
	VLow  *float64 `json:"v_low,omitempty"`

	// Polarity correction inputs
	MPos *float64 `json:"m_pos,omitempty"`
	MNeg *float64 `json:"m_neg,omitempty"`
	MRef *float64 `json:"m_ref,omitempty"`

	PElec *float64 `json:"p_elec,omitempty"`
}

// Coulombs converts the raw reading into coulombs
func (m *MeterReading) Coulombs() (float64, error) {
	switch m.ReadingUnit {
	case UnitNanocoulomb, "":
		return m.MRaw * 1e-9, nil
	case UnitPicocoulomb:
		return m.MRaw * 1e-12, nil
	case UnitCoulomb:
		return m.MRaw, nil
	default:
		return 0, &ValidationError{
			Field:   "reading_unit",
			Value:   m.ReadingUnit,
			Message: fmt.Sprintf("unsupported reading unit %q", m.ReadingUnit),
		}
	}
}

// CalculationRequest is a dose calculation submission
type CalculationRequest struct {
	ChamberType string  `json:"chamber_type"`
	BeamQuality string  `json:"beam_quality"`
	TableType   string  `json:"table_type"`
	EnergyMV    float64 `json:"energy_mv"`
	FieldSizeCM float64 `json:"field_size_cm"`
	DepthCM     float64 `json:"depth_cm"`
	Location    string  `json:"location"`

	// Reference condition overrides for the temperature/pressure correction
	T0C   *float64 `json:"t0_c,omitempty"`
	P0KPa *float64 `json:"p0_kpa,omitempty"`

	Meter *MeterReading `json:"meter,omitempty"`
}

// Validate checks the request for values the engine cannot work with
func (r *CalculationRequest) Validate() error {
	if r.ChamberType == "" {
		return &ValidationError{Field: "chamber_type", Message: "chamber_type is required"}
	}
	if r.BeamQuality == "" {
		return &ValidationError{Field: "beam_quality", Message: "beam_quality is required"}
	}
	if _, err := DepthDoseDatasetType(r.TableType); err != nil {
		return &ValidationError{Field: "table_type", Value: r.TableType, Message: "table_type must be pdd or tpr"}
	}
	if r.EnergyMV <= 0 {
		return &ValidationError{Field: "energy_mv", Value: fmt.Sprintf("%g", r.EnergyMV), Message: "energy_mv must be positive"}
	}
	if r.FieldSizeCM <= 0 {
		return &ValidationError{Field: "field_size_cm", Value: fmt.Sprintf("%g", r.FieldSizeCM), Message: "field_size_cm must be positive"}
	}
	if r.DepthCM < 0 {
		return &ValidationError{Field: "depth_cm", Value: fmt.Sprintf("%g", r.DepthCM), Message: "depth_cm cannot be negative"}
	}
	if r.P0KPa != nil && *r.P0KPa <= 0 {
		return &ValidationError{Field: "p0_kpa", Message: "p0_kpa must be positive"}
	}

	if m := r.Meter; m != nil {
		if _, err := m.Coulombs(); err != nil {
			return err
		}
		if m.MUMeas != nil && *m.MUMeas <= 0 {
			return &ValidationError{Field: "mu_meas", Message: "mu_meas must be positive"}
		}
		twoVoltage := []*float64{m.MHigh, m.MLow, m.VHigh, m.VLow}
		set := 0
		for _, v := range twoVoltage {
			if v != nil {
				set++
			}
		}
		if set != 0 && set != len(twoVoltage) {
			return &ValidationError{Field: "meter", Message: "two-voltage correction requires m_high, m_low, v_high, and v_low together"}
		}
		if (m.MPos == nil) != (m.MNeg == nil) {
			return &ValidationError{Field: "meter", Message: "polarity correction requires both m_pos and m_neg"}
		}
		if m.PElec != nil && *m.PElec <= 0 {
			return &ValidationError{Field: "p_elec", Message: "p_elec must be positive"}
		}
	}

	return nil
}

// CalculationInputs is the request subset recorded with each run
type CalculationInputs struct {
	ChamberType string        `json:"chamber_type"`
	BeamQuality string        `json:"beam_quality"`
	TableType   string        `json:"table_type"`
	EnergyMV    float64       `json:"energy_mv"`
	FieldSizeCM float64       `json:"field_size_cm"`
	DepthCM     float64       `json:"depth_cm"`
	Location    string        `json:"location"`
	Meter       *MeterReading `json:"meter,omitempty"`
}

func (i CalculationInputs) Value() (driver.Value, error) {
	type inputs CalculationInputs
	return jsonbValue(inputs(i))
}

func (i *CalculationInputs) Scan(src interface{}) error {
	type inputs CalculationInputs
	return jsonbScan(src, (*inputs)(i))
}

// ResolvedFactors itemizes every value that entered the dose formula
type ResolvedFactors struct {
	KQ                float64 `json:"kq"`
	NDw60Co           float64 `json:"ndw_60co"`
	RcavCM            float64 `json:"rcav_cm"`
	ReferencePolarity float64 `json:"reference_polarity"`
	PddOrTpr          float64 `json:"pdd_or_tpr"`
	PTP               float64 `json:"p_tp"`
	PIon              float64 `json:"p_ion"`
	PPol              float64 `json:"p_pol"`
	PElec             float64 `json:"p_elec"`
	MRawC             float64 `json:"m_raw_c"`
	MQ                float64 `json:"m_q"`
}

func (f ResolvedFactors) Value() (driver.Value, error) {
	type factors ResolvedFactors
	return jsonbValue(factors(f))
}

func (f *ResolvedFactors) Scan(src interface{}) error {
	type factors ResolvedFactors
	return jsonbScan(src, (*factors)(f))
}

// CalculationRun is the immutable audit record of one dose calculation.
// It pins the exact dataset and formula versions consulted so results stay
// reproducible after later re-versioning.
type CalculationRun struct {
	ID              uuid.UUID            `json:"id" db:"id"`
	RunTS           time.Time            `json:"run_ts" db:"run_ts"`
	Inputs          CalculationInputs    `json:"inputs" db:"inputs"`
	Environment     EnvironmentalReading `json:"environment" db:"environment"`
	Factors         ResolvedFactors      `json:"factors" db:"factors"`
	DatasetVersions VersionMap           `json:"dataset_versions" db:"dataset_versions"`
	FormulaVersion  int                  `json:"formula_version" db:"formula_version"`
	DoseGy          float64              `json:"dose_gy" db:"dose_gy"`
	DosePer100MUGy  *float64             `json:"dose_per_100mu_gy,omitempty" db:"dose_per_100mu_gy"`
	BoundaryClamped bool                 `json:"boundary_clamped" db:"boundary_clamped"`
	CreatedAt       time.Time            `json:"created_at" db:"created_at"`
}

// ValidationError represents a request validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
