package services

import (
	"fmt"
	"sort"

	"dosimetry-platform/internal/models"
)

// axisEpsilon absorbs float noise on categorical numeric axes so CSV
// round-trips ("6" vs "6.0") compare equal.
const axisEpsilon = 1e-9

func axisEqual(a, b float64) bool {
	diff := a - b
	return diff < axisEpsilon && diff > -axisEpsilon
}

// LookupMissError reports a reference table row that does not exist for the
// requested categorical keys. Calculations treat this as terminal.
type LookupMissError struct {
	Table string
	Key   string
}

func (e *LookupMissError) Error() string {
	return fmt.Sprintf("no %s row matches %s", e.Table, e.Key)
}

func (e *LookupMissError) IsTransient() bool {
	return false
}

// LookupKQ resolves the beam-quality correction factor by exact match on
// (chamber_type, beam_quality).
func LookupKQ(rows []models.KQRow, chamberType, beamQuality string) (float64, error) {
	for _, row := range rows {
		if row.ChamberType == chamberType && row.BeamQuality == beamQuality {
			return row.KQ, nil
		}
	}
	return 0, &LookupMissError{
		Table: string(models.DatasetKQTable),
		Key:   fmt.Sprintf("chamber_type=%q beam_quality=%q", chamberType, beamQuality),
	}
}

// LookupChamberDefaults resolves per-chamber calibration constants by exact
// match on chamber_type.
func LookupChamberDefaults(rows []models.ChamberDefaultsRow, chamberType string) (*models.ChamberDefaultsRow, error) {
	for i := range rows {
		if rows[i].ChamberType == chamberType {
			return &rows[i], nil
		}
	}
	return nil, &LookupMissError{
		Table: string(models.DatasetChamberDefaults),
		Key:   fmt.Sprintf("chamber_type=%q", chamberType),
	}
}

// DepthDoseResult carries an interpolated PDD/TPR value. Clamped is set when
// the requested depth fell outside the table's covered range and the nearest
// boundary value was used instead.
type DepthDoseResult struct {
	Value   float64
	Clamped bool
}

// LookupDepthDose resolves a PDD/TPR value for the requested depth. Energy
// and field size are categorical axes matched exactly; depth is interpolated
// linearly between the two bracketing rows. Depths outside the covered range
// clamp to the nearest boundary row.
func LookupDepthDose(table models.DatasetType, rows []models.DepthDoseRow, energyMV, fieldSizeCM, depthCM float64) (DepthDoseResult, error) {
	matched := make([]models.DepthDoseRow, 0, len(rows))
	for _, row := range rows {
		if axisEqual(row.EnergyMV, energyMV) && axisEqual(row.FieldSizeCM, fieldSizeCM) {
			matched = append(matched, row)
		}
	}

	if len(matched) == 0 {
		return DepthDoseResult{}, &LookupMissError{
			Table: string(table),
			Key:   fmt.Sprintf("energy_mv=%g field_size_cm=%g", energyMV, fieldSizeCM),
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DepthCM < matched[j].DepthCM
	})

	// Exact table points short-circuit with the stored value
	for _, row := range matched {
		if axisEqual(row.DepthCM, depthCM) {
			return DepthDoseResult{Value: row.Value}, nil
		}
	}

	if depthCM < matched[0].DepthCM {
		return DepthDoseResult{Value: matched[0].Value, Clamped: true}, nil
	}
	if depthCM > matched[len(matched)-1].DepthCM {
		return DepthDoseResult{Value: matched[len(matched)-1].Value, Clamped: true}, nil
	}

	for i := 1; i < len(matched); i++ {
		if matched[i].DepthCM > depthCM {
			lower, upper := matched[i-1], matched[i]
			fraction := (depthCM - lower.DepthCM) / (upper.DepthCM - lower.DepthCM)
			value := lower.Value + fraction*(upper.Value-lower.Value)
			return DepthDoseResult{Value: value}, nil
		}
	}

	return DepthDoseResult{Value: matched[len(matched)-1].Value}, nil
}
