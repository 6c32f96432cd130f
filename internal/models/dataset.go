package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DatasetType identifies one of the reference table families
type DatasetType string

const (
	DatasetKQTable           DatasetType = "kq_table"
	DatasetPDDTable          DatasetType = "pdd_table"
	DatasetTPRTable          DatasetType = "tpr_table"
	DatasetChamberDefaults   DatasetType = "chamber_defaults"
	DatasetEnvironmentalData DatasetType = "environmental_data"
)

// AllDatasetTypes lists every recognized dataset type
var AllDatasetTypes = []DatasetType{
	DatasetKQTable,
	DatasetPDDTable,
	DatasetTPRTable,
	DatasetChamberDefaults,
	DatasetEnvironmentalData,
}

// ParseDatasetType validates a dataset type string
func ParseDatasetType(s string) (DatasetType, error) {
	t := DatasetType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllDatasetTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown dataset type %q", s)
}

// Depth dose table selectors used by calculation requests
const (
	TableTypePDD = "pdd"
	TableTypeTPR = "tpr"
)

// DepthDoseDatasetType maps a table selector to its dataset type
func DepthDoseDatasetType(tableType string) (DatasetType, error) {
	switch strings.ToLower(strings.TrimSpace(tableType)) {
	case TableTypePDD:
		return DatasetPDDTable, nil
	case TableTypeTPR:
		return DatasetTPRTable, nil
	default:
		return "", fmt.Errorf("unknown table type %q", tableType)
	}
}

// DatasetColumns returns the required upload columns for a dataset type
func DatasetColumns(t DatasetType) []string {
	switch t {
	case DatasetKQTable:
		return []string{"chamber_type", "beam_quality", "kq"}
	case DatasetPDDTable, DatasetTPRTable:
		return []string{"energy_mv", "field_size_cm", "depth_cm", "value"}
	case DatasetChamberDefaults:
		return []string{"chamber_type", "ndw_60co", "rcav_cm", "reference_polarity"}
	case DatasetEnvironmentalData:
		return []string{"location", "temperature_c", "pressure_kpa"}
	default:
		return nil
	}
}

// KQRow is one beam-quality correction factor entry
type KQRow struct {
	ChamberType string  `json:"chamber_type"`
	BeamQuality string  `json:"beam_quality"`
	KQ          float64 `json:"kq"`
}

// DepthDoseRow is one PDD/TPR table entry
type DepthDoseRow struct {
	EnergyMV    float64 `json:"energy_mv"`
	FieldSizeCM float64 `json:"field_size_cm"`
	DepthCM     float64 `json:"depth_cm"`
	Value       float64 `json:"value"`
}

// ChamberDefaultsRow holds per-chamber calibration constants
type ChamberDefaultsRow struct {
	ChamberType       string  `json:"chamber_type"`
	NDw60Co           float64 `json:"ndw_60co"`
	RcavCM            float64 `json:"rcav_cm"`
	ReferencePolarity float64 `json:"reference_polarity"`
}

// EnvironmentalRow is one stored temperature/pressure reading keyed by location
type EnvironmentalRow struct {
	Location     string  `json:"location"`
	TemperatureC float64 `json:"temperature_c"`
	PressureKPa  float64 `json:"pressure_kpa"`
}

// DatasetVersion is an immutable versioned snapshot of one reference table.
// Rows preserve upload order; version numbers are monotonic per dataset type.
type DatasetVersion struct {
	ID          int64           `json:"id" db:"id"`
	DatasetType DatasetType     `json:"dataset_type" db:"dataset_type"`
	Version     int             `json:"version" db:"version"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	Rows        json.RawMessage `json:"rows" db:"dataset_rows"`
	RowCount    int             `json:"row_count" db:"row_count"`
	Checksum    string          `json:"checksum" db:"checksum"`
	Notes       string          `json:"notes" db:"notes"`
	CreatedBy   string          `json:"created_by" db:"created_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// KQRows decodes the version's rows as kQ table entries
func (v *DatasetVersion) KQRows() ([]KQRow, error) {
	if v.DatasetType != DatasetKQTable {
		return nil, fmt.Errorf("dataset %s is not a kq_table", v.DatasetType)
	}
	var rows []KQRow
	if err := json.Unmarshal(v.Rows, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode kq_table rows: %w", err)
	}
	return rows, nil
}

// DepthDoseRows decodes the version's rows as PDD/TPR entries
func (v *DatasetVersion) DepthDoseRows() ([]DepthDoseRow, error) {
	if v.DatasetType != DatasetPDDTable && v.DatasetType != DatasetTPRTable {
		return nil, fmt.Errorf("dataset %s is not a depth dose table", v.DatasetType)
	}
	var rows []DepthDoseRow
	if err := json.Unmarshal(v.Rows, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode depth dose rows: %w", err)
	}
	return rows, nil
}

// ChamberDefaultRows decodes the version's rows as chamber calibration entries
func (v *DatasetVersion) ChamberDefaultRows() ([]ChamberDefaultsRow, error) {
	if v.DatasetType != DatasetChamberDefaults {
		return nil, fmt.Errorf("dataset %s is not chamber_defaults", v.DatasetType)
	}
	var rows []ChamberDefaultsRow
	if err := json.Unmarshal(v.Rows, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode chamber_defaults rows: %w", err)
	}
	return rows, nil
}

// EnvironmentalRows decodes the version's rows as environmental readings
func (v *DatasetVersion) EnvironmentalRows() ([]EnvironmentalRow, error) {
	if v.DatasetType != DatasetEnvironmentalData {
		return nil, fmt.Errorf("dataset %s is not environmental_data", v.DatasetType)
	}
	var rows []EnvironmentalRow
	if err := json.Unmarshal(v.Rows, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode environmental_data rows: %w", err)
	}
	return rows, nil
}

// SchemaError reports a dataset or formula upload that failed validation.
// The upload is rejected as a whole; nothing is persisted.
type SchemaError struct {
	DatasetType string
	Violations  []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s failed validation: %s", e.DatasetType, strings.Join(e.Violations, "; "))
}

// IsTransient returns false as schema errors are permanent
func (e *SchemaError) IsTransient() bool {
	return false
}

// ParseDatasetRows validates tabular upload data against the dataset type's
// schema and returns the rows encoded in storage form, preserving input
// order. Column matching is by exact header name; extra columns are ignored.
// All violations are collected into a single SchemaError.
func ParseDatasetRows(t DatasetType, header []string, records [][]string) (json.RawMessage, int, error) {
	columns := DatasetColumns(t)
	if columns == nil {
		return nil, 0, fmt.Errorf("unknown dataset type %q", t)
	}

	schemaErr := &SchemaError{DatasetType: string(t)}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, col := range columns {
		if _, ok := index[col]; !ok {
			schemaErr.Violations = append(schemaErr.Violations, fmt.Sprintf("missing required column %q", col))
		}
	}
	if len(schemaErr.Violations) > 0 {
		return nil, 0, schemaErr
	}

	if len(records) == 0 {
		schemaErr.Violations = append(schemaErr.Violations, "dataset contains no rows")
		return nil, 0, schemaErr
	}

	cell := func(record []string, col string) string {
		i := index[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	numeric := func(record []string, col string, row int) float64 {
		raw := cell(record, col)
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			schemaErr.Violations = append(schemaErr.Violations, fmt.Sprintf("row %d: %s %q is not numeric", row, col, raw))
			return 0
		}
		return f
	}

	text := func(record []string, col string, row int) string {
		raw := cell(record, col)
		if raw == "" {
			schemaErr.Violations = append(schemaErr.Violations, fmt.Sprintf("row %d: %s is empty", row, col))
		}
		return raw
	}

	positive := func(value float64, col string, row int) {
		if value <= 0 {
			schemaErr.Violations = append(schemaErr.Violations, fmt.Sprintf("row %d: %s must be positive, got %g", row, col, value))
		}
	}

	var encoded interface{}

	switch t {
	case DatasetKQTable:
		rows := make([]KQRow, 0, len(records))
		for i, record := range records {
			row := i + 1
			r := KQRow{
				ChamberType: text(record, "chamber_type", row),
				BeamQuality: text(record, "beam_quality", row),
				KQ:          numeric(record, "kq", row),
			}
			positive(r.KQ, "kq", row)
			rows = append(rows, r)
		}
		encoded = rows

	case DatasetPDDTable, DatasetTPRTable:
		rows := make([]DepthDoseRow, 0, len(records))
		for i, record := range records {
			row := i + 1
			r := DepthDoseRow{
				EnergyMV:    numeric(record, "energy_mv", row),
				FieldSizeCM: numeric(record, "field_size_cm", row),
				DepthCM:     numeric(record, "depth_cm", row),
				Value:       numeric(record, "value", row),
			}
			positive(r.Value, "value", row)
			rows = append(rows, r)
		}
		encoded = rows

	case DatasetChamberDefaults:
		rows := make([]ChamberDefaultsRow, 0, len(records))
		for i, record := range records {
			row := i + 1
			r := ChamberDefaultsRow{
				ChamberType:       text(record, "chamber_type", row),
				NDw60Co:           numeric(record, "ndw_60co", row),
				RcavCM:            numeric(record, "rcav_cm", row),
				ReferencePolarity: numeric(record, "reference_polarity", row),
			}
			positive(r.NDw60Co, "ndw_60co", row)
			rows = append(rows, r)
		}
		encoded = rows

	case DatasetEnvironmentalData:
		rows := make([]EnvironmentalRow, 0, len(records))
		for i, record := range records {
			row := i + 1
			r := EnvironmentalRow{
				Location:     text(record, "location", row),
				TemperatureC: numeric(record, "temperature_c", row),
				PressureKPa:  numeric(record, "pressure_kpa", row),
			}
			positive(r.PressureKPa, "pressure_kpa", row)
			rows = append(rows, r)
		}
		encoded = rows
	}

	if len(schemaErr.Violations) > 0 {
		return nil, 0, schemaErr
	}

	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode dataset rows: %w", err)
	}

	return data, len(records), nil
}

// RowsChecksum computes the checksum stored alongside a dataset version
func RowsChecksum(rows json.RawMessage) string {
	sum := sha256.Sum256(rows)
	return hex.EncodeToString(sum[:])
}
