package models

import (
	"errors"
	"strings"
	"testing"
)

func TestParseDatasetType(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    DatasetType
		wantErr bool
	}{
		{name: "kq table", input: "kq_table", want: DatasetKQTable},
		{name: "uppercase with spaces", input: "  PDD_Table ", want: DatasetPDDTable},
		{name: "environmental data", input: "environmental_data", want: DatasetEnvironmentalData},
		{name: "unknown type", input: "isotope_table", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDatasetType(tt.input)

			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDatasetType() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDatasetType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDepthDoseDatasetType(t *testing.T) {
	if got, err := DepthDoseDatasetType("pdd"); err != nil || got != DatasetPDDTable {
		t.Errorf("DepthDoseDatasetType(pdd) = %v, %v", got, err)
	}
	if got, err := DepthDoseDatasetType(" TPR "); err != nil || got != DatasetTPRTable {
		t.Errorf("DepthDoseDatasetType(TPR) = %v, %v", got, err)
	}
	if _, err := DepthDoseDatasetType("ssd"); err == nil {
		t.Error("DepthDoseDatasetType(ssd) should fail")
	}
}

func TestParseDatasetRows(t *testing.T) {
	tests := []struct {
		name       string
		t          DatasetType
		header     []string
		records    [][]string
		wantCount  int
		wantErr    bool
		violations []string
		checkRows  func(*testing.T, *DatasetVersion)
	}{
		{
			name:      "valid kq table",
			t:         DatasetKQTable,
			header:    []string{"chamber_type", "beam_quality", "kq"},
			records:   [][]string{{"FarmerA", "6MV", "0.98"}, {"FarmerA", "10MV", "0.973"}},
			wantCount: 2,
			checkRows: func(t *testing.T, v *DatasetVersion) {
				rows, err := v.KQRows()
				if err != nil {
					t.Fatalf("KQRows() error = %v", err)
				}
				if len(rows) != 2 {
					t.Fatalf("len(rows) = %d, want 2", len(rows))
				}
				if rows[0].ChamberType != "FarmerA" || rows[0].BeamQuality != "6MV" || rows[0].KQ != 0.98 {
					t.Errorf("rows[0] = %+v", rows[0])
				}
			},
		},
		{
			name:   "header case and whitespace ignored",
			t:      DatasetKQTable,
			header: []string{" Chamber_Type", "BEAM_QUALITY ", "kQ"},
			records: [][]string{
				{"FarmerA", "6MV", "0.98"},
			},
			wantCount: 1,
		},
		{
			name:   "extra columns ignored",
			t:      DatasetEnvironmentalData,
			header: []string{"location", "country", "temperature_c", "pressure_kpa"},
			records: [][]string{
				{"Lagos", "NG", "28", "100.9"},
			},
			wantCount: 1,
			checkRows: func(t *testing.T, v *DatasetVersion) {
				rows, err := v.EnvironmentalRows()
				if err != nil {
					t.Fatalf("EnvironmentalRows() error = %v", err)
				}
				if rows[0].Location != "Lagos" || rows[0].TemperatureC != 28 || rows[0].PressureKPa != 100.9 {
					t.Errorf("rows[0] = %+v", rows[0])
				}
			},
		},
		{
			name:       "missing required column",
			t:          DatasetKQTable,
			header:     []string{"chamber_type", "kq"},
			records:    [][]string{{"FarmerA", "0.98"}},
			wantErr:    true,
			violations: []string{`missing required column "beam_quality"`},
		},
		{
			name:       "empty dataset rejected",
			t:          DatasetPDDTable,
			header:     []string{"energy_mv", "field_size_cm", "depth_cm", "value"},
			records:    [][]string{},
			wantErr:    true,
			violations: []string{"dataset contains no rows"},
		},
		{
			name:   "all violations collected with row numbers",
			t:      DatasetKQTable,
			header: []string{"chamber_type", "beam_quality", "kq"},
			records: [][]string{
				{"FarmerA", "6MV", "abc"},
				{"", "10MV", "0.97"},
				{"FarmerB", "15MV", "-1"},
			},
			wantErr: true,
			violations: []string{
				`row 1: kq "abc" is not numeric`,
				"row 2: chamber_type is empty",
				"row 3: kq must be positive, got -1",
			},
		},
		{
			name:   "depth dose value must be positive",
			t:      DatasetTPRTable,
			header: []string{"energy_mv", "field_size_cm", "depth_cm", "value"},
			records: [][]string{
				{"6", "10", "5", "0"},
			},
			wantErr:    true,
			violations: []string{"row 1: value must be positive, got 0"},
		},
		{
			name:   "environmental pressure must be positive",
			t:      DatasetEnvironmentalData,
			header: []string{"location", "temperature_c", "pressure_kpa"},
			records: [][]string{
				{"Lagos", "28", "-5"},
			},
			wantErr:    true,
			violations: []string{"row 1: pressure_kpa must be positive, got -5"},
		},
		{
			name:   "short record treated as empty cells",
			t:      DatasetChamberDefaults,
			header: []string{"chamber_type", "ndw_60co", "rcav_cm", "reference_polarity"},
			records: [][]string{
				{"FarmerA", "5.2"},
			},
			wantErr: true,
			violations: []string{
				`row 1: rcav_cm "" is not numeric`,
				`row 1: reference_polarity "" is not numeric`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, count, err := ParseDatasetRows(tt.t, tt.header, tt.records)

			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDatasetRows() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantErr {
				var schemaErr *SchemaError
				if !errors.As(err, &schemaErr) {
					t.Fatalf("error type = %T, want *SchemaError", err)
				}
				for _, want := range tt.violations {
					found := false
					for _, got := range schemaErr.Violations {
						if strings.Contains(got, want) {
							found = true
							break
						}
					}
					if !found {
						t.Errorf("violations %v missing %q", schemaErr.Violations, want)
					}
				}
				return
			}

			if count != tt.wantCount {
				t.Errorf("row count = %d, want %d", count, tt.wantCount)
			}

			if tt.checkRows != nil {
				tt.checkRows(t, &DatasetVersion{DatasetType: tt.t, Rows: data})
			}
		})
	}
}

func TestRowsChecksum(t *testing.T) {
	dataA, _, err := ParseDatasetRows(DatasetKQTable,
		[]string{"chamber_type", "beam_quality", "kq"},
		[][]string{{"FarmerA", "6MV", "0.98"}})
	if err != nil {
		t.Fatalf("ParseDatasetRows() error = %v", err)
	}

	dataB, _, err := ParseDatasetRows(DatasetKQTable,
		[]string{"chamber_type", "beam_quality", "kq"},
		[][]string{{"FarmerA", "6MV", "0.99"}})
	if err != nil {
		t.Fatalf("ParseDatasetRows() error = %v", err)
	}

	sumA := RowsChecksum(dataA)
	if sumA != RowsChecksum(dataA) {
		t.Error("checksum should be deterministic")
	}
	if sumA == RowsChecksum(dataB) {
		t.Error("different rows should produce different checksums")
	}
	if len(sumA) != 64 {
		t.Errorf("checksum length = %d, want 64 hex chars", len(sumA))
	}
}

func TestDatasetVersion_TypedRowAccessors(t *testing.T) {
	data, _, err := ParseDatasetRows(DatasetPDDTable,
		[]string{"energy_mv", "field_size_cm", "depth_cm", "value"},
		[][]string{{"6", "10", "5", "0.80"}, {"6", "10", "10", "0.65"}})
	if err != nil {
		t.Fatalf("ParseDatasetRows() error = %v", err)
	}

	v := &DatasetVersion{DatasetType: DatasetPDDTable, Rows: data}

	rows, err := v.DepthDoseRows()
	if err != nil {
		t.Fatalf("DepthDoseRows() error = %v", err)
	}
	if len(rows) != 2 || rows[1].DepthCM != 10 || rows[1].Value != 0.65 {
		t.Errorf("rows = %+v", rows)
	}

	// Wrong-type access must fail rather than decode garbage
	if _, err := v.KQRows(); err == nil {
		t.Error("KQRows() on a pdd_table version should fail")
	}
}
