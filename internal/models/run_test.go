package models

import (
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func validRequest() *CalculationRequest {
	return &CalculationRequest{
		ChamberType: "FarmerA",
		BeamQuality: "6MV",
		TableType:   "pdd",
		EnergyMV:    6,
		FieldSizeCM: 10,
		DepthCM:     7.5,
		Location:    "Lagos",
	}
}

func TestCalculationRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CalculationRequest)
		wantErr bool
	}{
		{
			name:   "valid minimal request",
			mutate: func(r *CalculationRequest) {},
		},
		{
			name:    "missing chamber type",
			mutate:  func(r *CalculationRequest) { r.ChamberType = "" },
			wantErr: true,
		},
		{
			name:    "missing beam quality",
			mutate:  func(r *CalculationRequest) { r.BeamQuality = "" },
			wantErr: true,
		},
		{
			name:    "unknown table type",
			mutate:  func(r *CalculationRequest) { r.TableType = "ssd" },
			wantErr: true,
		},
		{
			name:    "non-positive energy",
			mutate:  func(r *CalculationRequest) { r.EnergyMV = 0 },
			wantErr: true,
		},
		{
			name:    "non-positive field size",
			mutate:  func(r *CalculationRequest) { r.FieldSizeCM = -10 },
			wantErr: true,
		},
		{
			name:    "negative depth",
			mutate:  func(r *CalculationRequest) { r.DepthCM = -1 },
			wantErr: true,
		},
		{
			name:   "surface depth allowed",
			mutate: func(r *CalculationRequest) { r.DepthCM = 0 },
		},
		{
			name:    "non-positive reference pressure",
			mutate:  func(r *CalculationRequest) { r.P0KPa = floatPtr(0) },
			wantErr: true,
		},
		{
			name: "valid meter block",
			mutate: func(r *CalculationRequest) {
				r.Meter = &MeterReading{MRaw: 20, ReadingUnit: UnitNanocoulomb, MUMeas: floatPtr(100)}
			},
		},
		{
			name: "unsupported reading unit",
			mutate: func(r *CalculationRequest) {
				r.Meter = &MeterReading{MRaw: 20, ReadingUnit: "mC"}
			},
			wantErr: true,
		},
		{
			name: "non-positive mu_meas",
			mutate: func(r *CalculationRequest) {
				r.Meter = &MeterReading{MRaw: 20, MUMeas: floatPtr(0)}
			},
			wantErr: true,
		},
		{
			name: "partial two-voltage block",
			mutate: func(r *CalculationRequest) {
				r.Meter = &MeterReading{MRaw: 20, MHigh: floatPtr(20), VHigh: floatPtr(300)}
			},
			wantErr: true,
		},
		{
			name: "complete two-voltage block",
			mutate: func(r *CalculationRequest) {
				r.Meter = &MeterReading{
					MRaw:  20,
					MHigh: floatPtr(20), MLow: floatPtr(19.8),
					VHigh: floatPtr(300), VLow: floatPtr(150),
				}
			},
		},
		{
			name: "m_pos without m_neg",
			mutate: func(r *CalculationRequest) {
				r.Meter = &MeterReading{MRaw: 20, MPos: floatPtr(20)}
			},
			wantErr: true,
		},
		{
			name: "non-positive p_elec",
			mutate: func(r *CalculationRequest) {
				r.Meter = &MeterReading{MRaw: 20, PElec: floatPtr(0)}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMeterReading_Coulombs(t *testing.T) {
	tests := []struct {
		name    string
		reading MeterReading
		want    float64
		wantErr bool
	}{
		{name: "default unit is nC", reading: MeterReading{MRaw: 20}, want: 20e-9},
		{name: "explicit nC", reading: MeterReading{MRaw: 20, ReadingUnit: UnitNanocoulomb}, want: 20e-9},
		{name: "pC", reading: MeterReading{MRaw: 500, ReadingUnit: UnitPicocoulomb}, want: 500e-12},
		{name: "C", reading: MeterReading{MRaw: 2e-8, ReadingUnit: UnitCoulomb}, want: 2e-8},
		{name: "unknown unit", reading: MeterReading{MRaw: 20, ReadingUnit: "mC"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.reading.Coulombs()

			if (err != nil) != tt.wantErr {
				t.Errorf("Coulombs() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && got != tt.want {
				t.Errorf("Coulombs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:   "depth_cm",
		Value:   "-1",
		Message: "depth_cm cannot be negative",
	}

	if err.Error() != "depth_cm cannot be negative" {
		t.Errorf("Error() = %v, want %v", err.Error(), "depth_cm cannot be negative")
	}

	if err.IsTransient() {
		t.Error("ValidationError should not be transient")
	}
}

func TestSchemaError(t *testing.T) {
	err := &SchemaError{
		DatasetType: "kq_table",
		Violations:  []string{"row 1: kq must be positive, got -1"},
	}

	if err.IsTransient() {
		t.Error("SchemaError should not be transient")
	}

	if err.Error() == "" {
		t.Error("Error() should describe the violations")
	}
}
