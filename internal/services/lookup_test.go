package services

import (
	"errors"
	"math"
	"testing"

	"dosimetry-platform/internal/models"
)

var kqFixture = []models.KQRow{
	{ChamberType: "FarmerA", BeamQuality: "6MV", KQ: 0.98},
	{ChamberType: "FarmerA", BeamQuality: "10MV", KQ: 0.973},
	{ChamberType: "FarmerB", BeamQuality: "6MV", KQ: 0.992},
}

func TestLookupKQ(t *testing.T) {
	tests := []struct {
		name        string
		chamberType string
		beamQuality string
		want        float64
		wantMiss    bool
	}{
		{name: "exact match", chamberType: "FarmerA", beamQuality: "6MV", want: 0.98},
		{name: "second chamber", chamberType: "FarmerB", beamQuality: "6MV", want: 0.992},
		{name: "unknown chamber", chamberType: "FarmerC", beamQuality: "6MV", wantMiss: true},
		{name: "unknown beam quality", chamberType: "FarmerA", beamQuality: "18MV", wantMiss: true},
		{name: "match is case sensitive", chamberType: "farmera", beamQuality: "6MV", wantMiss: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LookupKQ(kqFixture, tt.chamberType, tt.beamQuality)

			if tt.wantMiss {
				var miss *LookupMissError
				if !errors.As(err, &miss) {
					t.Fatalf("error = %v, want *LookupMissError", err)
				}
				if miss.Table != string(models.DatasetKQTable) {
					t.Errorf("miss.Table = %v", miss.Table)
				}
				return
			}

			if err != nil {
				t.Fatalf("LookupKQ() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("LookupKQ() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLookupChamberDefaults(t *testing.T) {
	rows := []models.ChamberDefaultsRow{
		{ChamberType: "FarmerA", NDw60Co: 5.2, RcavCM: 0.6, ReferencePolarity: 1.0},
		{ChamberType: "FarmerB", NDw60Co: 5.35, RcavCM: 0.6, ReferencePolarity: -1.0},
	}

	got, err := LookupChamberDefaults(rows, "FarmerA")
	if err != nil {
		t.Fatalf("LookupChamberDefaults() error = %v", err)
	}
	if got.NDw60Co != 5.2 || got.RcavCM != 0.6 || got.ReferencePolarity != 1.0 {
		t.Errorf("LookupChamberDefaults() = %+v", got)
	}

	if _, err := LookupChamberDefaults(rows, "FarmerC"); err == nil {
		t.Error("unknown chamber should miss")
	}

	var miss *LookupMissError
	_, err = LookupChamberDefaults(nil, "FarmerA")
	if !errors.As(err, &miss) {
		t.Errorf("empty table error = %v, want *LookupMissError", err)
	}
}

var depthDoseFixture = []models.DepthDoseRow{
	{EnergyMV: 6, FieldSizeCM: 10, DepthCM: 5, Value: 0.80},
	{EnergyMV: 6, FieldSizeCM: 10, DepthCM: 10, Value: 0.65},
	{EnergyMV: 6, FieldSizeCM: 10, DepthCM: 1.5, Value: 1.00},
	{EnergyMV: 10, FieldSizeCM: 10, DepthCM: 10, Value: 0.73},
}

func TestLookupDepthDose(t *testing.T) {
	tests := []struct {
		name        string
		energyMV    float64
		fieldSizeCM float64
		depthCM     float64
		want        float64
		wantClamped bool
		wantMiss    bool
	}{
		{
			name:     "interpolates between bracketing depths",
			energyMV: 6, fieldSizeCM: 10, depthCM: 7.5,
			want: 0.725,
		},
		{
			name:     "exact table point uses stored value",
			energyMV: 6, fieldSizeCM: 10, depthCM: 5,
			want: 0.80,
		},
		{
			name:     "exact point within epsilon",
			energyMV: 6.0000000001, fieldSizeCM: 10, depthCM: 10,
			want: 0.65,
		},
		{
			name:     "below range clamps to shallowest row",
			energyMV: 6, fieldSizeCM: 10, depthCM: 0.5,
			want: 1.00, wantClamped: true,
		},
		{
			name:     "above range clamps to deepest row",
			energyMV: 6, fieldSizeCM: 10, depthCM: 25,
			want: 0.65, wantClamped: true,
		},
		{
			name:     "unmatched energy misses",
			energyMV: 18, fieldSizeCM: 10, depthCM: 5,
			wantMiss: true,
		},
		{
			name:     "unmatched field size misses",
			energyMV: 6, fieldSizeCM: 20, depthCM: 5,
			wantMiss: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LookupDepthDose(models.DatasetPDDTable, depthDoseFixture, tt.energyMV, tt.fieldSizeCM, tt.depthCM)

			if tt.wantMiss {
				var miss *LookupMissError
				if !errors.As(err, &miss) {
					t.Fatalf("error = %v, want *LookupMissError", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("LookupDepthDose() error = %v", err)
			}

			if math.Abs(got.Value-tt.want) > 1e-12 {
				t.Errorf("Value = %v, want %v", got.Value, tt.want)
			}
			if got.Clamped != tt.wantClamped {
				t.Errorf("Clamped = %v, want %v", got.Clamped, tt.wantClamped)
			}
		})
	}
}

func TestLookupDepthDose_EmptyTable(t *testing.T) {
	_, err := LookupDepthDose(models.DatasetTPRTable, nil, 6, 10, 5)

	var miss *LookupMissError
	if !errors.As(err, &miss) {
		t.Fatalf("error = %v, want *LookupMissError", err)
	}
	if miss.Table != string(models.DatasetTPRTable) {
		t.Errorf("miss.Table = %v, want tpr_table", miss.Table)
	}
}
