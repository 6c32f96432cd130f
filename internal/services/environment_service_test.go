package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"dosimetry-platform/internal/models"
)

func newDatasetEnvService(t *testing.T, records [][]string) *EnvironmentService {
	t.Helper()

	repo := &fakeRefRepo{
		datasets: map[models.DatasetType]*models.DatasetVersion{
			models.DatasetEnvironmentalData: mustDataset(t, models.DatasetEnvironmentalData, 4,
				[]string{"location", "temperature_c", "pressure_kpa"}, records),
		},
	}
	return NewEnvironmentService(repo, nil, nil, testLogger, testMetrics)
}

func TestResolve_DatasetMatching(t *testing.T) {
	service := newDatasetEnvService(t, [][]string{
		{"Lagos", "28", "100.9"},
		{"New York", "22", "101.3"},
		{"York", "10", "101.0"},
	})

	tests := []struct {
		name         string
		query        string
		wantLocation string
		wantTempC    float64
	}{
		{
			name:         "exact match",
			query:        "Lagos",
			wantLocation: "Lagos",
			wantTempC:    28,
		},
		{
			name:         "case insensitive",
			query:        "lagos",
			wantLocation: "Lagos",
			wantTempC:    28,
		},
		{
			name:         "surrounding whitespace ignored",
			query:        "  Lagos  ",
			wantLocation: "Lagos",
			wantTempC:    28,
		},
		{
			name:         "punctuation normalized",
			query:        "new-york",
			wantLocation: "New York",
			wantTempC:    22,
		},
		{
			name:         "exact match wins over earlier substring match",
			query:        "york",
			wantLocation: "York",
			wantTempC:    10,
		},
		{
			name:         "substring falls back to first row in dataset order",
			query:        "ork",
			wantLocation: "New York",
			wantTempC:    22,
		},
		{
			name:         "empty query matches first row",
			query:        "",
			wantLocation: "Lagos",
			wantTempC:    28,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading, version, err := service.Resolve(context.Background(), models.SourceDataset, tt.query)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.query, err)
			}
			if reading.Location != tt.wantLocation {
				t.Errorf("Location = %q, want %q", reading.Location, tt.wantLocation)
			}
			if reading.TemperatureC != tt.wantTempC {
				t.Errorf("TemperatureC = %g, want %g", reading.TemperatureC, tt.wantTempC)
			}
			if reading.Source != models.SourceDataset {
				t.Errorf("Source = %q, want %q", reading.Source, models.SourceDataset)
			}
			if version != 4 {
				t.Errorf("version = %d, want 4", version)
			}
			if reading.Latitude != nil || reading.Longitude != nil {
				t.Error("dataset readings must not carry coordinates")
			}
		})
	}
}

func TestResolve_DatasetMiss(t *testing.T) {
	service := newDatasetEnvService(t, [][]string{
		{"Lagos", "28", "100.9"},
	})

	reading, version, err := service.Resolve(context.Background(), models.SourceDataset, "Tokyo")
	if reading != nil || version != 0 {
		t.Fatalf("Resolve miss = (%v, %d), want (nil, 0)", reading, version)
	}

	var unavailable *EnvironmentalDataUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %T, want *EnvironmentalDataUnavailableError", err)
	}
	if unavailable.Source != models.SourceDataset {
		t.Errorf("Source = %q, want %q", unavailable.Source, models.SourceDataset)
	}
	if unavailable.IsTransient() {
		t.Error("dataset miss must not be transient")
	}
}

func TestResolve_DatasetNoActiveVersion(t *testing.T) {
	service := NewEnvironmentService(&fakeRefRepo{}, nil, nil, testLogger, testMetrics)

	_, _, err := service.Resolve(context.Background(), models.SourceDataset, "Lagos")

	var unavailable *EnvironmentalDataUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %T, want *EnvironmentalDataUnavailableError", err)
	}
	if unavailable.Source != models.SourceDataset {
		t.Errorf("Source = %q, want %q", unavailable.Source, models.SourceDataset)
	}
	if unavailable.IsTransient() {
		t.Error("missing dataset must not be transient")
	}
}

func TestResolve_Live(t *testing.T) {
	point := GeoPoint{Name: "Lagos", Latitude: 6.45, Longitude: 3.39}

	tests := []struct {
		name    string
		geo     *fakeGeo
		weather *fakeWeather
		check   func(t *testing.T, reading *models.EnvironmentalReading, err error)
	}{
		{
			name: "successful lookup",
			geo: &fakeGeo{locate: func(ctx context.Context, query string) (*GeoPoint, error) {
				return &point, nil
			}},
			weather: &fakeWeather{current: func(ctx context.Context, p GeoPoint) (*CurrentConditions, error) {
				return &CurrentConditions{TemperatureC: 31.5, PressureKPa: 100.2}, nil
			}},
			check: func(t *testing.T, reading *models.EnvironmentalReading, err error) {
				if err != nil {
					t.Fatalf("Resolve() error = %v", err)
				}
				if reading.Location != "Lagos" || reading.TemperatureC != 31.5 || reading.PressureKPa != 100.2 {
					t.Errorf("reading = %+v", reading)
				}
				if reading.Source != models.SourceLive {
					t.Errorf("Source = %q, want %q", reading.Source, models.SourceLive)
				}
				if reading.Latitude == nil || *reading.Latitude != 6.45 {
					t.Errorf("Latitude = %v, want 6.45", reading.Latitude)
				}
				if reading.Longitude == nil || *reading.Longitude != 3.39 {
					t.Errorf("Longitude = %v, want 3.39", reading.Longitude)
				}
			},
		},
		{
			name: "geolocation failure is transient",
			geo: &fakeGeo{locate: func(ctx context.Context, query string) (*GeoPoint, error) {
				return nil, fmt.Errorf("connection refused")
			}},
			check: func(t *testing.T, reading *models.EnvironmentalReading, err error) {
				if reading != nil {
					t.Fatalf("reading = %+v, want nil", reading)
				}
				var unavailable *EnvironmentalDataUnavailableError
				if !errors.As(err, &unavailable) {
					t.Fatalf("error = %T, want *EnvironmentalDataUnavailableError", err)
				}
				if !unavailable.IsTransient() {
					t.Error("live failure must be transient")
				}
			},
		},
		{
			name: "weather failure is transient",
			geo: &fakeGeo{locate: func(ctx context.Context, query string) (*GeoPoint, error) {
				return &point, nil
			}},
			weather: &fakeWeather{current: func(ctx context.Context, p GeoPoint) (*CurrentConditions, error) {
				return nil, fmt.Errorf("status 502")
			}},
			check: func(t *testing.T, reading *models.EnvironmentalReading, err error) {
				var unavailable *EnvironmentalDataUnavailableError
				if !errors.As(err, &unavailable) {
					t.Fatalf("error = %T, want *EnvironmentalDataUnavailableError", err)
				}
				if unavailable.Source != models.SourceLive || !unavailable.IsTransient() {
					t.Errorf("Source = %q, IsTransient = %v", unavailable.Source, unavailable.IsTransient())
				}
			},
		},
		{
			name: "non-physical pressure rejected",
			geo: &fakeGeo{locate: func(ctx context.Context, query string) (*GeoPoint, error) {
				return &point, nil
			}},
			weather: &fakeWeather{current: func(ctx context.Context, p GeoPoint) (*CurrentConditions, error) {
				return &CurrentConditions{TemperatureC: 20, PressureKPa: 0}, nil
			}},
			check: func(t *testing.T, reading *models.EnvironmentalReading, err error) {
				var unavailable *EnvironmentalDataUnavailableError
				if !errors.As(err, &unavailable) {
					t.Fatalf("error = %T, want *EnvironmentalDataUnavailableError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewEnvironmentService(&fakeRefRepo{}, tt.geo, tt.weather, testLogger, testMetrics)
			reading, version, err := service.Resolve(context.Background(), models.SourceLive, "Lagos")
			if version != 0 {
				t.Errorf("version = %d, want 0 in live mode", version)
			}
			tt.check(t, reading, err)
		})
	}
}
