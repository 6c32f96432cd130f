package models

import (
	"database/sql/driver"
	"strings"
)

// EnvironmentSource selects where temperature/pressure readings come from
type EnvironmentSource string

const (
	SourceDataset EnvironmentSource = "dataset"
	SourceLive    EnvironmentSource = "live"
)

// ParseEnvironmentSource validates an environment source string
func ParseEnvironmentSource(s string) (EnvironmentSource, bool) {
	source := EnvironmentSource(strings.ToLower(strings.TrimSpace(s)))
	if source == SourceDataset || source == SourceLive {
		return source, true
	}
	return "", false
}

// EnvironmentalReading is a resolved temperature/pressure pair. It is
// computed per request and persisted only inside a CalculationRun.
type EnvironmentalReading struct {
	Location     string            `json:"location"`
	TemperatureC float64           `json:"temperature_c"`
	PressureKPa  float64           `json:"pressure_kpa"`
	Source       EnvironmentSource `json:"source"`
	Latitude     *float64          `json:"latitude,omitempty"`
	Longitude    *float64          `json:"longitude,omitempty"`
}

func (r EnvironmentalReading) Value() (driver.Value, error) {
	type reading EnvironmentalReading
	return jsonbValue(reading(r))
}

func (r *EnvironmentalReading) Scan(src interface{}) error {
	type reading EnvironmentalReading
	return jsonbScan(src, (*reading)(r))
}
