package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"dosimetry-platform/internal/models"
	"dosimetry-platform/internal/repository"
	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// GeoPoint is a resolved coarse location
type GeoPoint struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// CurrentConditions is a live temperature/pressure observation
type CurrentConditions struct {
	TemperatureC float64
	PressureKPa  float64
}

// GeolocationProvider resolves a location query (or, with an empty query,
// the caller's IP) to coordinates. A single bounded attempt; failures are
// surfaced, never masked with fallback values.
type GeolocationProvider interface {
	Locate(ctx context.Context, query string) (*GeoPoint, error)
}

// WeatherProvider fetches current conditions for coordinates. Same failure
// contract as GeolocationProvider.
type WeatherProvider interface {
	Current(ctx context.Context, point GeoPoint) (*CurrentConditions, error)
}

// EnvironmentalDataUnavailableError reports that no temperature/pressure
// reading could be obtained. The calculation must abort; no manual or
// synthetic value is ever substituted.
type EnvironmentalDataUnavailableError struct {
	Source models.EnvironmentSource
	Reason string
}

func (e *EnvironmentalDataUnavailableError) Error() string {
	return fmt.Sprintf("environmental data unavailable (%s): %s", e.Source, e.Reason)
}

// IsTransient reports whether a retry could succeed. Live provider failures
// may clear; dataset misses will not until the dataset changes.
func (e *EnvironmentalDataUnavailableError) IsTransient() bool {
	return e.Source == models.SourceLive
}

// EnvironmentService resolves temperature/pressure readings from the active
// environmental dataset or live providers, per the mode passed by the caller.
type EnvironmentService struct {
	repo    repository.ReferenceRepository
	geo     GeolocationProvider
	weather WeatherProvider
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewEnvironmentService creates a new environment service
func NewEnvironmentService(repo repository.ReferenceRepository, geo GeolocationProvider, weather WeatherProvider, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *EnvironmentService {
	return &EnvironmentService{
		repo:    repo,
		geo:     geo,
		weather: weather,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Resolve returns a reading for the location under the given source mode.
// The returned version is the environmental dataset version consulted, or 0
// in live mode.
func (s *EnvironmentService) Resolve(ctx context.Context, source models.EnvironmentSource, location string) (*models.EnvironmentalReading, int, error) {
	switch source {
	case models.SourceDataset:
		return s.resolveFromDataset(ctx, location)
	case models.SourceLive:
		reading, err := s.resolveLive(ctx, location)
		return reading, 0, err
	default:
		return nil, 0, fmt.Errorf("unknown environment source %q", source)
	}
}

func (s *EnvironmentService) resolveFromDataset(ctx context.Context, location string) (*models.EnvironmentalReading, int, error) {
	version, err := s.repo.GetActiveDataset(ctx, models.DatasetEnvironmentalData)
	if err != nil {
		var noActive *repository.NoActiveVersionError
		if errors.As(err, &noActive) {
			return nil, 0, &EnvironmentalDataUnavailableError{
				Source: models.SourceDataset,
				Reason: "no active environmental_data version",
			}
		}
		return nil, 0, err
	}

	rows, err := version.EnvironmentalRows()
	if err != nil {
		return nil, 0, err
	}

	row, ok := matchLocation(rows, location)
	if !ok {
		s.logger.Warn(ctx, "[ENV_MISS] No environmental row matches location", logging.Fields{
			"location": location,
			"version":  version.Version,
		})
		return nil, 0, &EnvironmentalDataUnavailableError{
			Source: models.SourceDataset,
			Reason: fmt.Sprintf("no row matches location %q", location),
		}
	}

	return &models.EnvironmentalReading{
		Location:     row.Location,
		TemperatureC: row.TemperatureC,
		PressureKPa:  row.PressureKPa,
		Source:       models.SourceDataset,
	}, version.Version, nil
}

func (s *EnvironmentService) resolveLive(ctx context.Context, location string) (*models.EnvironmentalReading, error) {
	point, err := s.geo.Locate(ctx, location)
	if err != nil {
		s.metrics.RecordProviderFailure("geolocation")
		s.logger.Warn(ctx, "[ENV_GEO_FAILURE] Geolocation lookup failed", logging.Fields{
			"location": location,
			"error":    err.Error(),
		})
		return nil, &EnvironmentalDataUnavailableError{
			Source: models.SourceLive,
			Reason: fmt.Sprintf("geolocation lookup failed: %v", err),
		}
	}

	conditions, err := s.weather.Current(ctx, *point)
	if err != nil {
		s.metrics.RecordProviderFailure("weather")
		s.logger.Warn(ctx, "[ENV_WEATHER_FAILURE] Weather lookup failed", logging.Fields{
			"location":  point.Name,
			"latitude":  point.Latitude,
			"longitude": point.Longitude,
			"error":     err.Error(),
		})
		return nil, &EnvironmentalDataUnavailableError{
			Source: models.SourceLive,
			Reason: fmt.Sprintf("weather lookup failed: %v", err),
		}
	}

	if conditions.PressureKPa <= 0 {
		return nil, &EnvironmentalDataUnavailableError{
			Source: models.SourceLive,
			Reason: fmt.Sprintf("provider returned non-physical pressure %g kPa", conditions.PressureKPa),
		}
	}

	lat, lon := point.Latitude, point.Longitude
	return &models.EnvironmentalReading{
		Location:     point.Name,
		TemperatureC: conditions.TemperatureC,
		PressureKPa:  conditions.PressureKPa,
		Source:       models.SourceLive,
		Latitude:     &lat,
		Longitude:    &lon,
	}, nil
}

// matchLocation finds the dataset row for a location query. Exact
// case-insensitive matches win, then normalized matches, then the first
// normalized substring match in dataset order.
func matchLocation(rows []models.EnvironmentalRow, location string) (*models.EnvironmentalRow, bool) {
	folded := strings.ToLower(strings.TrimSpace(location))
	for i := range rows {
		if strings.ToLower(strings.TrimSpace(rows[i].Location)) == folded {
			return &rows[i], true
		}
	}

	normalized := normalizeLocation(location)
	for i := range rows {
		if normalizeLocation(rows[i].Location) == normalized {
			return &rows[i], true
		}
	}

	for i := range rows {
		if strings.Contains(normalizeLocation(rows[i].Location), normalized) {
			return &rows[i], true
		}
	}

	return nil, false
}

// normalizeLocation lowercases and collapses punctuation so "Lagos, NG" and
// "lagos ng" compare equal.
func normalizeLocation(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace && b.Len() > 0 {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
