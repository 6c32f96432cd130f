package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dosimetry-platform/pkg/logging"
	"dosimetry-platform/pkg/metrics"
)

// OpenMeteoGeolocationClient resolves location queries through the
// open-meteo geocoding API, falling back to IP-based lookup when the query
// is empty. One bounded attempt per call; the HTTP client timeout is the
// only retry policy.
type OpenMeteoGeolocationClient struct {
	GeocodingBaseURL string
	GeoIPBaseURL     string
	HTTPClient       *http.Client

	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewOpenMeteoGeolocationClient creates a geolocation client
func NewOpenMeteoGeolocationClient(geocodingBaseURL, geoIPBaseURL string, timeout time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *OpenMeteoGeolocationClient {
	return &OpenMeteoGeolocationClient{
		GeocodingBaseURL: geocodingBaseURL,
		GeoIPBaseURL:     geoIPBaseURL,
		HTTPClient:       &http.Client{Timeout: timeout},
		logger:           logger,
		metrics:          metricsCollector,
	}
}

// Locate resolves a location query to coordinates. An empty query resolves
// the caller's IP instead.
func (c *OpenMeteoGeolocationClient) Locate(ctx context.Context, query string) (*GeoPoint, error) {
	if query == "" {
		return c.locateByIP(ctx)
	}

	endpoint := fmt.Sprintf("%s/search?%s", c.GeocodingBaseURL, url.Values{
		"name":  []string{query},
		"count": []string{"1"},
	}.Encode())

	var resp struct {
		Results []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}

	if err := c.getJSON(ctx, "geocoding", endpoint, &resp); err != nil {
		return nil, err
	}

	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no geocoding result for %q", query)
	}

	result := resp.Results[0]
	c.logger.Debug(ctx, "[GEO_RESOLVED] Location query resolved", logging.Fields{
		"query":     query,
		"name":      result.Name,
		"latitude":  result.Latitude,
		"longitude": result.Longitude,
	})

	return &GeoPoint{
		Name:      result.Name,
		Latitude:  result.Latitude,
		Longitude: result.Longitude,
	}, nil
}

func (c *OpenMeteoGeolocationClient) locateByIP(ctx context.Context) (*GeoPoint, error) {
	var resp struct {
		City      string  `json:"city"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}

	if err := c.getJSON(ctx, "geoip", c.GeoIPBaseURL+"/json/", &resp); err != nil {
		return nil, err
	}

	if resp.City == "" {
		return nil, fmt.Errorf("ip lookup returned no city")
	}

	return &GeoPoint{
		Name:      resp.City,
		Latitude:  resp.Latitude,
		Longitude: resp.Longitude,
	}, nil
}

func (c *OpenMeteoGeolocationClient) getJSON(ctx context.Context, provider, endpoint string, out interface{}) error {
	return fetchJSON(ctx, c.HTTPClient, c.metrics, provider, endpoint, out)
}

// OpenMeteoWeatherClient fetches current conditions from the open-meteo
// forecast API.
type OpenMeteoWeatherClient struct {
	ForecastBaseURL string
	HTTPClient      *http.Client

	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewOpenMeteoWeatherClient creates a weather client
func NewOpenMeteoWeatherClient(forecastBaseURL string, timeout time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *OpenMeteoWeatherClient {
	return &OpenMeteoWeatherClient{
		ForecastBaseURL: forecastBaseURL,
		HTTPClient:      &http.Client{Timeout: timeout},
		logger:          logger,
		metrics:         metricsCollector,
	}
}

// Current fetches the current temperature and surface pressure for a point.
// The provider reports pressure in hPa; readings are converted to kPa.
func (c *OpenMeteoWeatherClient) Current(ctx context.Context, point GeoPoint) (*CurrentConditions, error) {
	endpoint := fmt.Sprintf("%s/forecast?%s", c.ForecastBaseURL, url.Values{
		"latitude":  []string{fmt.Sprintf("%.4f", point.Latitude)},
		"longitude": []string{fmt.Sprintf("%.4f", point.Longitude)},
		"current":   []string{"temperature_2m,surface_pressure"},
	}.Encode())

	var resp struct {
		Current struct {
			Temperature2M   *float64 `json:"temperature_2m"`
			SurfacePressure *float64 `json:"surface_pressure"`
		} `json:"current"`
	}

	if err := fetchJSON(ctx, c.HTTPClient, c.metrics, "weather", endpoint, &resp); err != nil {
		return nil, err
	}

	if resp.Current.Temperature2M == nil || resp.Current.SurfacePressure == nil {
		return nil, fmt.Errorf("forecast response missing current conditions")
	}

	c.logger.Debug(ctx, "[WEATHER_FETCHED] Current conditions fetched", logging.Fields{
		"location":      point.Name,
		"temperature_c": *resp.Current.Temperature2M,
		"pressure_hpa":  *resp.Current.SurfacePressure,
	})

	return &CurrentConditions{
		TemperatureC: *resp.Current.Temperature2M,
		PressureKPa:  *resp.Current.SurfacePressure / 10.0,
	}, nil
}

// fetchJSON performs one GET and decodes the JSON body
func fetchJSON(ctx context.Context, client *http.Client, metricsCollector *metrics.Collector, provider, endpoint string, out interface{}) error {
	timer := time.Now()
	defer func() {
		metricsCollector.ProviderRequestDuration.WithLabelValues(provider).Observe(time.Since(timer).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", provider, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s request returned status %d", provider, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", provider, err)
	}

	return nil
}
