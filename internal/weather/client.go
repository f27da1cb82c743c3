package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skycast/skycast/internal/models"
	"github.com/skycast/skycast/internal/observability"
)

// Client wraps the upstream weather provider. Consumers depend on this
// interface; the sweep and the read API share one implementation.
type Client interface {
	CurrentByCity(ctx context.Context, city string) (models.WeatherSnapshot, error)
	CurrentByCoords(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error)
	ForecastByCity(ctx context.Context, city string) ([]models.HourlyForecast, error)
	AirQuality(ctx context.Context, lat, lon float64) (*models.AirQuality, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

// OpenWeatherClient calls the OpenWeatherMap current-conditions, forecast
// and air-pollution endpoints. It holds an ordered API key list: the first
// key serves primary flows, later keys are tried when a call fails with
// 401 or 429.
type OpenWeatherClient struct {
	apiKeys        []string
	currentURL     string
	forecastURL    string
	airQualityURL  string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// Options configures a client beyond its key list and endpoints.
type Options struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// NewOpenWeatherClient validates the key list and returns a client.
// Zero option fields get conservative defaults.
func NewOpenWeatherClient(apiKeys []string, currentURL, forecastURL, airQualityURL string, opts Options) (*OpenWeatherClient, error) {
	if len(apiKeys) == 0 {
		return nil, fmt.Errorf("%w: at least one API key is required", ErrInvalidAPIKey)
	}
	for _, k := range apiKeys {
		if len(k) < 10 {
			return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}

	return &OpenWeatherClient{
		apiKeys:        apiKeys,
		currentURL:     currentURL,
		forecastURL:    forecastURL,
		airQualityURL:  airQualityURL,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

type currentResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Sys struct {
		Country string `json:"country"`
	} `json:"sys"`
	Timezone int    `json:"timezone"`
	Name     string `json:"name"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []struct {
			Main string `json:"main"`
			Icon string `json:"icon"`
		} `json:"weather"`
		Pop float64 `json:"pop"`
	} `json:"list"`
}

type airQualityResponse struct {
	List []struct {
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components struct {
			PM25 float64 `json:"pm2_5"`
			PM10 float64 `json:"pm10"`
			O3   float64 `json:"o3"`
			NO2  float64 `json:"no2"`
		} `json:"components"`
	} `json:"list"`
}

// CurrentByCity fetches current conditions for a city name.
func (c *OpenWeatherClient) CurrentByCity(ctx context.Context, city string) (models.WeatherSnapshot, error) {
	params := url.Values{}
	params.Set("q", city)
	body, err := c.get(ctx, "current", c.currentURL, params)
	if err != nil {
		return models.WeatherSnapshot{}, err
	}
	return c.mapCurrent(body, city)
}

// CurrentByCoords fetches current conditions for a coordinate pair.
func (c *OpenWeatherClient) CurrentByCoords(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
	params := coordParams(lat, lon)
	body, err := c.get(ctx, "current", c.currentURL, params)
	if err != nil {
		return models.WeatherSnapshot{}, err
	}
	return c.mapCurrent(body, "")
}

// ForecastByCity fetches the hourly forecast list for a city name.
func (c *OpenWeatherClient) ForecastByCity(ctx context.Context, city string) ([]models.HourlyForecast, error) {
	params := url.Values{}
	params.Set("q", city)
	body, err := c.get(ctx, "forecast", c.forecastURL, params)
	if err != nil {
		return nil, err
	}

	var apiResp forecastResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse forecast response: %w", err)
	}

	out := make([]models.HourlyForecast, 0, len(apiResp.List))
	for _, slot := range apiResp.List {
		hf := models.HourlyForecast{
			Time:        time.Unix(slot.Dt, 0).UTC(),
			Temperature: slot.Main.Temp,
			RainChance:  slot.Pop,
		}
		if len(slot.Weather) > 0 {
			hf.Condition = slot.Weather[0].Main
			hf.Icon = slot.Weather[0].Icon
		}
		out = append(out, hf)
	}
	return out, nil
}

// AirQuality fetches the pollution block for a coordinate pair.
// Returns ErrLocationNotFound when the provider has no data for the point.
func (c *OpenWeatherClient) AirQuality(ctx context.Context, lat, lon float64) (*models.AirQuality, error) {
	body, err := c.get(ctx, "air_quality", c.airQualityURL, coordParams(lat, lon))
	if err != nil {
		return nil, err
	}

	var apiResp airQualityResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse air quality response: %w", err)
	}
	if len(apiResp.List) == 0 {
		return nil, fmt.Errorf("%w: no air quality data for point", ErrLocationNotFound)
	}

	first := apiResp.List[0]
	return &models.AirQuality{
		AQI:  first.Main.AQI,
		PM25: first.Components.PM25,
		PM10: first.Components.PM10,
		O3:   first.Components.O3,
		NO2:  first.Components.NO2,
	}, nil
}

// get runs one provider call with retries across attempts and fallback
// across API keys. Key fallback happens only on auth or rate-limit
// failures; other errors retry on the same key.
func (c *OpenWeatherClient) get(ctx context.Context, endpoint, baseURL string, params url.Values) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.tryKeys(ctx, endpoint, baseURL, params)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

// tryKeys issues the call with the primary key, advancing through the key
// list when the provider rejects a key with 401 or 429.
func (c *OpenWeatherClient) tryKeys(ctx context.Context, endpoint, baseURL string, params url.Values) ([]byte, error) {
	var lastErr error
	for _, key := range c.apiKeys {
		body, err := c.callAPI(ctx, endpoint, baseURL, params, key)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !errors.Is(err, ErrInvalidAPIKey) && !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint, baseURL string, params url.Values, apiKey string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, baseURL, params, apiKey)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func (c *OpenWeatherClient) mapCurrent(body []byte, requestedCity string) (models.WeatherSnapshot, error) {
	var apiResp currentResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherSnapshot{}, fmt.Errorf("parse response: %w", err)
	}

	snap := models.WeatherSnapshot{
		City:           apiResp.Name,
		Country:        apiResp.Sys.Country,
		Temperature:    apiResp.Main.Temp,
		FeelsLike:      apiResp.Main.FeelsLike,
		Humidity:       apiResp.Main.Humidity,
		WindSpeed:      apiResp.Wind.Speed,
		TimezoneOffset: apiResp.Timezone,
		Timestamp:      time.Now(),
	}
	if snap.City == "" {
		snap.City = requestedCity
	}
	if len(apiResp.Weather) > 0 {
		snap.Condition = apiResp.Weather[0].Main
		snap.Description = apiResp.Weather[0].Description
		snap.Icon = apiResp.Weather[0].Icon
	}
	return snap, nil
}

func (c *OpenWeatherClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "context canceled") {
		return true
	}

	return false
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, rawURL string, params url.Values, apiKey string) (*http.Request, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("appid", apiKey)
	q.Set("units", "metric")
	baseURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	return params
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: key rejected", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey checks the primary key against the current-conditions
// endpoint. Used by the health handler.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", "London")
	req, err := c.buildRequest(ctx, c.currentURL, params, c.apiKeys[0])
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
