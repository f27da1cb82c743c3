package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skycast/skycast/internal/models"
)

type mockWeatherClient struct {
	snap        models.WeatherSnapshot
	err         error
	calls       int
	validateErr error
}

func (m *mockWeatherClient) CurrentByCity(ctx context.Context, city string) (models.WeatherSnapshot, error) {
	m.calls++
	return m.snap, m.err
}

func (m *mockWeatherClient) CurrentByCoords(ctx context.Context, lat, lon float64) (models.WeatherSnapshot, error) {
	return m.snap, m.err
}

func (m *mockWeatherClient) ForecastByCity(ctx context.Context, city string) ([]models.HourlyForecast, error) {
	return nil, m.err
}

func (m *mockWeatherClient) AirQuality(ctx context.Context, lat, lon float64) (*models.AirQuality, error) {
	return nil, m.err
}

func (m *mockWeatherClient) ValidateAPIKey(ctx context.Context) error {
	return m.validateErr
}

type mockCache struct {
	data  map[string]models.WeatherSnapshot
	stale map[string]models.WeatherSnapshot
	err   error
	sets  int
}

func (m *mockCache) Get(ctx context.Context, key string) (models.WeatherSnapshot, bool, error) {
	if m.err != nil {
		return models.WeatherSnapshot{}, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.WeatherSnapshot, bool, error) {
	if m.err != nil {
		return models.WeatherSnapshot{}, false, m.err
	}
	if v, ok := m.stale[key]; ok {
		return v, true, nil
	}
	return m.Get(ctx, key)
}

func (m *mockCache) Set(ctx context.Context, key string, value models.WeatherSnapshot, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	if m.data == nil {
		m.data = make(map[string]models.WeatherSnapshot)
	}
	m.data[key] = value
	m.sets++
	return nil
}

// TestGetWeatherCacheHit verifies a fresh cache entry short-circuits the
// upstream call.
func TestGetWeatherCacheHit(t *testing.T) {
	client := &mockWeatherClient{}
	c := &mockCache{data: map[string]models.WeatherSnapshot{
		"phoenix": {City: "Phoenix", Temperature: 40},
	}}
	svc := NewWeatherService(client, c, 10*time.Minute, 0, nil)

	got, err := svc.GetWeather(context.Background(), " Phoenix ")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if got.City != "Phoenix" {
		t.Errorf("City = %q", got.City)
	}
	if client.calls != 0 {
		t.Errorf("upstream called %d times, want 0", client.calls)
	}
}

// TestGetWeatherCacheMissFetchesAndStores verifies the cache-aside write on
// miss.
func TestGetWeatherCacheMissFetchesAndStores(t *testing.T) {
	client := &mockWeatherClient{snap: models.WeatherSnapshot{City: "Phoenix"}}
	c := &mockCache{}
	svc := NewWeatherService(client, c, 10*time.Minute, 0, nil)

	if _, err := svc.GetWeather(context.Background(), "Phoenix"); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if client.calls != 1 {
		t.Errorf("upstream called %d times, want 1", client.calls)
	}
	if c.sets != 1 {
		t.Errorf("cache written %d times, want 1", c.sets)
	}
}

// TestGetWeatherStaleFallback verifies stale cache serves when the upstream
// fails and stale fallback is enabled.
func TestGetWeatherStaleFallback(t *testing.T) {
	client := &mockWeatherClient{err: errors.New("upstream 503")}
	c := &mockCache{stale: map[string]models.WeatherSnapshot{
		"phoenix": {City: "Phoenix", Temperature: 38, Timestamp: time.Now().Add(-30 * time.Minute)},
	}}
	svc := NewWeatherService(client, c, 10*time.Minute, time.Hour, nil)

	got, err := svc.GetWeather(context.Background(), "Phoenix")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if !got.Stale {
		t.Error("expected Stale flag on stale-served snapshot")
	}
	if got.Temperature != 38 {
		t.Errorf("Temperature = %v", got.Temperature)
	}
}

// TestGetWeatherStaleDisabled verifies upstream failures propagate when
// stale fallback is off.
func TestGetWeatherStaleDisabled(t *testing.T) {
	client := &mockWeatherClient{err: errors.New("upstream 503")}
	c := &mockCache{stale: map[string]models.WeatherSnapshot{
		"phoenix": {City: "Phoenix"},
	}}
	svc := NewWeatherService(client, c, 10*time.Minute, 0, nil)

	if _, err := svc.GetWeather(context.Background(), "Phoenix"); err == nil {
		t.Error("expected upstream error with stale fallback disabled")
	}
}

// TestGetWeatherCacheErrorFallsThrough verifies a broken cache degrades to
// a direct upstream fetch.
func TestGetWeatherCacheErrorFallsThrough(t *testing.T) {
	client := &mockWeatherClient{snap: models.WeatherSnapshot{City: "Phoenix"}}
	c := &mockCache{err: errors.New("memcached down")}
	svc := NewWeatherService(client, c, 10*time.Minute, 0, nil)

	got, err := svc.GetWeather(context.Background(), "Phoenix")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if got.City != "Phoenix" || client.calls != 1 {
		t.Errorf("got = %+v, upstream calls = %d", got, client.calls)
	}
}

// TestNormalizeCity verifies cache keys are trimmed and lowercased.
func TestNormalizeCity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" Seattle ", "seattle"},
		{"NEW YORK", "new york"},
		{"oslo", "oslo"},
	}
	for _, tt := range tests {
		if got := normalizeCity(tt.in); got != tt.want {
			t.Errorf("normalizeCity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
