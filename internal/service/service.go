package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skycast/skycast/internal/cache"
	"github.com/skycast/skycast/internal/models"
	"github.com/skycast/skycast/internal/observability"
	"github.com/skycast/skycast/internal/weather"
)

// WeatherService serves snapshots through a cache-aside pattern with
// upstream fallback. The public read API and the alert sweep share one
// instance, which also deduplicates per-city fetches within a sweep.
type WeatherService struct {
	client        weather.Client
	cache         cache.Cache
	ttl           time.Duration
	staleCacheTTL time.Duration // max age for stale fallback (0 = disabled)
	logger        *zap.Logger
}

// NewWeatherService creates a WeatherService. ttl is the cache expiration
// for fresh snapshots; staleCacheTTL bounds stale fallback age.
func NewWeatherService(client weather.Client, c cache.Cache, ttl, staleCacheTTL time.Duration, logger *zap.Logger) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		client:        client,
		cache:         c,
		ttl:           ttl,
		staleCacheTTL: staleCacheTTL,
		logger:        logger,
	}
}

// GetWeather returns current conditions for a city: cache first, upstream
// on miss, stale cache when the upstream fails and stale fallback is on.
func (s *WeatherService) GetWeather(ctx context.Context, city string) (models.WeatherSnapshot, error) {
	key := normalizeCity(city)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed", zap.String("city", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("snapshot").Inc()
		s.logger.Debug("cache hit", zap.String("city", key))
		return cached, nil
	}

	data, upstreamErr := s.client.CurrentByCity(ctx, key)
	if upstreamErr != nil {
		if s.staleCacheTTL > 0 {
			stale, ok, staleErr := s.cache.GetStale(ctx, key, s.staleCacheTTL)
			if staleErr == nil && ok {
				stale.Stale = true
				s.logger.Info("serving stale cache",
					zap.String("city", key),
					zap.Duration("age", time.Since(stale.Timestamp)))
				return stale, nil
			}
		}
		return models.WeatherSnapshot{}, fmt.Errorf("fetch weather for %s: %w", key, upstreamErr)
	}

	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		s.logger.Warn("cache set failed", zap.String("city", key), zap.Error(setErr))
	}
	return data, nil
}

// normalizeCity trims and lowercases so cache keys and API requests are
// consistent regardless of input format.
func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
