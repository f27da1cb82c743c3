package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skycast/skycast/internal/ai"
	"github.com/skycast/skycast/internal/cache"
	"github.com/skycast/skycast/internal/config"
	httphandler "github.com/skycast/skycast/internal/http"
	"github.com/skycast/skycast/internal/mail"
	"github.com/skycast/skycast/internal/observability"
	"github.com/skycast/skycast/internal/service"
	"github.com/skycast/skycast/internal/sweep"
	"github.com/skycast/skycast/internal/users"
	"github.com/skycast/skycast/internal/weather"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := weather.NewOpenWeatherClient(
		cfg.WeatherAPIKeys,
		cfg.WeatherAPIURL,
		cfg.ForecastAPIURL,
		cfg.AirQualityAPIURL,
		weather.Options{
			Timeout:        cfg.WeatherAPITimeout,
			RetryAttempts:  cfg.RetryAttempts,
			RetryBaseDelay: cfg.RetryBaseDelay,
			RetryMaxDelay:  cfg.RetryMaxDelay,
		},
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	weatherService := service.NewWeatherService(weatherClient, cacheSvc, cfg.CacheTTL, cfg.StaleCacheTTL, logger)

	var store users.Store
	if cfg.UsersAPIURL != "" {
		mc, err := users.NewMetadataClient(cfg.UsersAPIURL, cfg.UsersAPIToken, cfg.RequestTimeout)
		if err != nil {
			logger.Fatal("users client", zap.Error(err))
		}
		store = mc
		logger.Info("user store: metadata provider", zap.String("url", cfg.UsersAPIURL))
	} else {
		store = &users.StaticStore{}
		logger.Warn("user store: empty static store; set USERS_API_URL for real sweeps")
	}

	renderer, err := mail.NewRenderer(cfg.BaseURL, nil)
	if err != nil {
		logger.Fatal("mail renderer", zap.Error(err))
	}

	mailReady := true
	var dispatcher mail.Dispatcher
	smtpDispatcher, err := mail.NewSMTPDispatcher(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	if err != nil {
		if !errors.Is(err, mail.ErrNotConfigured) {
			logger.Fatal("smtp dispatcher", zap.Error(err))
		}
		mailReady = false
		dispatcher = mail.DisabledDispatcher{}
		logger.Warn("SMTP not configured; alert dispatch disabled")
	} else {
		dispatcher = smtpDispatcher
	}

	var generator *ai.Generator
	if len(cfg.AIAPIKeys) > 0 {
		generator, err = ai.NewGenerator(ai.Config{
			APIKeys: cfg.AIAPIKeys,
			BaseURL: cfg.AIBaseURL,
			Models:  cfg.AIModels,
			Timeout: cfg.AITimeout,
			Tracker: ai.NewTracker(cfg.AIMarkTTL),
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal("ai generator", zap.Error(err))
		}
		logger.Info("ai generator enabled", zap.Strings("models", cfg.AIModels))
	} else {
		logger.Warn("no AI keys configured; summaries disabled, fallback messages only")
	}

	sweeper := sweep.New(sweep.Config{
		Store:       store,
		Snapshots:   weatherService,
		Renderer:    renderer,
		Dispatcher:  dispatcher,
		Logger:      logger,
		PageSize:    cfg.UsersPageSize,
		Concurrency: cfg.SweepConcurrency,
	})

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handlerCfg := httphandler.HandlerConfig{
		WeatherService: weatherService,
		Client:         weatherClient,
		Sweeper:        sweeper,
		Generator:      generator,
		Logger:         logger,
		CronSecret:     cfg.CronSecret,
		SweepTimeout:   cfg.SweepTimeout,
		CityMinLength:  cfg.CityMinLength,
		CityMaxLength:  cfg.CityMaxLength,
		MailReady:      mailReady,
	}
	if memcacheCloser != nil {
		handlerCfg.CachePing = memcacheCloser.Ping
	}
	handler := httphandler.NewHandler(handlerCfg)

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/api/cron", handler.RunCron).Methods("GET")
	router.HandleFunc("/api/alerts/test", handler.RunAlertTest).Methods("POST")

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(httphandler.RateLimitMiddleware(limiter))
	weatherRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	weatherRouter.HandleFunc("/{location}", handler.GetWeather).Methods("GET")
	weatherRouter.HandleFunc("/{location}/summary", handler.GetWeatherSummary).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.SweepTimeout + 10*time.Second, // /api/cron responses wait for the sweep
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
