package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/skycast/skycast/internal/ai"
	"github.com/skycast/skycast/internal/models"
	"github.com/skycast/skycast/internal/service"
	"github.com/skycast/skycast/internal/sweep"
	"github.com/skycast/skycast/internal/validation"
	"github.com/skycast/skycast/internal/weather"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService *service.WeatherService
	client         weather.Client
	sweeper        *sweep.Sweeper
	generator      *ai.Generator // nil when no AI keys are configured
	logger         *zap.Logger
	cronSecret     string
	sweepTimeout   time.Duration
	cityMinLength  int
	cityMaxLength  int
	// CachePing, when set, is called by the health check. Set when the
	// backend is memcached.
	cachePing func() error
	mailReady bool
}

// HandlerConfig bundles Handler construction parameters.
type HandlerConfig struct {
	WeatherService *service.WeatherService
	Client         weather.Client
	Sweeper        *sweep.Sweeper
	Generator      *ai.Generator
	Logger         *zap.Logger
	CronSecret     string
	SweepTimeout   time.Duration
	CityMinLength  int
	CityMaxLength  int
	CachePing      func() error
	MailReady      bool
}

// NewHandler returns a new Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 5 * time.Minute
	}
	return &Handler{
		weatherService: cfg.WeatherService,
		client:         cfg.Client,
		sweeper:        cfg.Sweeper,
		generator:      cfg.Generator,
		logger:         cfg.Logger,
		cronSecret:     cfg.CronSecret,
		sweepTimeout:   cfg.SweepTimeout,
		cityMinLength:  cfg.CityMinLength,
		cityMaxLength:  cfg.CityMaxLength,
		cachePing:      cfg.CachePing,
		mailReady:      cfg.MailReady,
	}
}

// cronResponse is the JSON body returned by the sweep endpoints.
type cronResponse struct {
	Success        bool     `json:"success"`
	ProcessedUsers int      `json:"processedUsers"`
	EligibleUsers  int      `json:"eligibleUsers"`
	AlertsSent     int      `json:"alertsSent"`
	Errors         []string `json:"errors"`
}

// RunCron handles GET /api/cron: the externally scheduled sweep trigger.
func (h *Handler) RunCron(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.sweepTimeout)
	defer cancel()

	result := h.sweeper.Run(ctx)
	if isFatal(result) {
		writeJSON(w, http.StatusInternalServerError, cronResponse{
			Success: false,
			Errors:  result.Errors,
		})
		return
	}

	writeJSON(w, http.StatusOK, cronResponse{
		Success:        true,
		ProcessedUsers: result.ProcessedUsers,
		EligibleUsers:  result.EligibleUsers,
		AlertsSent:     result.AlertsSent,
		Errors:         result.Errors,
	})
}

// RunAlertTest handles POST /api/alerts/test?userId=. It fires the
// synthetic per-category triggers for one user; this is the only route
// that reaches the test-run evaluator.
func (h *Handler) RunAlertTest(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_USER", "userId is required")
		return
	}

	if err := h.sweeper.RunTest(r.Context(), userID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "TEST_ALERT_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// authorize enforces the bearer shared secret. An unconfigured secret is a
// server error, never an open door.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.cronSecret == "" {
		writeError(w, r, http.StatusInternalServerError, "CRON_UNCONFIGURED", "cron secret is not configured")
		return false
	}

	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing bearer token")
		return false
	}
	return true
}

// isFatal distinguishes an aborted sweep (user enumeration failed) from a
// completed one that merely collected per-user errors.
func isFatal(result models.SweepResult) bool {
	return result.ProcessedUsers == 0 && result.EligibleUsers == 0 &&
		result.AlertsSent == 0 && len(result.Errors) > 0
}

// GetWeather handles GET /weather/{location}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["location"], h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	result, err := h.weatherService.GetWeather(r.Context(), city)
	if err != nil {
		if errors.Is(err, weather.ErrLocationNotFound) {
			writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", ai.FriendlyMessage(r.Context(), h.generator, err))
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

const summaryPrompt = `You are a concise, upbeat weather assistant. Summarize these conditions for {{city}} in two sentences a commuter would find useful. Mention what it feels like and whether an umbrella or extra layer is worth taking.

Temperature: {{temperature}}°C (feels like {{feelsLike}}°C)
Condition: {{condition}} ({{description}})
Humidity: {{humidity}}%
Wind: {{windSpeed}} m/s`

var summarySchema = json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"]}`)

// GetWeatherSummary handles GET /weather/{location}/summary: the snapshot
// plus a model-written plain-language summary. Returns 503 when no AI
// provider is configured.
func (h *Handler) GetWeatherSummary(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		writeError(w, r, http.StatusServiceUnavailable, "AI_UNCONFIGURED", "summaries are not available")
		return
	}

	city, err := validation.ValidateCity(mux.Vars(r)["location"], h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	snap, err := h.weatherService.GetWeather(r.Context(), city)
	if err != nil {
		if errors.Is(err, weather.ErrLocationNotFound) {
			writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", ai.FriendlyMessage(r.Context(), h.generator, err))
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	out, err := h.generator.Generate(r.Context(), summaryPrompt, map[string]string{
		"city":        snap.City,
		"temperature": fmt.Sprintf("%.1f", snap.Temperature),
		"feelsLike":   fmt.Sprintf("%.1f", snap.FeelsLike),
		"condition":   snap.Condition,
		"description": snap.Description,
		"humidity":    fmt.Sprintf("%d", snap.Humidity),
		"windSpeed":   fmt.Sprintf("%.1f", snap.WindSpeed),
	}, summarySchema)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "SUMMARY_UNAVAILABLE", ai.FriendlyMessage(r.Context(), nil, err))
		return
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if json.Unmarshal(out, &parsed) != nil || parsed.Summary == "" {
		writeError(w, r, http.StatusServiceUnavailable, "SUMMARY_UNAVAILABLE", "summaries are not available right now")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"weather": snap,
		"summary": parsed.Summary,
	})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.client.ValidateAPIKey(r.Context()); err != nil {
		checks["weatherApi"] = "unhealthy"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["weatherApi"] = "healthy"
	}

	if h.mailReady {
		checks["smtp"] = "configured"
	} else {
		checks["smtp"] = "unconfigured"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	if h.cachePing != nil {
		if h.cachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	resp := map[string]interface{}{
		"status":    status,
		"service":   "skycast",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, statusCode, resp)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with code, message and
// correlation ID if one is in context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError writes a 503 for upstream failures. The body carries
// the friendly translation, never the raw error; the cause is logged at
// DEBUG when a request logger is present.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", ai.FriendlyMessage(r.Context(), h.generator, err))
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
