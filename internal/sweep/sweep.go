// Package sweep runs one complete alert pass over all users: enumerate,
// filter to eligible, fetch weather, evaluate thresholds, send email.
// Per-user failure isolation is the defining correctness property: one bad
// user never aborts or corrupts the rest of the pass.
package sweep

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skycast/skycast/internal/alert"
	"github.com/skycast/skycast/internal/mail"
	"github.com/skycast/skycast/internal/models"
	"github.com/skycast/skycast/internal/observability"
	"github.com/skycast/skycast/internal/users"
)

// Snapshots is the weather lookup the sweep needs; the read-path
// WeatherService satisfies it, giving per-city dedup within one run.
type Snapshots interface {
	GetWeather(ctx context.Context, city string) (models.WeatherSnapshot, error)
}

// Renderer builds an alert email body. *mail.Renderer satisfies it.
type Renderer interface {
	Subject(snap models.WeatherSnapshot, triggers []string) string
	Render(snap models.WeatherSnapshot, triggers []string) (string, error)
}

// Sweeper orchestrates the alert pass.
type Sweeper struct {
	store       users.Store
	snapshots   Snapshots
	renderer    Renderer
	dispatcher  mail.Dispatcher
	logger      *zap.Logger
	pageSize    int
	concurrency int
	now         func() time.Time
}

// Config holds Sweeper construction parameters.
type Config struct {
	Store       users.Store
	Snapshots   Snapshots
	Renderer    Renderer
	Dispatcher  mail.Dispatcher
	Logger      *zap.Logger
	PageSize    int
	Concurrency int
	Now         func() time.Time // test hook; nil means time.Now
}

// New creates a Sweeper.
func New(cfg Config) *Sweeper {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		store:       cfg.Store,
		snapshots:   cfg.Snapshots,
		renderer:    cfg.Renderer,
		dispatcher:  cfg.Dispatcher,
		logger:      cfg.Logger,
		pageSize:    cfg.PageSize,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
	}
}

// userOutcome carries one user's result back to the accumulator. The index
// keeps the error list in enumeration order even with parallel workers.
type userOutcome struct {
	index    int
	eligible bool
	sent     bool
	errMsg   string
}

// Run executes one sweep. Enumeration failure is fatal: zero counts plus
// the error. Everything after that is per-user isolated; the result always
// reports every enumerated user as processed.
func (s *Sweeper) Run(ctx context.Context) models.SweepResult {
	runID := uuid.New().String()[:8]
	logger := s.logger.With(zap.String("sweep_id", runID))
	start := s.now()
	result := models.SweepResult{StartedAt: start, Errors: []string{}}

	all, err := s.listAllUsers(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list users: %v", err))
		result.Duration = s.now().Sub(start)
		observability.RecordSweep("fatal", 0, 0, 0, 1, result.Duration.Seconds())
		logger.Error("sweep aborted: cannot enumerate users", zap.Error(err))
		return result
	}

	logger.Info("sweep started", zap.Int("users", len(all)))

	outcomes := make([]userOutcome, len(all))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := s.concurrency
	if workers > len(all) {
		workers = len(all)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = s.processUser(ctx, logger, i, all[i])
			}
		}()
	}
	for i := range all {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].index < outcomes[b].index })
	for _, o := range outcomes {
		result.ProcessedUsers++
		if o.eligible {
			result.EligibleUsers++
		}
		if o.sent {
			result.AlertsSent++
		}
		if o.errMsg != "" {
			result.Errors = append(result.Errors, o.errMsg)
		}
	}

	result.Duration = s.now().Sub(start)
	observability.RecordSweep("ok", result.ProcessedUsers, result.EligibleUsers,
		result.AlertsSent, len(result.Errors), result.Duration.Seconds())
	logger.Info("sweep finished",
		zap.Int("processed", result.ProcessedUsers),
		zap.Int("eligible", result.EligibleUsers),
		zap.Int("sent", result.AlertsSent),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration))
	return result
}

// listAllUsers pages through the store until an empty page.
func (s *Sweeper) listAllUsers(ctx context.Context) ([]users.User, error) {
	var all []users.User
	for page := 0; ; page++ {
		batch, err := s.store.ListUsers(ctx, page, s.pageSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return all, nil
		}
		all = append(all, batch...)
		if len(batch) < s.pageSize {
			return all, nil
		}
	}
}

// processUser runs the full per-user pipeline. Panics are recovered into
// an error entry so a single bad record cannot take down the pass.
func (s *Sweeper) processUser(ctx context.Context, logger *zap.Logger, index int, u users.User) (out userOutcome) {
	out = userOutcome{index: index}
	defer func() {
		if r := recover(); r != nil {
			out.errMsg = fmt.Sprintf("user %s: panic: %v", u.ID, r)
			logger.Error("panic while processing user",
				zap.String("user_id", u.ID), zap.Any("panic", r))
		}
	}()

	prefs, err := s.store.GetPreferences(ctx, u.ID)
	if err != nil {
		out.errMsg = fmt.Sprintf("user %s: load preferences: %v", u.ID, err)
		return out
	}

	email := strings.TrimSpace(prefs.Email)
	if email == "" {
		email = strings.TrimSpace(u.Email)
	}
	if !prefs.AlertsEnabled || strings.TrimSpace(prefs.City) == "" || email == "" {
		return out // not eligible; skipped silently
	}
	out.eligible = true

	now := s.now()
	if !alert.ScheduleAllows(prefs.Schedule, now) || !alert.FrequencyAllows(prefs.Frequency, prefs.Schedule, now) {
		logger.Debug("outside alert window", zap.String("user_id", u.ID))
		return out
	}

	snap, err := s.snapshots.GetWeather(ctx, prefs.City)
	if err != nil {
		// Transient per-city failures are warnings, not sweep errors.
		logger.Warn("weather fetch failed, skipping user",
			zap.String("user_id", u.ID),
			zap.String("city", prefs.City),
			zap.Error(err))
		return out
	}

	triggers := alert.Evaluate(prefs, snap)
	if len(triggers) == 0 {
		return out
	}

	if err := s.sendAlert(ctx, email, snap, triggers); err != nil {
		out.errMsg = fmt.Sprintf("alert to %s: %v", email, err)
		return out
	}
	out.sent = true
	logger.Info("alert sent",
		zap.String("user_id", u.ID),
		zap.String("city", prefs.City),
		zap.Int("triggers", len(triggers)))
	return out
}

func (s *Sweeper) sendAlert(ctx context.Context, email string, snap models.WeatherSnapshot, triggers []string) error {
	body, err := s.renderer.Render(snap, triggers)
	if err != nil {
		return err
	}
	return s.dispatcher.Send(ctx, email, s.renderer.Subject(snap, triggers), body)
}

// RunTest exercises the pipeline end to end for one user without checking
// real threshold values: one synthetic trigger fires per enabled category.
// Only the authenticated manual endpoint reaches this; the scheduled path
// cannot.
func (s *Sweeper) RunTest(ctx context.Context, userID string) error {
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	email := strings.TrimSpace(prefs.Email)
	if email == "" {
		return fmt.Errorf("user %s has no resolvable email", userID)
	}
	if strings.TrimSpace(prefs.City) == "" {
		return fmt.Errorf("user %s has no configured city", userID)
	}

	triggers := alert.EvaluateTestRun(prefs)
	if len(triggers) == 0 {
		return fmt.Errorf("user %s has no notification categories enabled", userID)
	}

	snap, err := s.snapshots.GetWeather(ctx, prefs.City)
	if err != nil {
		// The test run is about the pipeline, not the data.
		snap = models.WeatherSnapshot{City: prefs.City, Timestamp: s.now()}
	}

	return s.sendAlert(ctx, email, snap, triggers)
}
