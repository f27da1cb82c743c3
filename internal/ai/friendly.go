package ai

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/skycast/skycast/internal/weather"
)

// Fallback messages used when the AI translation itself is unavailable.
const (
	msgQuota    = "Our AI helpers are taking a break right now. Weather data is still available, just without the summaries."
	msgNotFound = "We couldn't find that place. Check the spelling or try a nearby larger city."
	msgNetwork  = "We're having trouble reaching the weather service. Please try again in a moment."
	msgGeneric  = "Something went wrong on our side. Please try again."
)

const friendlyPrompt = `Rewrite this technical error as one short, friendly sentence for a weather app user. No jargon, no apology stacking.

Error: {{error}}`

// FriendlyMessage translates a technical error into a short user-facing
// message. It asks the generator for a rewrite; if generation fails (or g
// is nil), a hardcoded fallback keyed on the error class is returned. The
// cron sweep does not use this; end-user flows do.
func FriendlyMessage(ctx context.Context, g *Generator, err error) string {
	if err == nil {
		return ""
	}

	fallback := fallbackFor(err)
	if g == nil {
		return fallback
	}

	out, genErr := g.Generate(ctx, friendlyPrompt,
		map[string]string{"error": err.Error()},
		json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`))
	if genErr != nil {
		return fallback
	}

	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(out, &parsed) != nil || parsed.Message == "" {
		return fallback
	}
	return parsed.Message
}

func fallbackFor(err error) string {
	if errors.Is(err, ErrQuotaExhausted) {
		return msgQuota
	}
	switch weather.CategorizeError(err) {
	case weather.ErrorCategoryLocationNotFound:
		return msgNotFound
	case weather.ErrorCategoryNetwork, weather.ErrorCategoryTimeout, weather.ErrorCategoryUpstream5xx, weather.ErrorCategoryRateLimited:
		return msgNetwork
	default:
		return msgGeneric
	}
}
