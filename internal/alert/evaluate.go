// Package alert decides whether a user's stored thresholds match a weather
// snapshot. Evaluation is pure: no I/O, no clock, no error paths for the
// ordinary "nothing triggered" case.
package alert

import (
	"fmt"
	"strings"

	"github.com/skycast/skycast/internal/models"
)

// rainWords are matched case-insensitively against the condition text.
var rainWords = []string{"rain", "thunderstorm", "drizzle"}

// Evaluate returns one human-readable trigger per matched condition, or an
// empty list. Comparisons are strict: a temperature exactly at a threshold
// does not fire. High and low temperature bounds may fire in the same
// evaluation.
func Evaluate(pref models.UserAlertPreference, snap models.WeatherSnapshot) []string {
	var triggers []string

	if pref.NotifyExtremeTemp {
		if pref.HighTempThreshold != nil && snap.Temperature > *pref.HighTempThreshold {
			triggers = append(triggers, fmt.Sprintf(
				"High temperature of %.1f°C (threshold: >%.0f°C)",
				snap.Temperature, *pref.HighTempThreshold))
		}
		if pref.LowTempThreshold != nil && snap.Temperature < *pref.LowTempThreshold {
			triggers = append(triggers, fmt.Sprintf(
				"Low temperature of %.1f°C (threshold: <%.0f°C)",
				snap.Temperature, *pref.LowTempThreshold))
		}
	}

	if pref.NotifyStrongWind && pref.WindThreshold != nil && snap.WindSpeed > *pref.WindThreshold {
		triggers = append(triggers, fmt.Sprintf(
			"Strong wind of %.1f m/s (threshold: >%.0f m/s)",
			snap.WindSpeed, *pref.WindThreshold))
	}

	if pref.NotifyHeavyRain && isRainy(snap.Condition) {
		triggers = append(triggers, fmt.Sprintf("Heavy rain conditions: %s", snap.Condition))
	}

	return triggers
}

// EvaluateTestRun fires one synthetic trigger per enabled category without
// consulting weather values. It exists so a user can confirm the pipeline
// end to end; the scheduled sweep never calls it.
func EvaluateTestRun(pref models.UserAlertPreference) []string {
	var triggers []string
	if pref.NotifyExtremeTemp {
		triggers = append(triggers, "Test alert: extreme temperature notifications are enabled")
	}
	if pref.NotifyHeavyRain {
		triggers = append(triggers, "Test alert: heavy rain notifications are enabled")
	}
	if pref.NotifyStrongWind {
		triggers = append(triggers, "Test alert: strong wind notifications are enabled")
	}
	return triggers
}

func isRainy(condition string) bool {
	lower := strings.ToLower(condition)
	for _, w := range rainWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
