package models

import "time"

// WeatherSnapshot is a point-in-time normalized weather reading for a location.
// Produced fresh from the upstream provider; never persisted.
type WeatherSnapshot struct {
	City           string           `json:"city"`
	Country        string           `json:"country"`
	Temperature    float64          `json:"temperature"`
	FeelsLike      float64          `json:"feelsLike"`
	Humidity       int              `json:"humidity"`
	WindSpeed      float64          `json:"windSpeed"`
	Condition      string           `json:"condition"`
	Description    string           `json:"description"`
	Icon           string           `json:"icon"`
	TimezoneOffset int              `json:"timezoneOffset"` // seconds east of UTC
	Hourly         []HourlyForecast `json:"hourly,omitempty"`
	AirQuality     *AirQuality      `json:"airQuality,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	Stale          bool             `json:"stale,omitempty"` // Indicates data served from stale cache
}

// HourlyForecast is one forecast slot from the upstream forecast endpoint.
type HourlyForecast struct {
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
	Condition   string    `json:"condition"`
	Icon        string    `json:"icon"`
	RainChance  float64   `json:"rainChance"` // 0..1
}

// AirQuality holds the pollution block returned for a coordinate.
// AQI follows the provider scale 1 (good) .. 5 (very poor).
type AirQuality struct {
	AQI  int     `json:"aqi"`
	PM25 float64 `json:"pm25"`
	PM10 float64 `json:"pm10"`
	O3   float64 `json:"o3"`
	NO2  float64 `json:"no2"`
}

// Frequency bounds how often a user may be alerted.
type Frequency string

const (
	FrequencyEveryHour  Frequency = "everyHour"
	FrequencyBalanced   Frequency = "balanced"
	FrequencyOncePerDay Frequency = "oncePerDay"
)

// AlertSchedule restricts alerting to a weekday set and a local-time hour
// window. Hours are [Start, End) in the named timezone; Start > End wraps
// past midnight.
type AlertSchedule struct {
	Enabled   bool           `json:"enabled"`
	Weekdays  []time.Weekday `json:"weekdays"`
	StartHour int            `json:"startHour"`
	EndHour   int            `json:"endHour"`
	Timezone  string         `json:"timezone"`
}

// UserAlertPreference is the per-user alert document stored as opaque
// metadata by the identity provider. Threshold pointers are nil when the
// user never set a value; a nil threshold never fires.
type UserAlertPreference struct {
	Email             string         `json:"email"`
	City              string         `json:"city"`
	AlertsEnabled     bool           `json:"alertsEnabled"`
	NotifyExtremeTemp bool           `json:"notifyExtremeTemp"`
	HighTempThreshold *float64       `json:"highTempThreshold,omitempty"`
	LowTempThreshold  *float64       `json:"lowTempThreshold,omitempty"`
	NotifyHeavyRain   bool           `json:"notifyHeavyRain"`
	NotifyStrongWind  bool           `json:"notifyStrongWind"`
	WindThreshold     *float64       `json:"windThreshold,omitempty"`
	Schedule          *AlertSchedule `json:"schedule,omitempty"`
	Frequency         Frequency      `json:"frequency,omitempty"`
}

// SweepResult aggregates one complete pass over all users.
// Errors preserves per-user failure messages in processing order.
type SweepResult struct {
	ProcessedUsers int           `json:"processedUsers"`
	EligibleUsers  int           `json:"eligibleUsers"`
	AlertsSent     int           `json:"alertsSent"`
	Errors         []string      `json:"errors"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
}
