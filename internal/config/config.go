package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	TestingMode bool

	ServerPort string
	BaseURL    string // public base URL used for links in alert emails

	WeatherAPIKeys    []string // first key serves primary flows; rest are fallbacks
	WeatherAPIURL     string
	ForecastAPIURL    string
	AirQualityAPIURL  string
	WeatherAPITimeout time.Duration

	AIAPIKeys []string // rotated on quota failure
	AIBaseURL string
	AIModels  []string // ordered preference list
	AITimeout time.Duration
	AIMarkTTL time.Duration // how long a quota-failed model stays excluded

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	CronSecret string

	UsersAPIURL   string
	UsersAPIToken string
	UsersPageSize int

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	StaleCacheTTL  time.Duration
	CacheBackend   string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	SweepConcurrency int
	SweepTimeout     time.Duration

	CityMinLength int
	CityMaxLength int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port    string `yaml:"port"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL           string `yaml:"url"`
		ForecastURL   string `yaml:"forecast_url"`
		AirQualityURL string `yaml:"air_quality_url"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"weather_api"`

	AI struct {
		BaseURL string   `yaml:"base_url"`
		Models  []string `yaml:"models"`
		Timeout string   `yaml:"timeout"`
		MarkTTL string   `yaml:"mark_ttl"`
	} `yaml:"ai"`

	SMTP struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		From string `yaml:"from"`
	} `yaml:"smtp"`

	Users struct {
		URL      string `yaml:"url"`
		PageSize int    `yaml:"page_size"`
	} `yaml:"users"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		StaleTTL  string `yaml:"stale_ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Sweep struct {
		Concurrency int    `yaml:"concurrency"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"sweep"`

	Validation struct {
		CityMinLength int `yaml:"city_min_length"`
		CityMaxLength int `yaml:"city_max_length"`
	} `yaml:"validation"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKeys string `yaml:"weather_api_keys"`
	AIAPIKeys      string `yaml:"ai_api_keys"`
	SMTPUsername   string `yaml:"smtp_username"`
	SMTPPassword   string `yaml:"smtp_password"`
	CronSecret     string `yaml:"cron_secret"`
	UsersAPIToken  string `yaml:"users_api_token"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. Secrets come from env first, secrets file second.
// Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	secretsData, err := os.ReadFile(secretsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	} else if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.BaseURL = firstNonEmpty(os.Getenv("BASE_URL"), fc.Server.BaseURL, "http://localhost:8080")

	cfg.WeatherAPIKeys = splitList(firstNonEmpty(os.Getenv("WEATHER_API_KEYS"), sec.WeatherAPIKeys))
	if len(cfg.WeatherAPIKeys) == 0 {
		return nil, fmt.Errorf("WEATHER_API_KEYS required (set env or config/secrets.yaml weather_api_keys)")
	}

	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5/weather")
	cfg.ForecastAPIURL = firstNonEmpty(fc.WeatherAPI.ForecastURL, "https://api.openweathermap.org/data/2.5/forecast")
	cfg.AirQualityAPIURL = firstNonEmpty(fc.WeatherAPI.AirQualityURL, "https://api.openweathermap.org/data/2.5/air_pollution")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 2*time.Second)

	cfg.AIAPIKeys = splitList(firstNonEmpty(os.Getenv("AI_API_KEYS"), sec.AIAPIKeys))
	cfg.AIBaseURL = fc.AI.BaseURL
	cfg.AIModels = fc.AI.Models
	if len(cfg.AIModels) == 0 {
		cfg.AIModels = []string{"gpt-4o-mini", "gpt-3.5-turbo"}
	}
	cfg.AITimeout = parseDuration(fc.AI.Timeout, 20*time.Second)
	cfg.AIMarkTTL = parseDuration(fc.AI.MarkTTL, 5*time.Minute)

	cfg.SMTPHost = firstNonEmpty(os.Getenv("SMTP_HOST"), fc.SMTP.Host, "smtp.gmail.com")
	cfg.SMTPPort = fc.SMTP.Port
	if cfg.SMTPPort <= 0 {
		cfg.SMTPPort = 587
	}
	cfg.SMTPUsername = firstNonEmpty(os.Getenv("SMTP_USERNAME"), sec.SMTPUsername)
	cfg.SMTPPassword = firstNonEmpty(os.Getenv("SMTP_PASSWORD"), sec.SMTPPassword)
	cfg.SMTPFrom = firstNonEmpty(fc.SMTP.From, cfg.SMTPUsername)

	cfg.CronSecret = firstNonEmpty(os.Getenv("CRON_SECRET"), sec.CronSecret)

	cfg.UsersAPIURL = firstNonEmpty(os.Getenv("USERS_API_URL"), fc.Users.URL)
	cfg.UsersAPIToken = firstNonEmpty(os.Getenv("USERS_API_TOKEN"), sec.UsersAPIToken)
	cfg.UsersPageSize = fc.Users.PageSize
	if cfg.UsersPageSize <= 0 {
		cfg.UsersPageSize = 100
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.StaleCacheTTL = parseDurationOrZero(fc.Cache.StaleTTL, 0)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")), strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.SweepConcurrency = fc.Sweep.Concurrency
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 4
	}
	cfg.SweepTimeout = parseDuration(fc.Sweep.Timeout, 5*time.Minute)

	cfg.CityMinLength = fc.Validation.CityMinLength
	if cfg.CityMinLength <= 0 {
		cfg.CityMinLength = 2
	}
	cfg.CityMaxLength = fc.Validation.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 80
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList splits a comma-separated value into trimmed non-empty entries.
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on
// empty string or parse error. Zero and negative values pass through.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		return fmt.Errorf("smtp.port out of range: %d", cfg.SMTPPort)
	}
	return nil
}
