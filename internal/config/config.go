package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL and RELAY_WEBHOOK_URL are required.
type Config struct {
	// Server
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	// Upstream activity API and its webhook subscription
	WebhookVerifyToken string        `env:"WEBHOOK_VERIFY_TOKEN"`
	ActivityAPIBaseURL string        `env:"ACTIVITY_API_BASE_URL" envDefault:"https://www.strava.com/api/v3"`
	ActivityAPITimeout time.Duration `env:"ACTIVITY_API_TIMEOUT" envDefault:"10s"`

	// Downstream chat relay
	RelayWebhookURL string        `env:"RELAY_WEBHOOK_URL,required,notEmpty"`
	RelayUsername   string        `env:"RELAY_USERNAME" envDefault:"activity-relay"`
	RelayTimeout    time.Duration `env:"RELAY_TIMEOUT" envDefault:"10s"`

	// Dispatch pipeline. PostDelayMinutes=0 relays as soon as the webhook arrives.
	PostDelayMinutes int           `env:"POST_DELAY_MINUTES" envDefault:"15"`
	RateShortLimit   int           `env:"RATE_SHORT_LIMIT" envDefault:"80"`
	RateShortWindow  time.Duration `env:"RATE_SHORT_WINDOW" envDefault:"15m"`
	RateDailyLimit   int           `env:"RATE_DAILY_LIMIT" envDefault:"900"`
	RateDailyWindow  time.Duration `env:"RATE_DAILY_WINDOW" envDefault:"24h"`
	RateCallSpacing  time.Duration `env:"RATE_CALL_SPACING" envDefault:"100ms"`
	DedupMaxEntries  int           `env:"DEDUP_MAX_ENTRIES" envDefault:"10000"`
	DedupMaxAge      time.Duration `env:"DEDUP_MAX_AGE" envDefault:"168h"`

	// Relay eligibility
	EligibilityAllowPrivate bool          `env:"ELIGIBILITY_ALLOW_PRIVATE" envDefault:"false"`
	EligibilityMinDistance  float64       `env:"ELIGIBILITY_MIN_DISTANCE_METERS" envDefault:"0"`
	EligibilityMinMoving    time.Duration `env:"ELIGIBILITY_MIN_MOVING_TIME" envDefault:"0s"`
	EligibilityMaxAge       time.Duration `env:"ELIGIBILITY_MAX_AGE" envDefault:"72h"`

	TokenExpiryMargin   time.Duration `env:"TOKEN_EXPIRY_MARGIN" envDefault:"5m"`
	MaintenanceInterval time.Duration `env:"MAINTENANCE_INTERVAL" envDefault:"1m"`
}

// Load reads an optional .env file, then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.PostDelayMinutes < 0 {
		errs = append(errs, errors.New("POST_DELAY_MINUTES must not be negative"))
	}
	if c.RateShortLimit <= 0 || c.RateShortWindow <= 0 {
		errs = append(errs, errors.New("RATE_SHORT_LIMIT and RATE_SHORT_WINDOW must be positive"))
	}
	if c.RateDailyLimit <= 0 || c.RateDailyWindow <= 0 {
		errs = append(errs, errors.New("RATE_DAILY_LIMIT and RATE_DAILY_WINDOW must be positive"))
	}
	if c.RateCallSpacing < 0 {
		errs = append(errs, errors.New("RATE_CALL_SPACING must not be negative"))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, errors.New("DB_MIN_CONNS must not exceed DB_MAX_CONNS"))
	}
	if c.MaintenanceInterval <= 0 {
		errs = append(errs, errors.New("MAINTENANCE_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// PostDelay is the delay applied to freshly created activities.
func (c *Config) PostDelay() time.Duration {
	return time.Duration(c.PostDelayMinutes) * time.Minute
}
