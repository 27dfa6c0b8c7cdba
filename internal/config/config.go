// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mail"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mailqueue"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/cache"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

type App struct {
	Name        string `env:"APP_NAME" envDefault:"Bakir Khata API"`
	URL         string `env:"APP_URL" envDefault:"http://localhost:8431"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	Env         string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"dev"`
}

type HTTP struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	RateLimitRPM    int           `env:"HTTP_RATE_LIMIT_RPM" envDefault:"600"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

type JWT struct {
	Secret    string        `env:"JWT_SECRET"`
	ExpiresIn time.Duration `env:"JWT_EXPIRES_IN" envDefault:"720h"`
}

// Config is the full service configuration. Each component receives only
// its own section.
type Config struct {
	App      App
	HTTP     HTTP
	Database database.Config
	Redis    cache.Config
	JWT      JWT
	Mail     mail.Config
	Queue    mailqueue.Config
	Log      utilities.Config
	IDNode   int64 `env:"SNOWFLAKE_NODE" envDefault:"1"`
}

var (
	ErrMissingSecret  = errors.New("JWT_SECRET is required")
	ErrBadConcurrency = errors.New("QUEUE_CONCURRENCY must be positive")
	ErrBadBackend     = errors.New("QUEUE_BACKEND must be memory or redis")
)

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

// FromMap builds a Config from vars only, ignoring the process environment.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, ErrMissingSecret)
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, ErrBadConcurrency)
	}
	switch c.Queue.Backend {
	case mailqueue.BackendMemory, mailqueue.BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadBackend, c.Queue.Backend))
	}
	return errors.Join(errs...)
}
