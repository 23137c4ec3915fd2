// Package config reads the circulation service settings from flags and the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings of the circulation service.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	FineDailyRateCents int64         `env:"FINE_DAILY_RATE_CENTS"`
	DefaultLoanDays    int           `env:"DEFAULT_LOAN_DAYS"`
	LockTimeout        time.Duration `env:"LOCK_TIMEOUT"`
	RetryMaxAttempts   int           `env:"RETRY_MAX_ATTEMPTS"`

	SessionSecret                string `env:"SESSION_SECRET"`
	OTLPEndpoint                 string `env:"OTLP_ENDPOINT"`
	ReaderRegistrationsPerMinute int    `env:"READER_REGISTRATIONS_PER_MINUTE"`

	BootstrapOperatorLogin    string `env:"BOOTSTRAP_OPERATOR_LOGIN"`
	BootstrapOperatorPassword string `env:"BOOTSTRAP_OPERATOR_PASSWORD"`
}

// Parse reads command line flags from args and then applies environment variables,
// which take precedence.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("circulation", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	fs.Int64Var(&cfg.FineDailyRateCents, "fine-rate", 500, "fine per overdue day, in cents")
	fs.IntVar(&cfg.DefaultLoanDays, "loan-days", 14, "default loan duration in days")
	fs.DurationVar(&cfg.LockTimeout, "lock-timeout", 2*time.Second, "row lock wait limit per transaction")
	fs.IntVar(&cfg.RetryMaxAttempts, "retries", 4, "attempts for transactions aborted by contention")
	fs.StringVar(&cfg.SessionSecret, "session-secret", "", "key for signing operator sessions")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp", "", "OTLP/HTTP trace collector endpoint")
	fs.IntVar(&cfg.ReaderRegistrationsPerMinute, "registrations-per-minute", 60, "reader registration and login rate")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURI == "" {
		errs = append(errs, errors.New("database URI is required"))
	}
	if c.FineDailyRateCents < 0 {
		errs = append(errs, fmt.Errorf("fine rate must not be negative, got %d", c.FineDailyRateCents))
	}
	if c.DefaultLoanDays <= 0 {
		errs = append(errs, fmt.Errorf("default loan days must be positive, got %d", c.DefaultLoanDays))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be at least 1, got %d", c.RetryMaxAttempts))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lock timeout must be positive, got %s", c.LockTimeout))
	}
	if (c.BootstrapOperatorLogin == "") != (c.BootstrapOperatorPassword == "") {
		errs = append(errs, errors.New("bootstrap operator needs both login and password"))
	}
	return errors.Join(errs...)
}
