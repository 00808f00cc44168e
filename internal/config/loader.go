// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs: every schedule in this
//     system (cron ticks, one-shot due times, backoff deadlines) is
//     computed on the UTC calendar.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadConfig loads and validates the URNS configuration.
func LoadConfig() (*Config, error) {
	// Step 1: pin the process to UTC. The scheduler's temporal
	// correctness depends on a single calendar.
	time.Local = time.UTC

	// Step 2: .env is a local-development convenience; absence is normal
	// in deployed environments where real env vars are injected.
	_ = godotenv.Load()

	// Step 3: populate from the environment.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	// Step 4: structural validation, fail fast.
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}
