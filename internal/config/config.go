// Package config defines the global configuration structure for URNS.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"urns/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Auth     AuthConfig
	Delivery DeliveryConfig
	Store    StoreConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string   `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// AuthConfig holds the shared-secret credential presented by calling
// applications on management requests and echoed on outbound deliveries.
type AuthConfig struct {
	AppKey SecretString `envconfig:"APP_KEY" validate:"required"`
}

// DeliveryConfig tunes the webhook delivery engine.
//
// Backoff is the fixed delay sequence between one-shot retry attempts,
// indexed by the number of failures so far and clamped to its last entry.
// Recurring reminders never use it: their next cron tick is the retry.
type DeliveryConfig struct {
	Timeout      time.Duration   `envconfig:"DELIVERY_TIMEOUT" default:"5s"`
	MaxRetries   int             `envconfig:"DELIVERY_MAX_RETRIES" default:"3" validate:"min=0"`
	Backoff      []time.Duration `envconfig:"DELIVERY_BACKOFF" default:"2s,8s,30s" validate:"min=1"`
	UserAgent    string          `envconfig:"DELIVERY_USER_AGENT" default:"URNS-Webhook/1.0"`
	MaxRedirects int             `envconfig:"DELIVERY_MAX_REDIRECTS" default:"3" validate:"min=0"`

	// AllowPrivateWebhooks disables SSRF protection on webhook targets.
	// Intended for local development against loopback receivers only.
	AllowPrivateWebhooks bool `envconfig:"DELIVERY_ALLOW_PRIVATE_WEBHOOKS" default:"false"`
}

// StoreConfig configures the reminder store. When SnapshotPath is empty the
// store is purely in-memory and nothing survives a restart; when set, every
// mutation is snapshotted to that file and reloaded at startup.
type StoreConfig struct {
	SnapshotPath string `envconfig:"STORE_SNAPSHOT_PATH"`
}
