package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: bearer token verification
//   - database.go: Database and cache configuration
//   - http.go: HTTP server configuration
//   - funding.go: Fee rates and ledger networks
//   - signature.go: Oracle signature authentication
//   - services.go: Service mode and reconciler configuration
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or APP_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	Auth AuthConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http"`

	Fees      FeeConfig
	Chain     ChainConfig
	Oracles   OracleConfig
	Storage   StorageConfig `envPrefix:"S3_"`
	Signature SignatureConfig
	Webhook   WebhookConfig

	Reconciler ReconcilerConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Chain.Sanitize()
	c.Storage.Sanitize()
	c.Signature.Sanitize()
	c.Webhook.Sanitize()
	c.Reconciler.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// Validate reports configuration that would make the funding pipeline
// produce wrong amounts or unverifiable escrows.
func (c *AppConfig) Validate() error {
	var errs []error
	if _, err := c.Fees.Rates(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Oracles.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Chain.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Signature.Rules(); err != nil {
		errs = append(errs, err)
	}
	if c.IsReconcilerEnabled() && c.Chain.SignerPrivateKey == "" {
		errs = append(errs, errors.New("WEB3_PRIVATE_KEY is required when the reconciler service is enabled"))
	}
	if c.IsHTTPServerEnabled() && strings.TrimSpace(c.Auth.JWTSecret) == "" && !c.IsDev {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required when the http service is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsReconcilerEnabled returns true if the launch reconciler service is enabled.
func (c *AppConfig) IsReconcilerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReconciler]
}
