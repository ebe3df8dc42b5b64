package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeReconciler runs the background launcher for funded jobs.
	ServiceModeReconciler ServiceMode = "reconciler"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeReconciler,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeReconciler:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, reconciler)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ReconcilerConfig contains launch reconciler configuration.
type ReconcilerConfig struct {
	// Interval is the reconciler tick interval.
	Interval time.Duration `env:"RECONCILER_INTERVAL" envDefault:"1m"`

	// BatchSize is the maximum number of funded jobs launched per tick.
	BatchSize int `env:"RECONCILER_BATCH_SIZE" envDefault:"20"`

	// Concurrency bounds the number of escrow launches in flight.
	Concurrency int `env:"RECONCILER_CONCURRENCY" envDefault:"4"`

	// RetryDelay pushes a failed launch's wait_until forward by this amount.
	RetryDelay time.Duration `env:"RECONCILER_RETRY_DELAY" envDefault:"5m"`

	// PendingMaxAge is the age after which a PENDING job is reported as stale.
	// A job stuck in PENDING was created but never debited.
	PendingMaxAge time.Duration `env:"RECONCILER_PENDING_MAX_AGE" envDefault:"15m"`
}

// Sanitize applies guardrails to reconciler configuration values.
func (r *ReconcilerConfig) Sanitize() {
	if r.Interval < 5*time.Second {
		r.Interval = 5 * time.Second
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 500 {
		r.BatchSize = 500
	}
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.RetryDelay < time.Second {
		r.RetryDelay = time.Second
	}
	if r.PendingMaxAge < time.Minute {
		r.PendingMaxAge = time.Minute
	}
}
