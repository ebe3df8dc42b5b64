package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// MaxBodyBytes caps request bodies, including signed webhook payloads.
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`

	// WriteTimeout must exceed the ledger timeout since the launch endpoint
	// waits for escrow creation.
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"3m"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.MaxBodyBytes < 1024 {
		h.MaxBodyBytes = 1024
	}
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 10 * time.Second
	}
	if h.WriteTimeout <= 0 {
		h.WriteTimeout = 3 * time.Minute
	}
}

// AuthConfig contains bearer token verification settings.
type AuthConfig struct {
	// JWTSecret verifies HS256 user tokens. Tokens are issued elsewhere.
	JWTSecret string `env:"AUTH_JWT_SECRET"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `env:"AUTH_JWT_ISSUER"`
}
