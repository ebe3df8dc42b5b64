package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/target/job-launcher/config"
	"github.com/target/job-launcher/internal/adapters/devauth"
	httpx "github.com/target/job-launcher/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
	// ErrCh receives listener failures. Optional.
	ErrCh chan<- error
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) (*http.Server, error) {
	if cfg == nil {
		return nil, errors.New("http server config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler, err := BuildHTTPHandler(appCfg, cfg.Services, logger)
	if err != nil {
		return nil, err
	}
	return startServer(serverParams{
		logger:  logger,
		handler: handler,
		http:    appCfg.HTTP,
		errCh:   cfg.ErrCh,
	}), nil
}

// BuildHTTPHandler assembles the API router for the configured services.
func BuildHTTPHandler(appCfg *config.AppConfig, svcs ServiceContainer, logger *slog.Logger) (http.Handler, error) {
	users, err := newUserVerifier(appCfg, logger)
	if err != nil {
		return nil, err
	}

	rs := httpx.RouterServices{
		Jobs:          svcs.Jobs,
		Launcher:      svcs.Launcher,
		Payments:      svcs.Payments,
		Events:        svcs.Events,
		Users:         users,
		WebhookPrefix: appCfg.Signature.ProtectedPrefix,
		MaxBodyBytes:  appCfg.HTTP.MaxBodyBytes,
		Checks:        svcs.Checks,
		Logger:        logger,
	}
	if svcs.SignatureAuth != nil {
		rs.Signature = httpx.SignatureOptions{
			Auth:   svcs.SignatureAuth,
			Header: appCfg.Signature.Header,
		}
	}
	return httpx.NewRouter(rs), nil
}

// newUserVerifier prefers JWT verification. Development mode without a secret
// falls back to devauth so local callers can use numeric tokens.
//
//nolint:ireturn // callers only need the verifier contract.
func newUserVerifier(cfg *config.AppConfig, logger *slog.Logger) (httpx.UserVerifier, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) != "" {
		verifier, err := httpx.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			return nil, fmt.Errorf("token verifier: %w", err)
		}
		return verifier, nil
	}
	if !cfg.IsDev {
		return nil, errors.New("AUTH_JWT_SECRET is required outside development mode")
	}
	logger.Warn("AUTH_JWT_SECRET not set; accepting development bearer tokens")
	verifier, err := devauth.NewVerifier(devauth.Config{DefaultUserID: 1})
	if err != nil {
		return nil, err
	}
	return verifier, nil
}

type serverParams struct {
	logger  *slog.Logger
	handler http.Handler
	http    config.HTTPConfig
	errCh   chan<- error
}

func startServer(p serverParams) *http.Server {
	addr := p.http.Addr
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           p.handler,
		ReadHeaderTimeout: p.http.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      p.http.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		p.logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("HTTP server failed", "error", err)
			if p.errCh != nil {
				select {
				case p.errCh <- fmt.Errorf("http server: %w", err):
				default:
				}
			}
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server. In-flight launch
// requests get until the context deadline to finish.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	if err := cfg.Server.Shutdown(ctx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
