package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/target/job-launcher/config"
	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/data"
	httpx "github.com/target/job-launcher/internal/http"
	"github.com/target/job-launcher/internal/observability/statsd"
	"github.com/target/job-launcher/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Launcher      *service.EscrowLauncher
	Payments      *service.PaymentService
	Manifests     *service.ManifestService
	Events        *service.OracleEventService
	SignatureAuth *service.SignatureAuthenticator

	// JobRepo is shared with the reconciler.
	JobRepo core.JobRepository
	Metrics *statsd.Client
	Checks  map[string]httpx.HealthCheck
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config *config.AppConfig
	DB     *sql.DB
	Infra  *Infrastructure
	Logger *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	Jobs     *data.JobRepo
	Payments *data.PaymentRepo
}

func buildRepositories(db *sql.DB) serviceRepositories {
	return serviceRepositories{
		Jobs:     data.NewJobRepo(db, data.RepoConfig{}),
		Payments: data.NewPaymentRepo(db, data.RepoConfig{}),
	}
}

func escrowSettings(cfg *config.AppConfig) (service.EscrowSettings, error) {
	handlers, err := cfg.Chain.Handlers()
	if err != nil {
		return service.EscrowSettings{}, err
	}
	return service.EscrowSettings{
		RecordingOracle:          common.HexToAddress(cfg.Oracles.RecordingOracleAddress),
		ReputationOracle:         common.HexToAddress(cfg.Oracles.ReputationOracleAddress),
		RecordingOracleFee:       cfg.Fees.RecordingOracleFee,
		ReputationOracleFee:      cfg.Fees.ReputationOracleFee,
		TrustedHandlers:          handlers,
		ExchangeOracleWebhookURL: cfg.Oracles.ExchangeOracleWebhookURL,
	}, nil
}

func buildHealthChecks(db *sql.DB, cache core.CacheRepository) map[string]httpx.HealthCheck {
	checks := make(map[string]httpx.HealthCheck, 2)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if cache != nil {
		checks["redis"] = cache.Health
	}
	return checks
}

// NewServices wires repositories and adapters into the domain services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil || deps.Infra == nil {
		return ServiceContainer{}, errors.New("config, database, and infrastructure are required")
	}
	cfg := deps.Config
	infra := deps.Infra
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repos := buildRepositories(deps.DB)

	rates, err := cfg.Fees.Rates()
	if err != nil {
		return ServiceContainer{}, err
	}
	settings, err := escrowSettings(cfg)
	if err != nil {
		return ServiceContainer{}, err
	}
	rules, err := cfg.Signature.Rules()
	if err != nil {
		return ServiceContainer{}, err
	}

	manifests, err := service.NewManifestService(service.ManifestServiceOptions{
		Storage:  infra.Storage,
		Cache:    infra.Cache,
		CacheTTL: cfg.Cache.ManifestTTL,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("manifest service: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Jobs:      repos.Jobs,
		Payments:  repos.Payments,
		Manifests: manifests,
		Rates:     rates,
		Bucket:    cfg.Storage.Bucket,
		Logger:    logger,
		Metrics:   infra.Metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("job service: %w", err)
	}

	launcher, err := service.NewEscrowLauncher(service.EscrowLauncherOptions{
		Jobs:      repos.Jobs,
		Ledger:    infra.Ledger,
		Manifests: manifests,
		Webhooks:  infra.Webhooks,
		Settings:  settings,
		Locks:     infra.Cache,
		LockTTL:   cfg.Cache.LaunchLockTTL,
		Logger:    logger,
		Metrics:   infra.Metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("escrow launcher: %w", err)
	}

	payments, err := service.NewPaymentService(service.PaymentServiceOptions{
		Payments: repos.Payments,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("payment service: %w", err)
	}

	events, err := service.NewOracleEventService(service.OracleEventServiceOptions{
		Jobs:   repos.Jobs,
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("oracle event service: %w", err)
	}

	sigAuth, err := service.NewSignatureAuthenticator(service.SignatureAuthOptions{
		Rules:  rules,
		Keys:   cfg.SignerKeys(),
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("signature authenticator: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Launcher:      launcher,
		Payments:      payments,
		Manifests:     manifests,
		Events:        events,
		SignatureAuth: sigAuth,
		JobRepo:       repos.Jobs,
		Metrics:       infra.Metrics,
		Checks:        buildHealthChecks(deps.DB, infra.Cache),
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func startHTTPServerIfEnabled(deps *serviceStartupDeps) (*http.Server, error) {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil, nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newReconcilerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReconciler,
		name: "reconciler",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var recCfg config.ReconcilerConfig
			if deps.cfg.Config != nil {
				recCfg = deps.cfg.Config.Reconciler
			}
			svcs := deps.cfg.Services
			return RunReconciler(ctx, ReconcilerConfig{
				Jobs:     svcs.JobRepo,
				Launcher: svcs.Launcher,
				Config:   recCfg,
				Logger:   deps.logger,
				Metrics:  svcs.Metrics,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newReconcilerBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

func startServices(deps *serviceStartupDeps) (ServiceStartupResult, error) {
	server, err := startHTTPServerIfEnabled(deps)
	if err != nil {
		return ServiceStartupResult{}, err
	}
	return ServiceStartupResult{
		HTTPServer: server,
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}, nil
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result, err := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})
	if err != nil {
		return err
	}

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
	// signals overrides OS signal delivery in tests.
	signals <-chan os.Signal
}

func waitForShutdown(cfg shutdownConfig) error {
	quit := cfg.signals
	if quit == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		quit = ch
	}

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop drains the HTTP server and waits for background services.
// The service context is already cancelled here, so shutdown gets its own
// deadline detached from it.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cfg.ctx), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
