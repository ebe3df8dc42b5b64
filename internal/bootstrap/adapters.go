package bootstrap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/job-launcher/config"
	"github.com/target/job-launcher/internal/adapters/chain"
	"github.com/target/job-launcher/internal/adapters/reconciler"
	"github.com/target/job-launcher/internal/adapters/storage"
	"github.com/target/job-launcher/internal/adapters/webhook"
	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/data"
	"github.com/target/job-launcher/internal/domain/signature"
	"github.com/target/job-launcher/internal/observability/statsd"
	"github.com/target/job-launcher/internal/service"
)

// ErrLedgerNotConfigured is returned by escrow launches when no signer key is set.
var ErrLedgerNotConfigured = errors.New("ledger is not configured: set WEB3_PRIVATE_KEY")

// Infrastructure groups the external adapters the services depend on.
type Infrastructure struct {
	Storage  *storage.Client
	Ledger   core.Ledger
	Webhooks *webhook.Client
	Cache    core.CacheRepository // nil when Redis is disabled
	Metrics  *statsd.Client

	ledger *chain.Ledger
}

// InfrastructureDeps groups inputs for BuildInfrastructure.
type InfrastructureDeps struct {
	Config      *config.AppConfig
	RedisClient redis.UniversalClient
	Logger      *slog.Logger

	// SkipBucketCheck leaves bucket creation to the operator.
	SkipBucketCheck bool
}

// BuildInfrastructure constructs the storage, ledger, webhook, cache, and
// metrics adapters from configuration.
func BuildInfrastructure(ctx context.Context, deps InfrastructureDeps) (*Infrastructure, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewClient(storage.ClientOptions{Config: cfg.Storage, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if !deps.SkipBucketCheck {
		if bucketErr := store.EnsureBucket(ctx, cfg.Storage.Bucket); bucketErr != nil {
			return nil, fmt.Errorf("ensure manifest bucket: %w", bucketErr)
		}
	}

	key, err := signerKey(cfg.Chain)
	if err != nil {
		return nil, err
	}

	infra := &Infrastructure{
		Storage: store,
		Metrics: buildMetrics(logger, cfg.Observability),
	}

	if key == nil {
		logger.WarnContext(ctx, "WEB3_PRIVATE_KEY not set; escrow launches will fail")
		infra.Ledger = unconfiguredLedger{}
	} else {
		networks, netErr := cfg.Chain.Networks()
		if netErr != nil {
			return nil, netErr
		}
		ledger, ledgerErr := chain.NewLedger(chain.LedgerOptions{
			Networks:   networks,
			PrivateKey: key,
			TxTimeout:  cfg.Chain.TxTimeout,
			Logger:     logger,
		})
		if ledgerErr != nil {
			return nil, fmt.Errorf("create ledger: %w", ledgerErr)
		}
		infra.ledger = ledger
		infra.Ledger = ledger
		logger.InfoContext(ctx, "ledger configured", "address", ledger.Address().Hex(), "networks", len(networks))
	}

	webhookCfg := webhook.Config{
		Timeout: cfg.Webhook.Timeout,
		Logger:  logger,
	}
	if cfg.Webhook.Sign && key != nil {
		webhookCfg.SigningKey = key
		webhookCfg.SignatureHeader = cfg.Signature.Header
	}
	infra.Webhooks, err = webhook.NewClient(webhookCfg)
	if err != nil {
		return nil, fmt.Errorf("create webhook client: %w", err)
	}

	if deps.RedisClient != nil {
		infra.Cache = data.NewRedisCacheRepo(deps.RedisClient)
	}

	return infra, nil
}

// Close releases ledger connections and the metrics socket.
func (i *Infrastructure) Close() error {
	if i == nil {
		return nil
	}
	if i.ledger != nil {
		i.ledger.Close()
	}
	if i.Metrics != nil {
		return i.Metrics.Close()
	}
	return nil
}

func signerKey(cfg config.ChainConfig) (*ecdsa.PrivateKey, error) {
	if cfg.SignerPrivateKey == "" {
		return nil, nil
	}
	key, err := signature.ParsePrivateKey(cfg.SignerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("WEB3_PRIVATE_KEY: %w", err)
	}
	return key, nil
}

func buildMetrics(logger *slog.Logger, cfg config.ObservabilityConfig) *statsd.Client {
	client, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Metrics.IsEnabled(),
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  cfg.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client; metrics disabled", "error", err)
		return nil
	}
	return client
}

// unconfiguredLedger lets the API serve job creation and balances without a
// signer key. Every launch attempt fails at the signer step.
type unconfiguredLedger struct{}

//nolint:ireturn // core.Ledger contract.
func (unconfiguredLedger) Signer(context.Context, int64) (core.LedgerSigner, error) {
	return nil, ErrLedgerNotConfigured
}

// ReconcilerConfig contains configuration for the launch reconciler.
type ReconcilerConfig struct {
	Jobs     core.JobRepository
	Launcher service.JobLauncher
	Config   config.ReconcilerConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// RunReconciler starts the launch reconciler service.
func RunReconciler(ctx context.Context, cfg ReconcilerConfig) error {
	runner, err := reconciler.NewRunner(reconciler.RunnerOptions{
		Jobs:     cfg.Jobs,
		Launcher: cfg.Launcher,
		Config:   cfg.Config,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reconciler runner: %w", err)
	}
	return runner.Run(ctx)
}
