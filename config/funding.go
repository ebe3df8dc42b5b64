package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/target/job-launcher/internal/domain/funding"
)

// FeeConfig holds the integer fee percentages added on top of every fund amount.
type FeeConfig struct {
	JobLauncherFee      int64 `env:"JOB_LAUNCHER_FEE"      envDefault:"1"`
	RecordingOracleFee  int64 `env:"RECORDING_ORACLE_FEE"  envDefault:"1"`
	ReputationOracleFee int64 `env:"REPUTATION_ORACLE_FEE" envDefault:"1"`
}

// Rates converts the configured fees into validated funding rates.
func (f FeeConfig) Rates() (funding.Rates, error) {
	r := funding.Rates{
		Launcher:   f.JobLauncherFee,
		Recording:  f.RecordingOracleFee,
		Reputation: f.ReputationOracleFee,
	}
	if err := r.Validate(); err != nil {
		return funding.Rates{}, err
	}
	return r, nil
}

// Network describes one ledger the launcher can create escrows on.
type Network struct {
	ChainID        int64
	RPCURL         string
	FactoryAddress common.Address
	TokenAddress   common.Address
}

// ChainConfig lists ledger networks keyed by chain id and the launcher's signing key.
//
// Maps are "chainID=value" pairs separated by commas, e.g.
// CHAIN_RPC_URLS=80001=https://rpc-mumbai.example,1338=http://localhost:8545.
type ChainConfig struct {
	RPCURLs          map[string]string `env:"CHAIN_RPC_URLS"                 envKeyValSeparator:"="`
	FactoryAddresses map[string]string `env:"CHAIN_ESCROW_FACTORY_ADDRESSES" envKeyValSeparator:"="`
	TokenAddresses   map[string]string `env:"CHAIN_TOKEN_ADDRESSES"          envKeyValSeparator:"="`

	// SignerPrivateKey funds escrow creation and signs outbound webhooks.
	SignerPrivateKey string `env:"WEB3_PRIVATE_KEY"`

	// TrustedHandlers are extra addresses allowed to act on created escrows.
	TrustedHandlers []string `env:"CHAIN_TRUSTED_HANDLERS"`

	// TxTimeout bounds each ledger interaction, including waiting for receipts.
	TxTimeout time.Duration `env:"CHAIN_TX_TIMEOUT" envDefault:"2m"`
}

// Sanitize applies guardrails to chain configuration values.
func (c *ChainConfig) Sanitize() {
	c.SignerPrivateKey = strings.TrimSpace(c.SignerPrivateKey)
	if c.TxTimeout < 10*time.Second {
		c.TxTimeout = 10 * time.Second
	}
}

// Networks assembles the per-chain settings. Every chain with an RPC URL must
// also define factory and token addresses.
func (c *ChainConfig) Networks() (map[int64]Network, error) {
	out := make(map[int64]Network, len(c.RPCURLs))
	for rawID, url := range c.RPCURLs {
		id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("CHAIN_RPC_URLS: invalid chain id %q", rawID)
		}
		factory, err := lookupAddress(c.FactoryAddresses, rawID, "CHAIN_ESCROW_FACTORY_ADDRESSES")
		if err != nil {
			return nil, err
		}
		token, err := lookupAddress(c.TokenAddresses, rawID, "CHAIN_TOKEN_ADDRESSES")
		if err != nil {
			return nil, err
		}
		out[id] = Network{
			ChainID:        id,
			RPCURL:         strings.TrimSpace(url),
			FactoryAddress: factory,
			TokenAddress:   token,
		}
	}
	return out, nil
}

// Handlers parses TrustedHandlers into addresses.
func (c *ChainConfig) Handlers() ([]common.Address, error) {
	out := make([]common.Address, 0, len(c.TrustedHandlers))
	for _, h := range c.TrustedHandlers {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !common.IsHexAddress(h) {
			return nil, fmt.Errorf("CHAIN_TRUSTED_HANDLERS: invalid address %q", h)
		}
		out = append(out, common.HexToAddress(h))
	}
	return out, nil
}

// Validate checks network definitions without dialing them.
func (c *ChainConfig) Validate() error {
	if _, err := c.Networks(); err != nil {
		return err
	}
	_, err := c.Handlers()
	return err
}

func lookupAddress(m map[string]string, chainID, envName string) (common.Address, error) {
	v, ok := m[chainID]
	if !ok {
		return common.Address{}, fmt.Errorf("%s: missing entry for chain %s", envName, chainID)
	}
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q for chain %s", envName, v, chainID)
	}
	return common.HexToAddress(v), nil
}

// OracleConfig names the oracles written into every escrow and the exchange
// oracle endpoint notified about labeling jobs.
type OracleConfig struct {
	RecordingOracleAddress  string `env:"RECORDING_ORACLE_ADDRESS"`
	ReputationOracleAddress string `env:"REPUTATION_ORACLE_ADDRESS"`
	ExchangeOracleAddress   string `env:"EXCHANGE_ORACLE_ADDRESS"`

	ExchangeOracleWebhookURL string `env:"EXCHANGE_ORACLE_WEBHOOK_URL"`
}

// Validate requires the escrow oracles to be valid addresses.
func (o *OracleConfig) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"RECORDING_ORACLE_ADDRESS":  o.RecordingOracleAddress,
		"REPUTATION_ORACLE_ADDRESS": o.ReputationOracleAddress,
	} {
		if !common.IsHexAddress(strings.TrimSpace(v)) {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", name, v))
		}
	}
	if v := strings.TrimSpace(o.ExchangeOracleAddress); v != "" && !common.IsHexAddress(v) {
		errs = append(errs, fmt.Errorf("EXCHANGE_ORACLE_ADDRESS: invalid address %q", v))
	}
	return errors.Join(errs...)
}

// StorageConfig configures the S3-compatible bucket holding manifests.
type StorageConfig struct {
	Endpoint  string `env:"ENDPOINT"   envDefault:"localhost:9000"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Region    string `env:"REGION"`
	UseSSL    bool   `env:"USE_SSL"    envDefault:"false"`
	Bucket    string `env:"BUCKET"     envDefault:"manifests"`
}

// Sanitize trims connection settings.
func (s *StorageConfig) Sanitize() {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Bucket = strings.TrimSpace(s.Bucket)
	if s.Bucket == "" {
		s.Bucket = "manifests"
	}
}

// WebhookConfig controls outbound notifications to oracles.
type WebhookConfig struct {
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`

	// Sign attaches a signature of the body made with WEB3_PRIVATE_KEY.
	Sign bool `env:"WEBHOOK_SIGN" envDefault:"true"`
}

// Sanitize applies guardrails to webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	if w.Timeout <= 0 {
		w.Timeout = 10 * time.Second
	}
}
