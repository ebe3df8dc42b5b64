// Package chain creates and configures escrow contracts through an Ethereum JSON-RPC endpoint.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/target/job-launcher/config"
	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/domain/model"
)

var (
	// ErrUnsupportedChain is returned for chain ids without a configured network.
	ErrUnsupportedChain = errors.New("chain is not configured")
	// ErrTxReverted is returned when a mined transaction did not succeed.
	ErrTxReverted = errors.New("transaction reverted")
	// ErrNoLaunchEvent is returned when a createEscrow receipt carries no Launched event.
	ErrNoLaunchEvent = errors.New("escrow factory emitted no Launched event")
)

// Backend is the subset of an RPC client needed to send and await transactions.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// DialFunc connects to an RPC endpoint.
type DialFunc func(ctx context.Context, rpcURL string) (Backend, error)

// LedgerOptions configures a Ledger.
type LedgerOptions struct {
	Networks   map[int64]config.Network
	PrivateKey *ecdsa.PrivateKey
	// TxTimeout bounds each escrow creation including receipt waits.
	TxTimeout time.Duration
	Logger    *slog.Logger

	// Dial defaults to ethclient.DialContext.
	Dial DialFunc
}

// Ledger implements core.Ledger. RPC connections are opened lazily, one per chain.
type Ledger struct {
	networks map[int64]config.Network
	key      *ecdsa.PrivateKey
	from     common.Address
	timeout  time.Duration
	dial     DialFunc
	logger   *slog.Logger

	mu       sync.Mutex
	backends map[int64]Backend
}

// NewLedger validates opts and returns a Ledger.
func NewLedger(opts LedgerOptions) (*Ledger, error) {
	if opts.PrivateKey == nil {
		return nil, errors.New("signer private key is required")
	}
	if len(opts.Networks) == 0 {
		return nil, errors.New("at least one network is required")
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 2 * time.Minute
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, rpcURL string) (Backend, error) {
			return ethclient.DialContext(ctx, rpcURL)
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ledger{
		networks: opts.Networks,
		key:      opts.PrivateKey,
		from:     crypto.PubkeyToAddress(opts.PrivateKey.PublicKey),
		timeout:  opts.TxTimeout,
		dial:     opts.Dial,
		logger:   opts.Logger.With("component", "ledger"),
		backends: make(map[int64]Backend),
	}, nil
}

// Address is the account escrows are created from.
func (l *Ledger) Address() common.Address { return l.from }

// Signer returns a signer bound to chainID.
func (l *Ledger) Signer(ctx context.Context, chainID int64) (core.LedgerSigner, error) {
	network, ok := l.networks[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	backend, err := l.backend(ctx, network)
	if err != nil {
		return nil, err
	}
	return &Signer{
		network: network,
		backend: backend,
		key:     l.key,
		timeout: l.timeout,
		logger:  l.logger.With("chain_id", chainID),
	}, nil
}

func (l *Ledger) backend(ctx context.Context, network config.Network) (Backend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.backends[network.ChainID]; ok {
		return b, nil
	}
	b, err := l.dial(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w", network.ChainID, err)
	}
	l.backends[network.ChainID] = b
	return b, nil
}

// Close releases RPC connections.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.backends {
		if c, ok := b.(interface{ Close() }); ok {
			c.Close()
		}
		delete(l.backends, id)
	}
}

// Signer creates escrows on a single chain.
type Signer struct {
	network config.Network
	backend Backend
	key     *ecdsa.PrivateKey
	timeout time.Duration
	logger  *slog.Logger
}

// TokenAddress is the payment token escrows are denominated in.
func (s *Signer) TokenAddress() common.Address { return s.network.TokenAddress }

// CreateAndSetupEscrow deploys an escrow through the factory, waits for it to
// be mined, then writes cfg into it. Failures before the create transaction is
// sent, a create the node rejected, and a reverted create wrap
// core.ErrNoEscrowCreated. Any other failure leaves the outcome unknown.
func (s *Signer) CreateAndSetupEscrow(
	ctx context.Context,
	token common.Address,
	trustedHandlers []common.Address,
	cfg model.EscrowConfig,
) (common.Address, error) {
	if err := checkFee(cfg.ReputationOracleFee); err != nil {
		return common.Address{}, fmt.Errorf("%w: reputation oracle fee: %w", core.ErrNoEscrowCreated, err)
	}
	if err := checkFee(cfg.RecordingOracleFee); err != nil {
		return common.Address{}, fmt.Errorf("%w: recording oracle fee: %w", core.ErrNoEscrowCreated, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts, err := bind.NewKeyedTransactorWithChainID(s.key, big.NewInt(s.network.ChainID))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: build transactor: %w", core.ErrNoEscrowCreated, err)
	}
	opts.Context = ctx

	if trustedHandlers == nil {
		trustedHandlers = []common.Address{}
	}
	factory := bind.NewBoundContract(s.network.FactoryAddress, factoryABI, s.backend, s.backend, s.backend)
	signOnly := *opts
	signOnly.NoSend = true
	createTx, err := factory.Transact(&signOnly, methodCreateEscrow, token, trustedHandlers)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: build createEscrow: %w", core.ErrNoEscrowCreated, err)
	}
	if err := s.backend.SendTransaction(ctx, createTx); err != nil {
		var rejected rpc.Error
		if errors.As(err, &rejected) {
			return common.Address{}, fmt.Errorf("%w: send createEscrow: %w", core.ErrNoEscrowCreated, err)
		}
		return common.Address{}, fmt.Errorf("send createEscrow %s: %w", createTx.Hash().Hex(), err)
	}
	receipt, err := s.awaitSuccess(ctx, createTx)
	if errors.Is(err, ErrTxReverted) {
		return common.Address{}, fmt.Errorf("%w: createEscrow: %w", core.ErrNoEscrowCreated, err)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("createEscrow: %w", err)
	}
	escrow, err := escrowFromReceipt(factory, receipt)
	if err != nil {
		return common.Address{}, err
	}
	s.logger.InfoContext(ctx, "escrow created", "escrow", escrow.Hex(), "tx", createTx.Hash().Hex())

	contract := bind.NewBoundContract(escrow, escrowABI, s.backend, s.backend, s.backend)
	setupTx, err := contract.Transact(opts, methodSetup,
		cfg.ReputationOracle,
		cfg.RecordingOracle,
		uint8(cfg.ReputationOracleFee),
		uint8(cfg.RecordingOracleFee),
		cfg.ManifestURL,
		cfg.ManifestHash,
	)
	if err != nil {
		return common.Address{}, fmt.Errorf("send setup for %s: %w", escrow.Hex(), err)
	}
	if _, err := s.awaitSuccess(ctx, setupTx); err != nil {
		return common.Address{}, fmt.Errorf("setup %s: %w", escrow.Hex(), err)
	}
	s.logger.InfoContext(ctx, "escrow configured", "escrow", escrow.Hex(), "tx", setupTx.Hash().Hex())
	return escrow, nil
}

func (s *Signer) awaitSuccess(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, s.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrTxReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

type launchedEvent struct {
	Token  common.Address
	Escrow common.Address
}

func escrowFromReceipt(factory *bind.BoundContract, receipt *types.Receipt) (common.Address, error) {
	eventID := factoryABI.Events[eventLaunched].ID
	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) == 0 || log.Topics[0] != eventID {
			continue
		}
		var ev launchedEvent
		if err := factory.UnpackLog(&ev, eventLaunched, *log); err != nil {
			return common.Address{}, fmt.Errorf("decode Launched event: %w", err)
		}
		return ev.Escrow, nil
	}
	return common.Address{}, ErrNoLaunchEvent
}

func checkFee(v int64) error {
	if v < 0 || v > math.MaxUint8 {
		return fmt.Errorf("%d is outside 0..255", v)
	}
	return nil
}
