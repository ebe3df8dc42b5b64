package core

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/target/job-launcher/internal/domain/model"
)

// This file contains repository and gateway interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on concrete adapters.

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	// Create stores a new PENDING job. A nil job with a nil error means the
	// store did not return the created row.
	Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error)
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	GetByEscrowAddress(ctx context.Context, chainID int64, address string) (*model.Job, error)
	// Save persists status and escrow changes. It only succeeds when the stored
	// status is the predecessor of job.Status, so concurrent writers cannot
	// move a job backwards or apply the same transition twice.
	Save(ctx context.Context, job *model.Job) (*model.Job, error)
	// RecordLaunchStage moves a PAID job's launch stage from -> to, storing
	// escrowAddress with ESCROW_CREATED. It fails when another writer moved the
	// job first.
	RecordLaunchStage(ctx context.Context, id int64, from, to model.LaunchStage, escrowAddress *string) (*model.Job, error)
	ListByUser(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	ListDueForLaunch(ctx context.Context, now time.Time, limit int) ([]*model.Job, error)
	Reschedule(ctx context.Context, id int64, waitUntil time.Time) error
	CountStalePending(ctx context.Context, olderThan time.Time) (int64, error)
	CountHeldLaunches(ctx context.Context) (int64, error)
}

// PaymentRepository is the internal balance ledger.
type PaymentRepository interface {
	GetUserBalance(ctx context.Context, userID int64) (*big.Int, error)
	SavePayment(ctx context.Context, params model.SavePaymentParams) (*model.Payment, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Payment, error)
}

// ObjectStorage stores manifests and fetches them back by URL.
type ObjectStorage interface {
	// UploadFiles stores each payload and returns one entry per stored object.
	UploadFiles(ctx context.Context, payloads [][]byte, bucket string) ([]model.UploadedFile, error)
	// DownloadFileFromURL returns the object body, or nil when nothing is stored there.
	DownloadFileFromURL(ctx context.Context, url string) ([]byte, error)
}

// Ledger hands out signers bound to a specific chain.
type Ledger interface {
	Signer(ctx context.Context, chainID int64) (LedgerSigner, error)
}

// ErrNoEscrowCreated marks CreateAndSetupEscrow failures that provably left no
// escrow behind: nothing was sent, or the create transaction reverted.
var ErrNoEscrowCreated = errors.New("no escrow was created")

// LedgerSigner creates escrows on one chain with the launcher's key.
type LedgerSigner interface {
	TokenAddress() common.Address
	// CreateAndSetupEscrow deploys an escrow for token, configures it with cfg,
	// and returns its address. Errors wrap ErrNoEscrowCreated when no escrow
	// exists; any other error leaves the on-chain outcome unknown.
	CreateAndSetupEscrow(
		ctx context.Context,
		token common.Address,
		trustedHandlers []common.Address,
		cfg model.EscrowConfig,
	) (common.Address, error)
}

// WebhookSender delivers a JSON payload to a URL.
type WebhookSender interface {
	Send(ctx context.Context, url string, payload any) error
}
