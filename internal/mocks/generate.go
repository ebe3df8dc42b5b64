// Package mocks provides gomock implementations of the job launcher's ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	jobs := mocks.NewMockJobRepository(ctrl)
//	jobs.EXPECT().GetByID(gomock.Any(), int64(7)).Return(job, nil)
package mocks

// Repositories: Create, GetByID, GetByEscrowAddress, Save, RecordLaunchStage, ListByUser, ListDueForLaunch, Reschedule, CountStalePending, CountHeldLaunches.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/job-launcher/internal/core JobRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=payment_repository_mock.go github.com/target/job-launcher/internal/core PaymentRepository

// Gateways to storage, the ledger and other oracles.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=object_storage_mock.go github.com/target/job-launcher/internal/core ObjectStorage
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ledger_mock.go github.com/target/job-launcher/internal/core Ledger
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ledger_signer_mock.go github.com/target/job-launcher/internal/core LedgerSigner
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=webhook_sender_mock.go github.com/target/job-launcher/internal/core WebhookSender

// Cache and launch locks.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/job-launcher/internal/core CacheRepository
