package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/domain/model"
	"github.com/target/job-launcher/internal/domain/signature"
	apperrors "github.com/target/job-launcher/internal/errors"
)

// OracleEventServiceOptions groups dependencies for OracleEventService.
type OracleEventServiceOptions struct {
	Jobs   core.JobRepository // Required: job repository
	Logger *slog.Logger       // Optional: structured logger
}

// OracleEventService acknowledges authenticated events sent by oracles about
// launched escrows.
type OracleEventService struct {
	jobs   core.JobRepository
	logger *slog.Logger
}

// NewOracleEventService constructs a new OracleEventService.
func NewOracleEventService(opts OracleEventServiceOptions) (*OracleEventService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OracleEventService{
		jobs:   opts.Jobs,
		logger: logger.With("component", "oracle_events"),
	}, nil
}

// Acknowledge resolves the job behind an event and records it in the log.
// Unknown escrows are not found.
func (s *OracleEventService) Acknowledge(
	ctx context.Context,
	family signature.Family,
	event model.WebhookPayload,
) (*model.Job, error) {
	if event.ChainID <= 0 {
		return nil, apperrors.ValidationField("chainId", "chainId is required")
	}
	if !common.IsHexAddress(strings.TrimSpace(event.EscrowAddress)) {
		return nil, apperrors.ValidationField("escrowAddress", "escrowAddress must be a hex address")
	}
	if strings.TrimSpace(event.EventType) == "" {
		return nil, apperrors.ValidationField("eventType", "eventType is required")
	}

	job, err := s.jobs.GetByEscrowAddress(ctx, event.ChainID, event.EscrowAddress)
	if err != nil {
		return nil, mapJobLookupError(err)
	}
	if job == nil {
		return nil, apperrors.Wrap(ErrJobNotFound, apperrors.ErrCodeNotFound, ErrJobNotFound.Error())
	}

	s.logger.InfoContext(ctx, "oracle event received",
		"family", family,
		"event_type", event.EventType,
		"job_id", job.ID,
		"chain_id", event.ChainID,
		"escrow_address", event.EscrowAddress,
	)
	return job, nil
}
