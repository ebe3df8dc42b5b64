package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/domain/funding"
	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
)

// PaymentServiceOptions groups dependencies for PaymentService.
type PaymentServiceOptions struct {
	Payments core.PaymentRepository // Required: balance ledger
	Logger   *slog.Logger           // Optional: structured logger
}

// PaymentService exposes a user's internal balance.
type PaymentService struct {
	payments core.PaymentRepository
	logger   *slog.Logger
}

// Balance is a user's balance in the smallest unit and in whole tokens.
type Balance struct {
	UserID  int64  `json:"userId"`
	Amount  string `json:"amount"`
	Decimal string `json:"decimal"`
}

// NewPaymentService constructs a new PaymentService.
func NewPaymentService(opts PaymentServiceOptions) (*PaymentService, error) {
	if opts.Payments == nil {
		return nil, errors.New("PaymentRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentService{
		payments: opts.Payments,
		logger:   logger.With("component", "payment_service"),
	}, nil
}

// Balance returns the current balance of userID.
func (s *PaymentService) Balance(ctx context.Context, userID int64) (*Balance, error) {
	if userID <= 0 {
		return nil, apperrors.Wrap(ErrUnauthorized, apperrors.ErrCodeUnauthorized, ErrUnauthorized.Error())
	}
	amount, err := s.payments.GetUserBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user balance: %w", err)
	}
	return newBalance(userID, amount), nil
}

// Deposit credits userID with a whole-token decimal amount from source.
// Deposits are operator actions; fiat and crypto top-ups are recorded the same way.
func (s *PaymentService) Deposit(
	ctx context.Context,
	userID int64,
	amount string,
	source model.PaymentSource,
) (*model.Payment, error) {
	wei, err := funding.ParseUnits(amount, funding.Decimals)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, err.Error())
	}
	if wei.Sign() == 0 {
		return nil, apperrors.ValidationField("amount", "amount must be positive")
	}
	p, err := s.payments.SavePayment(ctx, model.SavePaymentParams{
		UserID: userID,
		Source: source,
		Type:   model.PaymentTypeDeposit,
		Amount: wei,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "deposit recorded",
		"user_id", userID, "source", source, "amount", p.Amount)
	return p, nil
}

// History returns the most recent ledger entries of userID.
func (s *PaymentService) History(ctx context.Context, userID int64, limit int) ([]*model.Payment, error) {
	if userID <= 0 {
		return nil, apperrors.Wrap(ErrUnauthorized, apperrors.ErrCodeUnauthorized, ErrUnauthorized.Error())
	}
	return s.payments.ListByUser(ctx, userID, limit)
}

func newBalance(userID int64, amount *big.Int) *Balance {
	if amount == nil {
		amount = new(big.Int)
	}
	return &Balance{
		UserID:  userID,
		Amount:  amount.String(),
		Decimal: funding.FormatUnits(amount, funding.Decimals),
	}
}
